package block

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/hunddb/hunddb-core/compositekey"
	"github.com/hunddb/hunddb-core/hdberr"
)

const (
	metaKeySetsum  = "hunddb.setsum"
	metaKeyKeyKind = "hunddb.key_kind"
)

func arrowKeyType(kind compositekey.KeyKind) (arrow.DataType, error) {
	switch kind {
	case compositekey.KindString:
		return arrow.BinaryTypes.String, nil
	case compositekey.KindFloat32:
		return arrow.PrimitiveTypes.Float32, nil
	case compositekey.KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case compositekey.KindUint32:
		return arrow.PrimitiveTypes.Uint32, nil
	default:
		return nil, hdberr.Newf(hdberr.InvalidArgument, "block: unsupported key kind %d", kind)
	}
}

// Schema returns the three-column (prefix: utf8, key: K, value: large
// binary) schema for a block keyed on the given KeyKind, with setsum and
// key-kind metadata attached so a block is self-describing on disk
// (spec.md section 6: "exactly one record batch; metadata version V5").
func Schema(kind compositekey.KeyKind, setsumHex string) (*arrow.Schema, error) {
	keyType, err := arrowKeyType(kind)
	if err != nil {
		return nil, err
	}
	fields := []arrow.Field{
		{Name: "prefix", Type: arrow.BinaryTypes.String},
		{Name: "key", Type: keyType},
		{Name: "value", Type: arrow.BinaryTypes.LargeBinary},
	}
	md := arrow.NewMetadata(
		[]string{metaKeySetsum, metaKeyKeyKind},
		[]string{setsumHex, keyKindString(kind)},
	)
	return arrow.NewSchema(fields, &md), nil
}

func keyKindString(k compositekey.KeyKind) string {
	switch k {
	case compositekey.KindString:
		return "string"
	case compositekey.KindFloat32:
		return "f32"
	case compositekey.KindBool:
		return "bool"
	case compositekey.KindUint32:
		return "u32"
	default:
		return "unknown"
	}
}

func keyKindFromString(s string) (compositekey.KeyKind, error) {
	switch s {
	case "string":
		return compositekey.KindString, nil
	case "f32":
		return compositekey.KindFloat32, nil
	case "bool":
		return compositekey.KindBool, nil
	case "u32":
		return compositekey.KindUint32, nil
	default:
		return 0, hdberr.Newf(hdberr.Internal, "block: unknown key kind metadata %q", s)
	}
}
