// Package compositekey implements the (prefix, key) addressing scheme
// shared by every blockfile: Block, BlockDelta, and SparseIndex are all
// ordered on CompositeKey. KeyWrapper is a tagged variant rather than an
// interface so that ordering and equality are total and branch-free.
package compositekey

import "fmt"

// KeyKind tags the dynamic type carried by a KeyWrapper.
type KeyKind uint8

const (
	KindString KeyKind = iota
	KindFloat32
	KindBool
	KindUint32
)

// KeyWrapper is a tagged union over {string, float32, bool, uint32}.
// Zero value is the empty string, which is intentionally the smallest
// possible key of KindString.
type KeyWrapper struct {
	Kind KeyKind
	Str  string
	F32  float32
	Bool bool
	U32  uint32
}

func StringKey(s string) KeyWrapper  { return KeyWrapper{Kind: KindString, Str: s} }
func Float32Key(f float32) KeyWrapper { return KeyWrapper{Kind: KindFloat32, F32: f} }
func BoolKey(b bool) KeyWrapper       { return KeyWrapper{Kind: KindBool, Bool: b} }
func Uint32Key(u uint32) KeyWrapper   { return KeyWrapper{Kind: KindUint32, U32: u} }

// Compare orders KeyWrapper values. Callers must not compare across
// different Kinds in a single blockfile; this implementation breaks
// ties by Kind to keep the relation total, but mixed-kind blockfiles
// are a caller error the spec does not define behavior for.
func (k KeyWrapper) Compare(other KeyWrapper) int {
	if k.Kind != other.Kind {
		if k.Kind < other.Kind {
			return -1
		}
		return 1
	}
	switch k.Kind {
	case KindString:
		switch {
		case k.Str < other.Str:
			return -1
		case k.Str > other.Str:
			return 1
		default:
			return 0
		}
	case KindFloat32:
		switch {
		case k.F32 < other.F32:
			return -1
		case k.F32 > other.F32:
			return 1
		default:
			return 0
		}
	case KindBool:
		if k.Bool == other.Bool {
			return 0
		}
		if !k.Bool {
			return -1
		}
		return 1
	case KindUint32:
		switch {
		case k.U32 < other.U32:
			return -1
		case k.U32 > other.U32:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func (k KeyWrapper) Equal(other KeyWrapper) bool { return k.Compare(other) == 0 }

func (k KeyWrapper) String() string {
	switch k.Kind {
	case KindString:
		return k.Str
	case KindFloat32:
		return fmt.Sprintf("%g", k.F32)
	case KindBool:
		return fmt.Sprintf("%t", k.Bool)
	case KindUint32:
		return fmt.Sprintf("%d", k.U32)
	default:
		return ""
	}
}

// CompositeKey is (prefix, key). Order is lexicographic on prefix then
// on key. NaN keys must never be inserted by callers (spec.md section 3).
type CompositeKey struct {
	Prefix string
	Key    KeyWrapper
}

func New(prefix string, key KeyWrapper) CompositeKey {
	return CompositeKey{Prefix: prefix, Key: key}
}

// Compare orders two CompositeKeys: prefix first, then key.
func (c CompositeKey) Compare(other CompositeKey) int {
	if c.Prefix != other.Prefix {
		if c.Prefix < other.Prefix {
			return -1
		}
		return 1
	}
	return c.Key.Compare(other.Key)
}

func (c CompositeKey) Equal(other CompositeKey) bool {
	return c.Prefix == other.Prefix && c.Key.Equal(other.Key)
}

func (c CompositeKey) Less(other CompositeKey) bool { return c.Compare(other) < 0 }

func (c CompositeKey) String() string {
	return fmt.Sprintf("%s/%s", c.Prefix, c.Key.String())
}

// StartPrefix is the sentinel prefix reserved for a SparseIndex's own
// root row when it serializes itself as a Block (spec.md section 4.3,
// 9). Callers MUST NOT use it for user data in sparse-index-backed
// files.
const StartPrefix = "START"
