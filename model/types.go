// Package model defines the domain records folded by the log
// materializer and written by the segment writers (spec.md section
// 3). It generalizes the teacher's model/record.Record (a single
// tombstoned key/value pair with a timestamp) into the richer
// per-collection record shape this engine operates on: a user-facing
// LogRecord carries an Operation instead of a tombstone bool, and a
// DataRecord replaces the flat byte Value with structured embedding,
// document, and metadata fields.
package model

import "github.com/google/uuid"

// Operation is the log-level mutation kind (spec.md section 1, 4.7).
type Operation int

const (
	OpAdd Operation = iota
	OpUpdate
	OpUpsert
	OpDelete
)

// FinalOperation is the per-offset outcome the materializer assigns
// after folding (spec.md section 4.7's MaterializedLogRecord).
type FinalOperation int

const (
	Initial FinalOperation = iota
	AddNew
	UpdateExisting
	OverwriteExisting
	DeleteExisting
)

func (f FinalOperation) String() string {
	switch f {
	case Initial:
		return "initial"
	case AddNew:
		return "add_new"
	case UpdateExisting:
		return "update_existing"
	case OverwriteExisting:
		return "overwrite_existing"
	case DeleteExisting:
		return "delete_existing"
	default:
		return "unknown"
	}
}

// MetadataValue is a tagged union over the value types a metadata key
// may hold. Null is a distinct state from "absent": an explicit null
// in a log record removes the key (spec.md section 4.7's merge
// semantics), while an absent key in a partial update leaves the
// existing value untouched.
type MetadataValue struct {
	Null      bool
	Str       string
	Int       int64
	Float     float64
	Bool      bool
	SparseVec map[uint32]float32
	isStr     bool
	isInt     bool
	isFloat   bool
	isBool    bool
	isSparse  bool
}

func StringValue(s string) MetadataValue { return MetadataValue{Str: s, isStr: true} }
func IntValue(i int64) MetadataValue     { return MetadataValue{Int: i, isInt: true} }
func FloatValue(f float64) MetadataValue { return MetadataValue{Float: f, isFloat: true} }
func BoolValue(b bool) MetadataValue     { return MetadataValue{Bool: b, isBool: true} }
func NullValue() MetadataValue           { return MetadataValue{Null: true} }
func SparseValue(v map[uint32]float32) MetadataValue {
	return MetadataValue{SparseVec: v, isSparse: true}
}

func (v MetadataValue) IsSparse() bool { return v.isSparse }
func (v MetadataValue) IsString() bool { return v.isStr }
func (v MetadataValue) IsInt() bool    { return v.isInt }
func (v MetadataValue) IsFloat() bool  { return v.isFloat }
func (v MetadataValue) IsBool() bool   { return v.isBool }

// Metadata is a key -> MetadataValue map. nil and empty are
// equivalent ("no metadata given").
type Metadata map[string]MetadataValue

// Merge applies the per-key overwrite/null-removes/inherit semantics
// of spec.md section 4.7 to base, returning a new map.
func (patch Metadata) Merge(base Metadata) Metadata {
	out := make(Metadata, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v.Null {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// LogRecord is one raw upstream mutation (spec.md section 4.7 input).
type LogRecord struct {
	UserID    string
	Operation Operation
	Embedding []float32
	Document  *string
	Metadata  Metadata
}

// DataRecord is the record segment's persisted row (spec.md section
// 4.3: "offset_id -> DataRecord{id, embedding, metadata?, document?}").
type DataRecord struct {
	ID        string
	OffsetID  uint32
	Embedding []float32
	Metadata  Metadata
	Document  *string
}

// MaterializedLogRecord is the per-offset folded outcome of one
// compaction window's log chunk (spec.md section 4.7).
type MaterializedLogRecord struct {
	OffsetID       uint32
	UserID         string
	FinalOperation FinalOperation
	Metadata       Metadata
	Document       *string
	Embedding      []float32
	Existing       *DataRecord // nil unless the offset already existed
}

// CollectionVersion identifies one compaction's output generation
// (spec.md section 3, 4.8, 4.12).
type CollectionVersion struct {
	CollectionID uuid.UUID
	Version      int64
	Parent       uuid.UUID // uuid.Nil for a full rebuild
}

// FileRef is one (collection, version) node's reference to a persisted
// file, the bookkeeping the GC fork-tree sweep uses to compute live
// reference counts (spec.md section 3 (NEW), 4.12).
type FileRef struct {
	CollectionID uuid.UUID
	Version      int64
	Path         string
	Kind         string // "block" | "root"
}

// Schema accumulates metadata-key -> observed-value-type sets (spec.md
// section 3 (NEW), 4.9).
type Schema map[string]map[string]struct{} // key -> set of {"string","int","float","sparse"}

func valueTypeName(v MetadataValue) string {
	switch {
	case v.IsSparse():
		return "sparse"
	case v.IsString():
		return "string"
	case v.IsInt():
		return "int"
	case v.IsFloat():
		return "float"
	case v.IsBool():
		return "bool"
	default:
		return "unknown"
	}
}

// Observe records the type of v under key, returning true if this
// widened the schema (a new key or a new type for an existing key).
func (s Schema) Observe(key string, v MetadataValue) bool {
	if v.Null {
		return false
	}
	types, ok := s[key]
	if !ok {
		types = make(map[string]struct{})
		s[key] = types
	}
	t := valueTypeName(v)
	if _, seen := types[t]; seen {
		return false
	}
	types[t] = struct{}{}
	return true
}

// Merge folds other into s in place, returning the set of keys whose
// type set widened.
func (s Schema) Merge(other Schema) []string {
	var widened []string
	for key, types := range other {
		existing, ok := s[key]
		if !ok {
			existing = make(map[string]struct{})
			s[key] = existing
		}
		grew := false
		for t := range types {
			if _, seen := existing[t]; !seen {
				existing[t] = struct{}{}
				grew = true
			}
		}
		if grew {
			widened = append(widened, key)
		}
	}
	return widened
}
