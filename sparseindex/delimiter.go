package sparseindex

import "github.com/hunddb/hunddb-core/compositekey"

// Delimiter is Start | Key(CompositeKey); Start orders strictly before
// every Key delimiter (spec.md section 3).
type Delimiter struct {
	isStart bool
	key     compositekey.CompositeKey
}

// Start is the sentinel delimiter that must be the first entry of every
// valid SparseIndex.
var Start = Delimiter{isStart: true}

// Key wraps a CompositeKey as a non-sentinel delimiter.
func Key(k compositekey.CompositeKey) Delimiter {
	return Delimiter{key: k}
}

func (d Delimiter) IsStart() bool                      { return d.isStart }
func (d Delimiter) CompositeKey() compositekey.CompositeKey { return d.key }

// Compare orders Start strictly below every Key delimiter.
func (d Delimiter) Compare(other Delimiter) int {
	if d.isStart && other.isStart {
		return 0
	}
	if d.isStart {
		return -1
	}
	if other.isStart {
		return 1
	}
	return d.key.Compare(other.key)
}

func (d Delimiter) Less(other Delimiter) bool { return d.Compare(other) < 0 }

func (d Delimiter) Equal(other Delimiter) bool { return d.Compare(other) == 0 }

func (d Delimiter) String() string {
	if d.isStart {
		return "<start>"
	}
	return d.key.String()
}
