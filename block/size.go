package block

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/hunddb/hunddb-core/hdberr"
)

const alignment = 64

func roundUp64(n int) uint64 {
	if n < 0 {
		n = 0
	}
	return uint64((n + alignment - 1) / alignment * alignment)
}

// sizeOfArrayData sums, over every buffer of d (including null bitmaps)
// and recursively its children, round_up(len, 64). This is the size
// computation named in spec.md section 4.1; it backs Block.Size()
// through sizeOfRecord. Alignment validation does not call it
// (validateAlignment checks each buffer's own length), and the writers
// decide splits and flushes from Delta's per-row estimate instead.
func sizeOfArrayData(d arrow.ArrayData) uint64 {
	var total uint64
	for _, buf := range d.Buffers() {
		if buf == nil {
			continue
		}
		total += roundUp64(buf.Len())
	}
	for _, child := range d.Children() {
		total += sizeOfArrayData(child)
	}
	return total
}

// sizeOfRecord sums sizeOfArrayData over every column of rec.
func sizeOfRecord(rec arrow.Record) uint64 {
	var total uint64
	for i := 0; i < int(rec.NumCols()); i++ {
		total += sizeOfArrayData(rec.Column(i).Data())
	}
	return total
}

// validateAlignment walks every buffer (recursively) and fails with
// BufferLengthNotAligned if any is not a 64-byte multiple.
func validateAlignment(rec arrow.Record) error {
	for i := 0; i < int(rec.NumCols()); i++ {
		if err := validateArrayDataAlignment(rec.Column(i).Data()); err != nil {
			return err
		}
	}
	return nil
}

func validateArrayDataAlignment(d arrow.ArrayData) error {
	for _, buf := range d.Buffers() {
		if buf == nil {
			continue
		}
		if buf.Len()%alignment != 0 {
			return hdberr.Newf(hdberr.Internal, "buffer length not aligned: %d is not a multiple of %d", buf.Len(), alignment)
		}
	}
	for _, child := range d.Children() {
		if err := validateArrayDataAlignment(child); err != nil {
			return err
		}
	}
	return nil
}
