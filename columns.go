package sstable

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
)

// Column subsets with fewer than this many columns in the superset are
// encoded as a single bitmask.
const largeColumnSet = 64

// readColumns decodes the set of columns present in a row, as ascending
// indices into a superset of count columns.
func readColumns(c *cursor, count int) ([]int, error) {
	start := c.off

	if count < largeColumnSet {
		mask, err := c.readUvarint("missing columns")
		if err != nil {
			return nil, err
		}
		if mask>>uint(count) != 0 {
			return nil, formatError(start, "missing columns", errors.Wrapf(ErrMalformedBitmap, "mask %#x exceeds %d columns", mask, count))
		}

		present := make([]int, 0, count)
		for i := 0; i < count; i++ {
			if mask&(1<<uint(i)) == 0 {
				present = append(present, i)
			}
		}
		return present, nil
	}

	missing, err := c.readUvarint("missing columns")
	if err != nil {
		return nil, err
	} else if missing > uint64(count) {
		return nil, formatError(start, "missing columns", errors.Wrapf(ErrMalformedBitmap, "%d missing of %d columns", missing, count))
	}

	if listsPresent(int(missing), count) {
		return readColumnIndices(c, count-int(missing), count)
	}

	absent, err := readColumnIndices(c, int(missing), count)
	if err != nil {
		return nil, err
	}
	return complementColumns(absent, count), nil
}

// listsPresent decides whether a large subset lists present or missing
// column indices.
func listsPresent(missing, count int) bool {
	return missing*2 >= count
}

func readColumnIndices(c *cursor, n, count int) ([]int, error) {
	indices := make([]int, 0, n)
	for i := 0; i < n; i++ {
		off := c.off
		u, err := c.readUvarint("column index")
		if err != nil {
			return nil, err
		}
		if u >= uint64(count) || (i > 0 && int(u) <= indices[i-1]) {
			return nil, formatError(off, "column index", errors.Wrapf(ErrMalformedBitmap, "index %d out of order or range", u))
		}
		indices = append(indices, int(u))
	}
	return indices, nil
}

func complementColumns(indices []int, count int) []int {
	bm := roaring.New()
	for _, i := range indices {
		bm.Add(uint32(i))
	}
	bm.Flip(0, uint64(count))

	res := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		res = append(res, int(it.Next()))
	}
	return res
}

// appendColumns encodes the set of present columns. It is the inverse of
// readColumns.
func appendColumns(dst []byte, present []int, count int) ([]byte, error) {
	for i, idx := range present {
		if idx < 0 || idx >= count || (i > 0 && idx <= present[i-1]) {
			return dst, formatError(int64(len(dst)), "missing columns", errors.Wrapf(ErrMalformedBitmap, "index %d out of order or range", idx))
		}
	}

	if count < largeColumnSet {
		mask := uint64(1)<<uint(count) - 1
		for _, idx := range present {
			mask &^= 1 << uint(idx)
		}
		return AppendUvarint(dst, mask), nil
	}

	missing := count - len(present)
	dst = AppendUvarint(dst, uint64(missing))

	indices := present
	if !listsPresent(missing, count) {
		indices = complementColumns(present, count)
	}
	for _, idx := range indices {
		dst = AppendUvarint(dst, uint64(idx))
	}
	return dst, nil
}
