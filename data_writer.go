package sstable

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DataWriter instances can write a Data.db component.
type DataWriter struct {
	w io.Writer
	s *Schema

	buf []byte // partition buffer
	off int64  // bytes written
}

// NewDataWriter wraps a writer and returns a DataWriter which encodes
// partitions using schema s.
func NewDataWriter(w io.Writer, s *Schema) *DataWriter {
	return &DataWriter{w: w, s: s}
}

// Append encodes and writes a partition.
func (w *DataWriter) Append(p *Partition) error {
	if w.s == nil {
		return errClosed
	}

	buf, err := AppendPartition(w.buf[:0], w.s, p)
	if err != nil {
		return shiftOffset(err, w.off)
	}
	w.buf = buf

	n, err := w.w.Write(w.buf)
	w.off += int64(n)
	return err
}

// Offset returns the number of bytes written so far.
func (w *DataWriter) Offset() int64 { return w.off }

// Close releases the writer. It does not close the underlying writer.
func (w *DataWriter) Close() error {
	if w.s == nil {
		return errClosed
	}
	w.s = nil
	w.buf = nil
	return nil
}

// shiftOffset moves the offset of a FormatError by base bytes.
func shiftOffset(err error, base int64) error {
	var fe *FormatError
	if base != 0 && errors.As(err, &fe) {
		fe.Offset += base
	}
	return err
}

// --------------------------------------------------------------------

// AppendPartition appends the encoded form of p to dst.
//
// Encoding errors within a row body report the offset the failing field
// would have if the body ended right before it, i.e. the body size prefix
// is sized for the bytes encoded so far.
func AppendPartition(dst []byte, s *Schema, p *Partition) ([]byte, error) {
	var err error

	if n := len(p.Unfiltereds); n == 0 || !p.Unfiltereds[n-1].Flags.Has(EndOfPartition) {
		return dst, formatError(int64(len(dst)), "partition", errors.Wrap(ErrInconsistentSchema, "partition must end with a terminator"))
	}

	if dst, err = appendShortBytes(dst, p.Header.Key, "partition key"); err != nil {
		return dst, err
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(p.Header.DeletionTime.LocalDeletionTime))
	dst = binary.BigEndian.AppendUint64(dst, uint64(p.Header.DeletionTime.MarkedForDeleteAt))

	last := len(p.Unfiltereds) - 1
	for i := range p.Unfiltereds {
		u := &p.Unfiltereds[i]
		if (i == last) != u.Flags.Has(EndOfPartition) {
			return dst, formatError(int64(len(dst)), "row flags", errors.Wrap(ErrInconsistentSchema, "terminator must be the last unfiltered"))
		}
		if dst, err = appendUnfiltered(dst, s, u); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendUnfiltered(dst []byte, s *Schema, u *Unfiltered) ([]byte, error) {
	if u.Flags.Has(EndOfPartition) {
		if u.Row != nil {
			return dst, formatError(int64(len(dst)), "row flags", errors.Wrap(ErrInconsistentSchema, "terminator cannot carry a row"))
		}
		return append(dst, byte(u.Flags)), nil
	} else if u.Flags.Has(IsMarker) {
		return dst, formatError(int64(len(dst)), "row flags", errors.Wrap(ErrUnsupportedType, "range tombstone marker"))
	} else if u.Row == nil {
		return dst, formatError(int64(len(dst)), "row", errors.Wrap(ErrInconsistentSchema, "missing row"))
	} else if u.ExtendedFlags != 0 && !u.Flags.Has(HasExtendedFlags) {
		return dst, formatError(int64(len(dst)), "extended row flags", errors.Wrap(ErrInconsistentSchema, "extended flags are set without the extension flag"))
	}

	dst = append(dst, byte(u.Flags))
	if u.Flags.Has(HasExtendedFlags) {
		dst = append(dst, byte(u.ExtendedFlags))
	}
	return appendRow(dst, s, u.Flags, u.IsStatic(), u.Row)
}

func appendRow(dst []byte, s *Schema, flags RowFlags, static bool, row *Row) ([]byte, error) {
	var err error

	wantClustering := len(s.Clustering) != 0 && !static
	if (row.Clustering != nil) != wantClustering {
		return dst, formatError(int64(len(dst)), "clustering", errors.Wrapf(ErrInconsistentSchema, "clustering block expected: %v", wantClustering))
	}
	if row.Clustering != nil {
		if len(row.Clustering.Values) != len(s.Clustering) {
			return dst, formatError(int64(len(dst)), "clustering", errors.Wrapf(ErrInconsistentSchema, "%d clustering values for %d columns", len(row.Clustering.Values), len(s.Clustering)))
		}

		dst = append(dst, row.Clustering.Header)
		for i, t := range s.Clustering {
			if dst, err = appendValue(dst, t, row.Clustering.Values[i], "clustering value"); err != nil {
				return dst, err
			}
		}
	}

	body, err := appendRowBody(nil, s, &row.Body, flags, static)
	if err != nil {
		base := int64(len(dst) + UvarintLen(uint64(len(body))))
		return dst, shiftOffset(err, base)
	}

	size := uint64(len(body))
	if row.BodySize != 0 && row.BodySize != size {
		return dst, formatError(int64(len(dst)), "row body size", errors.Wrapf(ErrInconsistentSchema, "row body size is %d, encoded %d bytes", row.BodySize, size))
	}
	dst = AppendUvarint(dst, size)
	return append(dst, body...), nil
}

func appendRowBody(dst []byte, s *Schema, b *RowBody, flags RowFlags, static bool) ([]byte, error) {
	var err error

	if (b.Liveness != nil) != flags.Has(HasTTL) {
		return dst, formatError(int64(len(dst)), "row ttl", errors.Wrap(ErrInconsistentSchema, "row liveness does not match flags"))
	}
	if (b.Deletion != nil) != flags.Has(HasDeletion) {
		return dst, formatError(int64(len(dst)), "row deletion time", errors.Wrap(ErrInconsistentSchema, "row deletion does not match flags"))
	}
	if (b.Columns == nil) != flags.Has(HasAllColumns) {
		return dst, formatError(int64(len(dst)), "missing columns", errors.Wrap(ErrInconsistentSchema, "column subset does not match flags"))
	}

	dst = AppendUvarint(dst, b.PreviousUnfilteredSize)
	dst = AppendUvarint(dst, b.TimestampDiff)
	if b.Liveness != nil {
		dst = AppendUvarint(dst, b.Liveness.TTL)
		dst = AppendUvarint(dst, b.Liveness.LocalDeletionTime)
	}
	if b.Deletion != nil {
		dst = AppendUvarint(dst, b.Deletion.MarkedForDeleteAt)
		dst = AppendUvarint(dst, b.Deletion.LocalDeletionTime)
	}

	cols := s.columns(static)
	n := len(cols)
	if b.Columns != nil {
		if dst, err = appendColumns(dst, b.Columns, len(cols)); err != nil {
			return dst, err
		}
		n = len(b.Columns)
	}
	if len(b.Cells) > n {
		return dst, formatError(int64(len(dst)), "cells", errors.Wrapf(ErrInconsistentSchema, "%d cells for %d columns", len(b.Cells), n))
	}

	for i, cell := range b.Cells {
		col := cols[b.ColumnIndex(i)]

		ct, complex := isComplex(col.Type, flags)
		switch x := cell.(type) {
		case *ComplexCell:
			if complex {
				dst, err = appendComplexCell(dst, ct, x)
				break
			}
			err = formatError(int64(len(dst)), "cell", errors.Wrap(ErrInconsistentSchema, "unexpected complex cell"))
		case *SimpleCell:
			if !complex {
				dst, err = appendSimpleCell(dst, col.Type, x)
				break
			}
			err = formatError(int64(len(dst)), "cell", errors.Wrap(ErrInconsistentSchema, "expected complex cell"))
		default:
			err = formatError(int64(len(dst)), "cell", errors.Wrapf(ErrInconsistentSchema, "unexpected cell %T", cell))
		}
		if err != nil {
			return dst, errors.WithMessagef(err, "column %q", col.Name)
		}
	}
	return dst, nil
}
