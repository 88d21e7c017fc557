package sstable

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DeletionTime marks a partition or row as deleted.
type DeletionTime struct {
	LocalDeletionTime int32
	MarkedForDeleteAt int64
}

// Live is the deletion time of data which has not been deleted.
var Live = DeletionTime{LocalDeletionTime: math.MaxInt32, MarkedForDeleteAt: math.MinInt64}

// IsLive returns true if d does not mark a deletion.
func (d DeletionTime) IsLive() bool { return d == Live }

// PartitionHeader starts every partition.
type PartitionHeader struct {
	Key          []byte // serialized partition key
	DeletionTime DeletionTime
}

// Partition is a partition header followed by its unfiltereds. The last
// unfiltered is always the end-of-partition terminator.
type Partition struct {
	Header      PartitionHeader
	Unfiltereds []Unfiltered
}

// Key decodes the partition key using the schema's partition key type.
func (p *Partition) Key(s *Schema) (interface{}, error) {
	return s.PartitionKey.Decode(p.Header.Key)
}

// Rows returns the rows of the partition, excluding the terminator.
func (p *Partition) Rows() []*Row {
	rows := make([]*Row, 0, len(p.Unfiltereds))
	for _, u := range p.Unfiltereds {
		if u.Row != nil {
			rows = append(rows, u.Row)
		}
	}
	return rows
}

// Unfiltered is an entry in a partition's row stream: either a row or the
// end-of-partition terminator, which has no row.
type Unfiltered struct {
	Flags         RowFlags
	ExtendedFlags ExtendedRowFlags // only with HasExtendedFlags
	Row           *Row
}

// IsStatic returns true for static rows.
func (u *Unfiltered) IsStatic() bool {
	return u.Flags.Has(HasExtendedFlags) && u.ExtendedFlags.Has(IsStatic)
}

// ClusteringBlock holds one value per clustering column.
type ClusteringBlock struct {
	Header byte
	Values []interface{}
}

// Row is a single row.
type Row struct {
	Clustering *ClusteringBlock // nil if the table has no clustering columns, or for static rows
	BodySize   uint64           // computed on encode if zero
	Body       RowBody
}

// RowLiveness is present with HasTTL.
type RowLiveness struct {
	TTL               uint64
	LocalDeletionTime uint64
}

// RowDeletion is present with HasDeletion.
type RowDeletion struct {
	MarkedForDeleteAt uint64
	LocalDeletionTime uint64
}

// RowBody holds the row's liveness info and cells.
type RowBody struct {
	PreviousUnfilteredSize uint64
	TimestampDiff          uint64
	Liveness               *RowLiveness
	Deletion               *RowDeletion
	Columns                []int // present columns, nil with HasAllColumns
	Cells                  []Cell
}

// ColumnIndex returns the schema column index of the i-th cell.
func (b *RowBody) ColumnIndex(i int) int {
	if b.Columns != nil {
		return b.Columns[i]
	}
	return i
}

// --------------------------------------------------------------------

// ReadPartition decodes a single partition from r.
func ReadPartition(r io.Reader, s *Schema) (*Partition, error) {
	return readPartition(newCursor(r), s)
}

func readPartition(c *cursor, s *Schema) (*Partition, error) {
	key, err := c.readShortBytes("partition key")
	if err != nil {
		return nil, err
	}
	ldt, err := c.readUint32("partition deletion time")
	if err != nil {
		return nil, err
	}
	mfda, err := c.readUint64("partition deletion time")
	if err != nil {
		return nil, err
	}

	p := &Partition{Header: PartitionHeader{
		Key: key,
		DeletionTime: DeletionTime{
			LocalDeletionTime: int32(ldt),
			MarkedForDeleteAt: int64(mfda),
		},
	}}
	for {
		u, err := readUnfiltered(c, s)
		if err != nil {
			return nil, err
		}
		p.Unfiltereds = append(p.Unfiltereds, u)
		if u.Flags.Has(EndOfPartition) {
			return p, nil
		}
	}
}

func readUnfiltered(c *cursor, s *Schema) (Unfiltered, error) {
	var u Unfiltered

	flags, err := c.readByte("row flags")
	if err != nil {
		return u, err
	}
	u.Flags = RowFlags(flags)
	if u.Flags.Has(EndOfPartition) {
		return u, nil
	} else if u.Flags.Has(IsMarker) {
		return u, formatError(c.off-1, "row flags", errors.Wrap(ErrUnsupportedType, "range tombstone marker"))
	}

	if u.Flags.Has(HasExtendedFlags) {
		ext, err := c.readByte("extended row flags")
		if err != nil {
			return u, err
		}
		u.ExtendedFlags = ExtendedRowFlags(ext)
	}

	u.Row, err = readRow(c, s, u.Flags, u.IsStatic())
	return u, err
}

func readRow(c *cursor, s *Schema, flags RowFlags, static bool) (*Row, error) {
	row := new(Row)

	if len(s.Clustering) != 0 && !static {
		header, err := c.readByte("clustering header")
		if err != nil {
			return nil, err
		}

		block := &ClusteringBlock{Header: header, Values: make([]interface{}, 0, len(s.Clustering))}
		for _, t := range s.Clustering {
			off := c.off
			raw, err := c.readValue(t, "clustering value")
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(t, raw, off, "clustering value")
			if err != nil {
				return nil, err
			}
			block.Values = append(block.Values, v)
		}
		row.Clustering = block
	}

	size, err := c.readUvarint("row body size")
	if err != nil {
		return nil, err
	}
	row.BodySize = size

	start := c.off
	if err := readRowBody(c, s, &row.Body, flags, static, start, size); err != nil {
		return nil, err
	}
	if consumed := uint64(c.off - start); consumed != size {
		return nil, formatError(start, "row body", errors.Wrapf(ErrInconsistentSchema, "row body size is %d, decoded %d bytes", size, consumed))
	}
	return row, nil
}

func readRowBody(c *cursor, s *Schema, b *RowBody, flags RowFlags, static bool, start int64, size uint64) (err error) {
	if b.PreviousUnfilteredSize, err = c.readUvarint("previous unfiltered size"); err != nil {
		return err
	}
	if b.TimestampDiff, err = c.readUvarint("row timestamp"); err != nil {
		return err
	}
	if flags.Has(HasTTL) {
		l := new(RowLiveness)
		if l.TTL, err = c.readUvarint("row ttl"); err != nil {
			return err
		}
		if l.LocalDeletionTime, err = c.readUvarint("row local deletion time"); err != nil {
			return err
		}
		b.Liveness = l
	}
	if flags.Has(HasDeletion) {
		d := new(RowDeletion)
		if d.MarkedForDeleteAt, err = c.readUvarint("row deletion time"); err != nil {
			return err
		}
		if d.LocalDeletionTime, err = c.readUvarint("row deletion time"); err != nil {
			return err
		}
		b.Deletion = d
	}

	cols := s.columns(static)
	n := len(cols)
	if !flags.Has(HasAllColumns) {
		if b.Columns, err = readColumns(c, len(cols)); err != nil {
			return err
		}
		n = len(b.Columns)
	}

	for i := 0; i < n && uint64(c.off-start) < size; i++ {
		col := cols[b.ColumnIndex(i)]

		var cell Cell
		if ct, ok := isComplex(col.Type, flags); ok {
			cell, err = readComplexCell(c, ct)
		} else {
			cell, err = readSimpleCell(c, col.Type)
		}
		if err != nil {
			return errors.WithMessagef(err, "column %q", col.Name)
		}
		b.Cells = append(b.Cells, cell)
	}
	return nil
}

// --------------------------------------------------------------------

// ReaderOptions define data reader specific options.
type ReaderOptions struct {
	// Recover enables best-effort recovery. When a partition cannot be
	// decoded, decoding resumes one byte after the start of that partition.
	// This may yield garbage partitions and is meant for salvaging damaged
	// files only.
	// Default: false.
	Recover bool

	// Logger receives recovery warnings and per-partition debug messages.
	// Default: zap.NewNop().
	Logger *zap.Logger

	// BufferSize is the read buffer size in bytes.
	// Default: 64KiB.
	BufferSize int
}

func (o *ReaderOptions) norm() *ReaderOptions {
	var oo ReaderOptions
	if o != nil {
		oo = *o
	}

	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	if oo.BufferSize < 16 {
		oo.BufferSize = 1 << 16
	}
	return &oo
}

// DataReader iterates over the partitions of a Data.db component. Data.db
// has no index of its own, so partitions are read strictly in order.
type DataReader struct {
	c *cursor
	s *Schema
	o *ReaderOptions

	cur     *Partition
	skipped int
	err     error
}

// NewDataReader opens a reader over size bytes of r, decoded with schema s.
func NewDataReader(r io.ReaderAt, size int64, s *Schema, o *ReaderOptions) *DataReader {
	o = o.norm()
	return &DataReader{
		c: newCursorAt(r, size, o.BufferSize),
		s: s,
		o: o,
	}
}

// Next advances to the next partition and returns true if successful.
func (r *DataReader) Next() bool {
	r.cur = nil
	if r.err != nil {
		return false
	}

	for {
		eof, err := r.c.atEOF()
		if err != nil {
			r.err = err
			return false
		} else if eof {
			return false
		}

		start := r.c.off
		p, err := readPartition(r.c, r.s)
		if err == nil {
			r.cur = p
			r.o.Logger.Debug("decoded partition",
				zap.Int64("offset", start),
				zap.Int("unfiltereds", len(p.Unfiltereds)))
			return true
		}

		if !r.o.Recover {
			r.err = err
			return false
		}

		r.o.Logger.Warn("skipping undecodable partition",
			zap.Int64("offset", start),
			zap.Error(err))
		r.skipped++
		r.c.seek(start + 1)
	}
}

// Partition returns the current partition.
func (r *DataReader) Partition() *Partition { return r.cur }

// Offset returns the current read offset.
func (r *DataReader) Offset() int64 { return r.c.off }

// Skipped returns the number of recovery attempts made so far.
func (r *DataReader) Skipped() int { return r.skipped }

// Err exposes decoding errors, if any.
func (r *DataReader) Err() error { return r.err }

// ReadData decodes all partitions of a Data.db component.
func ReadData(r io.ReaderAt, size int64, s *Schema, o *ReaderOptions) ([]*Partition, error) {
	dr := NewDataReader(r, size, s, o)

	var parts []*Partition
	for dr.Next() {
		parts = append(parts, dr.Partition())
	}
	return parts, dr.Err()
}
