package sstable

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Statistics is the decoded form of a Statistics.db component. A section is
// non-nil iff its type is listed in the TOC.
type Statistics struct {
	TOC        []TOCEntry
	Validation *ValidationSection
	Compaction *CompactionSection
	Stats      *StatsSection
	Header     *SerializationHeader
}

// TOCEntry locates a metadata section.
type TOCEntry struct {
	Type   MetadataType
	Offset uint32
}

// ValidationSection holds the partitioner and bloom filter settings.
type ValidationSection struct {
	Partitioner         string
	BloomFilterFPChance float64
}

// CompactionSection holds the serialized cardinality estimator.
type CompactionSection struct {
	Cardinality []byte
}

// HistogramBucket is a single histogram entry.
type HistogramBucket struct {
	Bound int64
	Count int64
}

// StreamingHistogram is a histogram with a bounded number of bins.
type StreamingHistogram struct {
	MaxBins uint32
	Buckets []HistogramBucket
}

// CommitLogPosition is a position within a commit log segment.
type CommitLogPosition struct {
	SegmentID int64
	Position  uint32
}

// CommitLogInterval is a range of commit log positions.
type CommitLogInterval struct {
	Start, End CommitLogPosition
}

// StatsSection holds the table statistics.
type StatsSection struct {
	PartitionSizes       []HistogramBucket
	ColumnCounts         []HistogramBucket
	CommitLogUpperBound  CommitLogPosition
	MinTimestamp         int64
	MaxTimestamp         int64
	MinLocalDeletionTime uint32
	MaxLocalDeletionTime uint32
	MinTTL               uint32
	MaxTTL               uint32
	CompressionRatio     float64
	Tombstones           StreamingHistogram
	Level                uint32
	RepairedAt           int64
	MinClusteringKey     [][]byte
	MaxClusteringKey     [][]byte
	HasLegacyCounters    bool
	NumberOfColumns      uint64
	NumberOfRows         uint64
	CommitLogLowerBound  CommitLogPosition
	CommitLogIntervals   []CommitLogInterval
	HostID               *uuid.UUID
}

// SerializationHeader describes the key and column types used by Data.db.
// Type names are kept verbatim, see NewSchema.
type SerializationHeader struct {
	MinTimestamp         uint64
	MinLocalDeletionTime uint64
	MinTTL               uint64
	PartitionKeyType     string
	ClusteringKeyTypes   []string
	StaticColumns        []ColumnDef
	RegularColumns       []ColumnDef
}

// ColumnDef is a named column with an unresolved type name.
type ColumnDef struct {
	Name string
	Type string
}

// --------------------------------------------------------------------

// ReadStatistics decodes a Statistics.db component.
func ReadStatistics(r io.Reader) (*Statistics, error) {
	c := newCursor(r)

	count, err := c.readUint32("metadata count")
	if err != nil {
		return nil, err
	}

	s := new(Statistics)
	for i := uint32(0); i < count; i++ {
		typ, err := c.readUint32("toc type")
		if err != nil {
			return nil, err
		}
		off, err := c.readUint32("toc offset")
		if err != nil {
			return nil, err
		}
		s.TOC = append(s.TOC, TOCEntry{Type: MetadataType(typ), Offset: off})
	}

	for _, ent := range s.TOC {
		if int64(ent.Offset) != c.off {
			return nil, c.fail(ent.Type.String(), errors.Wrapf(ErrInconsistentSchema, "toc offset %d does not match section start", ent.Offset))
		}
		if err := s.readSection(c, ent.Type); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Statistics) readSection(c *cursor, typ MetadataType) (err error) {
	switch typ {
	case ValidationMetadata:
		if s.Validation != nil {
			break
		}
		s.Validation, err = readValidation(c)
		return err
	case CompactionMetadata:
		if s.Compaction != nil {
			break
		}
		s.Compaction, err = readCompaction(c)
		return err
	case StatisticsMetadata:
		if s.Stats != nil {
			break
		}
		s.Stats, err = readStats(c)
		return err
	case SerializationMetadata:
		if s.Header != nil {
			break
		}
		s.Header, err = readSerializationHeader(c)
		return err
	default:
		return c.fail("toc", errors.Wrapf(ErrUnsupportedType, "metadata type %d", uint32(typ)))
	}
	return c.fail("toc", errors.Wrapf(ErrInconsistentSchema, "duplicate %s section", typ))
}

func readValidation(c *cursor) (*ValidationSection, error) {
	name, err := c.readShortBytes("partitioner")
	if err != nil {
		return nil, err
	}
	fp, err := c.readFloat64("bloom filter fp chance")
	if err != nil {
		return nil, err
	}
	return &ValidationSection{Partitioner: string(name), BloomFilterFPChance: fp}, nil
}

func readCompaction(c *cursor) (*CompactionSection, error) {
	n, err := c.readUint32("cardinality length")
	if err != nil {
		return nil, err
	}
	p, err := c.readBytes(uint64(n), "cardinality")
	if err != nil {
		return nil, err
	}
	return &CompactionSection{Cardinality: p}, nil
}

func readHistogram(c *cursor, field string) ([]HistogramBucket, error) {
	n, err := c.readUint32(field)
	if err != nil {
		return nil, err
	}

	buckets := make([]HistogramBucket, 0, minInt(int(n), 1024))
	for i := uint32(0); i < n; i++ {
		bound, err := c.readUint64(field)
		if err != nil {
			return nil, err
		}
		count, err := c.readUint64(field)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, HistogramBucket{Bound: int64(bound), Count: int64(count)})
	}
	return buckets, nil
}

func readCommitLogPosition(c *cursor, field string) (pos CommitLogPosition, err error) {
	seg, err := c.readUint64(field)
	if err != nil {
		return pos, err
	}
	off, err := c.readUint32(field)
	if err != nil {
		return pos, err
	}
	return CommitLogPosition{SegmentID: int64(seg), Position: off}, nil
}

func readClusteringBound(c *cursor, field string) ([][]byte, error) {
	n, err := c.readUint32(field)
	if err != nil {
		return nil, err
	}

	bound := make([][]byte, 0, minInt(int(n), 64))
	for i := uint32(0); i < n; i++ {
		p, err := c.readShortBytes(field)
		if err != nil {
			return nil, err
		}
		bound = append(bound, p)
	}
	return bound, nil
}

func readStats(c *cursor) (*StatsSection, error) {
	var (
		s   StatsSection
		err error
		u64 uint64
	)

	if s.PartitionSizes, err = readHistogram(c, "partition sizes"); err != nil {
		return nil, err
	}
	if s.ColumnCounts, err = readHistogram(c, "column counts"); err != nil {
		return nil, err
	}
	if s.CommitLogUpperBound, err = readCommitLogPosition(c, "commit log upper bound"); err != nil {
		return nil, err
	}
	if u64, err = c.readUint64("min timestamp"); err != nil {
		return nil, err
	}
	s.MinTimestamp = int64(u64)
	if u64, err = c.readUint64("max timestamp"); err != nil {
		return nil, err
	}
	s.MaxTimestamp = int64(u64)
	if s.MinLocalDeletionTime, err = c.readUint32("min local deletion time"); err != nil {
		return nil, err
	}
	if s.MaxLocalDeletionTime, err = c.readUint32("max local deletion time"); err != nil {
		return nil, err
	}
	if s.MinTTL, err = c.readUint32("min ttl"); err != nil {
		return nil, err
	}
	if s.MaxTTL, err = c.readUint32("max ttl"); err != nil {
		return nil, err
	}
	if s.CompressionRatio, err = c.readFloat64("compression ratio"); err != nil {
		return nil, err
	}
	if s.Tombstones.MaxBins, err = c.readUint32("tombstone histogram"); err != nil {
		return nil, err
	}
	if s.Tombstones.Buckets, err = readHistogram(c, "tombstone histogram"); err != nil {
		return nil, err
	}
	if s.Level, err = c.readUint32("level"); err != nil {
		return nil, err
	}
	if u64, err = c.readUint64("repaired at"); err != nil {
		return nil, err
	}
	s.RepairedAt = int64(u64)
	if s.MinClusteringKey, err = readClusteringBound(c, "min clustering key"); err != nil {
		return nil, err
	}
	if s.MaxClusteringKey, err = readClusteringBound(c, "max clustering key"); err != nil {
		return nil, err
	}
	if s.HasLegacyCounters, err = readBool(c, "has legacy counters"); err != nil {
		return nil, err
	}
	if s.NumberOfColumns, err = c.readUint64("number of columns"); err != nil {
		return nil, err
	}
	if s.NumberOfRows, err = c.readUint64("number of rows"); err != nil {
		return nil, err
	}
	if s.CommitLogLowerBound, err = readCommitLogPosition(c, "commit log lower bound"); err != nil {
		return nil, err
	}

	n, err := c.readUint32("commit log intervals")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var iv CommitLogInterval
		if iv.Start, err = readCommitLogPosition(c, "commit log intervals"); err != nil {
			return nil, err
		}
		if iv.End, err = readCommitLogPosition(c, "commit log intervals"); err != nil {
			return nil, err
		}
		s.CommitLogIntervals = append(s.CommitLogIntervals, iv)
	}

	hasHostID, err := readBool(c, "host id")
	if err != nil {
		return nil, err
	}
	if hasHostID {
		var id uuid.UUID
		if err := c.readFull(id[:], "host id"); err != nil {
			return nil, err
		}
		s.HostID = &id
	}
	return &s, nil
}

func readBool(c *cursor, field string) (bool, error) {
	b, err := c.readByte(field)
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, formatError(c.off-1, field, errors.Wrapf(ErrInconsistentSchema, "invalid boolean byte 0x%02x", b))
}

func readTypeName(c *cursor, field string) (string, error) {
	p, err := c.readVarBytes(field)
	return string(p), err
}

func readColumnDefs(c *cursor, field string) ([]ColumnDef, error) {
	n, err := c.readUvarint(field)
	if err != nil {
		return nil, err
	}

	var cols []ColumnDef
	for i := uint64(0); i < n; i++ {
		name, err := c.readVarBytes(field)
		if err != nil {
			return nil, err
		}
		typ, err := readTypeName(c, field)
		if err != nil {
			return nil, err
		}
		cols = append(cols, ColumnDef{Name: string(name), Type: typ})
	}
	return cols, nil
}

func readSerializationHeader(c *cursor) (*SerializationHeader, error) {
	var (
		h   SerializationHeader
		err error
	)

	if h.MinTimestamp, err = c.readUvarint("min timestamp"); err != nil {
		return nil, err
	}
	if h.MinLocalDeletionTime, err = c.readUvarint("min local deletion time"); err != nil {
		return nil, err
	}
	if h.MinTTL, err = c.readUvarint("min ttl"); err != nil {
		return nil, err
	}
	if h.PartitionKeyType, err = readTypeName(c, "partition key type"); err != nil {
		return nil, err
	}

	n, err := c.readUvarint("clustering key types")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		name, err := readTypeName(c, "clustering key types")
		if err != nil {
			return nil, err
		}
		h.ClusteringKeyTypes = append(h.ClusteringKeyTypes, name)
	}

	if h.StaticColumns, err = readColumnDefs(c, "static columns"); err != nil {
		return nil, err
	}
	if h.RegularColumns, err = readColumnDefs(c, "regular columns"); err != nil {
		return nil, err
	}
	return &h, nil
}

// --------------------------------------------------------------------

// WriteTo encodes s and writes it to w.
func (s *Statistics) WriteTo(w io.Writer) (int64, error) {
	p, err := AppendStatistics(nil, s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(p)
	return int64(n), err
}

// AppendStatistics appends the encoded form of s to dst. If all TOC offsets
// are zero they are computed, otherwise they must match the encoded layout.
func AppendStatistics(dst []byte, s *Statistics) ([]byte, error) {
	if int64(len(s.TOC)) > math.MaxUint32 {
		return dst, formatError(int64(len(dst)), "metadata count", ErrOverflow)
	}

	seen := make(map[MetadataType]bool, len(s.TOC))
	sections := make([][]byte, 0, len(s.TOC))
	for _, ent := range s.TOC {
		if seen[ent.Type] {
			return dst, formatError(int64(len(dst)), "toc", errors.Wrapf(ErrInconsistentSchema, "duplicate %s section", ent.Type))
		}
		seen[ent.Type] = true

		p, err := s.appendSection(nil, ent.Type)
		if err != nil {
			return dst, err
		}
		sections = append(sections, p)
	}
	if err := s.checkSections(seen); err != nil {
		return dst, formatError(int64(len(dst)), "toc", err)
	}

	zero := true
	for _, ent := range s.TOC {
		zero = zero && ent.Offset == 0
	}

	start := len(dst)
	off := uint32(4 + 8*len(s.TOC))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s.TOC)))
	for i, ent := range s.TOC {
		if !zero && ent.Offset != off {
			return dst[:start], formatError(int64(len(dst)), "toc offset", errors.Wrapf(ErrInconsistentSchema, "%s offset is %d, encoded at %d", ent.Type, ent.Offset, off))
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(ent.Type))
		dst = binary.BigEndian.AppendUint32(dst, off)
		off += uint32(len(sections[i]))
	}
	for _, p := range sections {
		dst = append(dst, p...)
	}
	return dst, nil
}

func (s *Statistics) checkSections(seen map[MetadataType]bool) error {
	if (s.Validation != nil) != seen[ValidationMetadata] ||
		(s.Compaction != nil) != seen[CompactionMetadata] ||
		(s.Stats != nil) != seen[StatisticsMetadata] ||
		(s.Header != nil) != seen[SerializationMetadata] {
		return errors.Wrap(ErrInconsistentSchema, "sections do not match table of contents")
	}
	return nil
}

func (s *Statistics) appendSection(dst []byte, typ MetadataType) ([]byte, error) {
	switch typ {
	case ValidationMetadata:
		if s.Validation == nil {
			break
		}
		dst, err := appendShortBytes(dst, []byte(s.Validation.Partitioner), "partitioner")
		if err != nil {
			return dst, err
		}
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(s.Validation.BloomFilterFPChance)), nil
	case CompactionMetadata:
		if s.Compaction == nil {
			break
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(s.Compaction.Cardinality)))
		return append(dst, s.Compaction.Cardinality...), nil
	case StatisticsMetadata:
		if s.Stats == nil {
			break
		}
		return s.Stats.appendTo(dst)
	case SerializationMetadata:
		if s.Header == nil {
			break
		}
		return s.Header.appendTo(dst), nil
	default:
		return dst, formatError(0, "toc", errors.Wrapf(ErrUnsupportedType, "metadata type %d", uint32(typ)))
	}
	return dst, formatError(0, typ.String(), errors.Wrap(ErrInconsistentSchema, "section listed in toc is missing"))
}

func appendHistogram(dst []byte, buckets []HistogramBucket) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(buckets)))
	for _, b := range buckets {
		dst = binary.BigEndian.AppendUint64(dst, uint64(b.Bound))
		dst = binary.BigEndian.AppendUint64(dst, uint64(b.Count))
	}
	return dst
}

func appendCommitLogPosition(dst []byte, pos CommitLogPosition) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(pos.SegmentID))
	return binary.BigEndian.AppendUint32(dst, pos.Position)
}

func appendClusteringBound(dst []byte, bound [][]byte) ([]byte, error) {
	var err error
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(bound)))
	for _, p := range bound {
		if dst, err = appendShortBytes(dst, p, "clustering bound"); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func (s *StatsSection) appendTo(dst []byte) ([]byte, error) {
	var err error

	dst = appendHistogram(dst, s.PartitionSizes)
	dst = appendHistogram(dst, s.ColumnCounts)
	dst = appendCommitLogPosition(dst, s.CommitLogUpperBound)
	dst = binary.BigEndian.AppendUint64(dst, uint64(s.MinTimestamp))
	dst = binary.BigEndian.AppendUint64(dst, uint64(s.MaxTimestamp))
	dst = binary.BigEndian.AppendUint32(dst, s.MinLocalDeletionTime)
	dst = binary.BigEndian.AppendUint32(dst, s.MaxLocalDeletionTime)
	dst = binary.BigEndian.AppendUint32(dst, s.MinTTL)
	dst = binary.BigEndian.AppendUint32(dst, s.MaxTTL)
	dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(s.CompressionRatio))
	dst = binary.BigEndian.AppendUint32(dst, s.Tombstones.MaxBins)
	dst = appendHistogram(dst, s.Tombstones.Buckets)
	dst = binary.BigEndian.AppendUint32(dst, s.Level)
	dst = binary.BigEndian.AppendUint64(dst, uint64(s.RepairedAt))
	if dst, err = appendClusteringBound(dst, s.MinClusteringKey); err != nil {
		return dst, err
	}
	if dst, err = appendClusteringBound(dst, s.MaxClusteringKey); err != nil {
		return dst, err
	}
	dst = appendBool(dst, s.HasLegacyCounters)
	dst = binary.BigEndian.AppendUint64(dst, s.NumberOfColumns)
	dst = binary.BigEndian.AppendUint64(dst, s.NumberOfRows)
	dst = appendCommitLogPosition(dst, s.CommitLogLowerBound)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s.CommitLogIntervals)))
	for _, iv := range s.CommitLogIntervals {
		dst = appendCommitLogPosition(dst, iv.Start)
		dst = appendCommitLogPosition(dst, iv.End)
	}
	dst = appendBool(dst, s.HostID != nil)
	if s.HostID != nil {
		dst = append(dst, s.HostID[:]...)
	}
	return dst, nil
}

func (h *SerializationHeader) appendTo(dst []byte) []byte {
	dst = AppendUvarint(dst, h.MinTimestamp)
	dst = AppendUvarint(dst, h.MinLocalDeletionTime)
	dst = AppendUvarint(dst, h.MinTTL)
	dst = appendVarBytes(dst, []byte(h.PartitionKeyType))
	dst = AppendUvarint(dst, uint64(len(h.ClusteringKeyTypes)))
	for _, name := range h.ClusteringKeyTypes {
		dst = appendVarBytes(dst, []byte(name))
	}
	for _, cols := range [][]ColumnDef{h.StaticColumns, h.RegularColumns} {
		dst = AppendUvarint(dst, uint64(len(cols)))
		for _, col := range cols {
			dst = appendVarBytes(dst, []byte(col.Name))
			dst = appendVarBytes(dst, []byte(col.Type))
		}
	}
	return dst
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
