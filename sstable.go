package sstable

import (
	"fmt"

	"github.com/pkg/errors"
)

// Statistics.db metadata section types.
const (
	ValidationMetadata    MetadataType = 0
	CompactionMetadata    MetadataType = 1
	StatisticsMetadata    MetadataType = 2
	SerializationMetadata MetadataType = 3
)

// MetadataType identifies a Statistics.db section.
type MetadataType uint32

func (t MetadataType) String() string {
	switch t {
	case ValidationMetadata:
		return "VALIDATION"
	case CompactionMetadata:
		return "COMPACTION"
	case StatisticsMetadata:
		return "STATS"
	case SerializationMetadata:
		return "HEADER"
	}
	return fmt.Sprintf("MetadataType(%d)", uint32(t))
}

// --------------------------------------------------------------------

// RowFlags is the leading byte of every unfiltered.
type RowFlags byte

// Row flags.
const (
	EndOfPartition     RowFlags = 0x01
	IsMarker           RowFlags = 0x02
	HasTimestamp       RowFlags = 0x04
	HasTTL             RowFlags = 0x08
	HasDeletion        RowFlags = 0x10
	HasAllColumns      RowFlags = 0x20
	HasComplexDeletion RowFlags = 0x40
	HasExtendedFlags   RowFlags = 0x80
)

// Has returns true if all bits of f are set.
func (r RowFlags) Has(f RowFlags) bool { return r&f == f }

// ExtendedRowFlags follow the row flags when HasExtendedFlags is set.
type ExtendedRowFlags byte

// Extended row flags.
const (
	IsStatic              ExtendedRowFlags = 0x01
	HasShadowableDeletion ExtendedRowFlags = 0x02
)

// Has returns true if all bits of f are set.
func (r ExtendedRowFlags) Has(f ExtendedRowFlags) bool { return r&f == f }

// CellFlags is the leading byte of every cell.
type CellFlags byte

// Cell flags.
const (
	CellDeleted         CellFlags = 0x01
	CellExpiring        CellFlags = 0x02
	CellHasEmptyValue   CellFlags = 0x04
	CellUseRowTimestamp CellFlags = 0x08
	CellUseRowTTL       CellFlags = 0x10
)

// Has returns true if all bits of f are set.
func (c CellFlags) Has(f CellFlags) bool { return c&f == f }

func (c CellFlags) hasTimestamp() bool { return !c.Has(CellUseRowTimestamp) }
func (c CellFlags) hasDeletionTime() bool {
	return c&(CellDeleted|CellExpiring) != 0 && !c.Has(CellUseRowTTL)
}
func (c CellFlags) hasTTL() bool { return c.Has(CellExpiring) && !c.Has(CellUseRowTTL) }

// --------------------------------------------------------------------

var (
	// ErrTruncated is returned when the input ends inside a structure.
	ErrTruncated = errors.New("sstable: truncated input")
	// ErrUnknownType is returned for type names missing from the type table.
	ErrUnknownType = errors.New("sstable: unknown type")
	// ErrUnsupportedType is returned for recognised but unsupported types.
	ErrUnsupportedType = errors.New("sstable: unsupported type")
	// ErrInconsistentSchema is returned when the data does not agree with the schema.
	ErrInconsistentSchema = errors.New("sstable: inconsistent schema")
	// ErrOverflow is returned when a value does not fit its encoding.
	ErrOverflow = errors.New("sstable: encoding overflow")
	// ErrMalformedBitmap is returned for invalid missing-column bitmaps.
	ErrMalformedBitmap = errors.New("sstable: malformed column bitmap")
	// ErrBadChecksum is returned when a compressed chunk fails its CRC check.
	ErrBadChecksum = errors.New("sstable: bad chunk checksum")
	// ErrBadCompression is returned for unknown compressors or undecodable chunks.
	ErrBadCompression = errors.New("sstable: bad compression codec")
)

var errClosed = errors.New("sstable: is closed")

// FormatError reports the byte offset and field at which decoding or encoding failed.
type FormatError struct {
	Offset int64
	Field  string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", e.Field, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error { return e.Err }

// Offset returns the byte offset recorded in err, or -1.
func Offset(err error) int64 {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Offset
	}
	return -1
}

func formatError(off int64, field string, err error) error {
	if _, ok := err.(*FormatError); ok {
		return err
	}
	return &FormatError{Offset: off, Field: field, Err: err}
}
