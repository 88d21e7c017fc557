package sstable

import "github.com/pkg/errors"

// Cell is either a *SimpleCell or a *ComplexCell.
type Cell interface {
	isCell()
}

// CellLiveness holds the optional per-cell deltas, relative to the
// serialization header minimums. Each is only present when the cell flags
// say so.
type CellLiveness struct {
	Timestamp         uint64
	LocalDeletionTime uint64
	TTL               uint64
}

// SimpleCell is a single column value. Value is nil if the cell has an
// empty value.
type SimpleCell struct {
	Flags CellFlags
	CellLiveness
	Value interface{}
}

// ComplexCell holds the items of a non-frozen collection column.
type ComplexCell struct {
	MarkedForDeleteAt uint64
	LocalDeletionTime uint64
	Items             []*CellItem
}

// CellItem is a single element of a complex cell. Path is the list element
// timeuuid, the set member or the map key.
type CellItem struct {
	Flags CellFlags
	CellLiveness
	Path  interface{}
	Value interface{}
}

func (*SimpleCell) isCell()  {}
func (*ComplexCell) isCell() {}

// --------------------------------------------------------------------

func readCellLiveness(c *cursor, flags CellFlags) (l CellLiveness, err error) {
	if flags.hasTimestamp() {
		if l.Timestamp, err = c.readUvarint("cell timestamp"); err != nil {
			return
		}
	}
	if flags.hasDeletionTime() {
		if l.LocalDeletionTime, err = c.readUvarint("cell local deletion time"); err != nil {
			return
		}
	}
	if flags.hasTTL() {
		if l.TTL, err = c.readUvarint("cell ttl"); err != nil {
			return
		}
	}
	return
}

func decodeValue(t ColumnType, raw []byte, off int64, field string) (interface{}, error) {
	v, err := t.Decode(raw)
	if err != nil {
		return nil, formatError(off, field, err)
	}
	return v, nil
}

// readSimpleCell decodes a cell of type t.
func readSimpleCell(c *cursor, t ColumnType) (*SimpleCell, error) {
	flags, err := c.readByte("cell flags")
	if err != nil {
		return nil, err
	}

	cell := &SimpleCell{Flags: CellFlags(flags)}
	if cell.CellLiveness, err = readCellLiveness(c, cell.Flags); err != nil {
		return nil, err
	}
	if cell.Flags.Has(CellHasEmptyValue) {
		return cell, nil
	}

	off := c.off
	raw, err := c.readValue(t, "cell value")
	if err != nil {
		return nil, err
	}
	if cell.Value, err = decodeValue(t, raw, off, "cell value"); err != nil {
		return nil, err
	}
	return cell, nil
}

// readComplexCell decodes the items of a non-frozen collection.
func readComplexCell(c *cursor, t *CollectionType) (*ComplexCell, error) {
	var (
		cell ComplexCell
		err  error
	)

	if cell.MarkedForDeleteAt, err = c.readUvarint("complex deletion time"); err != nil {
		return nil, err
	}
	if cell.LocalDeletionTime, err = c.readUvarint("complex deletion time"); err != nil {
		return nil, err
	}

	n, err := c.readUvarint("complex cell items")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		item, err := readCellItem(c, t)
		if err != nil {
			return nil, err
		}
		cell.Items = append(cell.Items, item)
	}
	return &cell, nil
}

func readCellItem(c *cursor, t *CollectionType) (*CellItem, error) {
	flags, err := c.readByte("cell flags")
	if err != nil {
		return nil, err
	}

	item := &CellItem{Flags: CellFlags(flags)}
	if item.CellLiveness, err = readCellLiveness(c, item.Flags); err != nil {
		return nil, err
	}

	off := c.off
	raw, err := c.readVarBytes("cell path")
	if err != nil {
		return nil, err
	}
	if item.Path, err = decodeValue(t.pathType(), raw, off, "cell path"); err != nil {
		return nil, err
	}
	if item.Flags.Has(CellHasEmptyValue) {
		return item, nil
	}

	off = c.off
	if raw, err = c.readVarBytes("cell value"); err != nil {
		return nil, err
	}
	if item.Value, err = decodeValue(t.itemValueType(), raw, off, "cell value"); err != nil {
		return nil, err
	}
	return item, nil
}

// --------------------------------------------------------------------

func appendCellLiveness(dst []byte, flags CellFlags, l CellLiveness) []byte {
	if flags.hasTimestamp() {
		dst = AppendUvarint(dst, l.Timestamp)
	}
	if flags.hasDeletionTime() {
		dst = AppendUvarint(dst, l.LocalDeletionTime)
	}
	if flags.hasTTL() {
		dst = AppendUvarint(dst, l.TTL)
	}
	return dst
}

// checkCellLiveness rejects liveness values which flags would not encode.
func checkCellLiveness(dst []byte, flags CellFlags, l CellLiveness) error {
	var field string
	switch {
	case l.Timestamp != 0 && !flags.hasTimestamp():
		field = "cell timestamp"
	case l.LocalDeletionTime != 0 && !flags.hasDeletionTime():
		field = "cell local deletion time"
	case l.TTL != 0 && !flags.hasTTL():
		field = "cell ttl"
	default:
		return nil
	}
	return formatError(int64(len(dst)), field, errors.Wrapf(ErrInconsistentSchema, "%s is set but excluded by flags %#02x", field, byte(flags)))
}

func checkEmptyValue(dst []byte, flags CellFlags, v interface{}) error {
	if empty := flags.Has(CellHasEmptyValue); empty != (v == nil) {
		return formatError(int64(len(dst)), "cell value", errors.Wrapf(ErrInconsistentSchema, "empty-value flag is %v but value is %v", empty, v))
	}
	return nil
}

func appendSimpleCell(dst []byte, t ColumnType, cell *SimpleCell) ([]byte, error) {
	if err := checkEmptyValue(dst, cell.Flags, cell.Value); err != nil {
		return dst, err
	}
	if err := checkCellLiveness(dst, cell.Flags, cell.CellLiveness); err != nil {
		return dst, err
	}

	dst = append(dst, byte(cell.Flags))
	dst = appendCellLiveness(dst, cell.Flags, cell.CellLiveness)
	if cell.Value == nil {
		return dst, nil
	}
	return appendValue(dst, t, cell.Value, "cell value")
}

func appendComplexCell(dst []byte, t *CollectionType, cell *ComplexCell) ([]byte, error) {
	var err error

	dst = AppendUvarint(dst, cell.MarkedForDeleteAt)
	dst = AppendUvarint(dst, cell.LocalDeletionTime)
	dst = AppendUvarint(dst, uint64(len(cell.Items)))
	for _, item := range cell.Items {
		if dst, err = appendCellItem(dst, t, item); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func appendCellItem(dst []byte, t *CollectionType, item *CellItem) ([]byte, error) {
	if err := checkEmptyValue(dst, item.Flags, item.Value); err != nil {
		return dst, err
	}
	if err := checkCellLiveness(dst, item.Flags, item.CellLiveness); err != nil {
		return dst, err
	}

	dst = append(dst, byte(item.Flags))
	dst = appendCellLiveness(dst, item.Flags, item.CellLiveness)

	path, err := t.pathType().Encode(nil, item.Path)
	if err != nil {
		return dst, formatError(int64(len(dst)), "cell path", err)
	}
	dst = appendVarBytes(dst, path)
	if item.Value == nil {
		return dst, nil
	}

	val, err := t.itemValueType().Encode(nil, item.Value)
	if err != nil {
		return dst, formatError(int64(len(dst)), "cell value", err)
	}
	return appendVarBytes(dst, val), nil
}
