package sstable

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// CollectionKind distinguishes list, set and map columns.
type CollectionKind uint8

// Collection kinds.
const (
	ListKind CollectionKind = iota + 1
	SetKind
	MapKind
)

func (k CollectionKind) String() string {
	switch k {
	case ListKind:
		return "list"
	case SetKind:
		return "set"
	case MapKind:
		return "map"
	}
	return "unknown"
}

// MapEntry is a single map collection entry.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// CollectionType is a list, set or map type. Non-frozen collections are
// stored as complex cells, one item per element. As plain values (frozen, or
// in rows without complex deletion info) lists and sets decode to
// []interface{} and maps to []MapEntry.
type CollectionType struct {
	Kind   CollectionKind
	Key    ColumnType // map key type
	Elem   ColumnType // list/set element type, map value type
	Frozen bool

	name string
}

func newCollectionType(kind CollectionKind, key, elem ColumnType) *CollectionType {
	var name string
	switch kind {
	case ListKind:
		name = ListType + "(" + elem.Name() + ")"
	case SetKind:
		name = SetType + "(" + elem.Name() + ")"
	case MapKind:
		name = MapType + "(" + key.Name() + "," + elem.Name() + ")"
	}
	return &CollectionType{Kind: kind, Key: key, Elem: elem, name: name}
}

func (t *CollectionType) frozen() *CollectionType {
	c := *t
	c.Frozen = true
	c.name = FrozenType + "(" + t.name + ")"
	return &c
}

// Name implements ColumnType.
func (t *CollectionType) Name() string { return t.name }

// ValueLength implements ColumnType.
func (t *CollectionType) ValueLength() int { return -1 }

// IsMultiCell returns true if values are stored as complex cells.
func (t *CollectionType) IsMultiCell() bool { return !t.Frozen }

func (t *CollectionType) String() string { return t.name }

// pathType is the codec of complex cell item paths.
func (t *CollectionType) pathType() ColumnType {
	switch t.Kind {
	case ListKind:
		return primitiveTypes[TimeUUIDType]
	case SetKind:
		return t.Elem
	}
	return t.Key
}

// itemValueType is the codec of complex cell item values.
func (t *CollectionType) itemValueType() ColumnType {
	if t.Kind == SetKind {
		return primitiveTypes[BytesType]
	}
	return t.Elem
}

// Decode implements ColumnType.
func (t *CollectionType) Decode(p []byte) (interface{}, error) {
	n, p, err := readCollectionInt(p)
	if err != nil {
		return nil, err
	} else if n < 0 {
		return nil, errors.Wrapf(ErrInconsistentSchema, "invalid collection size %d", n)
	}

	// every element carries at least a 4-byte length
	size := int(n)
	if max := len(p) / 4; size > max {
		size = max
	}

	if t.Kind == MapKind {
		entries := make([]MapEntry, 0, size)
		for i := int32(0); i < n; i++ {
			var ent MapEntry
			if ent.Key, p, err = readCollectionElem(p, t.Key); err != nil {
				return nil, err
			}
			if ent.Value, p, err = readCollectionElem(p, t.Elem); err != nil {
				return nil, err
			}
			entries = append(entries, ent)
		}
		return entries, checkRemainder(p)
	}

	elems := make([]interface{}, 0, size)
	for i := int32(0); i < n; i++ {
		var v interface{}
		if v, p, err = readCollectionElem(p, t.Elem); err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, checkRemainder(p)
}

// Encode implements ColumnType.
func (t *CollectionType) Encode(dst []byte, v interface{}) ([]byte, error) {
	var err error

	if t.Kind == MapKind {
		entries, ok := v.([]MapEntry)
		if !ok {
			return dst, mismatch(t.name, v)
		}
		if dst, err = appendCollectionInt(dst, len(entries)); err != nil {
			return dst, err
		}
		for _, ent := range entries {
			if dst, err = appendCollectionElem(dst, t.Key, ent.Key); err != nil {
				return dst, err
			}
			if dst, err = appendCollectionElem(dst, t.Elem, ent.Value); err != nil {
				return dst, err
			}
		}
		return dst, nil
	}

	elems, ok := v.([]interface{})
	if !ok {
		return dst, mismatch(t.name, v)
	}
	if dst, err = appendCollectionInt(dst, len(elems)); err != nil {
		return dst, err
	}
	for _, elem := range elems {
		if dst, err = appendCollectionElem(dst, t.Elem, elem); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func readCollectionInt(p []byte) (int32, []byte, error) {
	if len(p) < 4 {
		return 0, p, errors.Wrap(ErrTruncated, "collection value")
	}
	n := int32(binary.BigEndian.Uint32(p))
	if n < -1 {
		return 0, p, errors.Wrapf(ErrInconsistentSchema, "invalid collection length %d", n)
	}
	return n, p[4:], nil
}

func readCollectionElem(p []byte, t ColumnType) (interface{}, []byte, error) {
	n, p, err := readCollectionInt(p)
	if err != nil {
		return nil, p, err
	} else if n < 0 {
		return nil, p, nil
	} else if int(n) > len(p) {
		return nil, p, errors.Wrap(ErrTruncated, "collection element")
	}

	v, err := t.Decode(p[:n])
	return v, p[n:], err
}

func checkRemainder(p []byte) error {
	if len(p) != 0 {
		return errors.Wrapf(ErrInconsistentSchema, "%d trailing bytes after collection value", len(p))
	}
	return nil
}

func appendCollectionInt(dst []byte, n int) ([]byte, error) {
	if n > math.MaxInt32 {
		return dst, errors.Wrapf(ErrOverflow, "collection length %d", n)
	}
	return binary.BigEndian.AppendUint32(dst, uint32(int32(n))), nil
}

func appendCollectionElem(dst []byte, t ColumnType, v interface{}) ([]byte, error) {
	if v == nil {
		return binary.BigEndian.AppendUint32(dst, math.MaxUint32), nil // -1, null
	}

	pos := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst, err := t.Encode(dst, v)
	if err != nil {
		return dst[:pos], err
	}
	n := len(dst) - pos - 4
	if n > math.MaxInt32 {
		return dst[:pos], errors.Wrapf(ErrOverflow, "collection element length %d", n)
	}
	binary.BigEndian.PutUint32(dst[pos:], uint32(n))
	return dst, nil
}
