package sstable

import "github.com/pkg/errors"

// Column is a column with a resolved type.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is a SerializationHeader with resolved types. It is the context
// required to decode and encode Data.db and must not be modified once in use.
type Schema struct {
	Header       *SerializationHeader
	PartitionKey ColumnType
	Clustering   []ColumnType
	Static       []Column
	Regular      []Column
}

// NewSchema resolves all type names in h.
func NewSchema(h *SerializationHeader) (*Schema, error) {
	if h == nil {
		return nil, errors.Wrap(ErrInconsistentSchema, "missing serialization header")
	}

	pk, err := Resolve(h.PartitionKeyType)
	if err != nil {
		return nil, errors.Wrap(err, "partition key")
	}

	s := &Schema{Header: h, PartitionKey: pk}
	for i, name := range h.ClusteringKeyTypes {
		t, err := Resolve(name)
		if err != nil {
			return nil, errors.Wrapf(err, "clustering column %d", i)
		}
		s.Clustering = append(s.Clustering, t)
	}
	if s.Static, err = resolveColumns(h.StaticColumns); err != nil {
		return nil, err
	}
	if s.Regular, err = resolveColumns(h.RegularColumns); err != nil {
		return nil, err
	}
	return s, nil
}

// SchemaOf is a shortcut for NewSchema(st.Header).
func SchemaOf(st *Statistics) (*Schema, error) {
	return NewSchema(st.Header)
}

func resolveColumns(defs []ColumnDef) ([]Column, error) {
	cols := make([]Column, 0, len(defs))
	for _, def := range defs {
		t, err := Resolve(def.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", def.Name)
		}
		cols = append(cols, Column{Name: def.Name, Type: t})
	}
	return cols, nil
}

// columns returns the static or regular columns.
func (s *Schema) columns(static bool) []Column {
	if static {
		return s.Static
	}
	return s.Regular
}

// isComplex returns true if column values use the complex cell layout
// within a row carrying the given flags.
func isComplex(t ColumnType, flags RowFlags) (*CollectionType, bool) {
	ct, ok := t.(*CollectionType)
	if !ok || !ct.IsMultiCell() || !flags.Has(HasComplexDeletion) {
		return nil, false
	}
	return ct, true
}
