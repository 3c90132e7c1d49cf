// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowenc

import "strings"

// ColumnType identifies the type of values stored in a column.
type ColumnType int

const (
	// AnyType columns are not checked.
	AnyType ColumnType = iota
	IntType
	FloatType
	StringType
	BoolType
)

func (t ColumnType) String() string {
	switch t {
	case IntType:
		return "INT"
	case FloatType:
		return "FLOAT"
	case StringType:
		return "STRING"
	case BoolType:
		return "BOOL"
	default:
		return "ANY"
	}
}

// Column describes one output column of an operator.
type Column struct {
	Name string
	Type ColumnType
}

// RowType describes the shape of the rows produced by an operator.
type RowType []Column

// MakeRowType builds a RowType of untyped columns with the given names.
func MakeRowType(names ...string) RowType {
	rt := make(RowType, len(names))
	for i, n := range names {
		rt[i] = Column{Name: n}
	}
	return rt
}

// Width returns the number of columns.
func (rt RowType) Width() int {
	return len(rt)
}

// Names returns the column names in order.
func (rt RowType) Names() []string {
	res := make([]string, len(rt))
	for i, c := range rt {
		res[i] = c.Name
	}
	return res
}

// Concat returns the row type of a row produced by Concat.
func (rt RowType) Concat(o RowType) RowType {
	res := make(RowType, 0, len(rt)+len(o))
	res = append(res, rt...)
	return append(res, o...)
}

func (rt RowType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range rt {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.Name)
		sb.WriteByte(' ')
		sb.WriteString(c.Type.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
