// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"fmt"
	"testing"

	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/leaktest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

var (
	leftType  = rowenc.MakeRowType("id", "name")
	rightType = rowenc.MakeRowType("id", "tag")
)

// eqCond joins on the first column of both sides.
func eqCond(leftWidth int) func(rowenc.Row) bool {
	return func(r rowenc.Row) bool {
		return rowenc.CompareDatums(r[0], r[leftWidth]) == 0
	}
}

func TestJoin(t *testing.T) {
	defer leaktest.AfterTest(t)()

	left := []rowenc.Row{{1, "a"}, {2, "b"}, {3, "c"}}
	right := []rowenc.Row{{2, "x"}, {3, "y"}, {3, "z"}, {4, "w"}}

	testCases := []struct {
		typ      physicalplan.JoinType
		expected []rowenc.Row
	}{
		{physicalplan.InnerJoin, []rowenc.Row{
			{2, "b", 2, "x"}, {3, "c", 3, "y"}, {3, "c", 3, "z"},
		}},
		{physicalplan.LeftJoin, []rowenc.Row{
			{1, "a", nil, nil}, {2, "b", 2, "x"}, {3, "c", 3, "y"}, {3, "c", 3, "z"},
		}},
		{physicalplan.RightJoin, []rowenc.Row{
			{2, "b", 2, "x"}, {3, "c", 3, "y"}, {3, "c", 3, "z"}, {nil, nil, 4, "w"},
		}},
		{physicalplan.FullJoin, []rowenc.Row{
			{1, "a", nil, nil}, {2, "b", 2, "x"}, {3, "c", 3, "y"}, {3, "c", 3, "z"}, {nil, nil, 4, "w"},
		}},
		{physicalplan.SemiJoin, []rowenc.Row{{2, "b"}, {3, "c"}}},
		{physicalplan.AntiJoin, []rowenc.Row{{1, "a"}}},
	}
	for _, size := range bufferSizes {
		for _, tc := range testCases {
			t.Run(fmt.Sprintf("%s/buf=%d", tc.typ, size), func(t *testing.T) {
				ectx, e := newTestContext(testConfig(size))
				defer e.Stop()

				join := NewJoinNode(ectx, tc.typ, leftType, rightType, eqCond(leftType.Width()))
				join.Register(newValues(ectx, leftType, left), newValues(ectx, rightType, right))
				require.Equal(t, tc.expected, run(t, ectx, join))
			})
		}
	}
}

func TestJoinEmptySides(t *testing.T) {
	defer leaktest.AfterTest(t)()

	rows := []rowenc.Row{{1, "a"}, {2, "b"}}
	for _, tc := range []struct {
		typ         physicalplan.JoinType
		left, right []rowenc.Row
		expected    []rowenc.Row
	}{
		{physicalplan.InnerJoin, rows, nil, []rowenc.Row{}},
		{physicalplan.LeftJoin, rows, nil, []rowenc.Row{{1, "a", nil, nil}, {2, "b", nil, nil}}},
		{physicalplan.LeftJoin, nil, rows, []rowenc.Row{}},
		{physicalplan.RightJoin, nil, rows, []rowenc.Row{{nil, nil, 1, "a"}, {nil, nil, 2, "b"}}},
		{physicalplan.FullJoin, nil, nil, []rowenc.Row{}},
		{physicalplan.AntiJoin, rows, nil, rows},
		{physicalplan.SemiJoin, rows, nil, []rowenc.Row{}},
	} {
		t.Run(fmt.Sprintf("%s/left=%d/right=%d", tc.typ, len(tc.left), len(tc.right)), func(t *testing.T) {
			ectx, e := newTestContext(testConfig(1))
			defer e.Stop()

			join := NewJoinNode(ectx, tc.typ, leftType, rightType, eqCond(leftType.Width()))
			join.Register(newValues(ectx, leftType, tc.left), newValues(ectx, rightType, tc.right))
			require.Equal(t, tc.expected, run(t, ectx, join))
		})
	}
}

// expectedLeftJoin is the model of a left join on equal first columns: the
// matches of every left row in right order, or the row padded with nulls.
func expectedLeftJoin(left, right []rowenc.Row) []rowenc.Row {
	out := []rowenc.Row{}
	for _, l := range left {
		matched := false
		for _, r := range right {
			if rowenc.CompareDatums(l[0], r[0]) == 0 {
				out = append(out, rowenc.Concat(l, r))
				matched = true
			}
		}
		if !matched {
			out = append(out, rowenc.Concat(l, rowenc.NullRow(rightType.Width())))
		}
	}
	return out
}

func keyRows(keys []int) []rowenc.Row {
	rows := make([]rowenc.Row, len(keys))
	for i, k := range keys {
		rows[i] = rowenc.Row{k, i}
	}
	return rows
}

func TestLeftJoinProperties(t *testing.T) {
	defer leaktest.AfterTest(t)()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	keysGen := gen.SliceOf(gen.IntRange(0, 6))
	properties.Property("left join keeps every left row", prop.ForAll(
		func(leftKeys, rightKeys []int, size int) bool {
			ectx, e := newTestContext(testConfig(size))
			defer e.Stop()

			left, right := keyRows(leftKeys), keyRows(rightKeys)
			join := NewJoinNode(ectx, physicalplan.LeftJoin, leftType, rightType, eqCond(2))
			join.Register(newValues(ectx, leftType, left), newValues(ectx, rightType, right))
			root := NewRootNode(ectx, join.RowType(), nil)
			root.Register(join)
			got, err := tryDrain(root)
			if err != nil {
				return false
			}
			expected := expectedLeftJoin(left, right)
			if len(got) != len(expected) {
				return false
			}
			for i := range got {
				if !got[i].Equal(expected[i]) {
					return false
				}
			}
			return true
		},
		keysGen, keysGen, gen.IntRange(1, 9),
	))

	properties.TestingRun(t)
}

func TestBackpressureProperties(t *testing.T) {
	defer leaktest.AfterTest(t)()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// Every operator rejects rows it did not ask for, so a clean run proves
	// that demand was honoured all along the pipeline.
	properties.Property("pipelines never push beyond demand", prop.ForAll(
		func(rows, size, modulo, offset, fetch int) bool {
			ectx, e := newTestContext(testConfig(size))
			defer e.Stop()

			rt := rowenc.MakeRowType("id")
			src := &countingNode{Node: newValues(ectx, rt, intRows(rows, 1))}
			filter := NewFilterNode(ectx, rt, func(r rowenc.Row) bool { return r[0].(int)%modulo == 0 })
			filter.Register(src)
			union := NewUnionAllNode(ectx, rt)
			union.Register(filter, newValues(ectx, rt, intRows(rows/2, 1)))
			limit := NewLimitNode(ectx, rt, offset, fetch)
			limit.Register(union)
			root := NewRootNode(ectx, rt, nil)
			root.Register(limit)

			got, err := tryDrain(root)
			if err != nil {
				return false
			}
			var model []int
			for i := 0; i < rows; i += modulo {
				model = append(model, i)
			}
			for i := 0; i < rows/2; i++ {
				model = append(model, i)
			}
			if offset >= len(model) {
				model = nil
			} else {
				model = model[offset:]
			}
			if fetch < len(model) {
				model = model[:fetch]
			}
			if len(got) != len(model) {
				return false
			}
			for i := range got {
				if got[i][0] != model[i] {
					return false
				}
			}
			// The filter keeps at most one window in flight.
			return int(src.rows.Load()) <= rows+size
		},
		gen.IntRange(0, 200), gen.IntRange(1, 16), gen.IntRange(1, 4),
		gen.IntRange(0, 10), gen.IntRange(0, 150),
	))

	properties.TestingRun(t)
}
