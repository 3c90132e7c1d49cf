// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"fmt"
	"testing"

	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
)

func TestIndexSpool(t *testing.T) {
	defer leaktest.AfterTest(t)()

	const buf = 8
	rt := rowenc.MakeRowType("id", "name", "depId")
	for _, size := range []int{1, buf/2 - 1, buf / 2, buf/2 + 1, buf, buf + 1, buf * 4} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			ectx, e := newTestContext(testConfig(buf))
			defer e.Stop()

			// Rows are materialised in reverse so that the index has work to do.
			rows := make([]rowenc.Row, size)
			for i := range rows {
				id := size - 1 - i
				rows[i] = rowenc.Row{id, fmt.Sprintf("name%d", id), id % 3}
			}
			src := &countingNode{Node: newValues(ectx, rt, rows)}

			var lower, upper rowenc.Row
			spool := NewIndexSpoolNode(ectx, rt, []int{0},
				func() rowenc.Row { return lower },
				func() rowenc.Row { return upper })
			spool.Register(src)
			root := NewRewindableRootNode(ectx, rt, nil)
			root.Register(spool)
			defer root.Close()

			var requests int32
			for i, probe := range []int{0, size / 2, size - 1, size / 2, 0} {
				lower = rowenc.Row{probe, nil, nil}
				upper = rowenc.Row{probe, nil, nil}
				if i > 0 {
					root.Rewind()
				}
				got := drain(t, root.RootNode)
				require.Equal(t, []rowenc.Row{{probe, fmt.Sprintf("name%d", probe), probe % 3}}, got)
				if i == 0 {
					requests = src.requests.Load()
					require.Equal(t, size, spool.Len())
				}
				require.Equal(t, requests, src.requests.Load(), "the source was pulled again")
			}

			// A probe without bounds returns everything in key order.
			lower, upper = rowenc.Row{nil, nil, nil}, nil
			root.Rewind()
			got := drain(t, root.RootNode)
			require.Len(t, got, size)
			for i, row := range got {
				require.Equal(t, i, row[0])
			}

			// A lower bound alone.
			lower = rowenc.Row{size / 2, nil, nil}
			root.Rewind()
			got = drain(t, root.RootNode)
			require.Len(t, got, size-size/2)
			require.Equal(t, size/2, got[0][0])

			// Rewinding twice in a row with the same bounds reproduces the rows.
			root.Rewind()
			require.Equal(t, got, drain(t, root.RootNode))
			require.Equal(t, requests, src.requests.Load())
		})
	}
}

func TestIndexSpoolCompositeKey(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(3))
	defer e.Stop()

	rt := rowenc.MakeRowType("a", "b")
	var rows []rowenc.Row
	for a := 0; a < 4; a++ {
		for b := 0; b < 4; b++ {
			rows = append(rows, rowenc.Row{a, b})
		}
	}
	var lower, upper rowenc.Row
	spool := NewIndexSpoolNode(ectx, rt, []int{0, 1},
		func() rowenc.Row { return lower },
		func() rowenc.Row { return upper })
	spool.Register(newValues(ectx, rt, rows))
	root := NewRewindableRootNode(ectx, rt, nil)
	root.Register(spool)
	defer root.Close()

	// A bound on the first key column only covers every value of the second.
	lower, upper = rowenc.Row{2, nil}, rowenc.Row{2, nil}
	require.Equal(t, []rowenc.Row{{2, 0}, {2, 1}, {2, 2}, {2, 3}}, drain(t, root.RootNode))

	lower, upper = rowenc.Row{1, 2}, rowenc.Row{2, 1}
	root.Rewind()
	require.Equal(t, []rowenc.Row{{1, 2}, {1, 3}, {2, 0}, {2, 1}}, drain(t, root.RootNode))

	// An open upper bound.
	lower, upper = rowenc.Row{3, 3}, nil
	root.Rewind()
	require.Equal(t, []rowenc.Row{{3, 3}}, drain(t, root.RootNode))
}
