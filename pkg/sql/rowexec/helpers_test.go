// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testConfig(inBufferSize int) execinfra.Config {
	cfg := execinfra.DefaultConfig()
	cfg.InBufferSize = inBufferSize
	cfg.ScanBatchSize = 7
	return cfg
}

// newTestContext returns the context of fragment 0 of a fresh query, and
// the executor the caller must stop.
func newTestContext(
	cfg execinfra.Config,
) (*execinfra.ExecutionContext, *execinfra.StripedExecutor) {
	e := execinfra.NewStripedExecutor(2)
	ectx := execinfra.NewExecutionContext(context.Background(), execinfra.ExecutionContextArgs{
		QueryID:         uuid.New(),
		OriginatingNode: "n1",
		LocalNode:       "n1",
		Config:          &cfg,
		Executor:        e,
	})
	return ectx, e
}

// fragmentContext returns the context of another fragment of the same query.
func fragmentContext(
	ectx *execinfra.ExecutionContext,
	e *execinfra.StripedExecutor,
	fragmentID int64,
	local distribution.NodeID,
) *execinfra.ExecutionContext {
	return execinfra.NewExecutionContext(context.Background(), execinfra.ExecutionContextArgs{
		QueryID:         ectx.QueryID,
		FragmentID:      fragmentID,
		OriginatingNode: ectx.OriginatingNode,
		LocalNode:       local,
		Config:          ectx.Config,
		Metrics:         ectx.Metrics,
		Executor:        e,
	})
}

func intRows(n int, width int) []rowenc.Row {
	rows := make([]rowenc.Row, n)
	for i := range rows {
		row := make(rowenc.Row, width)
		for j := range row {
			row[j] = i
		}
		rows[i] = row
	}
	return rows
}

// countingNode counts the requests a node receives.
type countingNode struct {
	Node
	requests atomic.Int32
	rows     atomic.Int32
}

func (n *countingNode) Request(cnt int) error {
	n.requests.Add(1)
	n.rows.Add(int32(cnt))
	return n.Node.Request(cnt)
}

func newValues(ectx *execinfra.ExecutionContext, rowType rowenc.RowType, rows []rowenc.Row) Node {
	return NewScanNode(ectx, rowType, SliceSource(rows), nil)
}

// drain reads every row of the root.
func drain(t *testing.T, root *RootNode) []rowenc.Row {
	t.Helper()
	rows, err := tryDrain(root)
	require.NoError(t, err)
	return rows
}

func tryDrain(root *RootNode) ([]rowenc.Row, error) {
	rows := []rowenc.Row{}
	for {
		ok, err := root.HasNext()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		row, err := root.Next()
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

// run wires the node under a root and returns every row it produces.
func run(t *testing.T, ectx *execinfra.ExecutionContext, n Node) []rowenc.Row {
	t.Helper()
	root := NewRootNode(ectx, n.RowType(), nil)
	root.Register(n)
	return drain(t, root)
}

// failingSource yields the rows and then fails.
func failingSource(rows []rowenc.Row, err error) RowSource {
	return func() (RowIterator, error) {
		return &failingIterator{rows: rows, err: err}, nil
	}
}

type failingIterator struct {
	rows   []rowenc.Row
	err    error
	closed atomic.Bool
}

func (it *failingIterator) Next() (rowenc.Row, bool, error) {
	if len(it.rows) == 0 {
		return nil, false, it.err
	}
	row := it.rows[0]
	it.rows = it.rows[1:]
	return row, true, nil
}

func (it *failingIterator) Close() {
	it.closed.Store(true)
}

var errInjected = errors.New("injected failure")
