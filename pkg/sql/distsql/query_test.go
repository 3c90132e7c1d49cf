// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distsql

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowexec"
	"github.com/dmekhanikov/gridsql/pkg/util/leaktest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// remoteScanPlan returns a placed plan reading a table partitioned over n2,
// n3 and n4 into the coordinator n1.
func remoteScanPlan(t *testing.T) *physicalplan.MultiStepPlan {
	topo := distribution.NewStaticTopology("n1", "n2", "n3", "n4")
	rt := rowenc.MakeRowType("k")
	topo.AddPartitionedTable(distribution.TableInfo{
		ID: 1, Name: "t", KeyColumns: []int{0}, RowType: rt,
	}, [][]distribution.NodeID{{"n2"}, {"n3"}, {"n4"}})
	plan := physicalplan.Split(&physicalplan.Exchange{
		Input:        &physicalplan.Scan{Table: 1, Columns: rt},
		Distribution: distribution.SingleDistribution(),
	})
	require.NoError(t, plan.Init(physicalplan.PlanningContext{
		Registry:        distribution.NewRegistry(topo.ForNode("n1")),
		TopologyVersion: topo.Version(),
	}))
	return plan
}

type queryHarness struct {
	q            *RootQuery
	ectx         *execinfra.ExecutionContext
	root         *rowexec.RootNode
	metrics      *execinfra.Metrics
	unregistered atomic.Int32
	closed       [][]distribution.NodeID
	mu           sync.Mutex
}

func newQueryHarness(e *execinfra.StripedExecutor) *queryHarness {
	h := &queryHarness{metrics: execinfra.NewMetrics(nil)}
	cfg := execinfra.DefaultConfig()
	id := uuid.New()
	h.q = NewRootQuery(context.Background(), id, "n1", RootQueryConfig{
		Unregister: func(*RootQuery) { h.unregistered.Add(1) },
		CloseRemotes: func(_ uuid.UUID, nodes []distribution.NodeID) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.closed = append(h.closed, nodes)
		},
		Metrics: h.metrics,
	})
	h.ectx = execinfra.NewExecutionContext(context.Background(), execinfra.ExecutionContextArgs{
		QueryID:         id,
		OriginatingNode: "n1",
		LocalNode:       "n1",
		Config:          &cfg,
		Metrics:         h.metrics,
		Executor:        e,
	})
	h.root = rowexec.NewRootNode(h.ectx, rowenc.MakeRowType("k"), h.q.TryClose)
	return h
}

func TestRootQueryTeardownExactlyOnce(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := execinfra.NewStripedExecutor(4)
	defer e.Stop()

	for i := 0; i < 50; i++ {
		h := newQueryHarness(e)
		plan := remoteScanPlan(t)
		require.NoError(t, h.q.Run(h.ectx, plan, h.root))
		require.Equal(t, StateRunning, h.q.State())
		for _, n := range []distribution.NodeID{"n2", "n3", "n4"} {
			require.True(t, h.q.HasParticipant(n))
		}

		h.root.Close()
		require.Equal(t, StateClosing, h.q.State())

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); h.q.OnResponse("n2", 1, nil) }()
		go func() { defer wg.Done(); h.q.OnResponse("n3", 1, nil) }()
		go func() { defer wg.Done(); h.q.OnNodeLeft("n4") }()
		wg.Wait()

		require.Equal(t, StateClosed, h.q.State())
		require.True(t, h.q.IsCompleted())
		require.Equal(t, int32(1), h.unregistered.Load())
		require.Equal(t, [][]distribution.NodeID{{"n2", "n3", "n4"}}, h.closed)

		// Late callers find the query closed.
		h.q.TryClose()
		h.q.OnResponse("n2", 1, nil)
		require.Equal(t, int32(1), h.unregistered.Load())
	}
}

func TestRootQueryStates(t *testing.T) {
	defer leaktest.AfterTest(t)()
	e := execinfra.NewStripedExecutor(2)
	defer e.Stop()

	t.Run("close before run", func(t *testing.T) {
		h := newQueryHarness(e)
		h.q.TryClose()
		require.Equal(t, StateClosed, h.q.State())
		require.Equal(t, int32(1), h.unregistered.Load())
		require.Empty(t, h.closed)

		err := h.q.Run(h.ectx, remoteScanPlan(t), h.root)
		require.True(t, errors.Is(err, execinfra.ErrQueryCancelled), "%+v", err)
	})

	t.Run("run twice", func(t *testing.T) {
		h := newQueryHarness(e)
		plan := remoteScanPlan(t)
		require.NoError(t, h.q.Run(h.ectx, plan, h.root))
		require.Error(t, h.q.Run(h.ectx, plan, h.root))
		h.q.Cancel()
	})

	t.Run("closing waits for responses", func(t *testing.T) {
		h := newQueryHarness(e)
		require.NoError(t, h.q.Run(h.ectx, remoteScanPlan(t), h.root))
		require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QueriesRunning))

		h.q.OnResponse("n2", 1, nil)
		h.q.TryClose()
		require.Equal(t, StateClosing, h.q.State())
		h.q.OnResponse("n3", 1, nil)
		require.Equal(t, StateClosing, h.q.State())
		// Unknown fragments are ignored.
		h.q.OnResponse("n3", 7, nil)
		require.Equal(t, StateClosing, h.q.State())
		h.q.OnResponse("n4", 1, nil)
		require.Equal(t, StateClosed, h.q.State())

		require.Equal(t, 0.0, testutil.ToFloat64(h.metrics.QueriesRunning))
		require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QueriesClosed))
		require.Equal(t, 0.0, testutil.ToFloat64(h.metrics.QueriesFailed))
	})

	t.Run("remote error", func(t *testing.T) {
		h := newQueryHarness(e)
		require.NoError(t, h.q.Run(h.ectx, remoteScanPlan(t), h.root))
		h.q.OnResponse("n3", 1, errors.New("disk on fire"))
		require.Equal(t, StateClosing, h.q.State())

		_, err := h.root.HasNext()
		require.True(t, errors.Is(err, ErrRemoteFragment), "%+v", err)
		require.Contains(t, err.Error(), "disk on fire")

		h.q.OnResponse("n2", 1, nil)
		h.q.OnResponse("n4", 1, errors.New("second failure"))
		require.Equal(t, StateClosed, h.q.State())
		_, err = h.root.HasNext()
		require.Contains(t, err.Error(), "disk on fire")
		require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QueriesFailed))
	})

	t.Run("node left", func(t *testing.T) {
		h := newQueryHarness(e)
		require.NoError(t, h.q.Run(h.ectx, remoteScanPlan(t), h.root))
		h.q.OnNodeLeft("n5")
		require.Equal(t, StateRunning, h.q.State())

		h.q.OnNodeLeft("n2")
		_, err := h.root.HasNext()
		require.True(t, errors.Is(err, execinfra.ErrTopology), "%+v", err)
		h.q.OnNodeLeft("n3")
		h.q.OnNodeLeft("n4")
		require.Equal(t, StateClosed, h.q.State())
	})
}

func TestQueryRegistry(t *testing.T) {
	r := NewQueryRegistry()
	q1 := NewRootQuery(context.Background(), uuid.New(), "n1", RootQueryConfig{})
	q2 := NewRootQuery(context.Background(), uuid.New(), "n1", RootQueryConfig{Unregister: r.Unregister})
	r.Register(q1)
	r.Register(q2)
	require.Len(t, r.Queries(), 2)
	require.Same(t, q1, r.Query(q1.ID()))

	q2.TryClose()
	require.Nil(t, r.Query(q2.ID()))
	require.Len(t, r.Queries(), 1)
}

func TestQueryStateString(t *testing.T) {
	require.Equal(t, "CLOSING", StateClosing.String())
	require.Equal(t, "QueryState(9)", QueryState(9).String())
}
