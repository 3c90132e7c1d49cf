// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physicalplan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/stretchr/testify/require"
)

const (
	ordersTable    distribution.TableID = 1
	countriesTable distribution.TableID = 2
)

func testTopology() *distribution.StaticTopology {
	topo := distribution.NewStaticTopology("n1", "n2", "n3")
	topo.AddPartitionedTable(distribution.TableInfo{
		ID:         ordersTable,
		KeyColumns: []int{0},
	}, [][]distribution.NodeID{{"n1", "n2"}, {"n2", "n3"}, {"n3", "n1"}})
	topo.AddReplicatedTable(distribution.TableInfo{ID: countriesTable}, []distribution.NodeID{"n2", "n3"})
	return topo
}

func planningContext(topo *distribution.StaticTopology, local distribution.NodeID) PlanningContext {
	return PlanningContext{
		Registry:        distribution.NewRegistry(topo.ForNode(local)),
		TopologyVersion: topo.Version(),
	}
}

func ordersScan() *Scan {
	return &Scan{Table: ordersTable, Columns: rowenc.MakeRowType("id", "country")}
}

func TestSplitAndInit(t *testing.T) {
	topo := testTopology()
	plan := Split(&Join{
		Type:  LeftJoin,
		Left:  &Exchange{Input: ordersScan(), Distribution: distribution.SingleDistribution()},
		Right: &Values{Type: rowenc.MakeRowType("code")},
		Cond:  func(rowenc.Row) bool { return true },
	})
	require.Len(t, plan.Fragments, 2)
	root, child := plan.Fragments[0], plan.Fragments[1]
	require.False(t, root.IsRemote())
	require.True(t, child.IsRemote())
	require.Equal(t, []string{"id", "country", "code"}, plan.RowType().Names())

	recv := root.Root.(*Join).Left.(*Receiver)
	sender := child.Root.(*Sender)
	require.Equal(t, sender.ExchangeID, recv.ExchangeID)
	require.Equal(t, root.ID, sender.TargetFragment)
	require.Same(t, child, recv.Source)

	require.NoError(t, plan.Init(planningContext(topo, "n1")))
	require.Equal(t, []distribution.NodeID{"n1"}, plan.Mapping(root).NodeIDs())
	require.Equal(t, "nodes=[n1 n2] assignments=[[n1] [n2] [n1]] flags=partitioned",
		plan.Mapping(child).String())
	require.Equal(t, []*Fragment{child}, root.RemoteInputs())

	target, ok := sender.Target()
	require.True(t, ok)
	require.True(t, target.Equal(root.Mapping()))
	source, ok := recv.SourceMapping()
	require.True(t, ok)
	require.True(t, source.Equal(child.Mapping()))

	desc, err := child.Describe()
	require.NoError(t, err)
	require.True(t, desc.Target.Equal(root.Mapping()))
	desc, err = root.Describe()
	require.NoError(t, err)
	require.True(t, desc.Sources[recv.ExchangeID].Equal(child.Mapping()))

	plan.Reset()
	_, ok = sender.Target()
	require.False(t, ok)
	_, ok = recv.SourceMapping()
	require.False(t, ok)
	_, err = child.Describe()
	require.True(t, errors.HasAssertionFailure(err))
}

func TestInitPartitionLost(t *testing.T) {
	topo := testTopology()
	topo.SetRebalancing(ordersTable, true)
	topo.SetPartitionState(ordersTable, "n2", 1, distribution.Moving)
	topo.SetPartitionState(ordersTable, "n3", 1, distribution.Lost)

	plan := Split(&Exchange{Input: ordersScan(), Distribution: distribution.SingleDistribution()})
	err := plan.Init(planningContext(topo, "n1"))
	require.Error(t, err)
	require.True(t, errors.Is(err, distribution.ErrLocationMapping))
	require.Contains(t, err.Error(), "failed to map fragment to location, partition lost")
}

func TestInitPlacement(t *testing.T) {
	topo := testTopology()

	// A remote fragment without scans may run anywhere.
	plan := Split(&Exchange{
		Input:        &Values{Type: rowenc.MakeRowType("x")},
		Distribution: distribution.SingleDistribution(),
	})
	require.NoError(t, plan.Init(planningContext(topo, "n1")))
	require.Equal(t, []distribution.NodeID{"n1", "n2", "n3"}, plan.Fragments[1].Mapping().NodeIDs())

	// A replicated table is read from a single copy.
	plan = Split(&Exchange{
		Input:        &Scan{Table: countriesTable, Columns: rowenc.MakeRowType("code")},
		Distribution: distribution.SingleDistribution(),
	})
	require.NoError(t, plan.Init(planningContext(topo, "n1")))
	require.Equal(t, []distribution.NodeID{"n2"}, plan.Fragments[1].Mapping().NodeIDs())

	// The coordinator can read a replicated table it holds without an
	// exchange, but not one it does not hold.
	local := &MultiStepPlan{Fragments: []*Fragment{{Root: &Scan{Table: countriesTable}}}}
	require.NoError(t, local.Init(planningContext(topo, "n3")))
	require.Equal(t, []distribution.NodeID{"n3"}, local.Fragments[0].Mapping().NodeIDs())
	local.Reset()
	err := local.Init(planningContext(topo, "n1"))
	require.True(t, errors.Is(err, distribution.ErrLocationMapping))
}

func TestInitInvariants(t *testing.T) {
	topo := testTopology()
	pctx := planningContext(topo, "n1")

	remoteRoot := &MultiStepPlan{Fragments: []*Fragment{{Root: &Sender{Input: &Values{}}}}}
	require.True(t, errors.HasAssertionFailure(remoteRoot.Init(pctx)))

	orphan := &MultiStepPlan{Fragments: []*Fragment{
		{Root: &Values{}},
		{ID: 1, Root: &Sender{Input: &Values{}}},
	}}
	require.True(t, errors.HasAssertionFailure(orphan.Init(pctx)))

	notSender := &Fragment{ID: 1, Root: &Values{}}
	root := &Fragment{Root: &Receiver{ExchangeID: 1, Source: notSender}}
	require.True(t, errors.HasAssertionFailure(root.Init(pctx)))
}

func TestLimitEstimateRowCount(t *testing.T) {
	testCases := []struct {
		offset, fetch int
		in, expected  float64
	}{
		{0, -1, 100, 100},
		{0, 10, 100, 20},
		{0, 80, 100, 100},
		{10, 10, 100, 20},
		{45, 100, 100, 10},
		{30, -1, 100, 40},
		{60, -1, 100, -20},
	}
	for _, tc := range testCases {
		l := &Limit{Offset: tc.offset, Fetch: tc.fetch}
		require.Equal(t, tc.expected, l.EstimateRowCount(tc.in), "offset=%d fetch=%d", tc.offset, tc.fetch)
	}
}

type countingVisitor struct {
	counts map[string]int
}

func (v *countingVisitor) visit(kind string, n Node) (int, error) {
	v.counts[kind]++
	total := 1
	for _, in := range n.Inputs() {
		c, err := Visit[int](in, v)
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

func (v *countingVisitor) VisitScan(n *Scan) (int, error)             { return v.visit("scan", n) }
func (v *countingVisitor) VisitValues(n *Values) (int, error)         { return v.visit("values", n) }
func (v *countingVisitor) VisitFilter(n *Filter) (int, error)         { return v.visit("filter", n) }
func (v *countingVisitor) VisitProject(n *Project) (int, error)       { return v.visit("project", n) }
func (v *countingVisitor) VisitLimit(n *Limit) (int, error)           { return v.visit("limit", n) }
func (v *countingVisitor) VisitJoin(n *Join) (int, error)             { return v.visit("join", n) }
func (v *countingVisitor) VisitIndexSpool(n *IndexSpool) (int, error) { return v.visit("spool", n) }
func (v *countingVisitor) VisitUnionAll(n *UnionAll) (int, error)     { return v.visit("union", n) }
func (v *countingVisitor) VisitSender(n *Sender) (int, error)         { return v.visit("sender", n) }
func (v *countingVisitor) VisitReceiver(n *Receiver) (int, error)     { return v.visit("receiver", n) }

func TestVisit(t *testing.T) {
	plan := Split(&Limit{Fetch: 5, Input: &UnionAll{Sources: []Node{
		&Filter{Input: ordersScan()},
		&Exchange{Input: &IndexSpool{Input: &Values{}}},
	}}})
	v := &countingVisitor{counts: make(map[string]int)}
	n, err := Visit[int](plan.Fragments[0].Root, v)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n, err = Visit[int](plan.Fragments[1].Root, v)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, map[string]int{
		"limit": 1, "union": 1, "filter": 1, "scan": 1, "receiver": 1,
		"sender": 1, "spool": 1, "values": 1,
	}, v.counts)

	_, err = Visit[int](&Exchange{Input: &Values{}}, v)
	require.True(t, errors.HasAssertionFailure(err))
}
