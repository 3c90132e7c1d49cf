// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/stretchr/testify/require"
)

func TestDestinationFunctions(t *testing.T) {
	topo := NewStaticTopology("n1", "n2", "n3")
	target := NodesMapping{Nodes: []NodeID{"n1", "n2", "n3"}}
	row := rowenc.Row{int64(7), "x"}

	single, err := NewDestinationFunction(SingleDistribution(), NodesMapping{Nodes: []NodeID{"n2"}}, topo)
	require.NoError(t, err)
	require.Equal(t, []NodeID{"n2"}, single.Destinations(row))

	_, err = NewDestinationFunction(SingleDistribution(), target, topo)
	require.True(t, errors.HasAssertionFailure(err))

	bcast, err := NewDestinationFunction(BroadcastDistribution(), target, topo)
	require.NoError(t, err)
	require.Equal(t, target.Nodes, bcast.Destinations(row))

	random, err := NewDestinationFunction(RandomDistribution(), target, topo)
	require.NoError(t, err)
	var seen []NodeID
	for i := 0; i < 4; i++ {
		seen = append(seen, random.Destinations(row)...)
	}
	require.Equal(t, []NodeID{"n1", "n2", "n3", "n1"}, seen)

	hash, err := NewDestinationFunction(HashDistribution(0, 1), target, topo)
	require.NoError(t, err)
	first := hash.Destinations(row)
	require.Len(t, first, 1)
	require.Equal(t, first, hash.Destinations(rowenc.Row{int64(8), "x"}))
	require.Equal(t, target.Nodes, hash.Targets())
}

func TestAffinityDestination(t *testing.T) {
	topo := NewStaticTopology("n1", "n2")
	topo.AddPartitionedTable(TableInfo{ID: 3, KeyColumns: []int{0}}, [][]NodeID{{"n1", "n2"}, {"n2", "n1"}})
	m, err := NewRegistry(topo).Distributed(3, topo.Version())
	require.NoError(t, err)

	_, err = NewDestinationFunction(HashDistribution(3, 0), m, topo)
	require.True(t, errors.HasAssertionFailure(err), "owner lists must be deduplicated first")

	m, err = m.Deduplicate()
	require.NoError(t, err)
	fn, err := NewDestinationFunction(HashDistribution(3, 0), m, topo)
	require.NoError(t, err)
	for i := int64(0); i < 20; i++ {
		row := rowenc.Row{i}
		p := topo.Partition(3, i)
		require.Equal(t, m.Assignments[p], fn.Destinations(row))
	}
}
