// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
)

// StaticTopology is an in-memory Topology whose membership and ownership
// are set explicitly. It backs in-process clusters used by tests and the
// demo. Views for individual nodes are obtained with ForNode.
type StaticTopology struct {
	mu struct {
		syncutil.RWMutex
		version TopologyVersion
		nodes   []NodeID
		dead    map[NodeID]struct{}
		tables  map[TableID]*staticTable
	}
}

type partitionKey struct {
	node      NodeID
	partition int
}

type staticTable struct {
	info          TableInfo
	assignment    [][]NodeID
	affinityNodes []NodeID
	states        map[partitionKey]PartitionState
	rebalancing   bool
}

var _ Topology = (*StaticTopology)(nil)

// NewStaticTopology creates a topology with the given server nodes.
func NewStaticTopology(nodes ...NodeID) *StaticTopology {
	t := &StaticTopology{}
	t.mu.version = 1
	t.mu.nodes = append([]NodeID{}, nodes...)
	t.mu.dead = make(map[NodeID]struct{})
	t.mu.tables = make(map[TableID]*staticTable)
	return t
}

// ForNode returns the view of the topology from the given node.
func (t *StaticTopology) ForNode(node NodeID) Topology {
	return nodeView{StaticTopology: t, local: node}
}

type nodeView struct {
	*StaticTopology
	local NodeID
}

func (v nodeView) LocalNode() NodeID { return v.local }

// AddPartitionedTable registers a partitioned table with the given owner
// lists, primary first. Every listed owner starts in the Owning state.
func (t *StaticTopology) AddPartitionedTable(info TableInfo, assignment [][]NodeID) {
	info.Mode = Partitioned
	info.Partitions = len(assignment)
	tbl := &staticTable{info: info, states: make(map[partitionKey]PartitionState)}
	for p, owners := range assignment {
		tbl.assignment = append(tbl.assignment, append([]NodeID{}, owners...))
		for _, n := range owners {
			tbl.states[partitionKey{n, p}] = Owning
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.tables[info.ID] = tbl
	t.mu.version++
}

// AddReplicatedTable registers a replicated table held by the given nodes.
func (t *StaticTopology) AddReplicatedTable(info TableInfo, nodes []NodeID) {
	info.Mode = Replicated
	if info.Partitions == 0 {
		info.Partitions = 1
	}
	tbl := &staticTable{
		info:          info,
		affinityNodes: append([]NodeID{}, nodes...),
		states:        make(map[partitionKey]PartitionState),
	}
	for _, n := range nodes {
		for p := 0; p < info.Partitions; p++ {
			tbl.states[partitionKey{n, p}] = Owning
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.tables[info.ID] = tbl
	t.mu.version++
}

// SetPartitionState overrides the state of one partition copy.
func (t *StaticTopology) SetPartitionState(
	table TableID, node NodeID, partition int, state PartitionState,
) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tbl, ok := t.mu.tables[table]; ok {
		tbl.states[partitionKey{node, partition}] = state
	}
}

// SetRebalancing marks whether the table's partitions are being moved.
func (t *StaticTopology) SetRebalancing(table TableID, rebalancing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tbl, ok := t.mu.tables[table]; ok {
		tbl.rebalancing = rebalancing
	}
}

// RemoveNode takes a node out of the cluster and bumps the version.
// Partition assignments are left untouched.
func (t *StaticTopology) RemoveNode(node NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mu.dead[node] = struct{}{}
	nodes := t.mu.nodes[:0:0]
	for _, n := range t.mu.nodes {
		if n != node {
			nodes = append(nodes, n)
		}
	}
	t.mu.nodes = nodes
	t.mu.version++
}

// Version implements Topology.
func (t *StaticTopology) Version() TopologyVersion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.version
}

// LocalNode implements Topology. The shared topology reports its first
// server node; use ForNode for a specific node.
func (t *StaticTopology) LocalNode() NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.mu.nodes) == 0 {
		return ""
	}
	return t.mu.nodes[0]
}

// ServerNodes implements Topology.
func (t *StaticTopology) ServerNodes(TopologyVersion) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]NodeID{}, t.mu.nodes...)
}

// Alive implements Topology.
func (t *StaticTopology) Alive(node NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.mu.dead[node]; ok {
		return false
	}
	for _, n := range t.mu.nodes {
		if n == node {
			return true
		}
	}
	return false
}

func (t *StaticTopology) table(id TableID) (*staticTable, error) {
	tbl, ok := t.mu.tables[id]
	if !ok {
		return nil, errors.Newf("table %d does not exist", id)
	}
	return tbl, nil
}

// TableInfo implements Topology.
func (t *StaticTopology) TableInfo(id TableID) (TableInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, err := t.table(id)
	if err != nil {
		return TableInfo{}, err
	}
	return tbl.info, nil
}

// AffinityAssignment implements Topology.
func (t *StaticTopology) AffinityAssignment(id TableID, _ TopologyVersion) ([][]NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, err := t.table(id)
	if err != nil {
		return nil, err
	}
	if tbl.info.Mode != Partitioned {
		return nil, errors.Newf("table %d is not partitioned", id)
	}
	res := make([][]NodeID, len(tbl.assignment))
	for p, owners := range tbl.assignment {
		res[p] = append([]NodeID{}, owners...)
	}
	return res, nil
}

// AffinityNodes implements Topology.
func (t *StaticTopology) AffinityNodes(id TableID, _ TopologyVersion) ([]NodeID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, err := t.table(id)
	if err != nil {
		return nil, err
	}
	if tbl.info.Mode != Replicated {
		return nil, errors.Newf("table %d is not replicated", id)
	}
	return append([]NodeID{}, tbl.affinityNodes...), nil
}

// PartitionState implements Topology.
func (t *StaticTopology) PartitionState(id TableID, node NodeID, partition int) PartitionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, ok := t.mu.tables[id]
	if !ok {
		return Evicted
	}
	return tbl.states[partitionKey{node, partition}]
}

// RebalanceFinished implements Topology.
func (t *StaticTopology) RebalanceFinished(id TableID, _ TopologyVersion) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, ok := t.mu.tables[id]
	return !ok || !tbl.rebalancing
}

// Partition implements Topology.
func (t *StaticTopology) Partition(id TableID, key rowenc.Datum) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tbl, ok := t.mu.tables[id]
	if !ok || tbl.info.Partitions == 0 {
		return 0
	}
	return int(rowenc.FingerprintDatum(key) % uint32(tbl.info.Partitions))
}
