// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package distribution resolves where data lives in the cluster. It turns
// table metadata and partition ownership at a topology version into node
// mappings that fragments are placed on, and into destination functions that
// route rows between fragments.
package distribution

import "github.com/dmekhanikov/gridsql/pkg/sql/rowenc"

// NodeID identifies a cluster node.
type NodeID string

// TableID identifies a table (a cache in the data grid).
type TableID int32

// TopologyVersion is a monotonically increasing cluster topology version.
// Partition assignments are resolved against a specific version.
type TopologyVersion int64

// PartitionState is the state of one partition copy on one node.
type PartitionState int

const (
	// Evicted means the node holds no copy of the partition.
	Evicted PartitionState = iota
	// Owning means the node holds a complete, up-to-date copy.
	Owning
	// Moving means the copy is being rebalanced onto the node.
	Moving
	// Renting means the copy is being evicted from the node.
	Renting
	// Lost means every copy of the partition is gone.
	Lost
)

func (s PartitionState) String() string {
	switch s {
	case Owning:
		return "owning"
	case Moving:
		return "moving"
	case Renting:
		return "renting"
	case Lost:
		return "lost"
	default:
		return "evicted"
	}
}

// WriteSyncMode is the write consistency mode of a table.
type WriteSyncMode int

const (
	// FullSync waits for every copy on write.
	FullSync WriteSyncMode = iota
	// PrimarySync waits for the primary copy only, so the primary is the
	// single authoritative owner of a partition.
	PrimarySync
	// FullAsync does not wait for any copy.
	FullAsync
)

// CacheMode says whether a table is partitioned or fully replicated.
type CacheMode int

const (
	// Partitioned tables spread partitions over affinity nodes.
	Partitioned CacheMode = iota
	// Replicated tables keep every partition on every affinity node.
	Replicated
)

// TableInfo is the placement metadata of a table.
type TableInfo struct {
	ID         TableID
	Name       string
	Mode       CacheMode
	WriteSync  WriteSyncMode
	Partitions int
	// KeyColumns are the affinity key columns of the table's rows.
	KeyColumns []int
	// NodeFilter is set when the table is restricted to a subset of the
	// cluster's server nodes.
	NodeFilter bool
	RowType    rowenc.RowType
}

// Topology is the view of cluster membership and partition ownership that
// placement is computed from. Implementations must be safe for concurrent
// use.
type Topology interface {
	// Version returns the current topology version.
	Version() TopologyVersion
	// LocalNode returns the node this view belongs to.
	LocalNode() NodeID
	// ServerNodes returns the server nodes at the given version.
	ServerNodes(TopologyVersion) []NodeID
	// Alive returns whether the node is currently a cluster member.
	Alive(NodeID) bool

	// TableInfo returns the placement metadata of a table.
	TableInfo(TableID) (TableInfo, error)
	// AffinityAssignment returns the owner list of every partition of a
	// partitioned table, primary first.
	AffinityAssignment(TableID, TopologyVersion) ([][]NodeID, error)
	// AffinityNodes returns the nodes holding a replicated table.
	AffinityNodes(TableID, TopologyVersion) ([]NodeID, error)
	// PartitionState returns the state of a partition copy on a node.
	PartitionState(table TableID, node NodeID, partition int) PartitionState
	// RebalanceFinished returns whether the table's partitions have settled
	// at the given version.
	RebalanceFinished(TableID, TopologyVersion) bool
	// Partition maps an affinity key to a partition of the table.
	Partition(table TableID, key rowenc.Datum) int
}
