// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import "github.com/cockroachdb/errors"

// Registry computes distributions and node mappings of tables from the
// metadata exposed by a Topology. It keeps no state of its own, so repeated
// calls for the same table and version return equal results as long as the
// topology does not change underneath.
type Registry struct {
	topology Topology
}

// NewRegistry creates a Registry over the given topology.
func NewRegistry(topology Topology) *Registry {
	return &Registry{topology: topology}
}

// Topology returns the topology the registry reads.
func (r *Registry) Topology() Topology {
	return r.topology
}

// Distribution returns how the rows of a table are spread: replicated tables
// are broadcast, partitioned tables are hashed on their affinity key by the
// table's own affinity function.
func (r *Registry) Distribution(table TableID) (DistributionTrait, error) {
	info, err := r.topology.TableInfo(table)
	if err != nil {
		return DistributionTrait{}, err
	}
	if info.Mode == Replicated {
		return BroadcastDistribution(), nil
	}
	return HashDistribution(table, info.KeyColumns...), nil
}

// Local returns the mapping that places work on the local node only.
func (r *Registry) Local() NodesMapping {
	return NodesMapping{Nodes: []NodeID{r.topology.LocalNode()}}
}

// Random returns the mapping over every server node at the given version.
func (r *Registry) Random(topVer TopologyVersion) NodesMapping {
	return NodesMapping{Nodes: r.topology.ServerNodes(topVer)}
}

// Distributed returns the nodes holding a table's data at the given version.
func (r *Registry) Distributed(table TableID, topVer TopologyVersion) (NodesMapping, error) {
	info, err := r.topology.TableInfo(table)
	if err != nil {
		return NodesMapping{}, err
	}
	if info.Mode == Replicated {
		return r.replicatedLocation(info, topVer)
	}
	return r.partitionedLocation(info, topVer)
}

func (r *Registry) partitionedLocation(info TableInfo, topVer TopologyVersion) (NodesMapping, error) {
	flags := HasPartitionedCaches
	assignment, err := r.topology.AffinityAssignment(info.ID, topVer)
	if err != nil {
		return NodesMapping{}, errors.Wrapf(err, "resolving affinity of table %d", info.ID)
	}
	res := make([][]NodeID, len(assignment))
	switch {
	case info.WriteSync == PrimarySync:
		// The primary is the single authoritative copy.
		for p, owners := range assignment {
			if len(owners) == 0 {
				res[p] = []NodeID{}
			} else {
				res[p] = []NodeID{owners[0]}
			}
		}
	case !r.topology.RebalanceFinished(info.ID, topVer):
		flags |= HasMovingPartitions
		for p, owners := range assignment {
			res[p] = make([]NodeID, 0, len(owners))
			for _, n := range owners {
				if r.topology.PartitionState(info.ID, n, p) == Owning {
					res[p] = append(res[p], n)
				}
			}
		}
	default:
		for p, owners := range assignment {
			res[p] = append([]NodeID{}, owners...)
		}
	}
	return NodesMapping{Assignments: res, Flags: flags}, nil
}

func (r *Registry) replicatedLocation(info TableInfo, topVer TopologyVersion) (NodesMapping, error) {
	flags := HasReplicatedCaches
	if info.NodeFilter {
		flags |= PartiallyReplicated
	}
	nodes, err := r.topology.AffinityNodes(info.ID, topVer)
	if err != nil {
		return NodesMapping{}, errors.Wrapf(err, "resolving affinity nodes of table %d", info.ID)
	}
	if r.topology.RebalanceFinished(info.ID, topVer) {
		return NodesMapping{Nodes: append([]NodeID{}, nodes...), Flags: flags}, nil
	}
	// Only nodes that own every partition hold a complete copy.
	flags |= PartiallyReplicated
	res := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		if r.ownsAll(info, n) {
			res = append(res, n)
		}
	}
	return NodesMapping{Nodes: res, Flags: flags}, nil
}

func (r *Registry) ownsAll(info TableInfo, node NodeID) bool {
	for p := 0; p < info.Partitions; p++ {
		if r.topology.PartitionState(info.ID, node, p) != Owning {
			return false
		}
	}
	return true
}
