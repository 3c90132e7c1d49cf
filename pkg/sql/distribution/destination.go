// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// DestinationFunction picks the nodes that must receive a row.
type DestinationFunction interface {
	// Targets returns every node the function can route to.
	Targets() []NodeID
	// Destinations returns the nodes the row is routed to.
	Destinations(row rowenc.Row) []NodeID
}

// NewDestinationFunction builds the routing function for rows that leave a
// fragment with the given distribution towards a fragment placed on target.
func NewDestinationFunction(
	trait DistributionTrait, target NodesMapping, topology Topology,
) (DestinationFunction, error) {
	nodes := target.NodeIDs()
	if len(nodes) == 0 {
		return nil, errors.AssertionFailedf("empty target mapping for %s distribution", trait)
	}
	switch trait.Type {
	case Single:
		if len(nodes) != 1 {
			return nil, errors.AssertionFailedf("single distribution over %d nodes", len(nodes))
		}
		return &broadcastDestination{nodes: nodes[:1]}, nil
	case Broadcast:
		return &broadcastDestination{nodes: nodes}, nil
	case Random, Any:
		return &randomDestination{nodes: nodes}, nil
	case Hash:
		if len(trait.Keys) == 0 {
			return nil, errors.AssertionFailedf("hash distribution without keys")
		}
		if trait.Table == 0 || target.Assignments == nil {
			return &hashDestination{nodes: nodes, keys: trait.Keys}, nil
		}
		if len(trait.Keys) != 1 {
			return nil, errors.AssertionFailedf("affinity distribution on %d keys", len(trait.Keys))
		}
		for p, owners := range target.Assignments {
			if len(owners) > 1 {
				return nil, errors.AssertionFailedf(
					"partition %d has %d owners in a deduplicated mapping", p, len(owners))
			}
		}
		return &affinityDestination{
			table:       trait.Table,
			key:         trait.Keys[0],
			assignments: target.Assignments,
			nodes:       nodes,
			topology:    topology,
		}, nil
	default:
		return nil, errors.AssertionFailedf("unsupported distribution %s", trait)
	}
}

type broadcastDestination struct {
	nodes []NodeID
}

func (d *broadcastDestination) Targets() []NodeID { return d.nodes }

func (d *broadcastDestination) Destinations(rowenc.Row) []NodeID { return d.nodes }

// randomDestination spreads rows round-robin. It is owned by a single
// operator and is not safe for concurrent use.
type randomDestination struct {
	nodes []NodeID
	next  int
}

func (d *randomDestination) Targets() []NodeID { return d.nodes }

func (d *randomDestination) Destinations(rowenc.Row) []NodeID {
	n := d.nodes[d.next : d.next+1]
	d.next = (d.next + 1) % len(d.nodes)
	return n
}

type hashDestination struct {
	nodes []NodeID
	keys  []int
}

func (d *hashDestination) Targets() []NodeID { return d.nodes }

func (d *hashDestination) Destinations(row rowenc.Row) []NodeID {
	i := int(rowenc.Fingerprint(row, d.keys) % uint32(len(d.nodes)))
	return d.nodes[i : i+1]
}

type affinityDestination struct {
	table       TableID
	key         int
	assignments [][]NodeID
	nodes       []NodeID
	topology    Topology
}

func (d *affinityDestination) Targets() []NodeID { return d.nodes }

func (d *affinityDestination) Destinations(row rowenc.Row) []NodeID {
	return d.assignments[d.topology.Partition(d.table, row[d.key])]
}
