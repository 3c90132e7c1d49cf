// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import (
	"strings"

	"github.com/cockroachdb/redact"
)

// MappingFlags describe what kind of data a NodesMapping was derived from.
type MappingFlags uint8

const (
	// HasPartitionedCaches is set when a partitioned table contributed.
	HasPartitionedCaches MappingFlags = 1 << iota
	// HasReplicatedCaches is set when a replicated table contributed.
	HasReplicatedCaches
	// HasMovingPartitions is set when some partitions were being rebalanced
	// and their owner lists were restricted to owning nodes.
	HasMovingPartitions
	// PartiallyReplicated is set when not every server node holds a full
	// copy of a contributing replicated table.
	PartiallyReplicated
)

func (f MappingFlags) String() string {
	var parts []string
	if f&HasPartitionedCaches != 0 {
		parts = append(parts, "partitioned")
	}
	if f&HasReplicatedCaches != 0 {
		parts = append(parts, "replicated")
	}
	if f&HasMovingPartitions != 0 {
		parts = append(parts, "moving")
	}
	if f&PartiallyReplicated != 0 {
		parts = append(parts, "partial")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// NodesMapping is the resolved placement of a fragment or table. It holds
// either an explicit node list, a per-partition owner list, or both (a
// partition mapping restricted by a node list). A NodesMapping is never
// mutated once built and may be shared freely.
type NodesMapping struct {
	Nodes       []NodeID
	Assignments [][]NodeID
	Flags       MappingFlags
}

// IsEmpty returns whether the mapping carries no placement at all.
func (m NodesMapping) IsEmpty() bool {
	return m.Nodes == nil && m.Assignments == nil
}

// NodeIDs returns the distinct nodes taking part in the mapping, in order of
// first appearance.
func (m NodesMapping) NodeIDs() []NodeID {
	if m.Assignments == nil {
		return m.Nodes
	}
	seen := make(map[NodeID]struct{})
	var res []NodeID
	for _, owners := range m.Assignments {
		for _, n := range owners {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			res = append(res, n)
		}
	}
	return res
}

// PartitionsOf returns the partitions assigned to the node. When the mapping
// is not partitioned, partitioned is false and the node reads everything it
// holds.
func (m NodesMapping) PartitionsOf(node NodeID) (parts []int, partitioned bool) {
	if m.Assignments == nil {
		return nil, false
	}
	for p, owners := range m.Assignments {
		for _, n := range owners {
			if n == node {
				parts = append(parts, p)
				break
			}
		}
	}
	return parts, true
}

// Deduplicate collapses a partition mapping to a minimal covering node set:
// every partition keeps exactly one owner, preferring owners that were
// already chosen for an earlier partition. A partition with no owner fails
// with a location mapping error. Node list mappings are returned unchanged.
func (m NodesMapping) Deduplicate() (NodesMapping, error) {
	if m.Assignments == nil {
		return m, nil
	}
	chosen := make(map[NodeID]struct{})
	var nodes []NodeID
	res := make([][]NodeID, len(m.Assignments))
	for p, owners := range m.Assignments {
		if len(owners) == 0 {
			return NodesMapping{}, NewLocationMappingError("no owner for partition %d", p)
		}
		pick := owners[0]
		for _, n := range owners {
			if _, ok := chosen[n]; ok {
				pick = n
				break
			}
		}
		if _, ok := chosen[pick]; !ok {
			chosen[pick] = struct{}{}
			nodes = append(nodes, pick)
		}
		res[p] = []NodeID{pick}
	}
	return NodesMapping{Nodes: nodes, Assignments: res, Flags: m.Flags}, nil
}

// MergeWith intersects two mappings. It is used when a fragment reads
// several tables and must run where all of them are available. An empty
// intersection is a location mapping error.
func (m NodesMapping) MergeWith(o NodesMapping) (NodesMapping, error) {
	flags := m.Flags | o.Flags
	nodes, err := intersectNodes(m.Nodes, o.Nodes)
	if err != nil {
		return NodesMapping{}, err
	}
	var assignments [][]NodeID
	switch {
	case m.Assignments == nil && o.Assignments == nil:
	case m.Assignments == nil:
		assignments = o.Assignments
	case o.Assignments == nil:
		assignments = m.Assignments
	default:
		if len(m.Assignments) != len(o.Assignments) {
			return NodesMapping{}, NewLocationMappingError(
				"cannot colocate %d and %d partitions", len(m.Assignments), len(o.Assignments))
		}
		assignments = make([][]NodeID, len(m.Assignments))
		for p := range m.Assignments {
			owners, err := intersectNodes(m.Assignments[p], o.Assignments[p])
			if err != nil {
				return NodesMapping{}, NewLocationMappingError("no common owner for partition %d", p)
			}
			assignments[p] = owners
		}
	}
	if assignments != nil && nodes != nil {
		filtered := make([][]NodeID, len(assignments))
		for p, owners := range assignments {
			filtered[p] = retain(owners, nodes)
			if len(filtered[p]) == 0 {
				return NodesMapping{}, NewLocationMappingError("no eligible owner for partition %d", p)
			}
		}
		assignments = filtered
	}
	return NodesMapping{Nodes: nodes, Assignments: assignments, Flags: flags}, nil
}

func intersectNodes(a, b []NodeID) ([]NodeID, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	res := retain(a, b)
	if len(res) == 0 {
		return nil, NewLocationMappingError("failed to map fragment to location")
	}
	return res, nil
}

// retain returns the elements of a that are also in b, in a's order.
func retain(a, b []NodeID) []NodeID {
	res := make([]NodeID, 0, len(a))
	for _, n := range a {
		for _, o := range b {
			if n == o {
				res = append(res, n)
				break
			}
		}
	}
	return res
}

// Equal returns whether two mappings describe the same placement.
func (m NodesMapping) Equal(o NodesMapping) bool {
	if m.Flags != o.Flags || (m.Nodes == nil) != (o.Nodes == nil) ||
		(m.Assignments == nil) != (o.Assignments == nil) {
		return false
	}
	if !nodesEqual(m.Nodes, o.Nodes) || len(m.Assignments) != len(o.Assignments) {
		return false
	}
	for p := range m.Assignments {
		if !nodesEqual(m.Assignments[p], o.Assignments[p]) {
			return false
		}
	}
	return true
}

func nodesEqual(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m NodesMapping) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m NodesMapping) SafeFormat(w redact.SafePrinter, _ rune) {
	sep := ""
	if m.Nodes != nil {
		w.Printf("nodes=%s", redact.SafeString(formatNodes(m.Nodes)))
		sep = " "
	}
	if m.Assignments != nil {
		var sb strings.Builder
		sb.WriteByte('[')
		for p, owners := range m.Assignments {
			if p > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(formatNodes(owners))
		}
		sb.WriteByte(']')
		w.Printf("%sassignments=%s", redact.SafeString(sep), redact.SafeString(sb.String()))
		sep = " "
	}
	w.Printf("%sflags=%s", redact.SafeString(sep), redact.SafeString(m.Flags.String()))
}

func formatNodes(nodes []NodeID) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, n := range nodes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(string(n))
	}
	sb.WriteByte(']')
	return sb.String()
}
