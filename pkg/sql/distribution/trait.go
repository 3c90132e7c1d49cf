// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distribution

import (
	"fmt"
	"strings"
)

// TraitType is the kind of row distribution an operator produces or
// requires.
type TraitType int

const (
	// Any accepts any distribution.
	Any TraitType = iota
	// Single means all rows are on one node.
	Single
	// Broadcast means every node holds every row.
	Broadcast
	// Random means rows are spread without regard to their content.
	Random
	// Hash means rows are spread by the hash of key columns.
	Hash
)

// DistributionTrait describes how rows are spread over the nodes of a
// mapping. For Hash distributions Keys lists the key columns and Table, when
// non-zero, names the table whose affinity function places the keys.
type DistributionTrait struct {
	Type  TraitType
	Keys  []int
	Table TableID
}

// SingleDistribution returns the single-node trait.
func SingleDistribution() DistributionTrait { return DistributionTrait{Type: Single} }

// BroadcastDistribution returns the broadcast trait.
func BroadcastDistribution() DistributionTrait { return DistributionTrait{Type: Broadcast} }

// RandomDistribution returns the random trait.
func RandomDistribution() DistributionTrait { return DistributionTrait{Type: Random} }

// AnyDistribution returns the trait that accepts any distribution.
func AnyDistribution() DistributionTrait { return DistributionTrait{Type: Any} }

// HashDistribution returns a hash trait on the given key columns. A zero
// table hashes keys with a generic function instead of a table's affinity.
func HashDistribution(table TableID, keys ...int) DistributionTrait {
	return DistributionTrait{Type: Hash, Keys: keys, Table: table}
}

func (t DistributionTrait) String() string {
	switch t.Type {
	case Single:
		return "single"
	case Broadcast:
		return "broadcast"
	case Random:
		return "random"
	case Hash:
		keys := make([]string, len(t.Keys))
		for i, k := range t.Keys {
			keys[i] = fmt.Sprint(k)
		}
		return "hash[" + strings.Join(keys, ", ") + "]"
	default:
		return "any"
	}
}
