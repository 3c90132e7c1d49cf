// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physicalplan

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
)

// PlanningContext carries what fragment placement needs to know about the
// cluster.
type PlanningContext struct {
	Registry        *distribution.Registry
	TopologyVersion distribution.TopologyVersion
}

// Fragment is a part of the plan executed as a unit on every node of its
// mapping. Fragment 0 of a plan runs on the coordinator; every other
// fragment is rooted at a Sender.
type Fragment struct {
	ID   int64
	Root Node

	mapping      distribution.NodesMapping
	remoteInputs []*Fragment
	initialized  bool
}

// IsRemote returns whether the fragment ships its rows to another fragment.
func (f *Fragment) IsRemote() bool {
	_, ok := f.Root.(*Sender)
	return ok
}

// Mapping returns the nodes the fragment was placed on by Init.
func (f *Fragment) Mapping() distribution.NodesMapping {
	return f.mapping
}

// RemoteInputs returns the fragments feeding this one through exchanges.
func (f *Fragment) RemoteInputs() []*Fragment {
	return f.remoteInputs
}

// Init places the fragment and, recursively, every fragment feeding it.
func (f *Fragment) Init(pctx PlanningContext) error {
	return f.init(nil /* parent */, pctx)
}

type fragmentInfo struct {
	mapping    distribution.NodesMapping
	hasMapping bool
	receivers  []*Receiver
}

// info collects the data placement required by the scans of the fragment
// and the receivers through which remote fragments feed it.
func (f *Fragment) info(pctx PlanningContext) (fragmentInfo, error) {
	var info fragmentInfo
	var err error
	walk(f.Root, func(n Node) {
		if err != nil {
			return
		}
		switch n := n.(type) {
		case *Scan:
			var m distribution.NodesMapping
			m, err = pctx.Registry.Distributed(n.Table, pctx.TopologyVersion)
			if err != nil {
				return
			}
			if !info.hasMapping {
				info.mapping, info.hasMapping = m, true
			} else {
				info.mapping, err = info.mapping.MergeWith(m)
			}
		case *Receiver:
			info.receivers = append(info.receivers, n)
		}
	})
	return info, err
}

// init resolves the fragment's mapping. The parent is passed only for the
// duration of the call: the fragment keeps no reference to it.
func (f *Fragment) init(parent *Fragment, pctx PlanningContext) error {
	if parent == nil && f.IsRemote() {
		return errors.AssertionFailedf("root fragment %d is rooted at a sender", f.ID)
	}
	if parent != nil && !f.IsRemote() {
		return errors.AssertionFailedf("fragment %d feeds fragment %d but is not rooted at a sender",
			f.ID, parent.ID)
	}
	info, err := f.info(pctx)
	if err != nil {
		return wrapMappingError(err)
	}

	reg := pctx.Registry
	switch {
	case !info.hasMapping && f.IsRemote():
		f.mapping = reg.Random(pctx.TopologyVersion)
	case !info.hasMapping:
		f.mapping = reg.Local()
	default:
		m := info.mapping
		if !f.IsRemote() {
			// The root fragment runs on the coordinator, which must hold
			// everything it reads.
			m, err = m.MergeWith(reg.Local())
		}
		if err == nil {
			m, err = m.Deduplicate()
		}
		if err != nil {
			return wrapMappingError(err)
		}
		if m.Assignments == nil && len(m.Nodes) > 1 {
			// Every node of a replicated mapping holds a full copy; reading
			// more than one would duplicate rows.
			m.Nodes = m.Nodes[:1]
		}
		f.mapping = m
	}

	if parent != nil {
		f.Root.(*Sender).Init(parent.mapping)
	}
	f.remoteInputs = f.remoteInputs[:0]
	for _, r := range info.receivers {
		if err := r.Source.init(f, pctx); err != nil {
			return err
		}
		r.Init(r.Source.mapping)
		f.remoteInputs = append(f.remoteInputs, r.Source)
	}
	f.initialized = true
	return nil
}

func wrapMappingError(err error) error {
	if distribution.IsLocationMappingError(err) {
		return errors.Wrap(err, "failed to map fragment to location, partition lost")
	}
	return err
}

// Reset forgets the placement of the fragment and of every fragment feeding
// it, so that the plan can be placed again on a newer topology.
func (f *Fragment) Reset() {
	f.mapping = distribution.NodesMapping{}
	f.initialized = false
	f.remoteInputs = nil
	walk(f.Root, func(n Node) {
		switch n := n.(type) {
		case *Sender:
			n.Reset()
		case *Receiver:
			n.Reset()
			n.Source.Reset()
		}
	})
}

// Description is what a node needs to build and run a fragment.
type Description struct {
	ID      int64
	Root    Node
	Mapping distribution.NodesMapping
	// Target is the mapping of the fragment consuming this one's rows. Only
	// set for remote fragments.
	Target distribution.NodesMapping
	// Sources maps the exchange ids of the fragment's receivers to the
	// mappings of the fragments feeding them.
	Sources map[int64]distribution.NodesMapping
}

// Describe returns the description of an initialized fragment.
func (f *Fragment) Describe() (Description, error) {
	if !f.initialized {
		return Description{}, errors.AssertionFailedf("fragment %d is not initialized", f.ID)
	}
	d := Description{
		ID:      f.ID,
		Root:    f.Root,
		Mapping: f.mapping,
		Sources: make(map[int64]distribution.NodesMapping),
	}
	if s, ok := f.Root.(*Sender); ok {
		d.Target, _ = s.Target()
	}
	walk(f.Root, func(n Node) {
		if r, ok := n.(*Receiver); ok {
			d.Sources[r.ExchangeID], _ = r.SourceMapping()
		}
	})
	return d, nil
}
