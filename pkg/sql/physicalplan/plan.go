// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physicalplan

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// MultiStepPlan is a plan split into fragments. Fragments[0] produces the
// query result on the coordinator.
type MultiStepPlan struct {
	Fragments []*Fragment
}

// RowType returns the shape of the query result.
func (p *MultiStepPlan) RowType() rowenc.RowType {
	return p.Fragments[0].Root.RowType()
}

// Mapping returns the placement of one of the plan's fragments.
func (p *MultiStepPlan) Mapping(f *Fragment) distribution.NodesMapping {
	return f.Mapping()
}

// Init places every fragment of the plan.
func (p *MultiStepPlan) Init(pctx PlanningContext) error {
	if len(p.Fragments) == 0 {
		return errors.AssertionFailedf("empty plan")
	}
	if err := p.Fragments[0].Init(pctx); err != nil {
		return err
	}
	for _, f := range p.Fragments {
		if !f.initialized {
			return errors.AssertionFailedf("fragment %d is not reachable from the root", f.ID)
		}
	}
	return nil
}

// Reset forgets the placement of every fragment.
func (p *MultiStepPlan) Reset() {
	for _, f := range p.Fragments {
		f.Reset()
	}
}

// Split cuts the plan at every Exchange. The part above an exchange reads
// through a Receiver and the part below becomes a new fragment rooted at a
// Sender. Fragment and exchange ids are assigned in depth-first order.
func Split(root Node) *MultiStepPlan {
	s := &splitter{}
	rootFragment := &Fragment{ID: 0}
	s.fragments = append(s.fragments, rootFragment)
	rootFragment.Root = s.rewrite(root, rootFragment.ID)
	return &MultiStepPlan{Fragments: s.fragments}
}

type splitter struct {
	fragments    []*Fragment
	nextExchange int64
}

func (s *splitter) rewrite(n Node, fragmentID int64) Node {
	if ex, ok := n.(*Exchange); ok {
		child := &Fragment{ID: int64(len(s.fragments))}
		s.fragments = append(s.fragments, child)
		s.nextExchange++
		exchangeID := s.nextExchange
		child.Root = &Sender{
			Input:          s.rewrite(ex.Input, child.ID),
			ExchangeID:     exchangeID,
			TargetFragment: fragmentID,
			Distribution:   ex.Distribution,
		}
		return &Receiver{ExchangeID: exchangeID, Source: child}
	}
	inputs := n.Inputs()
	rewritten := make([]Node, len(inputs))
	for i, in := range inputs {
		rewritten[i] = s.rewrite(in, fragmentID)
	}
	return n.withInputs(rewritten)
}
