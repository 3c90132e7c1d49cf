// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// UnionAllNode drains its sources one after another.
type UnionAllNode struct {
	nodeBase

	curr    int
	waiting int
}

var _ Node = &UnionAllNode{}
var _ Downstream = &UnionAllNode{}

// NewUnionAllNode creates a union.
func NewUnionAllNode(ectx *execinfra.ExecutionContext, rowType rowenc.RowType) *UnionAllNode {
	return &UnionAllNode{nodeBase: nodeBase{ectx: ectx, rowType: rowType}}
}

// Register implements Node.
func (n *UnionAllNode) Register(sources ...Node) {
	n.register(n, sources)
}

// Request implements Node.
func (n *UnionAllNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting == notWaiting {
		return n.downstream.End()
	}
	n.waiting += cnt
	return n.sources[n.curr].Request(cnt)
}

// Push implements Downstream.
func (n *UnionAllNode) Push(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting <= 0 {
		return errPushWithoutDemand("union all")
	}
	n.waiting--
	return n.downstream.Push(row)
}

// End implements Downstream.
func (n *UnionAllNode) End() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.curr++; n.curr < len(n.sources) {
		if n.waiting > 0 {
			return n.sources[n.curr].Request(n.waiting)
		}
		return nil
	}
	n.waiting = notWaiting
	return n.downstream.End()
}

// Rewind implements Node.
func (n *UnionAllNode) Rewind() {
	n.curr = 0
	n.waiting = 0
	n.rewindSources()
}
