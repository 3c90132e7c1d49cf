// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
)

// FilterNode passes on the rows that satisfy a predicate. It keeps its
// source busy with a full prefetch window and buffers the matches.
type FilterNode struct {
	nodeBase

	pred func(rowenc.Row) bool

	inBuf     ring.Buffer[rowenc.Row]
	requested int
	waiting   int
	inLoop    bool
}

var _ Node = &FilterNode{}
var _ Downstream = &FilterNode{}

// NewFilterNode creates a filter.
func NewFilterNode(
	ectx *execinfra.ExecutionContext, rowType rowenc.RowType, pred func(rowenc.Row) bool,
) *FilterNode {
	return &FilterNode{
		nodeBase: nodeBase{ectx: ectx, rowType: rowType},
		pred:     pred,
	}
}

// Register implements Node.
func (n *FilterNode) Register(sources ...Node) {
	n.register(n, sources)
}

// Request implements Node.
func (n *FilterNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.requested += cnt
	if n.waiting == 0 && n.inBuf.Len() == 0 {
		n.waiting = n.ectx.Config.InBufferSize
		return n.source().Request(n.waiting)
	}
	if !n.inLoop {
		n.ectx.Execute(n.flush, n.OnError)
	}
	return nil
}

// Push implements Downstream.
func (n *FilterNode) Push(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting <= 0 {
		return errPushWithoutDemand("filter")
	}
	n.waiting--
	if n.pred(row) {
		n.inBuf.AddLast(row)
	}
	return n.flush()
}

// End implements Downstream.
func (n *FilterNode) End() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.waiting = notWaiting
	return n.flush()
}

func (n *FilterNode) flush() error {
	if n.closed {
		return nil
	}
	n.inLoop = true
	for n.requested > 0 && n.inBuf.Len() > 0 {
		if err := n.checkState(); err != nil {
			n.inLoop = false
			return err
		}
		n.requested--
		if err := n.downstream.Push(n.inBuf.PopFirst()); err != nil {
			n.inLoop = false
			return err
		}
	}
	n.inLoop = false

	if n.inBuf.Len() == 0 && n.waiting == 0 {
		n.waiting = n.ectx.Config.InBufferSize
		if err := n.source().Request(n.waiting); err != nil {
			return err
		}
	}
	if n.waiting == notWaiting && n.requested > 0 && n.inBuf.Len() == 0 {
		n.requested = 0
		return n.downstream.End()
	}
	return nil
}

// Rewind implements Node.
func (n *FilterNode) Rewind() {
	n.requested = 0
	n.waiting = 0
	n.inBuf.Reset()
	n.rewindSources()
}

// ProjectNode computes a new row out of every source row.
type ProjectNode struct {
	nodeBase

	expr func(rowenc.Row) rowenc.Row
}

var _ Node = &ProjectNode{}
var _ Downstream = &ProjectNode{}

// NewProjectNode creates a projection.
func NewProjectNode(
	ectx *execinfra.ExecutionContext, rowType rowenc.RowType, expr func(rowenc.Row) rowenc.Row,
) *ProjectNode {
	return &ProjectNode{
		nodeBase: nodeBase{ectx: ectx, rowType: rowType},
		expr:     expr,
	}
}

// Register implements Node.
func (n *ProjectNode) Register(sources ...Node) {
	n.register(n, sources)
}

// Request implements Node.
func (n *ProjectNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	return n.source().Request(cnt)
}

// Push implements Downstream.
func (n *ProjectNode) Push(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	return n.downstream.Push(n.expr(row))
}

// End implements Downstream.
func (n *ProjectNode) End() error {
	if n.closed {
		return nil
	}
	return n.downstream.End()
}

// Rewind implements Node.
func (n *ProjectNode) Rewind() {
	n.rewindSources()
}
