// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// LimitNode skips the first offset rows of its source and then passes at
// most fetch rows. A negative fetch means no limit. Once fetch rows have
// been emitted the node ends without waiting for its source.
type LimitNode struct {
	nodeBase

	offset, fetch int

	skipped   int
	emitted   int
	requested int
	waiting   int
	ended     bool
}

var _ Node = &LimitNode{}
var _ Downstream = &LimitNode{}

// NewLimitNode creates a limit.
func NewLimitNode(
	ectx *execinfra.ExecutionContext, rowType rowenc.RowType, offset, fetch int,
) *LimitNode {
	return &LimitNode{
		nodeBase: nodeBase{ectx: ectx, rowType: rowType},
		offset:   offset,
		fetch:    fetch,
	}
}

// Register implements Node.
func (n *LimitNode) Register(sources ...Node) {
	n.register(n, sources)
}

func (n *LimitNode) exhausted() bool {
	return n.fetch >= 0 && n.emitted >= n.fetch
}

// Request implements Node.
func (n *LimitNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.ended {
		return nil
	}
	n.requested += cnt
	if n.exhausted() {
		return n.end()
	}
	if n.waiting == notWaiting {
		return n.end()
	}
	// Keep the source asked for exactly the rows still to skip plus the
	// rows still owed downstream.
	need := n.requested
	if n.fetch >= 0 && n.fetch-n.emitted < need {
		need = n.fetch - n.emitted
	}
	need += n.offset - n.skipped
	if need <= n.waiting {
		return nil
	}
	ask := need - n.waiting
	n.waiting = need
	return n.source().Request(ask)
}

// Push implements Downstream.
func (n *LimitNode) Push(row rowenc.Row) error {
	if n.closed || n.ended {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting <= 0 {
		return errPushWithoutDemand("limit")
	}
	n.waiting--
	if n.skipped < n.offset {
		n.skipped++
		return nil
	}
	if n.requested <= 0 {
		return errPushWithoutDemand("limit")
	}
	n.requested--
	n.emitted++
	if err := n.downstream.Push(row); err != nil {
		return err
	}
	if n.exhausted() && n.requested > 0 {
		return n.end()
	}
	return nil
}

// End implements Downstream.
func (n *LimitNode) End() error {
	if n.closed || n.ended {
		return nil
	}
	n.waiting = notWaiting
	if n.requested > 0 {
		return n.end()
	}
	return nil
}

func (n *LimitNode) end() error {
	n.ended = true
	n.requested = 0
	return n.downstream.End()
}

// Rewind implements Node.
func (n *LimitNode) Rewind() {
	n.skipped, n.emitted = 0, 0
	n.requested, n.waiting = 0, 0
	n.ended = false
	n.rewindSources()
}
