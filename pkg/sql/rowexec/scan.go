// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
)

// ScanNode pushes the rows of a RowSource. It has no sources of its own.
type ScanNode struct {
	nodeBase

	src    RowSource
	filter func(rowenc.Row) bool

	it        RowIterator
	requested int
	inLoop    bool
	ended     bool
}

var _ Node = &ScanNode{}

// NewScanNode creates a scan. The filter is optional.
func NewScanNode(
	ectx *execinfra.ExecutionContext,
	rowType rowenc.RowType,
	src RowSource,
	filter func(rowenc.Row) bool,
) *ScanNode {
	return &ScanNode{
		nodeBase: nodeBase{ectx: ectx, rowType: rowType},
		src:      src,
		filter:   filter,
	}
}

// Register implements Node. Scans have no sources.
func (n *ScanNode) Register(...Node) {}

// Request implements Node.
func (n *ScanNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.requested += cnt
	if !n.inLoop {
		n.inLoop = true
		n.ectx.Execute(n.push, n.OnError)
	}
	return nil
}

func (n *ScanNode) push() error {
	n.inLoop = false
	if n.closed || n.ended {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.it == nil {
		it, err := n.src()
		if err != nil {
			return err
		}
		n.it = it
	}

	n.inLoop = true
	defer func() { n.inLoop = false }()
	processed := 0
	for n.requested > 0 {
		row, ok, err := n.it.Next()
		if err != nil {
			return err
		}
		if !ok {
			n.closeIterator()
			n.requested = 0
			n.ended = true
			log.VEventf(n.ectx.Ctx(), 3, "scan exhausted")
			return n.downstream.End()
		}
		if n.filter != nil && !n.filter(row) {
			continue
		}
		n.requested--
		if err := n.downstream.Push(row); err != nil {
			return err
		}
		if processed++; processed == n.ectx.Config.ScanBatchSize && n.requested > 0 {
			// Yield the stripe to the other fragments.
			n.ectx.Execute(n.push, n.OnError)
			return nil
		}
	}
	return nil
}

func (n *ScanNode) closeIterator() {
	if n.it != nil {
		n.it.Close()
		n.it = nil
	}
}

// Rewind implements Node. The next request opens a new iterator.
func (n *ScanNode) Rewind() {
	n.requested = 0
	n.ended = false
	n.closeIterator()
}

// Close implements Node.
func (n *ScanNode) Close() {
	n.nodeBase.Close()
	n.closeIterator()
}
