// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/google/btree"
)

// IndexSpoolNode materialises its source into an index ordered by the key
// columns and then returns the rows between a lower and an upper bound.
// The bounds are evaluated every time the spool is probed, that is on the
// first request after a rewind, and a rewind never pulls the source again.
//
// A bound is a row of the spool's type; only its key columns are looked at.
// The bound is the longest prefix of key columns that are not nil, so a
// bound with a nil first key column is unbounded.
type IndexSpoolNode struct {
	nodeBase

	keys         []int
	lower, upper func() rowenc.Row

	idx  *btree.BTreeG[spoolItem]
	seq  int
	scan *ScanNode

	requested int
	waiting   int
}

var _ Node = &IndexSpoolNode{}
var _ Downstream = &IndexSpoolNode{}

type spoolItem struct {
	row rowenc.Row
	seq int
	// A probe item compares on the first prefix key columns only and sorts
	// before the rows it ties with.
	probe  bool
	prefix int
}

// NewIndexSpoolNode creates an index spool. Nil bound suppliers leave the
// corresponding end of the range open.
func NewIndexSpoolNode(
	ectx *execinfra.ExecutionContext,
	rowType rowenc.RowType,
	keys []int,
	lower, upper func() rowenc.Row,
) *IndexSpoolNode {
	n := &IndexSpoolNode{
		nodeBase: nodeBase{ectx: ectx, rowType: rowType},
		keys:     keys,
		lower:    lower,
		upper:    upper,
	}
	n.idx = btree.NewG[spoolItem](32, n.less)
	n.scan = NewScanNode(ectx, rowType, n.probe, nil)
	return n
}

func (n *IndexSpoolNode) less(a, b spoolItem) bool {
	k := len(n.keys)
	if a.probe {
		k = a.prefix
	}
	if b.probe && b.prefix < k {
		k = b.prefix
	}
	if c := rowenc.CompareRows(a.row, b.row, n.keys[:k]); c != 0 {
		return c < 0
	}
	if a.probe != b.probe {
		return a.probe
	}
	return a.seq < b.seq
}

// boundPrefix returns the number of leading key columns set in the bound.
func (n *IndexSpoolNode) boundPrefix(bound rowenc.Row) int {
	if bound == nil {
		return 0
	}
	for i, col := range n.keys {
		if bound[col] == nil {
			return i
		}
	}
	return len(n.keys)
}

// probe is the source of the inner scan: it collects the rows within the
// current bounds.
func (n *IndexSpoolNode) probe() (RowIterator, error) {
	var lower, upper rowenc.Row
	if n.lower != nil {
		lower = n.lower()
	}
	if n.upper != nil {
		upper = n.upper()
	}
	from := spoolItem{row: lower, probe: true, prefix: n.boundPrefix(lower)}
	upperKeys := n.keys[:n.boundPrefix(upper)]

	var rows []rowenc.Row
	n.idx.AscendGreaterOrEqual(from, func(it spoolItem) bool {
		if len(upperKeys) > 0 && rowenc.CompareRows(it.row, upper, upperKeys) > 0 {
			return false
		}
		rows = append(rows, it.row)
		return true
	})
	return &sliceIterator{rows: rows}, nil
}

// Register implements Node.
func (n *IndexSpoolNode) Register(sources ...Node) {
	n.register(n, sources)
}

// SetDownstream implements Node. The rows are pushed by the inner scan.
func (n *IndexSpoolNode) SetDownstream(d Downstream) {
	n.nodeBase.SetDownstream(d)
	n.scan.SetDownstream(d)
}

func (n *IndexSpoolNode) indexReady() bool {
	return n.waiting == notWaiting
}

// Request implements Node.
func (n *IndexSpoolNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.indexReady() {
		return n.scan.Request(cnt)
	}
	n.requested += cnt
	if n.waiting == 0 {
		return n.requestSource()
	}
	return nil
}

func (n *IndexSpoolNode) requestSource() error {
	n.waiting = n.ectx.Config.InBufferSize
	return n.source().Request(n.waiting)
}

// Push implements Downstream.
func (n *IndexSpoolNode) Push(row rowenc.Row) error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting <= 0 {
		return errPushWithoutDemand("index spool")
	}
	n.waiting--
	n.seq++
	n.idx.ReplaceOrInsert(spoolItem{row: row, seq: n.seq})
	if n.waiting == 0 {
		n.ectx.Execute(n.requestSource, n.OnError)
	}
	return nil
}

// End implements Downstream.
func (n *IndexSpoolNode) End() error {
	if n.closed {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.waiting = notWaiting
	if n.requested > 0 {
		cnt := n.requested
		n.requested = 0
		return n.scan.Request(cnt)
	}
	return nil
}

// Len returns the number of materialised rows.
func (n *IndexSpoolNode) Len() int {
	return n.idx.Len()
}

// Rewind implements Node. Only the output is reset: the index is kept and
// the source is not rewound.
func (n *IndexSpoolNode) Rewind() {
	n.scan.Rewind()
}

// Close implements Node.
func (n *IndexSpoolNode) Close() {
	n.nodeBase.Close()
	n.scan.Close()
	n.idx.Clear(false)
}
