// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package rowexec contains the row operators that execute a fragment.
//
// Rows flow from sources to downstreams by push, while demand flows the
// other way: a node never pushes more rows than its downstream requested,
// and a source never pushes more than it was asked for. End is pushed only
// against outstanding demand. All calls into the nodes of a fragment happen
// on the fragment's executor stripe, so nodes are not synchronised; the
// RootNode is the single exception as it is also called by the client.
package rowexec

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
)

// notWaiting is the value of a waiting counter once its source has ended.
const notWaiting = -1

// Node is an execution operator.
type Node interface {
	// Context returns the execution context of the node's fragment.
	Context() *execinfra.ExecutionContext
	// RowType describes the rows the node pushes.
	RowType() rowenc.RowType
	// Register wires the node's sources. The node becomes their downstream.
	Register(sources ...Node)
	// SetDownstream sets the receiver of the node's rows.
	SetDownstream(d Downstream)
	// Request asks for n more rows.
	Request(n int) error
	// Rewind resets the node so that it produces its rows again.
	Rewind()
	// Close releases the node and its sources.
	Close()
}

// Downstream receives the rows of a node.
type Downstream interface {
	Push(row rowenc.Row) error
	End() error
	OnError(err error)
}

// Comparator orders two rows.
type Comparator func(a, b rowenc.Row) int

// RowIterator iterates over rows held outside of the engine, such as a
// table's partitions on the local node.
type RowIterator interface {
	// Next returns the next row, or false once the rows are exhausted.
	Next() (rowenc.Row, bool, error)
	Close()
}

// RowSource opens a fresh iterator every time a scan starts over.
type RowSource func() (RowIterator, error)

// SliceSource returns a source over a fixed set of rows.
func SliceSource(rows []rowenc.Row) RowSource {
	return func() (RowIterator, error) {
		return &sliceIterator{rows: rows}, nil
	}
}

type sliceIterator struct {
	rows []rowenc.Row
	pos  int
}

func (it *sliceIterator) Next() (rowenc.Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	it.pos++
	return it.rows[it.pos-1], true, nil
}

func (it *sliceIterator) Close() {}

// nodeBase holds what every operator has.
type nodeBase struct {
	ectx       *execinfra.ExecutionContext
	rowType    rowenc.RowType
	sources    []Node
	downstream Downstream
	closed     bool
}

func (b *nodeBase) Context() *execinfra.ExecutionContext {
	return b.ectx
}

func (b *nodeBase) RowType() rowenc.RowType {
	return b.rowType
}

func (b *nodeBase) SetDownstream(d Downstream) {
	b.downstream = d
}

func (b *nodeBase) source() Node {
	return b.sources[0]
}

func (b *nodeBase) register(self Downstream, sources []Node) {
	b.sources = sources
	for _, s := range sources {
		s.SetDownstream(self)
	}
}

// Close closes the node and its sources. It is idempotent.
func (b *nodeBase) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.sources {
		s.Close()
	}
}

func (b *nodeBase) rewindSources() {
	for _, s := range b.sources {
		s.Rewind()
	}
}

// OnError forwards the error towards the root.
func (b *nodeBase) OnError(err error) {
	if b.downstream != nil {
		b.downstream.OnError(err)
	}
}

func (b *nodeBase) checkState() error {
	if b.ectx.IsCancelled() {
		return execinfra.NewQueryCancelledError()
	}
	return nil
}

func errPushWithoutDemand(node string) error {
	return errors.AssertionFailedf("%s received a row it did not request", node)
}

func errBadRequest(n int) error {
	return errors.AssertionFailedf("requested %d rows", n)
}
