// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
)

// RootNode hands the rows of the coordinator's fragment over to the client.
// Its source side runs on the fragment's stripe like every other node; its
// iterator side is called by the client goroutine, which blocks until rows,
// the end of the rows or an error show up.
//
// The client's consumption drives the demand: a window of InBufferSize rows
// is requested whenever the buffer runs dry. A failure anywhere in the query
// discards the buffered rows, so the next HasNext returns the error.
type RootNode struct {
	nodeBase

	onClose func()
	// autoClose closes the node once the rows are exhausted.
	autoClose bool

	mu struct {
		syncutil.Mutex
		buf     ring.Buffer[rowenc.Row]
		waiting int
		err     error
		closed  bool
	}
	cond *sync.Cond
}

var _ Node = &RootNode{}
var _ Downstream = &RootNode{}

// NewRootNode creates the root of a query. onClose is called every time the
// node is closed, by the client or because of an error.
func NewRootNode(
	ectx *execinfra.ExecutionContext, rowType rowenc.RowType, onClose func(),
) *RootNode {
	n := &RootNode{
		nodeBase:  nodeBase{ectx: ectx, rowType: rowType},
		onClose:   onClose,
		autoClose: true,
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Register implements Node.
func (n *RootNode) Register(sources ...Node) {
	n.register(n, sources)
}

// SetDownstream implements Node. The root has no downstream.
func (n *RootNode) SetDownstream(Downstream) {
	panic(errors.AssertionFailedf("root node cannot have a downstream"))
}

// Request implements Node. The root requests on its own.
func (n *RootNode) Request(int) error {
	return errors.AssertionFailedf("root node cannot be requested from")
}

// Push implements Downstream.
func (n *RootNode) Push(row rowenc.Row) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mu.closed || n.mu.err != nil {
		return nil
	}
	if n.mu.waiting <= 0 {
		return errPushWithoutDemand("root")
	}
	n.mu.waiting--
	n.mu.buf.AddLast(row)
	n.cond.Signal()
	return nil
}

// End implements Downstream.
func (n *RootNode) End() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mu.waiting = notWaiting
	n.cond.Signal()
	return nil
}

// OnError implements Downstream. Only the first error is kept.
func (n *RootNode) OnError(err error) {
	n.mu.Lock()
	if n.mu.closed && n.mu.err == nil {
		// Errors raised by the teardown of a closed query are not interesting.
		n.mu.Unlock()
		return
	}
	if n.mu.err == nil {
		n.mu.err = err
	}
	n.mu.buf.Reset()
	n.cond.Broadcast()
	n.mu.Unlock()

	n.Close()
}

// HasNext blocks until a row is available, returning false once the rows
// are exhausted or the query failed.
func (n *RootNode) HasNext() (bool, error) {
	n.mu.Lock()
	for {
		if n.mu.err != nil {
			err := n.mu.err
			n.mu.Unlock()
			return false, err
		}
		if n.mu.buf.Len() > 0 {
			n.mu.Unlock()
			return true, nil
		}
		if n.mu.waiting == notWaiting || n.mu.closed {
			n.mu.Unlock()
			if n.autoClose {
				n.Close()
			}
			return false, nil
		}
		if n.mu.waiting == 0 {
			n.mu.waiting = n.ectx.Config.InBufferSize
			cnt := n.mu.waiting
			n.ectx.Execute(func() error { return n.source().Request(cnt) }, n.OnError)
		}
		n.cond.Wait()
	}
}

// Next returns the next row. It must follow a HasNext that returned true.
func (n *RootNode) Next() (rowenc.Row, error) {
	ok, err := n.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.AssertionFailedf("no more rows")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mu.buf.PopFirst(), nil
}

// Err returns the error the query failed with, if any.
func (n *RootNode) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mu.err
}

// Close implements Node. It can be called any number of times, from any
// goroutine.
func (n *RootNode) Close() {
	n.closeInternal()
	if n.onClose != nil {
		n.onClose()
	}
}

// CloseInternal stops the node and schedules the closing of the fragment's
// nodes, without notifying the owner of the node.
func (n *RootNode) CloseInternal() {
	n.closeInternal()
}

func (n *RootNode) closeInternal() {
	n.mu.Lock()
	if n.mu.closed {
		n.mu.Unlock()
		return
	}
	n.mu.closed = true
	n.mu.buf.Reset()
	n.cond.Broadcast()
	n.mu.Unlock()

	n.ectx.Execute(func() error {
		n.nodeBase.Close()
		return nil
	}, n.OnError)
}

// Rewind implements Node. Only a RewindableRootNode can be rewound.
func (n *RootNode) Rewind() {
	n.OnError(errors.AssertionFailedf("root node cannot be rewound"))
}

// RewindableRootNode is a root that can produce its rows again. It does not
// close itself when the rows are exhausted.
type RewindableRootNode struct {
	*RootNode
}

// NewRewindableRootNode creates a rewindable root.
func NewRewindableRootNode(
	ectx *execinfra.ExecutionContext, rowType rowenc.RowType, onClose func(),
) *RewindableRootNode {
	n := NewRootNode(ectx, rowType, onClose)
	n.autoClose = false
	return &RewindableRootNode{RootNode: n}
}

// Rewind starts the rows over. It must be called after HasNext returned
// false; rows still in flight would otherwise leak into the next pass.
func (n *RewindableRootNode) Rewind() {
	n.mu.Lock()
	if n.mu.closed || n.mu.err != nil {
		n.mu.Unlock()
		return
	}
	n.mu.waiting = 0
	n.mu.buf.Reset()
	n.mu.Unlock()

	n.ectx.Execute(func() error {
		n.rewindSources()
		return nil
	}, n.OnError)
}
