// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package exchange

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
)

// ErrNodeUnreachable marks errors of sends that could not reach their
// destination.
var ErrNodeUnreachable = errors.New("node unreachable")

// Handler receives the messages sent to a node.
type Handler func(ctx context.Context, from distribution.NodeID, msg Message)

// Transport delivers messages between nodes. Messages from one node to
// another are delivered in the order they were sent. Send must not block on
// the destination.
type Transport interface {
	Send(ctx context.Context, from, to distribution.NodeID, msg Message) error
	Register(node distribution.NodeID, h Handler)
}

// LoopbackTransport connects nodes running in the same process. Every node
// has a delivery goroutine draining its inbound queue.
type LoopbackTransport struct {
	mu struct {
		syncutil.Mutex
		nodes map[distribution.NodeID]*loopbackNode
	}
	wg sync.WaitGroup
}

var _ Transport = &LoopbackTransport{}

type envelope struct {
	from distribution.NodeID
	msg  Message
}

type loopbackNode struct {
	id      distribution.NodeID
	handler Handler
	mu      struct {
		syncutil.Mutex
		queue   ring.Buffer[envelope]
		dead    bool
		stopped bool
	}
	cond *sync.Cond
}

// NewLoopbackTransport creates a transport without nodes.
func NewLoopbackTransport() *LoopbackTransport {
	t := &LoopbackTransport{}
	t.mu.nodes = make(map[distribution.NodeID]*loopbackNode)
	return t
}

// Register implements Transport. It starts the node's delivery goroutine.
func (t *LoopbackTransport) Register(node distribution.NodeID, h Handler) {
	n := &loopbackNode{id: node, handler: h}
	n.cond = sync.NewCond(&n.mu)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.mu.nodes[node]; ok {
		panic(errors.AssertionFailedf("node %s registered twice", node))
	}
	t.mu.nodes[node] = n
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		n.deliver()
	}()
}

func (n *loopbackNode) deliver() {
	ctx := context.Background()
	for {
		n.mu.Lock()
		for n.mu.queue.Len() == 0 && !n.mu.stopped && !n.mu.dead {
			n.cond.Wait()
		}
		if n.mu.dead || n.mu.queue.Len() == 0 {
			n.mu.Unlock()
			return
		}
		e := n.mu.queue.PopFirst()
		n.mu.Unlock()
		n.handler(ctx, e.from, e.msg)
	}
}

func (n *loopbackNode) alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.mu.dead
}

func (t *LoopbackTransport) node(id distribution.NodeID) *loopbackNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mu.nodes[id]
}

func unreachable(node distribution.NodeID) error {
	return errors.Mark(errors.Newf("node %s is unreachable", node), ErrNodeUnreachable)
}

// Send implements Transport.
func (t *LoopbackTransport) Send(
	ctx context.Context, from, to distribution.NodeID, msg Message,
) error {
	if src := t.node(from); src == nil || !src.alive() {
		return unreachable(from)
	}
	dst := t.node(to)
	if dst == nil {
		return unreachable(to)
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.mu.dead || dst.mu.stopped {
		return unreachable(to)
	}
	dst.mu.queue.AddLast(envelope{from: from, msg: msg})
	dst.cond.Signal()
	return nil
}

// Kill simulates the crash of a node: its queued messages are dropped and
// sends from or to it fail.
func (t *LoopbackTransport) Kill(node distribution.NodeID) {
	n := t.node(node)
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mu.dead = true
	n.mu.queue.Reset()
	n.cond.Broadcast()
}

// Stop delivers the queued messages and stops the delivery goroutines.
func (t *LoopbackTransport) Stop() {
	t.mu.Lock()
	nodes := make([]*loopbackNode, 0, len(t.mu.nodes))
	for _, n := range t.mu.nodes {
		nodes = append(nodes, n)
	}
	t.mu.Unlock()
	for _, n := range nodes {
		n.mu.Lock()
		n.mu.stopped = true
		n.cond.Broadcast()
		n.mu.Unlock()
	}
	t.wg.Wait()
}
