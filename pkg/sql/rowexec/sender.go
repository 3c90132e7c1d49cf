// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
	"github.com/google/uuid"
)

// ExchangeService is the part of the exchange used by senders and
// receivers.
type ExchangeService interface {
	LocalNode() distribution.NodeID
	Send(ctx context.Context, to distribution.NodeID, msg exchange.Message) error
	RegisterInbox(in exchange.Inbox)
	UnregisterInbox(in exchange.Inbox)
	RegisterOutbox(out exchange.Outbox)
	UnregisterOutbox(out exchange.Outbox)
}

// SenderNode is the root of a remote fragment. It routes the rows of its
// source to the nodes of the consuming fragment, in batches of IOBatchSize
// rows. At most IOBatchCount batches per destination may be unacknowledged;
// when a destination runs out of credit the rows for it wait, and the
// source is not asked for more until they are gone.
type SenderNode struct {
	nodeBase

	exch       ExchangeService
	exchangeID int64
	dest       distribution.DestinationFunction
	onDone     func(error)

	buffers []*destBuffer
	byNode  map[distribution.NodeID]*destBuffer
	inBuf   ring.Buffer[rowenc.Row]
	waiting int
	done    bool
}

var _ Node = &SenderNode{}
var _ Downstream = &SenderNode{}
var _ exchange.Outbox = &SenderNode{}

type destBuffer struct {
	node distribution.NodeID
	curr []rowenc.Row
	// hwm is the id of the last batch sent, lwm the id of the last batch
	// acknowledged.
	hwm, lwm int
	lastSent bool
	closed   bool
}

func (b *destBuffer) finished() bool {
	return b.closed || (b.lastSent && b.lwm == b.hwm)
}

// NewSenderNode creates a sender. onDone is called once, with nil when all
// rows were delivered and acknowledged or every receiver closed, or with
// the error that failed the fragment.
func NewSenderNode(
	ectx *execinfra.ExecutionContext,
	rowType rowenc.RowType,
	exch ExchangeService,
	exchangeID int64,
	dest distribution.DestinationFunction,
	onDone func(error),
) *SenderNode {
	n := &SenderNode{
		nodeBase:   nodeBase{ectx: ectx, rowType: rowType},
		exch:       exch,
		exchangeID: exchangeID,
		dest:       dest,
		onDone:     onDone,
		byNode:     make(map[distribution.NodeID]*destBuffer),
	}
	for _, node := range dest.Targets() {
		b := &destBuffer{node: node}
		n.buffers = append(n.buffers, b)
		n.byNode[node] = b
	}
	return n
}

// QueryID implements exchange.Outbox.
func (n *SenderNode) QueryID() uuid.UUID {
	return n.ectx.QueryID
}

// ExchangeID implements exchange.Outbox.
func (n *SenderNode) ExchangeID() int64 {
	return n.exchangeID
}

// Register implements Node.
func (n *SenderNode) Register(sources ...Node) {
	n.register(n, sources)
}

// SetDownstream implements Node. Senders have no downstream.
func (n *SenderNode) SetDownstream(Downstream) {
	panic(errors.AssertionFailedf("sender cannot have a downstream"))
}

// Request implements Node. Senders drive themselves.
func (n *SenderNode) Request(int) error {
	return errors.AssertionFailedf("sender cannot be requested from")
}

// Start registers the sender and requests the first rows. It must run on
// the fragment's stripe.
func (n *SenderNode) Start() error {
	n.exch.RegisterOutbox(n)
	return n.flush()
}

// Push implements Downstream.
func (n *SenderNode) Push(row rowenc.Row) error {
	if n.closed || n.done {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if n.waiting <= 0 {
		return errPushWithoutDemand("sender")
	}
	n.waiting--
	n.inBuf.AddLast(row)
	return n.flush()
}

// End implements Downstream.
func (n *SenderNode) End() error {
	if n.closed || n.done {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.waiting = notWaiting
	return n.flush()
}

// OnError implements Downstream. It fails the fragment.
func (n *SenderNode) OnError(err error) {
	n.finish(err)
}

func (n *SenderNode) finish(err error) {
	if n.done {
		return
	}
	n.done = true
	n.exch.UnregisterOutbox(n)
	if err != nil {
		log.VEventf(n.ectx.Ctx(), 1, "sender failed: %v", err)
	} else {
		log.VEventf(n.ectx.Ctx(), 2, "sender done")
	}
	n.onDone(err)
}

// canTake returns whether every destination of the row has room for it.
func (n *SenderNode) canTake(dests []distribution.NodeID) bool {
	for _, node := range dests {
		b := n.byNode[node]
		if !b.closed && len(b.curr) >= n.ectx.Config.IOBatchSize {
			return false
		}
	}
	return true
}

func (n *SenderNode) flush() error {
	if n.closed || n.done {
		return nil
	}
	for {
		if err := n.sendBatches(); err != nil {
			return err
		}
		if n.inBuf.Len() == 0 {
			break
		}
		dests := n.dest.Destinations(n.inBuf.GetFirst())
		if !n.canTake(dests) {
			break
		}
		row := n.inBuf.PopFirst()
		for _, node := range dests {
			if b := n.byNode[node]; !b.closed {
				b.curr = append(b.curr, row)
			}
		}
	}
	if n.checkDone() {
		return nil
	}
	if n.inBuf.Len() == 0 && n.waiting == 0 {
		n.waiting = n.ectx.Config.InBufferSize
		return n.source().Request(n.waiting)
	}
	return nil
}

// sendBatches sends the batches the destinations have credit for.
func (n *SenderNode) sendBatches() error {
	ending := n.waiting == notWaiting && n.inBuf.Len() == 0
	for _, b := range n.buffers {
		for !b.closed && b.hwm-b.lwm < n.ectx.Config.IOBatchCount {
			full := len(b.curr) >= n.ectx.Config.IOBatchSize
			if !full && (!ending || b.lastSent) {
				break
			}
			if err := n.send(b, !full); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *SenderNode) send(b *destBuffer, last bool) error {
	b.hwm++
	msg := &exchange.QueryBatchMessage{
		QueryID:    n.ectx.QueryID,
		ExchangeID: n.exchangeID,
		BatchID:    b.hwm,
		Last:       last,
		Rows:       b.curr,
	}
	b.curr = nil
	b.lastSent = last
	n.ectx.Metrics.BatchesSent.Inc()
	return n.exch.Send(n.ectx.Ctx(), b.node, msg)
}

func (n *SenderNode) checkDone() bool {
	for _, b := range n.buffers {
		if !b.finished() {
			return false
		}
	}
	n.finish(nil)
	return true
}

// OnAcknowledge implements exchange.Outbox.
func (n *SenderNode) OnAcknowledge(node distribution.NodeID, batchID int) {
	n.ectx.Execute(func() error {
		b, ok := n.byNode[node]
		if !ok {
			return errors.AssertionFailedf("acknowledgement from unexpected node %s", node)
		}
		if batchID > b.lwm {
			b.lwm = batchID
		}
		return n.flush()
	}, n.OnError)
}

// OnInboxClosed implements exchange.Outbox. The destination gets no more
// rows.
func (n *SenderNode) OnInboxClosed(node distribution.NodeID) {
	n.ectx.Execute(func() error {
		if b, ok := n.byNode[node]; ok {
			b.closed = true
			b.curr = nil
		}
		return n.flush()
	}, n.OnError)
}

// OnNodeLeft implements exchange.Outbox.
func (n *SenderNode) OnNodeLeft(node distribution.NodeID) {
	if _, ok := n.byNode[node]; !ok {
		return
	}
	n.ectx.Execute(func() error {
		if b := n.byNode[node]; b.finished() {
			return nil
		}
		return execinfra.NewNodeLeftError(node)
	}, n.OnError)
}

// Rewind implements Node. Senders cannot be rewound.
func (n *SenderNode) Rewind() {
	n.OnError(errors.AssertionFailedf("sender cannot be rewound"))
}

// Close implements Node.
func (n *SenderNode) Close() {
	n.nodeBase.Close()
	n.exch.UnregisterOutbox(n)
}
