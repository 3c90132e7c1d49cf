// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/google/uuid"
)

// ReceiverNode is the leaf of a fragment reading the rows another fragment
// sends to it. Every source node gets its own buffer. Rows are taken from
// the sources in turn, in batch order per source, and a batch is
// acknowledged once it has been fully pushed. The node ends when every
// source delivered its last batch.
type ReceiverNode struct {
	nodeBase

	exch       ExchangeService
	exchangeID int64

	buffers    []*srcBuffer
	byNode     map[distribution.NodeID]*srcBuffer
	next       int
	requested  int
	inLoop     bool
	registered bool
	ended      bool
}

var _ Node = &ReceiverNode{}
var _ exchange.Inbox = &ReceiverNode{}

type srcBuffer struct {
	node    distribution.NodeID
	batches map[int]*receivedBatch
	// nextBatch is the id of the batch being consumed.
	nextBatch int
	pos       int
	ended     bool
}

type receivedBatch struct {
	last bool
	rows []rowenc.Row
}

// NewReceiverNode creates a receiver reading from the given source nodes.
func NewReceiverNode(
	ectx *execinfra.ExecutionContext,
	rowType rowenc.RowType,
	exch ExchangeService,
	exchangeID int64,
	sources []distribution.NodeID,
) *ReceiverNode {
	n := &ReceiverNode{
		nodeBase:   nodeBase{ectx: ectx, rowType: rowType},
		exch:       exch,
		exchangeID: exchangeID,
		byNode:     make(map[distribution.NodeID]*srcBuffer),
	}
	for _, node := range sources {
		b := &srcBuffer{node: node, batches: make(map[int]*receivedBatch), nextBatch: 1}
		n.buffers = append(n.buffers, b)
		n.byNode[node] = b
	}
	return n
}

// QueryID implements exchange.Inbox.
func (n *ReceiverNode) QueryID() uuid.UUID {
	return n.ectx.QueryID
}

// ExchangeID implements exchange.Inbox.
func (n *ReceiverNode) ExchangeID() int64 {
	return n.exchangeID
}

// Register implements Node. Receivers have no sources within the fragment.
func (n *ReceiverNode) Register(...Node) {}

// Request implements Node.
func (n *ReceiverNode) Request(cnt int) error {
	if cnt <= 0 {
		return errBadRequest(cnt)
	}
	if err := n.checkState(); err != nil {
		return err
	}
	if !n.registered {
		n.registered = true
		n.exch.RegisterInbox(n)
	}
	n.requested += cnt
	if !n.inLoop {
		n.ectx.Execute(n.push, n.OnError)
	}
	return nil
}

// OnBatch implements exchange.Inbox.
func (n *ReceiverNode) OnBatch(
	source distribution.NodeID, batchID int, last bool, rows []rowenc.Row,
) {
	n.ectx.Execute(func() error {
		if n.closed {
			return nil
		}
		b, ok := n.byNode[source]
		if !ok {
			return errors.AssertionFailedf("batch from unexpected node %s", source)
		}
		if batchID < b.nextBatch || b.batches[batchID] != nil {
			return errors.AssertionFailedf("duplicate batch %d from %s", batchID, source)
		}
		b.batches[batchID] = &receivedBatch{last: last, rows: rows}
		return n.push()
	}, n.OnError)
}

// OnNodeLeft implements exchange.Inbox.
func (n *ReceiverNode) OnNodeLeft(node distribution.NodeID) {
	if _, ok := n.byNode[node]; !ok {
		return
	}
	n.ectx.Execute(func() error {
		if n.closed || n.byNode[node].ended {
			return nil
		}
		return execinfra.NewNodeLeftError(node)
	}, n.OnError)
}

func (n *ReceiverNode) push() error {
	if n.closed || n.ended {
		return nil
	}
	if err := n.checkState(); err != nil {
		return err
	}
	n.inLoop = true
	defer func() { n.inLoop = false }()

	for n.requested > 0 {
		row, ok, err := n.nextRow()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n.requested--
		if err := n.downstream.Push(row); err != nil {
			return err
		}
	}
	if n.requested == 0 {
		return nil
	}
	if ended, err := n.allEnded(); err != nil || !ended {
		return err
	}
	n.requested = 0
	n.ended = true
	return n.downstream.End()
}

// nextRow takes a row from the next source that has one.
func (n *ReceiverNode) nextRow() (rowenc.Row, bool, error) {
	for i := 0; i < len(n.buffers); i++ {
		b := n.buffers[(n.next+i)%len(n.buffers)]
		if err := n.skipConsumed(b); err != nil {
			return nil, false, err
		}
		if batch := b.batches[b.nextBatch]; batch != nil && b.pos < len(batch.rows) {
			n.next = (n.next + i + 1) % len(n.buffers)
			row := batch.rows[b.pos]
			b.pos++
			return row, true, n.skipConsumed(b)
		}
	}
	return nil, false, nil
}

// skipConsumed acknowledges and drops the fully pushed batches at the head
// of the buffer.
func (n *ReceiverNode) skipConsumed(b *srcBuffer) error {
	for !b.ended {
		batch := b.batches[b.nextBatch]
		if batch == nil || b.pos < len(batch.rows) {
			return nil
		}
		delete(b.batches, b.nextBatch)
		if err := n.exch.Send(n.ectx.Ctx(), b.node, &exchange.QueryBatchAcknowledgeMessage{
			QueryID:    n.ectx.QueryID,
			ExchangeID: n.exchangeID,
			BatchID:    b.nextBatch,
		}); err != nil {
			return err
		}
		b.ended = batch.last
		b.nextBatch++
		b.pos = 0
	}
	return nil
}

func (n *ReceiverNode) allEnded() (bool, error) {
	for _, b := range n.buffers {
		if err := n.skipConsumed(b); err != nil || !b.ended {
			return false, err
		}
	}
	return true, nil
}

// Rewind implements Node. Receivers cannot be rewound.
func (n *ReceiverNode) Rewind() {
	n.OnError(errors.AssertionFailedf("receiver cannot be rewound"))
}

// Close implements Node. Sources that did not finish are told to stop.
func (n *ReceiverNode) Close() {
	if n.closed {
		return
	}
	n.nodeBase.Close()
	n.exch.UnregisterInbox(n)
	for _, b := range n.buffers {
		if b.ended {
			continue
		}
		if err := n.exch.Send(n.ectx.Ctx(), b.node, &exchange.InboxCloseMessage{
			QueryID:    n.ectx.QueryID,
			ExchangeID: n.exchangeID,
		}); err != nil {
			log.VEventf(n.ectx.Ctx(), 2, "failed to close the stream from %s: %v", b.node, err)
		}
	}
}
