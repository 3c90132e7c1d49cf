// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package exchange

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/circuit"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/google/uuid"
)

// Inbox is the receiving end of an exchange on one node.
type Inbox interface {
	QueryID() uuid.UUID
	ExchangeID() int64
	// OnBatch hands over a batch sent by a source node. Batches of one
	// source may arrive out of order when they were buffered before the
	// inbox registered.
	OnBatch(source distribution.NodeID, batchID int, last bool, rows []rowenc.Row)
	OnNodeLeft(node distribution.NodeID)
}

// Outbox is the sending end of an exchange on one node.
type Outbox interface {
	QueryID() uuid.UUID
	ExchangeID() int64
	OnAcknowledge(node distribution.NodeID, batchID int)
	OnInboxClosed(node distribution.NodeID)
	OnNodeLeft(node distribution.NodeID)
}

type boxKey struct {
	queryID    uuid.UUID
	exchangeID int64
}

type pendingBatch struct {
	source distribution.NodeID
	msg    *QueryBatchMessage
}

// Service is a node's end of the transport. It routes exchange traffic to
// the inboxes and outboxes registered on the node and hands every other
// message to the handler installed with SetHandler. Sends go through one
// circuit breaker per destination: once a send to a node failed, sends to
// it fail fast until the node is seen alive again.
type Service struct {
	local     distribution.NodeID
	transport Transport
	topology  distribution.Topology
	metrics   *execinfra.Metrics
	handler   Handler

	mu struct {
		syncutil.Mutex
		inboxes  map[boxKey]Inbox
		outboxes map[boxKey]Outbox
		// pending holds batches that arrived before their inbox registered.
		pending map[boxKey][]pendingBatch
		// closed remembers unregistered inboxes so that late batches are
		// refused instead of buffered.
		closed   map[boxKey]struct{}
		breakers map[distribution.NodeID]*circuit.Breaker
	}
}

// NewService creates the service of a node and registers it with the
// transport.
func NewService(
	transport Transport, topology distribution.Topology, metrics *execinfra.Metrics,
) *Service {
	s := &Service{
		local:     topology.LocalNode(),
		transport: transport,
		topology:  topology,
		metrics:   metrics,
	}
	s.mu.inboxes = make(map[boxKey]Inbox)
	s.mu.outboxes = make(map[boxKey]Outbox)
	s.mu.pending = make(map[boxKey][]pendingBatch)
	s.mu.closed = make(map[boxKey]struct{})
	s.mu.breakers = make(map[distribution.NodeID]*circuit.Breaker)
	transport.Register(s.local, s.handle)
	return s
}

// LocalNode returns the node the service runs on.
func (s *Service) LocalNode() distribution.NodeID {
	return s.local
}

// SetHandler installs the handler of the messages that are not exchange
// traffic. It must be called before the first message arrives.
func (s *Service) SetHandler(h Handler) {
	s.handler = h
}

func (s *Service) handle(ctx context.Context, from distribution.NodeID, msg Message) {
	switch m := msg.(type) {
	case *QueryBatchMessage:
		s.onBatch(ctx, from, m)
	case *QueryBatchAcknowledgeMessage:
		if out := s.outbox(boxKey{m.QueryID, m.ExchangeID}); out != nil {
			out.OnAcknowledge(from, m.BatchID)
		}
	case *InboxCloseMessage:
		if out := s.outbox(boxKey{m.QueryID, m.ExchangeID}); out != nil {
			out.OnInboxClosed(from)
		}
	default:
		if s.handler == nil {
			log.Warningf(ctx, "no handler for %s from %s", msg, from)
			return
		}
		s.handler(ctx, from, msg)
	}
}

func (s *Service) onBatch(ctx context.Context, from distribution.NodeID, m *QueryBatchMessage) {
	s.metrics.BatchesReceived.Inc()
	key := boxKey{m.QueryID, m.ExchangeID}
	s.mu.Lock()
	in, ok := s.mu.inboxes[key]
	if !ok {
		if _, closed := s.mu.closed[key]; closed {
			s.mu.Unlock()
			log.VEventf(ctx, 2, "refusing %s from %s: inbox closed", m, from)
			if err := s.Send(ctx, from, &InboxCloseMessage{QueryID: m.QueryID, ExchangeID: m.ExchangeID}); err != nil {
				log.VEventf(ctx, 2, "failed to refuse batch: %v", err)
			}
			return
		}
		s.mu.pending[key] = append(s.mu.pending[key], pendingBatch{source: from, msg: m})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	in.OnBatch(from, m.BatchID, m.Last, m.Rows)
}

func (s *Service) outbox(key boxKey) Outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.outboxes[key]
}

// RegisterInbox makes the inbox receive its batches, including the ones
// that arrived earlier.
func (s *Service) RegisterInbox(in Inbox) {
	key := boxKey{in.QueryID(), in.ExchangeID()}
	s.mu.Lock()
	s.mu.inboxes[key] = in
	pending := s.mu.pending[key]
	delete(s.mu.pending, key)
	s.mu.Unlock()
	for _, p := range pending {
		in.OnBatch(p.source, p.msg.BatchID, p.msg.Last, p.msg.Rows)
	}
}

// UnregisterInbox stops the delivery of batches to the inbox.
func (s *Service) UnregisterInbox(in Inbox) {
	key := boxKey{in.QueryID(), in.ExchangeID()}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.inboxes, key)
	delete(s.mu.pending, key)
	s.mu.closed[key] = struct{}{}
}

// RegisterOutbox makes the outbox receive acknowledgements.
func (s *Service) RegisterOutbox(out Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.outboxes[boxKey{out.QueryID(), out.ExchangeID()}] = out
}

// UnregisterOutbox stops the delivery of acknowledgements to the outbox.
func (s *Service) UnregisterOutbox(out Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.outboxes, boxKey{out.QueryID(), out.ExchangeID()})
}

// ForgetQuery drops what the service still holds for a query that has no
// fragment left on this node.
func (s *Service) ForgetQuery(queryID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.mu.pending {
		if key.queryID == queryID {
			delete(s.mu.pending, key)
		}
	}
	for key := range s.mu.closed {
		if key.queryID == queryID {
			delete(s.mu.closed, key)
		}
	}
}

// OnNodeLeft notifies every registered inbox and outbox.
func (s *Service) OnNodeLeft(node distribution.NodeID) {
	s.mu.Lock()
	inboxes := make([]Inbox, 0, len(s.mu.inboxes))
	for _, in := range s.mu.inboxes {
		inboxes = append(inboxes, in)
	}
	outboxes := make([]Outbox, 0, len(s.mu.outboxes))
	for _, out := range s.mu.outboxes {
		outboxes = append(outboxes, out)
	}
	s.mu.Unlock()
	for _, in := range inboxes {
		in.OnNodeLeft(node)
	}
	for _, out := range outboxes {
		out.OnNodeLeft(node)
	}
}

// Send sends a message to a node.
func (s *Service) Send(ctx context.Context, to distribution.NodeID, msg Message) error {
	br := s.breaker(to)
	if err := br.Signal().Err(); err != nil {
		return err
	}
	if err := s.transport.Send(ctx, s.local, to, msg); err != nil {
		br.Report(err)
		return errors.Wrapf(err, "sending %s to %s", msg, to)
	}
	return nil
}

func (s *Service) breaker(node distribution.NodeID) *circuit.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.mu.breakers[node]
	if !ok {
		br = circuit.NewBreaker(circuit.Options{
			Name: string(node),
			Probe: func(report func(error), done func()) {
				defer done()
				if s.topology.Alive(node) {
					report(nil)
				} else {
					report(unreachable(node))
				}
			},
			EventHandler: breakerEvents{s},
		})
		s.mu.breakers[node] = br
	}
	return br
}

type breakerEvents struct {
	s *Service
}

func (e breakerEvents) OnTrip(b *circuit.Breaker, prev, cur error) {
	if prev == nil {
		e.s.metrics.BreakerTrips.Inc()
		log.Warningf(context.Background(), "%s: %v", b, cur)
	}
}

func (e breakerEvents) OnReset(b *circuit.Breaker) {
	log.Infof(context.Background(), "breaker %s reset", b)
}
