// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distsql

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/ring"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/google/uuid"
)

// queriesOnNode is a list of queries whose fragments on a node must be
// closed.
type queriesOnNode struct {
	queryIDs []uuid.UUID
	node     distribution.NodeID
}

// cancelFragmentsCoordinator delivers the close requests of finished
// queries to the nodes that ran their remote fragments. The requests are
// best effort: nobody waits for them and failures are only logged.
type cancelFragmentsCoordinator struct {
	send    func(ctx context.Context, to distribution.NodeID, msg exchange.Message) error
	cfg     *execinfra.Config
	metrics *execinfra.Metrics
	// every rate limits the warnings about failed close requests.
	every log.EveryN

	mu struct {
		syncutil.Mutex
		// closedQueriesByNode is a ring of lists of queries to close, one list
		// per node.
		closedQueriesByNode ring.Buffer[*queriesOnNode]
	}
	// workerWait is used to wake up the workers when there is work to do.
	workerWait chan struct{}
	stopper    chan struct{}
	wg         sync.WaitGroup
}

func newCancelFragmentsCoordinator(
	send func(ctx context.Context, to distribution.NodeID, msg exchange.Message) error,
	cfg *execinfra.Config,
	metrics *execinfra.Metrics,
) *cancelFragmentsCoordinator {
	return &cancelFragmentsCoordinator{
		send:       send,
		cfg:        cfg,
		metrics:    metrics,
		every:      log.Every(10 * time.Second),
		workerWait: make(chan struct{}, cfg.CancelWorkers),
		stopper:    make(chan struct{}),
	}
}

// start spins up the workers.
func (c *cancelFragmentsCoordinator) start(ctx context.Context) {
	for i := 0; i < c.cfg.CancelWorkers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.stopper:
					return
				case <-c.workerWait:
					for {
						toClose := c.getQueriesToClose()
						if toClose == nil {
							break
						}
						c.closeOnNode(ctx, toClose)
					}
				}
			}
		}()
	}
}

// stop waits for the workers. Requests still queued are dropped.
func (c *cancelFragmentsCoordinator) stop() {
	close(c.stopper)
	c.wg.Wait()
}

func (c *cancelFragmentsCoordinator) closeOnNode(ctx context.Context, toClose *queriesOnNode) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CancelRequestTimeout)
	defer cancel()
	for _, id := range toClose.queryIDs {
		if ctx.Err() != nil {
			break
		}
		err := c.send(ctx, toClose.node, &exchange.QueryCloseMessage{QueryID: id})
		if err != nil {
			c.metrics.CloseRequestsFailed.Inc()
			if c.every.ShouldLog() {
				log.Warningf(ctx, "failed to close query %s on %s: %v", id, toClose.node, err)
			}
			if errors.Is(err, exchange.ErrNodeUnreachable) {
				// The rest would fail the same way.
				return
			}
			continue
		}
		c.metrics.CloseRequestsSent.Inc()
	}
}

// getQueriesToClose returns the next node to send close requests to, if
// any.
func (c *cancelFragmentsCoordinator) getQueriesToClose() *queriesOnNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.closedQueriesByNode.Len() == 0 {
		return nil
	}
	return c.mu.closedQueriesByNode.PopFirst()
}

// addQueryToClose schedules close requests for the query on the given
// nodes and wakes up the workers.
func (c *cancelFragmentsCoordinator) addQueryToClose(
	queryID uuid.UUID, nodes []distribution.NodeID,
) {
	if len(nodes) == 0 {
		return
	}
	c.mu.Lock()
	for _, node := range nodes {
		found := false
		for j := 0; j < c.mu.closedQueriesByNode.Len(); j++ {
			if c.mu.closedQueriesByNode.Get(j).node == node {
				q := c.mu.closedQueriesByNode.Get(j)
				q.queryIDs = append(q.queryIDs, queryID)
				found = true
				break
			}
		}
		if !found {
			c.mu.closedQueriesByNode.AddLast(&queriesOnNode{
				queryIDs: []uuid.UUID{queryID},
				node:     node,
			})
		}
	}
	queueLength := c.mu.closedQueriesByNode.Len()
	c.mu.Unlock()

	// Notify the workers asynchronously that there are nodes to close
	// queries on.
	numWorkersToWakeUp := c.cfg.CancelWorkers
	if numWorkersToWakeUp > queueLength {
		numWorkersToWakeUp = queueLength
	}
	for i := 0; i < numWorkersToWakeUp; i++ {
		select {
		case c.workerWait <- struct{}{}:
		default:
			// All workers are busy or already woken up.
			return
		}
	}
}
