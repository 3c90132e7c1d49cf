// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package distsql

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowexec"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/google/uuid"
)

// QueryState is the lifecycle state of a query on its coordinator.
type QueryState int

const (
	// StateInited is the state of a registered query that is not running yet.
	StateInited QueryState = iota
	// StateRunning is the state of a query whose fragments were started.
	StateRunning
	// StateClosing is the state of a query that is shutting down and waits
	// for its remote fragments to report back.
	StateClosing
	// StateClosed is the final state.
	StateClosed
)

func (s QueryState) String() string {
	switch s {
	case StateInited:
		return "INITED"
	case StateRunning:
		return "RUNNING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("QueryState(%d)", int(s))
	}
}

// RemoteFragmentKey identifies a fragment instance running on a node.
type RemoteFragmentKey struct {
	NodeID     distribution.NodeID
	FragmentID int64
}

// ErrRemoteFragment marks errors reported by remote fragments.
var ErrRemoteFragment = errors.New("remote fragment failed")

// RootQueryConfig are the collaborators of a RootQuery.
type RootQueryConfig struct {
	// Unregister removes the query from the registry of its coordinator.
	Unregister func(*RootQuery)
	// CloseRemotes asks the given nodes to drop the query's fragments. It
	// must not block.
	CloseRemotes func(queryID uuid.UUID, nodes []distribution.NodeID)
	Metrics      *execinfra.Metrics
	Knobs        *execinfra.TestingKnobs
}

// RootQuery is the coordinator-side state of a query. It owns the root
// node read by the client and tracks the remote fragments that have not
// reported back yet. Teardown runs exactly once, whatever mix of client
// close, errors, responses and departed nodes triggers it.
//
// Lock ordering: RootQuery.mu is never held while calling into the root
// node or any other component that could call back into the query.
type RootQuery struct {
	id    uuid.UUID
	local distribution.NodeID
	ctx   context.Context
	cfg   RootQueryConfig

	mu struct {
		syncutil.Mutex
		state   QueryState
		root    *rowexec.RootNode
		local   []*execinfra.ExecutionContext
		waiting map[RemoteFragmentKey]struct{}
		// remotes are the nodes that run fragments of the query.
		remotes map[distribution.NodeID]struct{}
		// running is set once the query was counted as running.
		running bool
	}
}

// NewRootQuery creates a query in the INITED state.
func NewRootQuery(
	ctx context.Context, id uuid.UUID, local distribution.NodeID, cfg RootQueryConfig,
) *RootQuery {
	if cfg.Metrics == nil {
		cfg.Metrics = execinfra.NewMetrics(nil)
	}
	if cfg.Knobs == nil {
		cfg.Knobs = &execinfra.TestingKnobs{}
	}
	q := &RootQuery{id: id, local: local, ctx: ctx, cfg: cfg}
	q.mu.waiting = make(map[RemoteFragmentKey]struct{})
	q.mu.remotes = make(map[distribution.NodeID]struct{})
	return q
}

// ID returns the query id.
func (q *RootQuery) ID() uuid.UUID {
	return q.id
}

// State returns the current state.
func (q *RootQuery) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.state
}

// IsCompleted returns whether the query reached CLOSED.
func (q *RootQuery) IsCompleted() bool {
	return q.State() == StateClosed
}

// HasParticipant returns whether the node runs fragments of the query.
func (q *RootQuery) HasParticipant(node distribution.NodeID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.mu.remotes[node]
	return ok
}

// Iterator returns the root node the client reads the rows from, or nil
// before Run.
func (q *RootQuery) Iterator() *rowexec.RootNode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.root
}

// Run moves the query to RUNNING. The root node runs fragment 0 on the
// coordinator with the given context; every instance of the other
// fragments is expected to report back through OnResponse.
func (q *RootQuery) Run(
	ectx *execinfra.ExecutionContext, plan *physicalplan.MultiStepPlan, root *rowexec.RootNode,
) error {
	q.mu.Lock()
	if q.mu.state != StateInited {
		state := q.mu.state
		q.mu.Unlock()
		if state == StateClosed || state == StateClosing {
			return execinfra.NewQueryCancelledError()
		}
		return errors.AssertionFailedf("query %s cannot run in state %s", q.id, state)
	}
	q.mu.root = root
	q.mu.local = append(q.mu.local, ectx)
	for _, f := range plan.Fragments {
		if !f.IsRemote() {
			continue
		}
		for _, node := range f.Mapping().NodeIDs() {
			q.mu.waiting[RemoteFragmentKey{NodeID: node, FragmentID: f.ID}] = struct{}{}
			q.mu.remotes[node] = struct{}{}
		}
	}
	q.mu.state = StateRunning
	q.mu.running = true
	q.mu.Unlock()

	q.cfg.Metrics.QueriesStarted.Inc()
	q.cfg.Metrics.QueriesRunning.Inc()
	log.VEventf(ectx.Ctx(), 1, "query running")
	return nil
}

// OnResponse records that a remote fragment finished. A non-nil error
// fails the query.
func (q *RootQuery) OnResponse(node distribution.NodeID, fragmentID int64, err error) {
	q.mu.Lock()
	key := RemoteFragmentKey{NodeID: node, FragmentID: fragmentID}
	_, known := q.mu.waiting[key]
	delete(q.mu.waiting, key)
	state := q.mu.state
	q.mu.Unlock()

	if !known {
		log.VEventf(q.ctx, 2, "ignoring response of fragment %d on %s", fragmentID, node)
		return
	}
	if err != nil {
		q.OnError(errors.Mark(
			errors.Wrapf(err, "fragment %d failed on node %s", fragmentID, node), ErrRemoteFragment))
		return
	}
	if state == StateClosing {
		q.TryClose()
	}
}

// OnNodeLeft fails every fragment the departed node still had to report
// on.
func (q *RootQuery) OnNodeLeft(node distribution.NodeID) {
	q.mu.Lock()
	var frags []int64
	for key := range q.mu.waiting {
		if key.NodeID == node {
			frags = append(frags, key.FragmentID)
		}
	}
	q.mu.Unlock()

	sort.Slice(frags, func(i, j int) bool { return frags[i] < frags[j] })
	for _, id := range frags {
		q.OnResponse(node, id, execinfra.NewNodeLeftError(node))
	}
}

// OnError fails the query. The client sees err on its next read unless an
// earlier error was recorded.
func (q *RootQuery) OnError(err error) {
	root := q.Iterator()
	if root != nil {
		// The root calls back TryClose.
		root.OnError(err)
	}
	q.TryClose()
}

// Cancel fails the query with a cancellation error.
func (q *RootQuery) Cancel() {
	q.OnError(execinfra.NewQueryCancelledError())
}

// TryClose advances the query towards CLOSED. A running query stops its
// local fragments and moves to CLOSING; it becomes CLOSED once no remote
// fragment is outstanding. The CLOSED side effects run exactly once.
func (q *RootQuery) TryClose() {
	q.mu.Lock()
	if q.mu.state == StateClosed {
		q.mu.Unlock()
		return
	}
	root := q.advanceLocked()
	closed := q.mu.state == StateClosed
	state := q.mu.state
	q.mu.Unlock()

	log.VEventf(q.ctx, 2, "query %s moved to %s", q.id, state)
	if root != nil {
		root.CloseInternal()
	}
	if closed {
		q.onClosed()
	}
}

// advanceLocked moves the query one step towards CLOSED and returns the
// root node to stop when the query just left RUNNING.
func (q *RootQuery) advanceLocked() *rowexec.RootNode {
	q.mu.AssertHeld()
	var root *rowexec.RootNode
	switch q.mu.state {
	case StateInited:
		q.mu.state = StateClosed
	case StateRunning:
		q.mu.state = StateClosing
		root = q.mu.root
	}
	if q.mu.state == StateClosing && len(q.mu.waiting) == 0 {
		q.mu.state = StateClosed
	}
	return root
}

// onClosed releases everything the query holds. Only the caller that moved
// the query to CLOSED gets here.
func (q *RootQuery) onClosed() {
	q.mu.Lock()
	local := q.mu.local
	root := q.mu.root
	running := q.mu.running
	remotes := make([]distribution.NodeID, 0, len(q.mu.remotes))
	for node := range q.mu.remotes {
		if node != q.local {
			remotes = append(remotes, node)
		}
	}
	q.mu.Unlock()
	sort.Slice(remotes, func(i, j int) bool { return remotes[i] < remotes[j] })

	if q.cfg.Unregister != nil {
		q.cfg.Unregister(q)
	}
	if len(remotes) > 0 {
		if fn := q.cfg.Knobs.BeforeCloseRemotes; fn != nil {
			fn(q.id, remotes)
		}
		if q.cfg.CloseRemotes != nil {
			q.cfg.CloseRemotes(q.id, remotes)
		}
	}
	for _, ectx := range local {
		ectx := ectx
		ectx.Execute(func() error {
			ectx.Cancel()
			return nil
		}, func(error) {})
	}

	q.cfg.Metrics.QueriesClosed.Inc()
	if running {
		q.cfg.Metrics.QueriesRunning.Dec()
	}
	if root != nil && root.Err() != nil {
		q.cfg.Metrics.QueriesFailed.Inc()
	}
	log.VEventf(q.ctx, 1, "query %s closed", q.id)
}

// QueryRegistry holds the queries coordinated by a node.
type QueryRegistry struct {
	mu struct {
		syncutil.RWMutex
		queries map[uuid.UUID]*RootQuery
	}
}

// NewQueryRegistry creates an empty registry.
func NewQueryRegistry() *QueryRegistry {
	r := &QueryRegistry{}
	r.mu.queries = make(map[uuid.UUID]*RootQuery)
	return r
}

// Register adds a query.
func (r *QueryRegistry) Register(q *RootQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.queries[q.ID()] = q
}

// Unregister removes a query.
func (r *QueryRegistry) Unregister(q *RootQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mu.queries, q.ID())
}

// Query returns the query with the given id, or nil.
func (r *QueryRegistry) Query(id uuid.UUID) *RootQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mu.queries[id]
}

// Queries returns the registered queries.
func (r *QueryRegistry) Queries() []*RootQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*RootQuery, 0, len(r.mu.queries))
	for _, q := range r.mu.queries {
		res = append(res, q)
	}
	return res
}
