// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package distsql runs distributed queries. The node a query is submitted
// to coordinates it: it places the fragments of the plan, runs the root
// fragment itself and asks the other nodes to run the rest. The fragments
// exchange rows through the exchange service of their nodes.
package distsql

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/exchange"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/physicalplan"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowexec"
	"github.com/dmekhanikov/gridsql/pkg/util/log"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/google/uuid"
)

// ServerConfig are the dependencies of an ExecutionService.
type ServerConfig struct {
	Topology distribution.Topology
	Exchange *exchange.Service
	Tables   TableResolver
	Config   *execinfra.Config
	Metrics  *execinfra.Metrics
	Knobs    *execinfra.TestingKnobs
}

// ExecutionService is the per-node entry point of query execution. It
// coordinates the queries submitted to the node and runs the fragments
// other coordinators send to it.
type ExecutionService struct {
	local    distribution.NodeID
	ambient  context.Context
	cfg      ServerConfig
	registry *distribution.Registry
	executor *execinfra.StripedExecutor
	queries  *QueryRegistry
	closer   *cancelFragmentsCoordinator
	// every rate limits the warnings about undelivered responses.
	every log.EveryN

	mu struct {
		syncutil.Mutex
		// fragments are the fragments run on behalf of other coordinators,
		// by query.
		fragments map[uuid.UUID]map[int64]*remoteFragment
		stopped   bool
	}
}

// remoteFragment is a fragment instance started by a QueryStartRequest.
type remoteFragment struct {
	ectx   *execinfra.ExecutionContext
	sender *rowexec.SenderNode
	once   sync.Once
}

// NewExecutionService creates the service of a node and installs it as the
// handler of the node's query messages.
func NewExecutionService(ctx context.Context, cfg ServerConfig) *ExecutionService {
	if cfg.Config == nil {
		c := execinfra.DefaultConfig()
		cfg.Config = &c
	}
	if cfg.Metrics == nil {
		cfg.Metrics = execinfra.NewMetrics(nil)
	}
	if cfg.Knobs == nil {
		cfg.Knobs = &execinfra.TestingKnobs{}
	}
	local := cfg.Topology.LocalNode()
	s := &ExecutionService{
		local:    local,
		ambient:  logtags.AddTag(ctx, "node", local),
		cfg:      cfg,
		registry: distribution.NewRegistry(cfg.Topology),
		executor: execinfra.NewStripedExecutor(cfg.Config.ExecutorStripes),
		queries:  NewQueryRegistry(),
		every:    log.Every(10 * time.Second),
	}
	s.mu.fragments = make(map[uuid.UUID]map[int64]*remoteFragment)
	s.closer = newCancelFragmentsCoordinator(cfg.Exchange.Send, cfg.Config, cfg.Metrics)
	s.closer.start(s.ambient)
	cfg.Exchange.SetHandler(s.handle)
	return s
}

// LocalNode returns the node the service runs on.
func (s *ExecutionService) LocalNode() distribution.NodeID {
	return s.local
}

// Queries returns the registry of the queries coordinated by the node.
func (s *ExecutionService) Queries() *QueryRegistry {
	return s.queries
}

// RunningFragments returns the number of fragments the node runs on
// behalf of coordinators.
func (s *ExecutionService) RunningFragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, frags := range s.mu.fragments {
		n += len(frags)
	}
	return n
}

// Stop shuts the service down. Queries still running are cancelled. Stop
// is idempotent.
func (s *ExecutionService) Stop() {
	s.mu.Lock()
	if s.mu.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.stopped = true
	s.mu.Unlock()
	for _, q := range s.queries.Queries() {
		q.Cancel()
	}
	s.closer.stop()
	s.executor.Stop()
}

func (s *ExecutionService) newContext(
	queryID uuid.UUID, fragmentID int64, origin distribution.NodeID, desc physicalplan.Description,
) *execinfra.ExecutionContext {
	return execinfra.NewExecutionContext(s.ambient, execinfra.ExecutionContextArgs{
		QueryID:         queryID,
		FragmentID:      fragmentID,
		OriginatingNode: origin,
		LocalNode:       s.local,
		RowType:         desc.Root.RowType(),
		Config:          s.cfg.Config,
		Metrics:         s.cfg.Metrics,
		Executor:        s.executor,
	})
}

// ExecutePlan places the plan on the current topology, starts its
// fragments and returns the running query. The client reads the rows
// through the query's Iterator.
func (s *ExecutionService) ExecutePlan(
	ctx context.Context, plan *physicalplan.MultiStepPlan,
) (*RootQuery, error) {
	s.mu.Lock()
	stopped := s.mu.stopped
	s.mu.Unlock()
	if stopped {
		return nil, errors.New("execution service is stopped")
	}

	id := uuid.New()
	q := NewRootQuery(s.ambient, id, s.local, RootQueryConfig{
		Unregister:   s.unregisterQuery,
		CloseRemotes: s.closer.addQueryToClose,
		Metrics:      s.cfg.Metrics,
		Knobs:        s.cfg.Knobs,
	})
	s.queries.Register(q)

	topVer := s.cfg.Topology.Version()
	if err := plan.Init(physicalplan.PlanningContext{
		Registry:        s.registry,
		TopologyVersion: topVer,
	}); err != nil {
		q.TryClose()
		return nil, err
	}
	descs := make([]physicalplan.Description, len(plan.Fragments))
	for i, f := range plan.Fragments {
		var err error
		if descs[i], err = f.Describe(); err != nil {
			q.TryClose()
			return nil, err
		}
	}

	ectx := s.newContext(id, descs[0].ID, s.local, descs[0])
	log.VEventf(ectx.Ctx(), 1, "executing plan with %d fragments at topology version %d",
		len(plan.Fragments), topVer)
	root := rowexec.NewRootNode(ectx, plan.RowType(), q.TryClose)
	b := &fragmentBuilder{
		ectx:     ectx,
		desc:     descs[0],
		tables:   s.cfg.Tables,
		exch:     s.cfg.Exchange,
		topology: s.cfg.Topology,
	}
	input, err := b.build()
	if err != nil {
		q.TryClose()
		return nil, err
	}
	root.Register(input)
	if err := q.Run(ectx, plan, root); err != nil {
		return nil, err
	}

	for _, desc := range descs[1:] {
		for _, node := range desc.Mapping.NodeIDs() {
			req := &exchange.QueryStartRequest{
				QueryID:         id,
				OriginatingNode: s.local,
				TopologyVersion: topVer,
				Fragment:        desc,
			}
			if err := s.cfg.Exchange.Send(ctx, node, req); err != nil {
				q.OnResponse(node, desc.ID, err)
			}
		}
	}
	return q, nil
}

// CancelQuery cancels a query coordinated by the node. It reports whether
// the query was found.
func (s *ExecutionService) CancelQuery(id uuid.UUID) bool {
	q := s.queries.Query(id)
	if q == nil {
		return false
	}
	q.Cancel()
	return true
}

// OnNodeLeft must be called when a node leaves the cluster. Queries
// depending on the node fail; fragments run on behalf of it are cancelled.
func (s *ExecutionService) OnNodeLeft(node distribution.NodeID) {
	log.Infof(s.ambient, "node %s left", node)
	for _, q := range s.queries.Queries() {
		q.OnNodeLeft(node)
	}
	s.cfg.Exchange.OnNodeLeft(node)

	s.mu.Lock()
	var orphans []*remoteFragment
	for _, frags := range s.mu.fragments {
		for _, f := range frags {
			if f.ectx.OriginatingNode == node {
				orphans = append(orphans, f)
			}
		}
	}
	s.mu.Unlock()
	for _, f := range orphans {
		s.cancelFragment(f, execinfra.NewNodeLeftError(node))
	}
}

func (s *ExecutionService) handle(
	ctx context.Context, from distribution.NodeID, msg exchange.Message,
) {
	switch m := msg.(type) {
	case *exchange.QueryStartRequest:
		s.startFragment(ctx, from, m)
	case *exchange.QueryStartResponse:
		q := s.queries.Query(m.QueryID)
		if q == nil {
			return
		}
		var err error
		if m.Err != nil {
			err = errors.DecodeError(ctx, *m.Err)
		}
		q.OnResponse(from, m.FragmentID, err)
	case *exchange.QueryCloseMessage:
		s.closeQuery(m.QueryID)
	default:
		log.Warningf(ctx, "unexpected message %s from %s", msg, from)
	}
}

// startFragment runs a fragment on behalf of the coordinator that sent the
// request. The coordinator hears back once the fragment is done.
func (s *ExecutionService) startFragment(
	ctx context.Context, origin distribution.NodeID, req *exchange.QueryStartRequest,
) {
	desc := req.Fragment
	ectx := s.newContext(req.QueryID, desc.ID, origin, desc)
	f := &remoteFragment{ectx: ectx}
	respond := func(err error) {
		f.once.Do(func() {
			s.forgetFragment(f)
			s.respond(ectx, err)
		})
	}

	s.cfg.Metrics.RemoteFragmentsStarted.Inc()
	if fn := s.cfg.Knobs.OnRemoteFragmentStart; fn != nil {
		if err := fn(req.QueryID, desc.ID); err != nil {
			respond(err)
			return
		}
	}
	if err := checkTopologyVersion(req.TopologyVersion, s.cfg.Topology.Version()); err != nil {
		respond(err)
		return
	}

	b := &fragmentBuilder{
		ectx:     ectx,
		desc:     desc,
		tables:   s.cfg.Tables,
		exch:     s.cfg.Exchange,
		topology: s.cfg.Topology,
	}
	b.onDone = func(err error) {
		// Runs on the fragment's stripe.
		respond(err)
		b.sender.Close()
		ectx.Cancel()
	}
	if _, err := b.build(); err != nil {
		respond(err)
		return
	}
	if b.sender == nil {
		respond(errors.AssertionFailedf("fragment %d is not rooted at a sender", desc.ID))
		return
	}
	f.sender = b.sender

	s.mu.Lock()
	if s.mu.stopped {
		s.mu.Unlock()
		respond(errors.New("execution service is stopped"))
		return
	}
	frags := s.mu.fragments[req.QueryID]
	if frags == nil {
		frags = make(map[int64]*remoteFragment)
		s.mu.fragments[req.QueryID] = frags
	}
	frags[desc.ID] = f
	s.mu.Unlock()

	log.VEventf(ectx.Ctx(), 1, "starting fragment for %s", origin)
	ectx.Execute(b.sender.Start, b.sender.OnError)
}

func (s *ExecutionService) respond(ectx *execinfra.ExecutionContext, err error) {
	resp := &exchange.QueryStartResponse{QueryID: ectx.QueryID, FragmentID: ectx.FragmentID}
	if err != nil {
		s.cfg.Metrics.RemoteFragmentsFailed.Inc()
		enc := errors.EncodeError(ectx.Ctx(), err)
		resp.Err = &enc
	}
	if sendErr := s.cfg.Exchange.Send(ectx.Ctx(), ectx.OriginatingNode, resp); sendErr != nil {
		if s.every.ShouldLog() {
			log.Warningf(ectx.Ctx(), "failed to report fragment completion: %v", sendErr)
		}
	}
}

// checkTopologyVersion fails a fragment planned on a topology other than
// the one the node sees. The plan may route rows to or from nodes that
// left, or miss nodes that joined.
func checkTopologyVersion(planned, local distribution.TopologyVersion) error {
	if planned == local {
		return nil
	}
	return errors.Mark(errors.Newf(
		"fragment planned on topology version %d, local version is %d", planned, local),
		execinfra.ErrTopology)
}

func (s *ExecutionService) unregisterQuery(q *RootQuery) {
	s.queries.Unregister(q)
	s.mu.Lock()
	_, running := s.mu.fragments[q.ID()]
	s.mu.Unlock()
	if !running {
		s.cfg.Exchange.ForgetQuery(q.ID())
	}
}

func (s *ExecutionService) forgetFragment(f *remoteFragment) {
	s.mu.Lock()
	frags := s.mu.fragments[f.ectx.QueryID]
	delete(frags, f.ectx.FragmentID)
	last := len(frags) == 0
	if last {
		delete(s.mu.fragments, f.ectx.QueryID)
	}
	s.mu.Unlock()
	if last && s.queries.Query(f.ectx.QueryID) == nil {
		s.cfg.Exchange.ForgetQuery(f.ectx.QueryID)
	}
}

// closeQuery cancels the fragments the node runs for the query.
func (s *ExecutionService) closeQuery(queryID uuid.UUID) {
	s.mu.Lock()
	frags := make([]*remoteFragment, 0, len(s.mu.fragments[queryID]))
	for _, f := range s.mu.fragments[queryID] {
		frags = append(frags, f)
	}
	s.mu.Unlock()
	for _, f := range frags {
		s.cancelFragment(f, execinfra.NewQueryCancelledError())
	}
	if len(frags) == 0 && s.queries.Query(queryID) == nil {
		s.cfg.Exchange.ForgetQuery(queryID)
	}
}

func (s *ExecutionService) cancelFragment(f *remoteFragment, err error) {
	if f.sender == nil {
		return
	}
	f.ectx.Execute(func() error { return err }, f.sender.OnError)
}
