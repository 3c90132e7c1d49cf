// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"github.com/dmekhanikov/gridsql/pkg/sql/distribution"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/google/uuid"
)

// ExecutionContext is the runtime state of one fragment on one node. The
// operators of the fragment share it and run on its executor stripe.
type ExecutionContext struct {
	QueryID         uuid.UUID
	FragmentID      int64
	OriginatingNode distribution.NodeID
	LocalNode       distribution.NodeID
	RowType         rowenc.RowType
	Config          *Config
	Metrics         *Metrics

	executor  *StripedExecutor
	ctx       context.Context
	cancelled atomic.Bool
}

// ExecutionContextArgs are the arguments to NewExecutionContext.
type ExecutionContextArgs struct {
	QueryID         uuid.UUID
	FragmentID      int64
	OriginatingNode distribution.NodeID
	LocalNode       distribution.NodeID
	RowType         rowenc.RowType
	Config          *Config
	Metrics         *Metrics
	Executor        *StripedExecutor
}

// NewExecutionContext creates the context of a fragment. The returned
// context's Ctx carries the query and fragment as log tags.
func NewExecutionContext(ctx context.Context, args ExecutionContextArgs) *ExecutionContext {
	ctx = logtags.AddTag(ctx, "node", args.LocalNode)
	ctx = logtags.AddTag(ctx, "query", shortID(args.QueryID))
	ctx = logtags.AddTag(ctx, "frag", args.FragmentID)
	metrics := args.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ExecutionContext{
		QueryID:         args.QueryID,
		FragmentID:      args.FragmentID,
		OriginatingNode: args.OriginatingNode,
		LocalNode:       args.LocalNode,
		RowType:         args.RowType,
		Config:          args.Config,
		Metrics:         metrics,
		executor:        args.Executor,
		ctx:             ctx,
	}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// Ctx returns the context used for logging on behalf of the fragment.
func (c *ExecutionContext) Ctx() context.Context {
	return c.ctx
}

// Execute runs the task on the fragment's stripe. The task is skipped if
// the fragment has been cancelled by the time it runs. A returned error is
// passed to onErr on the same stripe.
func (c *ExecutionContext) Execute(task func() error, onErr func(error)) {
	if c.IsCancelled() {
		return
	}
	c.executor.Execute(c.QueryID, c.FragmentID, func() {
		if c.IsCancelled() {
			return
		}
		if err := task(); err != nil {
			onErr(err)
		}
	})
}

// Cancel marks the fragment cancelled. Tasks not yet started are skipped.
func (c *ExecutionContext) Cancel() {
	c.cancelled.Store(true)
}

// IsCancelled returns whether Cancel was called.
func (c *ExecutionContext) IsCancelled() bool {
	return c.cancelled.Load()
}

// IsLocal returns whether the fragment runs on the query's coordinator.
func (c *ExecutionContext) IsLocal() bool {
	return c.OriginatingNode == c.LocalNode
}
