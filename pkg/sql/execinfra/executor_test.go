// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/util/leaktest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStripedExecutorOrdersFragmentTasks(t *testing.T) {
	defer leaktest.AfterTest(t)()

	e := NewStripedExecutor(4)
	queryID := uuid.New()

	const fragments, tasks = 8, 100
	var mu sync.Mutex
	seen := make(map[int64][]int)
	for i := 0; i < tasks; i++ {
		for f := int64(0); f < fragments; f++ {
			i, f := i, f
			e.Execute(queryID, f, func() {
				mu.Lock()
				defer mu.Unlock()
				seen[f] = append(seen[f], i)
			})
		}
	}
	e.Stop()

	require.Len(t, seen, fragments)
	for f, got := range seen {
		require.Len(t, got, tasks, "fragment %d", f)
		for i := range got {
			require.Equal(t, i, got[i], "fragment %d", f)
		}
	}
}

func TestStripedExecutorDropsAfterStop(t *testing.T) {
	defer leaktest.AfterTest(t)()

	e := NewStripedExecutor(1)
	e.Stop()
	ran := false
	e.Execute(uuid.New(), 0, func() { ran = true })
	require.False(t, ran)
}

func TestExecutionContext(t *testing.T) {
	defer leaktest.AfterTest(t)()

	cfg := DefaultConfig()
	e := NewStripedExecutor(2)
	defer e.Stop()

	ectx := NewExecutionContext(context.Background(), ExecutionContextArgs{
		QueryID:         uuid.New(),
		FragmentID:      1,
		OriginatingNode: "n1",
		LocalNode:       "n2",
		Config:          &cfg,
		Executor:        e,
	})
	require.False(t, ectx.IsLocal())
	require.NotNil(t, ectx.Metrics)

	t.Run("error goes to handler", func(t *testing.T) {
		errCh := make(chan error, 1)
		boom := errors.New("boom")
		ectx.Execute(func() error { return boom }, func(err error) { errCh <- err })
		require.ErrorIs(t, <-errCh, boom)
	})

	t.Run("cancelled tasks are skipped", func(t *testing.T) {
		block := make(chan struct{})
		done := make(chan struct{})
		ectx.Execute(func() error {
			<-block
			return nil
		}, nil)
		ran := false
		ectx.Execute(func() error {
			ran = true
			return nil
		}, nil)
		ectx.Cancel()
		close(block)
		// Drain the stripe with a task that bypasses the context.
		e.Execute(ectx.QueryID, ectx.FragmentID, func() { close(done) })
		<-done
		require.True(t, ectx.IsCancelled())
		require.False(t, ran)
	})
}
