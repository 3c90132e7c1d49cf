// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rowexec

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dmekhanikov/gridsql/pkg/sql/execinfra"
	"github.com/dmekhanikov/gridsql/pkg/sql/rowenc"
	"github.com/dmekhanikov/gridsql/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
)

func TestRootNodeError(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(4))
	defer e.Stop()

	rt := rowenc.MakeRowType("id")
	var closes atomic.Int32
	root := NewRootNode(ectx, rt, func() { closes.Add(1) })
	it := &failingIterator{rows: intRows(2, 1), err: errInjected}
	root.Register(NewScanNode(ectx, rt, func() (RowIterator, error) { return it, nil }, nil))

	rows, err := tryDrain(root)
	require.ErrorIs(t, err, errInjected)
	require.LessOrEqual(t, len(rows), 2)
	require.ErrorIs(t, root.Err(), errInjected)

	// The error sticks and the owner was told.
	ok, err := root.HasNext()
	require.False(t, ok)
	require.ErrorIs(t, err, errInjected)
	require.GreaterOrEqual(t, closes.Load(), int32(1))
	require.Eventually(t, it.closed.Load, 10*time.Second, time.Millisecond)
}

func TestRootNodeFirstErrorWins(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(4))
	defer e.Stop()

	rt := rowenc.MakeRowType("id")
	root := NewRootNode(ectx, rt, nil)
	root.Register(newValues(ectx, rt, nil))
	root.OnError(errInjected)
	root.OnError(errors.New("second"))
	require.ErrorIs(t, root.Err(), errInjected)
	_, err := root.Next()
	require.ErrorIs(t, err, errInjected)
}

func TestRootNodeClose(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(2))
	defer e.Stop()

	rt := rowenc.MakeRowType("id")
	var closes atomic.Int32
	root := NewRootNode(ectx, rt, func() { closes.Add(1) })
	it := &failingIterator{rows: intRows(100, 1)}
	root.Register(NewScanNode(ectx, rt, func() (RowIterator, error) { return it, nil }, nil))

	row, err := root.Next()
	require.NoError(t, err)
	require.Equal(t, rowenc.Row{0}, row)

	root.Close()
	root.Close()
	require.Equal(t, int32(2), closes.Load())
	ok, err := root.HasNext()
	require.NoError(t, err)
	require.False(t, ok)
	require.Eventually(t, it.closed.Load, 10*time.Second, time.Millisecond)

	// Errors raised by the teardown are dropped.
	root.OnError(errInjected)
	require.NoError(t, root.Err())
}

func TestRootNodeAutoClose(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(2))
	defer e.Stop()

	rt := rowenc.MakeRowType("id")
	closed := make(chan struct{}, 1)
	root := NewRootNode(ectx, rt, func() {
		select {
		case closed <- struct{}{}:
		default:
		}
	})
	root.Register(newValues(ectx, rt, intRows(5, 1)))
	require.Len(t, drain(t, root), 5)
	<-closed
}

func TestRootNodeCancelled(t *testing.T) {
	defer leaktest.AfterTest(t)()

	ectx, e := newTestContext(testConfig(2))
	defer e.Stop()

	rt := rowenc.MakeRowType("id")
	root := NewRootNode(ectx, rt, nil)
	root.Register(newValues(ectx, rt, intRows(5, 1)))
	root.OnError(execinfra.NewQueryCancelledError())
	ectx.Cancel()
	_, err := tryDrain(root)
	require.True(t, errors.Is(err, execinfra.ErrQueryCancelled))
}
