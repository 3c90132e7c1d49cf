// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package circuit

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	trips, resets int
}

func (h *countingHandler) OnTrip(*Breaker, error, error) { h.trips++ }
func (h *countingHandler) OnReset(*Breaker)              { h.resets++ }

func TestBreakerTripAndProbe(t *testing.T) {
	healthy := false
	var probes int
	h := &countingHandler{}
	br := NewBreaker(Options{
		Name: "n2",
		Probe: func(report func(error), done func()) {
			defer done()
			probes++
			if healthy {
				report(nil)
			} else {
				report(errors.New("still down"))
			}
		},
		EventHandler: h,
	})
	require.NoError(t, br.Signal().Err())

	br.Report(errors.New("connection refused"))
	sig := br.Signal()
	select {
	case <-sig.C():
	default:
		t.Fatal("channel not closed after trip")
	}
	err := sig.Err()
	require.True(t, errors.Is(err, ErrBreakerOpen))
	require.Contains(t, err.Error(), "breaker n2 open")
	require.Equal(t, 1, probes)
	require.True(t, br.Tripped())

	healthy = true
	require.Error(t, br.Signal().Err())
	require.Equal(t, 2, probes)
	require.False(t, br.Tripped())
	require.NoError(t, br.Signal().Err())
	require.Equal(t, 1, h.resets)
	require.Equal(t, 2, h.trips)
}

func TestBreakerIgnoresOwnErrors(t *testing.T) {
	br := NewBreaker(Options{Name: "n3"})
	br.Report(nil)
	require.False(t, br.Tripped())
	br.Report(errors.Mark(errors.New("x"), ErrBreakerOpen))
	require.False(t, br.Tripped())
	br.Report(errors.New("boom"))
	require.True(t, br.Tripped())
	br.Reset()
	require.False(t, br.Tripped())
}
