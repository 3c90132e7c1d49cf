// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package circuit

// Options are the arguments to NewBreaker.
type Options struct {
	// Name is the name of the breaker, used in errors and logging.
	Name string

	// Probe is invoked when a caller observes the tripped breaker and no probe
	// is already running. It must call report with the outcome of its check
	// (nil resets the breaker) and done once it has finished. The probe may run
	// synchronously or spawn its own goroutine.
	Probe func(report func(error), done func())

	// EventHandler receives notifications about state changes. Optional.
	EventHandler EventHandler
}

// EventHandler handles events from a Breaker.
type EventHandler interface {
	OnTrip(b *Breaker, prev, cur error)
	OnReset(b *Breaker)
}

type noopEventHandler struct{}

func (noopEventHandler) OnTrip(*Breaker, error, error) {}
func (noopEventHandler) OnReset(*Breaker)              {}
