// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package circuit

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
)

// Breaker is a circuit breaker. Before initiating an operation protected by the
// Breaker, Breaker.Signal should be called. This provides a channel and error
// getter that operate very similarly to context.Context's Done and Err methods.
//
// The Breaker trips when Report is called. A tripped Breaker runs a probe
// whenever a caller observes the tripped state, and the probe resets the
// breaker once it finds the protected resource healthy again.
type Breaker struct {
	opts Options // immutable

	mu struct {
		syncutil.RWMutex
		// errAndCh is replaced wholesale on every trip after the first and on
		// reset, so that callers of Signal get a stable view of the state
		// that closed "their" channel.
		errAndCh *errAndCh
		probing  bool
	}
}

// Signal is the view of the breaker state handed out by Breaker.Signal.
type Signal interface {
	Err() error
	C() <-chan struct{}
}

// NewBreaker instantiates a new circuit breaker.
func NewBreaker(opts Options) *Breaker {
	if opts.EventHandler == nil {
		opts.EventHandler = noopEventHandler{}
	}
	br := &Breaker{opts: opts}
	br.mu.errAndCh = br.newErrAndCh()
	return br
}

// Signal returns a channel that is closed once the breaker trips and a function
// returning a pertinent error. Non-nil errors are always derived from
// ErrBreakerOpen.
func (b *Breaker) Signal() Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mu.errAndCh
}

// Tripped returns whether the breaker is currently open.
func (b *Breaker) Tripped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mu.errAndCh.err != nil
}

// Report reports a (non-nil) error to the breaker. This will trip the Breaker.
func (b *Breaker) Report(err error) {
	if err == nil || errors.Is(err, ErrBreakerOpen) {
		// Errors produced by a breaker must not grow ever longer chains.
		return
	}
	storeErr := errors.Mark(errors.Wrapf(err, "breaker %s open", redact.Safe(b.opts.Name)), ErrBreakerOpen)

	b.mu.Lock()
	prevErr := b.mu.errAndCh.err
	if prevErr != nil {
		b.mu.errAndCh = b.newErrAndCh()
	}
	b.mu.errAndCh.err = storeErr
	close(b.mu.errAndCh.ch)
	b.mu.Unlock()

	b.opts.EventHandler.OnTrip(b, prevErr, storeErr)
}

// Reset un-trips the breaker if it was tripped.
func (b *Breaker) Reset() {
	b.mu.Lock()
	wasTripped := b.mu.errAndCh.err != nil
	if wasTripped {
		b.mu.errAndCh = b.newErrAndCh()
	}
	b.mu.Unlock()
	if wasTripped {
		b.opts.EventHandler.OnReset(b)
	}
}

// String returns the Breaker's name.
func (b *Breaker) String() string {
	return b.opts.Name
}

func (b *Breaker) maybeTriggerProbe() {
	b.mu.Lock()
	if b.mu.probing || b.mu.errAndCh.err == nil || b.opts.Probe == nil {
		b.mu.Unlock()
		return
	}
	b.mu.probing = true
	b.mu.Unlock()

	var once sync.Once
	b.opts.Probe(
		func(err error) {
			if err != nil {
				b.Report(err)
			} else {
				b.Reset()
			}
		},
		func() {
			once.Do(func() {
				b.mu.Lock()
				defer b.mu.Unlock()
				b.mu.probing = false
			})
		})
}

func (b *Breaker) newErrAndCh() *errAndCh {
	return &errAndCh{
		maybeTriggerProbe: b.maybeTriggerProbe,
		ch:                make(chan struct{}),
	}
}

type errAndCh struct {
	maybeTriggerProbe func() // immutable
	ch                chan struct{}
	// INVARIANT: err is written once, immediately before closing ch.
	err error
}

func (eac *errAndCh) C() <-chan struct{} {
	return eac.ch
}

func (eac *errAndCh) Err() error {
	select {
	case <-eac.ch:
		eac.maybeTriggerProbe()
		return eac.err
	default:
		return nil
	}
}

// ErrBreakerOpen is a reference error that matches the errors returned
// from Breaker.Signal().Err().
var ErrBreakerOpen = errors.New("breaker open")
