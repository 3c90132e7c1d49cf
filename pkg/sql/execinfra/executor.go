// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package execinfra

import (
	"encoding/binary"
	"sync"

	"github.com/dmekhanikov/gridsql/pkg/util/ring"
	"github.com/dmekhanikov/gridsql/pkg/util/syncutil"
	"github.com/google/uuid"
)

// StripedExecutor runs tasks on a fixed set of goroutines. All tasks of one
// fragment land on the same stripe and run one at a time in submission
// order, which is what lets operators go without locks.
type StripedExecutor struct {
	stripes []*stripe
	wg      sync.WaitGroup
}

type stripe struct {
	mu struct {
		syncutil.Mutex
		tasks   ring.Buffer[func()]
		stopped bool
	}
	cond *sync.Cond
}

// NewStripedExecutor starts an executor with n stripes.
func NewStripedExecutor(n int) *StripedExecutor {
	e := &StripedExecutor{stripes: make([]*stripe, n)}
	for i := range e.stripes {
		s := &stripe{}
		s.cond = sync.NewCond(&s.mu)
		e.stripes[i] = s
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			s.run()
		}()
	}
	return e
}

func (s *stripe) run() {
	for {
		s.mu.Lock()
		for s.mu.tasks.Len() == 0 && !s.mu.stopped {
			s.cond.Wait()
		}
		if s.mu.tasks.Len() == 0 {
			s.mu.Unlock()
			return
		}
		task := s.mu.tasks.PopFirst()
		s.mu.Unlock()
		task()
	}
}

// Execute schedules the task on the stripe of the given fragment. Tasks
// submitted after Stop are dropped.
func (e *StripedExecutor) Execute(queryID uuid.UUID, fragmentID int64, task func()) {
	key := binary.BigEndian.Uint64(queryID[8:]) + uint64(fragmentID)
	s := e.stripes[key%uint64(len(e.stripes))]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.stopped {
		return
	}
	s.mu.tasks.AddLast(task)
	s.cond.Signal()
}

// Stop lets the stripes drain the tasks already queued and waits for them
// to exit.
func (e *StripedExecutor) Stop() {
	for _, s := range e.stripes {
		s.mu.Lock()
		s.mu.stopped = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	e.wg.Wait()
}
