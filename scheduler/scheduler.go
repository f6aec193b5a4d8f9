// Package scheduler runs delayed tasks for many connections at once.
//
// A single Scheduler is built at startup and handed to every component that
// needs timeouts; nothing in this module creates one behind the caller's back.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a scheduled task.
type Timer interface {
	// Stop prevents the task from running. It reports whether the call
	// stopped it; false means the task already ran or was stopped.
	Stop() bool
}

// Scheduler runs functions after a delay.
type Scheduler interface {
	// AfterFunc schedules f. It returns nil once the scheduler is stopped,
	// in which case f never runs.
	AfterFunc(d time.Duration, f func()) Timer
	// Stop cancels every pending task. Tasks scheduled afterwards never run.
	Stop()
}

// New returns a Scheduler backed by runtime timers.
func New() Scheduler {
	return &timerScheduler{timers: make(map[*task]struct{})}
}

type timerScheduler struct {
	mu      sync.Mutex
	stopped bool
	timers  map[*task]struct{}
}

type task struct {
	s *timerScheduler
	t *time.Timer
}

func (s *timerScheduler) AfterFunc(d time.Duration, f func()) Timer {
	tk := &task{s: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	tk.t = time.AfterFunc(d, func() {
		if !s.release(tk) {
			return
		}
		f()
	})
	s.timers[tk] = struct{}{}
	return tk
}

// release forgets tk and reports whether it was still pending.
func (s *timerScheduler) release(tk *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[tk]; !ok {
		return false
	}
	delete(s.timers, tk)
	return !s.stopped
}

func (s *timerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for tk := range s.timers {
		tk.t.Stop()
	}
	clear(s.timers)
}

func (tk *task) Stop() bool {
	tk.t.Stop()
	return tk.s.release(tk)
}
