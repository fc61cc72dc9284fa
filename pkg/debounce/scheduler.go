// Package debounce coalesces bursts of change notifications into a single
// trailing call.
//
// A Scheduler owns one timer. Every Trigger restarts the quiet period; when
// it elapses without another Trigger the action runs once on the timer's
// goroutine. The action is expected to read whatever state it needs when it
// runs, so the call always reflects the latest changes.
package debounce

import (
	"sync"
	"time"
)

// Scheduler is a trailing-edge debouncer with an explicit, cancellable timer.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	action  func()
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
}

// New creates a scheduler that runs action once delay has passed without a
// new Trigger. A non-positive delay runs the action synchronously in Trigger.
func New(delay time.Duration, action func()) *Scheduler {
	if action == nil {
		action = func() {}
	}
	return &Scheduler{delay: delay, action: action}
}

// Delay returns the quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Trigger schedules the action, replacing any pending one.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.delay <= 0 {
		s.pending = false
		s.mu.Unlock()
		s.action()
		return
	}

	gen := s.gen
	s.pending = true
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
	s.mu.Unlock()
}

// fire runs the action unless it was superseded, flushed or stopped after
// the timer was armed.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || !s.pending || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.timer = nil
	s.mu.Unlock()

	s.action()
}

// Flush runs a pending action now on the caller's goroutine. It does nothing
// when no action is pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.stopped || !s.pending {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.action()
}

// Pending reports whether an action is waiting for its timer.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stop cancels any pending action and disables the scheduler. A timer that
// already expired but has not run yet will not call the action.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
