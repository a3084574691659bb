// Package sched provides the fire-once delayed actions that drive the
// kiosk's auto-resets: every terminal display phase schedules one of these to
// return the machine to idle.
package sched

import (
	"sync"
	"time"

	"github.com/itrash/kiosk/internal/timeutil"
)

// Scheduler runs actions exactly once after a delay on detached timers.
type Scheduler struct {
	clock timeutil.Clock
}

// NewScheduler creates a Scheduler backed by the given clock.
func NewScheduler(clock timeutil.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Task is a handle to one scheduled action.
type Task struct {
	mu    sync.Mutex
	timer timeutil.Timer
	done  bool
}

// Schedule executes action exactly once after delay. Actions are expected to
// be phase-gated by the caller, so a superseded task that still fires only
// produces a redundant, harmless write. Cancel exists for callers that want
// deterministic teardown in tests.
func (s *Scheduler) Schedule(delay time.Duration, action func()) *Task {
	t := &Task{}
	t.timer = s.clock.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.done {
			t.mu.Unlock()
			return
		}
		t.done = true
		t.mu.Unlock()
		action()
	})
	return t
}

// Cancel prevents the action from running if it has not fired yet and
// reports whether the cancellation took effect.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}
