package sched

import (
	"testing"
	"time"

	"github.com/itrash/kiosk/internal/timeutil"
)

func TestScheduleFiresOnce(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewScheduler(clock)

	fired := 0
	s.Schedule(5*time.Second, func() { fired++ })

	clock.Advance(4 * time.Second)
	if fired != 0 {
		t.Fatalf("fired = %d before delay elapsed, want 0", fired)
	}

	clock.Advance(1 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	clock.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("fired = %d after extra time, want exactly 1", fired)
	}
}

func TestCancelBeforeFire(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewScheduler(clock)

	fired := false
	task := s.Schedule(time.Second, func() { fired = true })
	if !task.Cancel() {
		t.Error("Cancel() = false for pending task")
	}
	clock.Advance(2 * time.Second)
	if fired {
		t.Error("cancelled task fired")
	}
}

func TestCancelAfterFire(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewScheduler(clock)

	task := s.Schedule(time.Second, func() {})
	clock.Advance(time.Second)
	if task.Cancel() {
		t.Error("Cancel() = true for already-fired task")
	}
}

func TestSupersededTasksAllFire(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewScheduler(clock)

	// Two overlapping resets, as when an error reset races a new cycle's
	// incorrect reset. Both must fire; callers gate on phase ownership.
	var order []int
	s.Schedule(1*time.Second, func() { order = append(order, 1) })
	s.Schedule(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(3 * time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}
