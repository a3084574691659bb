package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClockAdvanceFiresAfter(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	ch := c.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(base.Add(5 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, base.Add(5*time.Second))
		}
	default:
		t.Fatal("timer did not fire after advance")
	}
}

func TestMockClockAfterFunc(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	fired := 0
	c.AfterFunc(2*time.Second, func() { fired++ })

	c.Advance(1 * time.Second)
	if fired != 0 {
		t.Fatal("callback ran early")
	}
	c.Advance(1 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	// Fire-once: further advances must not re-run the callback.
	c.Advance(10 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d after extra advance, want 1", fired)
	}
}

func TestMockClockAfterFuncStop(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Error("Stop() = false for active timer")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestMockClockSleepAdvances(t *testing.T) {
	base := time.Unix(100, 0)
	c := NewMockClock(base)

	c.Sleep(3 * time.Second)
	if got := c.Now(); !got.Equal(base.Add(3 * time.Second)) {
		t.Errorf("Now() = %v after Sleep, want %v", got, base.Add(3*time.Second))
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 3*time.Second {
		t.Errorf("Sleeps() = %v, want [3s]", sleeps)
	}
}

func TestMockClockSleepFiresPendingTimers(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	fired := false
	c.AfterFunc(time.Second, func() { fired = true })
	c.Sleep(2 * time.Second)
	if !fired {
		t.Error("Sleep did not fire expired timer")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not tick")
	}

	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}
