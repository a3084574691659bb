// Package state holds the kiosk's single source of truth: the active phase,
// the last classification result, and the edge-triggered sensor flags.
//
// Every accessor serializes through one mutex. Correctness of the whole
// system depends on no accessor bypassing that lock.
package state

import (
	"sync"
	"time"

	"github.com/itrash/kiosk/internal/timeutil"
)

// Store is a thread-safe state container shared by the hardware loop, the
// presentation loop, and the monitoring API. Construct one with NewStore and
// inject it; there is deliberately no package-level instance.
type Store struct {
	mu    sync.Mutex
	clock timeutil.Clock

	phase        Phase
	lastClass    Category
	classifiedAt time.Time
	reward       bool
	systemStatus string
	lastUpdate   time.Time
	sensors      SensorStatus
}

// NewStore creates a Store in the default idle snapshot.
func NewStore(clock timeutil.Clock) *Store {
	s := &Store{clock: clock}
	s.resetWithStatus("initializing")
	return s
}

// resetWithStatus restores the documented default snapshot with the given
// system status.
func (s *Store) resetWithStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.lastClass = CategoryUndetermined
	s.classifiedAt = time.Time{}
	s.reward = false
	s.systemStatus = status
	s.lastUpdate = s.clock.Now()
	s.sensors = SensorStatus{}
}

// Reset restores the default snapshot regardless of prior state.
func (s *Store) Reset() {
	s.resetWithStatus("ready")
}

// SetPhase writes the active phase. Writing PhaseIdle also clears the last
// classification and its timestamp in the same critical section; downstream
// consumers rely on an idle kiosk never advertising a stale result.
func (s *Store) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPhaseLocked(p)
}

func (s *Store) setPhaseLocked(p Phase) {
	s.phase = p
	if p == PhaseIdle {
		s.lastClass = CategoryUndetermined
		s.classifiedAt = time.Time{}
		s.reward = false
	}
	s.lastUpdate = s.clock.Now()
}

// Phase returns the active phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// TransitionFrom writes phase to only if the current phase is from, and
// reports whether the write happened. Every delayed effect (auto-reset
// timers, classification workers) goes through here so a stale actor cannot
// clobber a cycle it no longer owns.
func (s *Store) TransitionFrom(from, to Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != from {
		return false
	}
	s.setPhaseLocked(to)
	return true
}

// SetClassification records the latest classification result and stamps it.
func (s *Store) SetClassification(c Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClass = c
	s.classifiedAt = s.clock.Now()
	s.lastUpdate = s.classifiedAt
}

// SetClassificationFrom records the classification only if the current phase
// is still from, and reports whether the write happened. Classification
// workers go through here so a result landing after the cycle was reset or
// timed out cannot leave a stale label on an idle kiosk.
func (s *Store) SetClassificationFrom(from Phase, c Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != from {
		return false
	}
	s.lastClass = c
	s.classifiedAt = s.clock.Now()
	s.lastUpdate = s.classifiedAt
	return true
}

// Classification returns the last classification and when it was recorded.
func (s *Store) Classification() (Category, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClass, s.classifiedAt
}

// SetReward records whether the current cycle ended in a correct deposit.
func (s *Store) SetReward(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reward = v
	s.lastUpdate = s.clock.Now()
}

// SetSystemStatus records the coarse lifecycle string exposed to monitoring.
func (s *Store) SetSystemStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemStatus = status
	s.lastUpdate = s.clock.Now()
}

// SetSensor writes one named sensor flag.
func (s *Store) SetSensor(name Sensor, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case SensorObject:
		s.sensors.ObjectDetected = v
	case SensorBlueBin:
		s.sensors.BlueBin = v
	case SensorYellowBin:
		s.sensors.YellowBin = v
	case SensorBrownBin:
		s.sensors.BrownBin = v
	}
	s.lastUpdate = s.clock.Now()
}

// Sensor reads one named sensor flag.
func (s *Store) Sensor(name Sensor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case SensorObject:
		return s.sensors.ObjectDetected
	case SensorBlueBin:
		return s.sensors.BlueBin
	case SensorYellowBin:
		return s.sensors.YellowBin
	case SensorBrownBin:
		return s.sensors.BrownBin
	}
	return false
}

// Snapshot returns a copy of the full state for the monitoring surface.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:              s.phase,
		PhaseName:          s.phase.String(),
		LastClassification: s.lastClass,
		ClassifiedAt:       s.classifiedAt,
		Reward:             s.reward,
		SystemStatus:       s.systemStatus,
		LastUpdate:         s.lastUpdate,
		Sensors:            s.sensors,
	}
}
