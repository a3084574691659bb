// Package kiosk drives the disposal cycle: polling the proximity sensors,
// launching classification, and walking the phase machine from object
// detection through reward (or failure) back to idle.
package kiosk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/itrash/kiosk/internal/camera"
	"github.com/itrash/kiosk/internal/classify"
	"github.com/itrash/kiosk/internal/config"
	"github.com/itrash/kiosk/internal/db"
	"github.com/itrash/kiosk/internal/hardware"
	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/sched"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

// Recorder persists disposal telemetry. *db.DB satisfies it; a nil Recorder
// disables recording (dev mode without a database).
type Recorder interface {
	RecordDisposalEvent(ev db.DisposalEvent) error
	RecordSensorTrip(sensor state.Sensor, eventID string) error
}

// Options wires a Loop. Store, Hub, Camera, Classifier, Clock, and Config are
// required; Recorder and Feedback may be nil.
type Options struct {
	Store      *state.Store
	Hub        hardware.SensorReader
	Camera     camera.Camera
	Classifier classify.Classifier
	Clock      timeutil.Clock
	Config     *config.KioskConfig
	Recorder   Recorder
	Feedback   classify.Feedback
}

// Loop is the hardware loop: the only component that reads sensors and the
// only writer of forward phase transitions. Reverse transitions (auto-resets)
// run on scheduler timers, gated so a stale timer cannot clobber a newer
// cycle.
type Loop struct {
	store    *state.Store
	hub      hardware.SensorReader
	camera   camera.Camera
	coord    *classify.Coordinator
	attempts *attemptCounter
	sched    *sched.Scheduler
	clock    timeutil.Clock
	cfg      *config.KioskConfig
	recorder Recorder

	// starting guards against spawning a second cycle worker while one is
	// still debouncing.
	starting atomic.Bool

	// prev holds last-tick sensor readings for edge detection. Only the
	// Step goroutine touches it.
	prev map[state.Sensor]bool

	cycleMu sync.Mutex
	cycle   cycleInfo
}

// cycleInfo is the telemetry carried across one disposal cycle.
type cycleInfo struct {
	id         string
	classifyMs int64
	attempts   int64
}

// attemptCounter counts classifier calls so the recorded event carries the
// number of attempts the cycle burned.
type attemptCounter struct {
	inner classify.Classifier
	n     atomic.Int64
}

func (a *attemptCounter) Classify(ctx context.Context, image []byte) (state.Category, error) {
	a.n.Add(1)
	return a.inner.Classify(ctx, image)
}

// NewLoop creates the hardware loop.
func NewLoop(opts Options) *Loop {
	counter := &attemptCounter{inner: opts.Classifier}
	return &Loop{
		store:    opts.Store,
		hub:      opts.Hub,
		camera:   opts.Camera,
		coord:    classify.NewCoordinator(counter, opts.Clock, opts.Feedback),
		attempts: counter,
		sched:    sched.NewScheduler(opts.Clock),
		clock:    opts.Clock,
		cfg:      opts.Config,
		recorder: opts.Recorder,
		prev:     make(map[state.Sensor]bool),
	}
}

var pollOrder = []state.Sensor{
	state.SensorObject,
	state.SensorBlueBin,
	state.SensorYellowBin,
	state.SensorBrownBin,
}

// Run polls the sensors until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.cfg.GetPollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.Step(ctx)
		}
	}
}

// Step runs one poll tick: mirror the sensors into the store, then act on
// rising edges according to the active phase. The object sensor is honored
// only in idle; bin sensors only in a result phase. Everything else ignores
// sensor activity.
func (l *Loop) Step(ctx context.Context) {
	edges := l.pollSensors()

	phase := l.store.Phase()
	switch {
	case phase == state.PhaseIdle:
		if edges[state.SensorObject] && l.starting.CompareAndSwap(false, true) {
			go l.runCycle(ctx)
		}
	case phase.IsResult():
		l.handleBins(phase, edges)
	}
}

// pollSensors reads all four sensors, mirrors changes into the store, records
// rising-edge trips, and returns the rising edges for this tick.
func (l *Loop) pollSensors() map[state.Sensor]bool {
	edges := make(map[state.Sensor]bool, len(pollOrder))
	for _, name := range pollOrder {
		cur := l.hub.Sensor(name)
		if cur != l.prev[name] {
			l.store.SetSensor(name, cur)
			if cur {
				edges[name] = true
				l.recordTrip(name)
			}
			l.prev[name] = cur
		}
	}
	return edges
}

func (l *Loop) recordTrip(name state.Sensor) {
	if l.recorder == nil {
		return
	}
	l.cycleMu.Lock()
	id := l.cycle.id
	l.cycleMu.Unlock()
	if err := l.recorder.RecordSensorTrip(name, id); err != nil {
		monitoring.Debugf("kiosk: failed to record %s trip: %v", name, err)
	}
}

// runCycle is the detached worker for one disposal cycle: debounce, capture,
// classify under the wall-clock cap, then hand off to the result display.
func (l *Loop) runCycle(ctx context.Context) {
	defer l.starting.Store(false)

	l.clock.Sleep(l.cfg.GetDebounceDelay())
	if ctx.Err() != nil || !l.hub.Sensor(state.SensorObject) {
		// Transient blip: the object left before the debounce elapsed.
		return
	}
	if !l.store.TransitionFrom(state.PhaseIdle, state.PhaseProcessing) {
		return
	}
	l.store.SetSystemStatus("classifying")

	id := uuid.New().String()
	l.setCycle(cycleInfo{id: id})
	monitoring.Logf("kiosk: cycle %s started", id)

	image, err := l.camera.Capture(ctx)
	if err != nil {
		monitoring.Logf("kiosk: cycle %s capture failed: %v", id, err)
		l.failCycle(db.OutcomeError)
		return
	}

	start := l.clock.Now()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.attempts.n.Store(0)

	// Register the wall-clock cap before the worker can start.
	timeout := l.clock.After(l.cfg.GetClassifyTimeout())
	resultCh := make(chan state.Category, 1)
	go func() { resultCh <- l.coord.Process(cctx, image) }()

	select {
	case <-ctx.Done():
		return

	case <-timeout:
		monitoring.Logf("kiosk: cycle %s classification timed out", id)
		cancel()
		l.stampCycle(start)
		l.failCycle(db.OutcomeTimeout)

	case category := <-resultCh:
		l.stampCycle(start)
		if !category.Valid() {
			monitoring.Logf("kiosk: cycle %s undetermined after retries", id)
			l.failCycle(db.OutcomeError)
			return
		}
		if !l.store.SetClassificationFrom(state.PhaseProcessing, category) {
			// The cycle was superseded while the worker was in flight
			// (operator reset); discard the late result.
			monitoring.Logf("kiosk: cycle %s result discarded, phase moved on", id)
			return
		}
		l.clock.Sleep(l.cfg.GetResultDelay())
		if !l.store.TransitionFrom(state.PhaseProcessing, category.ResultPhase()) {
			return
		}
		monitoring.Logf("kiosk: cycle %s classified %q", id, category)
	}
}

// handleBins reacts to a bin deposit while a result phase is showing. A
// deposit into the classified bin starts the reward chain; any other bin
// shows the incorrect screen.
func (l *Loop) handleBins(from state.Phase, edges map[state.Sensor]bool) {
	for _, name := range []state.Sensor{state.SensorBlueBin, state.SensorYellowBin, state.SensorBrownBin} {
		if !edges[name] {
			continue
		}
		expected, _ := l.store.Classification()
		if name.BinCategory() == expected {
			l.correctDeposit(from)
		} else {
			l.incorrectDeposit(from)
		}
		return
	}
}

// correctDeposit schedules the reward chain: a short grace pause, the reward
// screen, the QR screen, then idle. Every hop is gated on the phase the timer
// expects, so a cycle that moved on renders stale timers inert.
func (l *Loop) correctDeposit(from state.Phase) {
	l.sched.Schedule(l.cfg.GetRewardDelay(), func() {
		if !l.store.TransitionFrom(from, state.PhaseReward) {
			return
		}
		l.store.SetReward(true)
		l.recordEvent(db.OutcomeCompleted)
		l.sched.Schedule(l.cfg.GetRewardDisplay(), func() {
			if !l.store.TransitionFrom(state.PhaseReward, state.PhaseQRCode) {
				return
			}
			l.sched.Schedule(l.cfg.GetQRCodeDisplay(), func() {
				l.toIdle(state.PhaseQRCode)
			})
		})
	})
}

func (l *Loop) incorrectDeposit(from state.Phase) {
	if !l.store.TransitionFrom(from, state.PhaseIncorrect) {
		return
	}
	l.recordEvent(db.OutcomeIncorrect)
	l.sched.Schedule(l.cfg.GetIncorrectDisplay(), func() {
		l.toIdle(state.PhaseIncorrect)
	})
}

// failCycle moves a processing cycle to the error screen and schedules the
// reset back to idle.
func (l *Loop) failCycle(outcome string) {
	l.recordEvent(outcome)
	if l.store.TransitionFrom(state.PhaseProcessing, state.PhaseError) {
		l.sched.Schedule(l.cfg.GetErrorDisplay(), func() {
			l.toIdle(state.PhaseError)
		})
	}
}

func (l *Loop) toIdle(from state.Phase) {
	if l.store.TransitionFrom(from, state.PhaseIdle) {
		l.store.SetSystemStatus("ready")
	}
}

func (l *Loop) setCycle(info cycleInfo) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	l.cycle = info
}

// stampCycle records how long classification took and how many attempts it
// burned.
func (l *Loop) stampCycle(start time.Time) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	l.cycle.classifyMs = l.clock.Since(start).Milliseconds()
	l.cycle.attempts = l.attempts.n.Load()
}

// recordEvent persists the terminal outcome of the current cycle. Called
// exactly once per cycle, from whichever phase-gated path terminates it.
func (l *Loop) recordEvent(outcome string) {
	if l.recorder == nil {
		return
	}
	l.cycleMu.Lock()
	info := l.cycle
	l.cycleMu.Unlock()
	if info.id == "" {
		return
	}

	category, _ := l.store.Classification()
	ev := db.DisposalEvent{
		ID:         info.id,
		Category:   category,
		Outcome:    outcome,
		ClassifyMs: info.classifyMs,
		Attempts:   info.attempts,
	}
	if err := l.recorder.RecordDisposalEvent(ev); err != nil {
		monitoring.Logf("kiosk: failed to record cycle %s: %v", info.id, err)
	}
}
