package kiosk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itrash/kiosk/internal/camera"
	"github.com/itrash/kiosk/internal/classify"
	"github.com/itrash/kiosk/internal/config"
	"github.com/itrash/kiosk/internal/db"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

type fakeHub struct {
	mu      sync.Mutex
	sensors map[state.Sensor]bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{sensors: make(map[state.Sensor]bool)}
}

func (h *fakeHub) Sensor(name state.Sensor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sensors[name]
}

func (h *fakeHub) set(name state.Sensor, v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sensors[name] = v
}

type recordedTrip struct {
	sensor  state.Sensor
	eventID string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []db.DisposalEvent
	trips  []recordedTrip
}

func (r *fakeRecorder) RecordDisposalEvent(ev db.DisposalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRecorder) RecordSensorTrip(sensor state.Sensor, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, recordedTrip{sensor: sensor, eventID: eventID})
	return nil
}

func (r *fakeRecorder) Events() []db.DisposalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]db.DisposalEvent(nil), r.events...)
}

func (r *fakeRecorder) Trips() []recordedTrip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedTrip(nil), r.trips...)
}

type fixture struct {
	loop     *Loop
	store    *state.Store
	hub      *fakeHub
	clock    *timeutil.MockClock
	recorder *fakeRecorder
	cfg      *config.KioskConfig
}

func newFixture(t *testing.T, classifier classify.ClassifierFunc) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := state.NewStore(clock)
	store.Reset()
	hub := newFakeHub()
	recorder := &fakeRecorder{}
	cfg := config.EmptyConfig()

	loop := NewLoop(Options{
		Store:      store,
		Hub:        hub,
		Camera:     camera.NewStubCamera(),
		Classifier: classifier,
		Clock:      clock,
		Config:     cfg,
		Recorder:   recorder,
	})
	return &fixture{loop: loop, store: store, hub: hub, clock: clock, recorder: recorder, cfg: cfg}
}

func alwaysClassify(c state.Category) classify.ClassifierFunc {
	return func(ctx context.Context, image []byte) (state.Category, error) {
		return c, nil
	}
}

// runCycleNow runs the cycle worker synchronously with the object present.
func (f *fixture) runCycleNow(t *testing.T) {
	t.Helper()
	f.hub.set(state.SensorObject, true)
	f.loop.runCycle(context.Background())
}

// edge pulses one sensor through a falling/rising pair of poll ticks so Step
// observes a fresh rising edge.
func (f *fixture) edge(ctx context.Context, sensor state.Sensor) {
	f.hub.set(sensor, false)
	f.loop.Step(ctx)
	f.hub.set(sensor, true)
	f.loop.Step(ctx)
}

func TestCycleClassifiesAndShowsResult(t *testing.T) {
	f := newFixture(t, alwaysClassify(state.CategoryBlue))
	f.runCycleNow(t)

	require.Equal(t, state.PhaseResultBlue, f.store.Phase())
	cat, at := f.store.Classification()
	require.Equal(t, state.CategoryBlue, cat)
	require.False(t, at.IsZero())

	// Debounce then result delay, in that order.
	require.Equal(t, []time.Duration{
		f.cfg.GetDebounceDelay(),
		f.cfg.GetResultDelay(),
	}, f.clock.Sleeps())
}

func TestCycleFullRewardChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryYellow))
	f.runCycleNow(t)
	require.Equal(t, state.PhaseResultYellow, f.store.Phase())

	f.edge(ctx, state.SensorYellowBin)
	// Deposit noticed, reward pending behind the grace pause.
	require.Equal(t, state.PhaseResultYellow, f.store.Phase())

	f.clock.Advance(f.cfg.GetRewardDelay())
	require.Equal(t, state.PhaseReward, f.store.Phase())
	require.True(t, f.store.Snapshot().Reward)

	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeCompleted, events[0].Outcome)
	require.Equal(t, state.CategoryYellow, events[0].Category)
	require.Equal(t, int64(1), events[0].Attempts)
	require.NotEmpty(t, events[0].ID)

	f.clock.Advance(f.cfg.GetRewardDisplay())
	require.Equal(t, state.PhaseQRCode, f.store.Phase())

	f.clock.Advance(f.cfg.GetQRCodeDisplay())
	snap := f.store.Snapshot()
	require.Equal(t, state.PhaseIdle, snap.Phase)
	require.Equal(t, state.CategoryUndetermined, snap.LastClassification)
	require.True(t, snap.ClassifiedAt.IsZero())
	require.False(t, snap.Reward)
	require.Equal(t, "ready", snap.SystemStatus)
}

func TestWrongBinShowsIncorrect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBrown))
	f.runCycleNow(t)
	require.Equal(t, state.PhaseResultBrown, f.store.Phase())

	f.edge(ctx, state.SensorBlueBin)
	require.Equal(t, state.PhaseIncorrect, f.store.Phase())

	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeIncorrect, events[0].Outcome)
	require.Equal(t, state.CategoryBrown, events[0].Category)

	f.clock.Advance(f.cfg.GetIncorrectDisplay())
	require.Equal(t, state.PhaseIdle, f.store.Phase())
}

func TestWrongBinCancelsPendingReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBlue))
	f.runCycleNow(t)

	// Correct deposit queues the reward, then a second deposit in the wrong
	// bin lands before the grace pause elapses.
	f.edge(ctx, state.SensorBlueBin)
	f.edge(ctx, state.SensorYellowBin)
	require.Equal(t, state.PhaseIncorrect, f.store.Phase())

	// The stale reward timer fires into a phase it no longer owns; the
	// incorrect display times out back to idle on the same advance.
	f.clock.Advance(f.cfg.GetRewardDelay())
	snap := f.store.Snapshot()
	require.Equal(t, state.PhaseIdle, snap.Phase)
	require.False(t, snap.Reward)

	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeIncorrect, events[0].Outcome)
}

func TestUndeterminedClassificationShowsError(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, image []byte) (state.Category, error) {
		return state.CategoryUndetermined, errors.New("service unavailable")
	})
	f.runCycleNow(t)

	require.Equal(t, state.PhaseError, f.store.Phase())
	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeError, events[0].Outcome)
	require.Equal(t, int64(3), events[0].Attempts)
	require.Equal(t, state.CategoryUndetermined, events[0].Category)

	f.clock.Advance(f.cfg.GetErrorDisplay())
	require.Equal(t, state.PhaseIdle, f.store.Phase())
	require.Equal(t, "ready", f.store.Snapshot().SystemStatus)
}

func TestClassificationTimeout(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, image []byte) (state.Category, error) {
		close(started)
		<-ctx.Done()
		return state.CategoryUndetermined, ctx.Err()
	})
	f.hub.set(state.SensorObject, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.loop.runCycle(context.Background())
	}()

	// The classifier running means the wall-clock timer is registered.
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("classifier never started")
	}

	f.clock.Advance(f.cfg.GetClassifyTimeout())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cycle worker did not finish after timeout")
	}

	require.Equal(t, state.PhaseError, f.store.Phase())
	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeTimeout, events[0].Outcome)
	require.Equal(t, state.CategoryUndetermined, events[0].Category)
	require.Equal(t, f.cfg.GetClassifyTimeout().Milliseconds(), events[0].ClassifyMs)

	f.clock.Advance(f.cfg.GetErrorDisplay())
	require.Equal(t, state.PhaseIdle, f.store.Phase())
}

func TestResetDuringClassificationDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan state.Category)
	f := newFixture(t, func(ctx context.Context, image []byte) (state.Category, error) {
		close(started)
		return <-release, nil
	})
	f.hub.set(state.SensorObject, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.loop.runCycle(context.Background())
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("classifier never started")
	}
	require.Equal(t, state.PhaseProcessing, f.store.Phase())

	// Operator reset lands while classification is still in flight; the late
	// result must not leave a stale label on the idle kiosk.
	f.store.Reset()
	release <- state.CategoryBlue

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cycle worker did not finish")
	}

	snap := f.store.Snapshot()
	require.Equal(t, state.PhaseIdle, snap.Phase)
	require.Equal(t, state.CategoryUndetermined, snap.LastClassification)
	require.True(t, snap.ClassifiedAt.IsZero())
	require.Empty(t, f.recorder.Events())
}

func TestObjectIgnoredOutsideIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBlue))

	for _, phase := range []state.Phase{state.PhaseProcessing, state.PhaseResultBlue} {
		f.store.SetPhase(phase)
		f.edge(ctx, state.SensorObject)
		require.Equal(t, phase, f.store.Phase(), "object edge in %s must not move the phase", phase)
		require.False(t, f.loop.starting.Load(), "no cycle worker in %s", phase)
	}
	require.Empty(t, f.recorder.Events())
}

func TestTransientObjectBlipAborts(t *testing.T) {
	f := newFixture(t, alwaysClassify(state.CategoryBlue))
	// Object gone by the time the debounce elapses.
	f.hub.set(state.SensorObject, false)
	f.loop.runCycle(context.Background())

	require.Equal(t, state.PhaseIdle, f.store.Phase())
	require.Empty(t, f.recorder.Events())
}

func TestCaptureFailureShowsError(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	store := state.NewStore(clock)
	store.Reset()
	hub := newFakeHub()
	hub.set(state.SensorObject, true)
	recorder := &fakeRecorder{}

	cam := &failingCamera{}
	loop := NewLoop(Options{
		Store:      store,
		Hub:        hub,
		Camera:     cam,
		Classifier: alwaysClassify(state.CategoryBlue),
		Clock:      clock,
		Config:     config.EmptyConfig(),
		Recorder:   recorder,
	})

	loop.runCycle(context.Background())
	require.Equal(t, state.PhaseError, store.Phase())
	events := recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, db.OutcomeError, events[0].Outcome)
}

type failingCamera struct{}

func (failingCamera) Capture(ctx context.Context) ([]byte, error) {
	return nil, errors.New("device gone")
}
func (failingCamera) Close() error { return nil }

func TestBinDepositIgnoredWhileIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBlue))

	f.edge(ctx, state.SensorBlueBin)
	require.Equal(t, state.PhaseIdle, f.store.Phase())
	require.Empty(t, f.recorder.Events())

	// The trip is still recorded for telemetry, unattached to any cycle.
	trips := f.recorder.Trips()
	require.Len(t, trips, 1)
	require.Equal(t, state.SensorBlueBin, trips[0].sensor)
	require.Empty(t, trips[0].eventID)
}

func TestStepMirrorsSensorsIntoStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBlue))

	f.hub.set(state.SensorBrownBin, true)
	f.loop.Step(ctx)
	require.True(t, f.store.Sensor(state.SensorBrownBin))

	f.hub.set(state.SensorBrownBin, false)
	f.loop.Step(ctx)
	require.False(t, f.store.Sensor(state.SensorBrownBin))
}

func TestObjectEdgeStartsSingleWorker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, alwaysClassify(state.CategoryBlue))

	f.hub.set(state.SensorObject, true)
	f.loop.Step(ctx)

	require.Eventually(t, func() bool {
		return f.store.Phase() == state.PhaseResultBlue
	}, time.Second, time.Millisecond)

	events := f.recorder.Events()
	require.Empty(t, events, "no terminal outcome before a deposit")
	trips := f.recorder.Trips()
	require.Len(t, trips, 1)
	require.Equal(t, state.SensorObject, trips[0].sensor)
}
