package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itrash/kiosk/internal/db"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

type fakeTelemetry struct {
	events []db.DisposalEvent
	stats  db.Stats
	daily  []db.DayCount
	err    error

	lastLimit int
}

func (f *fakeTelemetry) ListEvents(limit int) ([]db.DisposalEvent, error) {
	f.lastLimit = limit
	return f.events, f.err
}

func (f *fakeTelemetry) GetStats() (db.Stats, error) {
	return f.stats, f.err
}

func (f *fakeTelemetry) EventsPerDay(days int) ([]db.DayCount, error) {
	return f.daily, f.err
}

type fakeLines struct {
	ch chan string
}

func (f *fakeLines) Subscribe() (string, chan string) { return "sub", f.ch }
func (f *fakeLines) Unsubscribe(id string)            {}

func newTestServer(telemetry Telemetry, lines LineSource) (*Server, *state.Store) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := state.NewStore(clock)
	store.Reset()
	return NewServer(store, telemetry, lines), store
}

func TestShowStatus(t *testing.T) {
	srv, store := newTestServer(nil, nil)
	store.SetPhase(state.PhaseProcessing)

	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, "processing", snap.PhaseName)
}

func TestStatusRejectsPost(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListEvents(t *testing.T) {
	telemetry := &fakeTelemetry{events: []db.DisposalEvent{
		{ID: "a", Category: state.CategoryBlue, Outcome: db.OutcomeCompleted},
	}}
	srv, _ := newTestServer(telemetry, nil)

	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?limit=5", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 5, telemetry.lastLimit)

	var events []db.DisposalEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].ID)
}

func TestListEventsEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(&fakeTelemetry{}, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestListEventsInvalidLimit(t *testing.T) {
	srv, _ := newTestServer(&fakeTelemetry{}, nil)
	for _, q := range []string{"limit=0", "limit=-3", "limit=9999", "limit=abc"} {
		w := httptest.NewRecorder()
		srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events?"+q, nil))
		require.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListEventsWithoutDatabase(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListEventsDatabaseFailure(t *testing.T) {
	srv, _ := newTestServer(&fakeTelemetry{err: errors.New("disk full")}, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestShowStats(t *testing.T) {
	telemetry := &fakeTelemetry{stats: db.Stats{
		TotalEvents: 7,
		ByCategory:  map[string]int64{"blue": 4},
		ByOutcome:   map[string]int64{db.OutcomeCompleted: 6},
		ClassifyP50: 850,
	}}
	srv, _ := newTestServer(telemetry, nil)

	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var stats db.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Equal(t, int64(7), stats.TotalEvents)
	require.Equal(t, int64(4), stats.ByCategory["blue"])
	require.Equal(t, 850.0, stats.ClassifyP50)
}

func TestStatsChartRendersHTML(t *testing.T) {
	telemetry := &fakeTelemetry{daily: []db.DayCount{
		{Day: "2025-05-30", Category: "blue", Count: 3},
		{Day: "2025-05-31", Category: "yellow", Count: 1},
		{Day: "2025-05-31", Category: "blue", Count: 2},
	}}
	srv, _ := newTestServer(telemetry, nil)

	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/chart?days=7", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "echarts")
}

func TestStatsChartInvalidDays(t *testing.T) {
	srv, _ := newTestServer(&fakeTelemetry{}, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/chart?days=0", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetForcesIdle(t *testing.T) {
	srv, store := newTestServer(nil, nil)
	store.SetPhase(state.PhaseError)
	store.SetClassification(state.CategoryBlue)

	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reset", nil))

	require.Equal(t, http.StatusOK, w.Code)
	snap := store.Snapshot()
	require.Equal(t, state.PhaseIdle, snap.Phase)
	require.Equal(t, state.CategoryUndetermined, snap.LastClassification)
	require.Equal(t, "ready", snap.SystemStatus)
}

func TestResetRejectsGet(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reset", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTailStreamsControllerLines(t *testing.T) {
	lines := &fakeLines{ch: make(chan string, 4)}
	srv, _ := newTestServer(nil, lines)

	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sensors/tail", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	require.True(t, strings.HasPrefix(scanner.Text(), ": ping"))

	lines.ch <- "S,1,0,0,0"

	var got string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			got = line
			break
		}
	}
	require.Equal(t, "data: S,1,0,0,0", got)
}

func TestTailWithoutHub(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sensors/tail", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
