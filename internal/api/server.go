// Package api is the kiosk's monitoring surface: JSON status and telemetry
// endpoints, a rendered stats chart, and an SSE tail of the raw controller
// line stream. It observes the kiosk; the only mutation it offers is the
// operator reset.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/itrash/kiosk/internal/db"
	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// LineSource is the subscriber surface of the hardware hub used by the SSE
// tail.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// Telemetry is the slice of the database the API reads.
type Telemetry interface {
	ListEvents(limit int) ([]db.DisposalEvent, error)
	GetStats() (db.Stats, error)
	EventsPerDay(days int) ([]db.DayCount, error)
}

type Server struct {
	store *state.Store
	db    Telemetry
	lines LineSource
}

// NewServer creates the monitoring server. db and lines may be nil; their
// endpoints report 503 when absent (dev mode without a database or board).
func NewServer(store *state.Store, telemetry Telemetry, lines LineSource) *Server {
	return &Server{
		store: store,
		db:    telemetry,
		lines: lines,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/stats/chart", s.showStatsChart)
	mux.HandleFunc("/api/sensors/tail", s.tailSensors)
	mux.HandleFunc("/api/reset", s.resetKiosk)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.Snapshot())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "telemetry disabled")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events, err := s.db.ListEvents(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}
	if events == nil {
		events = []db.DisposalEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "telemetry disabled")
		return
	}

	stats, err := s.db.GetStats()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to compute stats: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// showStatsChart renders a stacked daily disposal bar chart.
func (s *Server) showStatsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "telemetry disabled")
		return
	}

	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 || parsed > 365 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsed
	}

	counts, err := s.db.EventsPerDay(days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query daily counts: %v", err))
		return
	}

	// Bucket into per-category series over the observed days.
	var dayAxis []string
	dayIndex := make(map[string]int)
	for _, dc := range counts {
		if _, ok := dayIndex[dc.Day]; !ok {
			dayIndex[dc.Day] = len(dayAxis)
			dayAxis = append(dayAxis, dc.Day)
		}
	}
	categories := []state.Category{state.CategoryBlue, state.CategoryYellow, state.CategoryBrown}
	series := make(map[state.Category][]opts.BarData, len(categories))
	for _, cat := range categories {
		series[cat] = make([]opts.BarData, len(dayAxis))
		for i := range series[cat] {
			series[cat][i] = opts.BarData{Value: 0}
		}
	}
	for _, dc := range counts {
		cat := state.Category(dc.Category)
		if _, ok := series[cat]; !ok {
			continue
		}
		series[cat][dayIndex[dc.Day]] = opts.BarData{Value: dc.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Disposals"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Disposals per day",
			Subtitle: fmt.Sprintf("last %d days", days),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(dayAxis)
	for _, cat := range categories {
		bar.AddSeries(string(cat), series[cat])
	}

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// tailSensors streams raw controller lines as server-sent events.
func (s *Server) tailSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.lines == nil {
		http.Error(w, "hardware hub unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.lines.Subscribe()
	defer s.lines.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, fmt.Sprintf("data: %s\n\n", payload)); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// resetKiosk forces the state machine back to the default idle snapshot.
// Operator recovery hatch; any in-flight timers fire into a phase they no
// longer own and do nothing.
func (s *Server) resetKiosk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.store.Reset()
	monitoring.Logf("api: operator reset")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.Snapshot())
}
