// Package db records disposal telemetry in a local sqlite database: one row
// per disposal cycle plus raw sensor trips, with aggregate stats for the
// monitoring API.
package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"
	"gonum.org/v1/gonum/stat"

	"github.com/itrash/kiosk/internal/state"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the kiosk database at path. The schema comes from
// migrations; call MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Serialized access; the kiosk writes from the hardware loop and reads
	// from API handlers.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// DisposalEvent is one completed (or failed) disposal cycle.
type DisposalEvent struct {
	ID         string         `json:"id"`
	Category   state.Category `json:"category"`
	Outcome    string         `json:"outcome"`
	ClassifyMs int64          `json:"classify_ms"`
	Attempts   int64          `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Cycle outcomes recorded in disposal_events.
const (
	OutcomeCompleted = "completed"
	OutcomeIncorrect = "incorrect"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// RecordDisposalEvent inserts one cycle row.
func (db *DB) RecordDisposalEvent(ev DisposalEvent) error {
	_, err := db.Exec(
		`INSERT INTO disposal_events (id, category, outcome, classify_ms, attempts)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Category), ev.Outcome, ev.ClassifyMs, ev.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to record disposal event: %w", err)
	}
	return nil
}

// RecordSensorTrip inserts one raw sensor trip, optionally tied to a cycle.
func (db *DB) RecordSensorTrip(sensor state.Sensor, eventID string) error {
	var id any
	if eventID != "" {
		id = eventID
	}
	_, err := db.Exec(
		`INSERT INTO sensor_trips (sensor, event_id) VALUES (?, ?)`,
		string(sensor), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record sensor trip: %w", err)
	}
	return nil
}

// ListEvents returns the most recent disposal events, newest first.
func (db *DB) ListEvents(limit int) ([]DisposalEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, category, outcome, classify_ms, attempts, created_at
		 FROM disposal_events ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list disposal events: %w", err)
	}
	defer rows.Close()

	var events []DisposalEvent
	for rows.Next() {
		var ev DisposalEvent
		var category string
		if err := rows.Scan(&ev.ID, &category, &ev.Outcome, &ev.ClassifyMs, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan disposal event: %w", err)
		}
		ev.Category = state.Category(category)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stats aggregates disposal_events for the monitoring API.
type Stats struct {
	TotalEvents int64            `json:"total_events"`
	ByCategory  map[string]int64 `json:"by_category"`
	ByOutcome   map[string]int64 `json:"by_outcome"`

	// Classification latency percentiles in milliseconds over completed
	// and incorrect cycles (the ones where classification finished).
	ClassifyP50 float64 `json:"classify_p50_ms"`
	ClassifyP90 float64 `json:"classify_p90_ms"`
	ClassifyP99 float64 `json:"classify_p99_ms"`
}

// GetStats computes aggregate stats over all recorded cycles.
func (db *DB) GetStats() (Stats, error) {
	stats := Stats{
		ByCategory: make(map[string]int64),
		ByOutcome:  make(map[string]int64),
	}

	rows, err := db.Query(`SELECT category, outcome, classify_ms FROM disposal_events`)
	if err != nil {
		return stats, fmt.Errorf("failed to query disposal events: %w", err)
	}
	defer rows.Close()

	var latencies []float64
	for rows.Next() {
		var category, outcome string
		var classifyMs int64
		if err := rows.Scan(&category, &outcome, &classifyMs); err != nil {
			return stats, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.TotalEvents++
		if category != "" {
			stats.ByCategory[category]++
		}
		stats.ByOutcome[outcome]++
		if outcome == OutcomeCompleted || outcome == OutcomeIncorrect {
			latencies = append(latencies, float64(classifyMs))
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.ClassifyP50 = stat.Quantile(0.50, stat.Empirical, latencies, nil)
		stats.ClassifyP90 = stat.Quantile(0.90, stat.Empirical, latencies, nil)
		stats.ClassifyP99 = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	}
	return stats, nil
}

// EventsPerDay returns disposal counts per category bucketed by local day,
// oldest first. Used for the stats chart.
func (db *DB) EventsPerDay(days int) ([]DayCount, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := db.Query(
		`SELECT date(created_at) AS day, category, COUNT(*)
		 FROM disposal_events
		 WHERE created_at >= datetime('now', ?)
		 GROUP BY day, category ORDER BY day`,
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily counts: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Category, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// DayCount is one (day, category) bucket of disposal counts.
type DayCount struct {
	Day      string `json:"day"`
	Category string `json:"category"`
	Count    int64  `json:"count"`
}
