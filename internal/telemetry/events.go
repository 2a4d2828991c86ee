// Package telemetry persists the run's append-only event log in SQLite so
// the dashboard and post-run analysis can replay what happened without
// parsing log files.
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// EventType labels one row of the event log.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventRunFinished      EventType = "run_finished"
	EventTaskSelected     EventType = "task_selected"
	EventTaskDone         EventType = "task_done"
	EventTaskFailed       EventType = "task_failed"
	EventAttemptFailed    EventType = "attempt_failed"
	EventValidationFailed EventType = "validation_failed"
	EventAmendment        EventType = "amendment"
	EventCatalogRefresh   EventType = "catalog_refresh"
	EventCatalogRejected  EventType = "catalog_rejected"
	EventControlCommand   EventType = "control_command"
	EventRateLimited      EventType = "rate_limited"
)

// Event is one logged occurrence. Detail holds event-specific fields as a
// flat JSON object.
type Event struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Iteration int               `json:"iteration"`
	TaskID    string            `json:"task_id,omitempty"`
	Type      EventType         `json:"type"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Store is the SQLite-backed event log. Rows are only ever inserted.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the event database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		iteration INTEGER NOT NULL,
		task_id TEXT,
		type TEXT NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_iteration ON events(iteration);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

// Record appends one event.
func (s *Store) Record(iteration int, taskID string, typ EventType, detail map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailJSON []byte
	if len(detail) > 0 {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal event detail: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO events (timestamp, iteration, task_id, type, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), iteration, taskID, string(typ), string(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first, up to limit.
func (s *Store) Recent(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, timestamp, iteration, task_id, type, detail FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ByIteration returns all events for one iteration in insertion order.
func (s *Store) ByIteration(iteration int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, timestamp, iteration, task_id, type, detail FROM events WHERE iteration = ? ORDER BY id`,
		iteration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count returns the total number of recorded events.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e          Event
			taskID     sql.NullString
			detailJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Iteration, &taskID, &e.Type, &detailJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.TaskID = taskID.String
		if detailJSON.Valid && detailJSON.String != "" {
			if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to parse event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
