package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/dsplatform/internal/model"

	_ "modernc.org/sqlite"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS experiment_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id TEXT NOT NULL,
    kind          TEXT NOT NULL,
    from_status   TEXT NOT NULL DEFAULT '',
    to_status     TEXT NOT NULL,
    source        TEXT NOT NULL,
    error_kind    TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    at_ms         INTEGER NOT NULL
)`

const createEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_experiment_events_experiment
    ON experiment_events (experiment_id, id)`

// ErrNotFound is returned when no events exist for an experiment.
var ErrNotFound = errors.New("experiment not found")

// Compile-time interface satisfaction check.
var _ Journal = (*SQLiteStore)(nil)

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// ":memory:" gives a private, process-lifetime journal.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate events table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertEvent appends ev to the journal and sets its ID.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO experiment_events (
			experiment_id, kind, from_status, to_status, source, error_kind, detail, at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ExperimentID, ev.Kind, ev.From, ev.To, ev.Source, ev.ErrorKind, ev.Detail, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read event id: %w", err)
	}
	ev.ID = id
	return nil
}

// Publish journals ev, letting the store act as an engine event sink.
func (s *SQLiteStore) Publish(ctx context.Context, ev model.Event) error {
	return s.InsertEvent(ctx, &ev)
}

// ListEvents returns an experiment's events in the order they were recorded.
// It returns ErrNotFound if the experiment has no events.
func (s *SQLiteStore) ListEvents(ctx context.Context, experimentID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, kind, from_status, to_status, source, error_kind, detail, at_ms
		FROM experiment_events WHERE experiment_id = ? ORDER BY id ASC`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			ev   model.Event
			atMS int64
		)
		if err := rows.Scan(
			&ev.ID, &ev.ExperimentID, &ev.Kind, &ev.From, &ev.To,
			&ev.Source, &ev.ErrorKind, &ev.Detail, &atMS,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At = time.UnixMilli(atMS).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// GetEventStats returns aggregate lifecycle statistics.
func (s *SQLiteStore) GetEventStats(ctx context.Context) (*EventStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &EventStats{
		LaunchedByKind:   make(map[string]int),
		FinishedByStatus: make(map[string]int),
		FinishedBySource: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM experiment_events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT kind, COUNT(*) FROM experiment_events WHERE from_status = '' AND to_status = 'active' GROUP BY kind`, stats.LaunchedByKind},
		{`SELECT to_status, COUNT(*) FROM experiment_events WHERE from_status = 'active' GROUP BY to_status`, stats.FinishedByStatus},
		{`SELECT source, COUNT(*) FROM experiment_events WHERE from_status = 'active' GROUP BY source`, stats.FinishedBySource},
	}
	for _, g := range groups {
		if err := countInto(ctx, tx, g.query, g.into); err != nil {
			return nil, err
		}
	}

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT AVG(f.at_ms - l.at_ms)
		FROM experiment_events l
		JOIN experiment_events f ON f.experiment_id = l.experiment_id AND f.from_status = 'active'
		WHERE l.from_status = '' AND l.to_status = 'active'`,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average lifetime: %w", err)
	}
	if avg.Valid {
		stats.AvgLifetimeMS = avg.Float64
	}

	launched := 0
	for _, n := range stats.LaunchedByKind {
		launched += n
	}
	finished := 0
	for _, n := range stats.FinishedByStatus {
		finished += n
	}
	stats.ActiveExperiments = launched - finished

	return stats, nil
}

func countInto(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}
