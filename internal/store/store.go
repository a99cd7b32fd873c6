package store

import (
	"context"

	"github.com/seantiz/dsplatform/internal/model"
)

// EventStats holds aggregate lifecycle statistics derived from the journal.
type EventStats struct {
	TotalEvents       int            `json:"total_events"`
	LaunchedByKind    map[string]int `json:"launched_by_kind"`
	FinishedByStatus  map[string]int `json:"finished_by_status"`
	FinishedBySource  map[string]int `json:"finished_by_source"`
	AvgLifetimeMS     float64        `json:"avg_lifetime_ms"`
	ActiveExperiments int            `json:"active_experiments"`
}

// Journal is an append-only log of experiment lifecycle transitions. It is a
// history for operators; the registry remains the source of truth for state.
type Journal interface {
	InsertEvent(ctx context.Context, ev *model.Event) error
	Publish(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, experimentID string) ([]model.Event, error)
	GetEventStats(ctx context.Context) (*EventStats, error)
	Close() error
}
