// Package registry holds the in-memory, process-wide record of every launched
// experiment. It is the single source of truth for lifecycle state.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/seantiz/dsplatform/internal/model"
)

// Registry maps experiment IDs to immutable records. Readers get copies;
// writers replace whole records with compare-and-swap, so no caller ever
// observes a half-written record.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*atomic.Pointer[model.Experiment]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*atomic.Pointer[model.Experiment]),
	}
}

// Upsert stores a copy of e under e.ID, replacing any existing record.
func (r *Registry) Upsert(e *model.Experiment) {
	rec := e.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.entries[rec.ID]
	if !ok {
		slot = new(atomic.Pointer[model.Experiment])
		r.entries[rec.ID] = slot
	}
	slot.Store(rec)
}

// Get returns a copy of the record stored under id.
func (r *Registry) Get(id string) (*model.Experiment, bool) {
	slot := r.slot(id)
	if slot == nil {
		return nil, false
	}
	return slot.Load().Clone(), true
}

// List returns copies of all records ordered by start time, then ID.
func (r *Registry) List() []*model.Experiment {
	r.mu.RLock()
	out := make([]*model.Experiment, 0, len(r.entries))
	for _, slot := range r.entries {
		out = append(out, slot.Load())
	}
	r.mu.RUnlock()

	for i, e := range out {
		out[i] = e.Clone()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// UpdateIfStatus applies mutate to a copy of the record stored under id and
// publishes it, but only while the stored status still equals expected. It
// returns the published record and true on success.
//
// mutate may run more than once when writers race and must not have side
// effects. If mutate changes the status, the change must be allowed by
// model.ValidTransition, otherwise the update is rejected.
func (r *Registry) UpdateIfStatus(id string, expected model.Status, mutate func(*model.Experiment)) (*model.Experiment, bool) {
	slot := r.slot(id)
	if slot == nil {
		return nil, false
	}

	for {
		cur := slot.Load()
		if cur.Status != expected {
			return nil, false
		}

		next := cur.Clone()
		mutate(next)
		next.ID = cur.ID
		if next.Status != cur.Status && !model.ValidTransition(cur.Status, next.Status) {
			return nil, false
		}

		if slot.CompareAndSwap(cur, next) {
			return next.Clone(), true
		}
	}
}

func (r *Registry) slot(id string) *atomic.Pointer[model.Experiment] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
