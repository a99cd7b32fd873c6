package engine

import (
	"time"

	"github.com/seantiz/dsplatform/internal/model"
)

// Sweep completes every active record whose TTL elapsed before now. It does
// not consult the runtime: a time-boxed workload past its TTL is assumed to
// have exited on its own. Returns the number of records it finalized.
//
// Only network-delay records carry a TTL; traffic jobs are left to their
// monitors.
func (e *Engine) Sweep(now time.Time) int {
	now = now.UTC()
	swept := 0
	for _, rec := range e.registry.List() {
		if rec.Status != model.StatusActive || !rec.Expired(now) {
			continue
		}
		updated, ok := e.registry.UpdateIfStatus(rec.ID, model.StatusActive, func(r *model.Experiment) {
			r.Status = model.StatusCompleted
			r.FinishedAt = &now
		})
		if !ok {
			continue
		}
		e.finalized(updated, model.SourceSweeper)
		swept++
	}
	return swept
}

// ActiveFailures sweeps expired records and then returns every
// network-delay record, whatever its status.
func (e *Engine) ActiveFailures() []*model.Experiment {
	if n := e.Sweep(e.opts.Now()); n > 0 {
		e.logger.Debug("expired failures swept", "count", n)
	}
	return e.byKind(model.KindNetworkDelay)
}
