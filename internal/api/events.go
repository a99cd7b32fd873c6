package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dsplatform/internal/model"
	"github.com/seantiz/dsplatform/internal/store"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.engine.Experiment(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)

	// Already finished: nothing more will be published.
	if rec.Status.Terminal() {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", string(rec.Status))
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	w.WriteHeader(http.StatusOK)

	// The terminal event may have been published between the status check
	// above and Subscribe; the registry is updated before any event goes out.
	if rec, found := s.engine.Experiment(id); found && rec.Status.Terminal() {
		_ = writeSSEEvent(w, "done", string(rec.Status))
		return
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				final := "closed"
				if rec, found := s.engine.Experiment(id); found {
					final = string(rec.Status)
				}
				_ = writeSSEEvent(w, "done", final)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", "experiment_id", id, "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// eventHistoryResponse is the JSON response for GET /api/experiments/{id}/events/history.
type eventHistoryResponse struct {
	ExperimentID string        `json:"experiment_id"`
	Events       []model.Event `json:"events"`
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := s.journal.ListEvents(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// The journal lags the registry slightly; a known experiment with no
		// rows yet gets an empty history.
		if _, ok := s.engine.Experiment(id); !ok {
			s.writeError(w, http.StatusNotFound, "experiment not found")
			return
		}
		events = []model.Event{}
	} else if err != nil {
		s.logger.Error("list events", "experiment_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{
		ExperimentID: id,
		Events:       events,
	})
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, payload string) error {
	for seg := range strings.SplitSeq(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
