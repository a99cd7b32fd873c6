package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/model"
)

// activeFailuresResponse is the JSON response for GET /api/failures/active.
type activeFailuresResponse struct {
	Failures []*model.Experiment `json:"failures"`
}

func (s *Server) handleApplyNetworkDelay(w http.ResponseWriter, r *http.Request) {
	var req engine.NetworkDelayRequest
	if err := decodeRequest(w, r, &req); err != nil {
		rejectedRequestsTotal.WithLabelValues(opApplyDelay).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("applying network delay",
		"container_name", req.ContainerName,
		"delay_ms", req.DelayMS,
		"jitter_ms", req.JitterMS,
		"duration_s", req.DurationSeconds,
	)
	s.writeResult(w, opApplyDelay, s.engine.ApplyNetworkDelay(r.Context(), req))
}

func (s *Server) handleStopFailure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "failureId")
	s.logger.Info("stopping failure simulation", "experiment_id", id)
	s.writeResult(w, opStopFailure, s.engine.StopFailure(r.Context(), id))
}

func (s *Server) handleActiveFailures(w http.ResponseWriter, _ *http.Request) {
	failures := s.engine.ActiveFailures()
	if failures == nil {
		failures = []*model.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, activeFailuresResponse{Failures: failures})
}

func (s *Server) handleAvailableContainers(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.AvailableContainers(r.Context())
	if err != nil {
		s.logger.Error("list available containers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list containers")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}
