package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/model"
)

func (s *Server) handleStartTraffic(w http.ResponseWriter, r *http.Request) {
	var req engine.TrafficRequest
	if err := decodeRequest(w, r, &req); err != nil {
		rejectedRequestsTotal.WithLabelValues(opStartTraffic).Inc()
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("starting traffic generation",
		"target_url", req.TargetURL,
		"rps", req.RPS,
		"duration_s", req.DurationSeconds,
	)
	s.writeResult(w, opStartTraffic, s.engine.StartTraffic(r.Context(), req))
}

func (s *Server) handleStopTraffic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	s.logger.Info("stopping traffic job", "experiment_id", id)
	s.writeResult(w, opStopTraffic, s.engine.StopTraffic(r.Context(), id))
}

func (s *Server) handleListTrafficJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.engine.TrafficJobs()
	if jobs == nil {
		jobs = []*model.Experiment{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetTrafficJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.engine.TrafficJob(chi.URLParam(r, "jobId"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
