package api

import (
	"net/http"

	"github.com/seantiz/dsplatform/internal/engine"
)

// monitorsResponse is the JSON response for GET /api/monitors.
type monitorsResponse struct {
	Count    int                  `json:"count"`
	Monitors []engine.MonitorInfo `json:"monitors"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.journal.GetEventStats(r.Context())
	if err != nil {
		s.logger.Error("get event stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListMonitors(w http.ResponseWriter, _ *http.Request) {
	monitors := s.engine.Monitors()
	if monitors == nil {
		monitors = []engine.MonitorInfo{}
	}
	s.writeJSON(w, http.StatusOK, monitorsResponse{Count: len(monitors), Monitors: monitors})
}
