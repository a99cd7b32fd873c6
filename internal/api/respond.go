package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeResult renders an engine result with the status code its outcome maps
// to and counts it under op.
func (s *Server) writeResult(w http.ResponseWriter, op string, res engine.Result) {
	recordOutcome(op, res)
	s.writeJSON(w, resultCode(res.Status), res)
}

func resultCode(status model.Status) int {
	switch status {
	case model.StatusNotFound:
		return http.StatusNotFound
	case model.StatusFailed, model.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// validator is implemented by request bodies that check their own fields.
type validator interface {
	Validate() error
}

// decodeRequest reads a size-limited JSON body into v and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, v validator) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return errors.New("invalid JSON body")
	}
	return v.Validate()
}
