package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/protectedqr/qrcore/server/internal/qrcore/service"
)

type errorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorDetails(w, status, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, msg string, details map[string]string) {
	writeJSON(w, status, errorResponse{
		Success: false,
		Error:   code,
		Message: msg,
		Details: details,
	})
}

// writeServiceError maps an orchestrator error onto the error envelope.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetails(w, http.StatusBadRequest, "validation_failed", "request validation failed", verr.Fields)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", "request was cancelled")
	case errors.Is(err, service.ErrUpstreamUnavailable) && errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("pattern service timed out", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "pattern service timed out")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		s.logger.Warn("pattern service failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "pattern service unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "unexpected server error")
	}
}

// writeBodyError handles a request body that could not be read or parsed.
func writeBodyError(w http.ResponseWriter, err error, code, msg string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, code, msg)
}
