package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/store"
	"github.com/sells-group/phonetrust/internal/trust"
)

type errorBody struct {
	Error        string `json:"error"`
	Collaborator string `json:"collaborator,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// statusFor maps validator errors onto HTTP statuses: invalid input is 400,
// a missing state 404, a transient collaborator failure 503 and a terminal
// one 502.
func statusFor(err error) int {
	var cerr *trust.CollaboratorError
	switch {
	case errors.Is(err, trust.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cerr) && cerr.Transient():
		return http.StatusServiceUnavailable
	case errors.As(err, &cerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var cerr *trust.CollaboratorError
	switch {
	case status == http.StatusNotFound:
		body.Error = "phone trust state not found"
	case errors.As(err, &cerr):
		// Collaborator internals stay in the logs.
		body.Error = cerr.Collaborator + " unavailable"
		body.Collaborator = cerr.Collaborator
		body.Retryable = cerr.Transient()
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// scoreStale reports whether err only means the trust score could not be
// recalculated; the stage itself was recorded.
func scoreStale(err error) bool {
	var cerr *trust.CollaboratorError
	return errors.As(err, &cerr) && cerr.Collaborator == trust.CollaboratorScorer
}
