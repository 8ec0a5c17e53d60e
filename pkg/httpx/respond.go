package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every API error: {"error":"<msg>"}.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON encodes v and writes it with status. Views change on every poll,
// so responses are marked uncacheable. v is encoded before anything is sent;
// an encoding failure becomes a 500 instead of a truncated body.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		writeBody(w, http.StatusInternalServerError, []byte(`{"error":"encode response"}`+"\n"))
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return writeBody(w, status, buf.Bytes())
}

// WriteErrorMessage writes an ErrorResponse. Write failures mean the client
// went away and are only logged.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	if err := WriteJSON(w, status, ErrorResponse{Error: message}); err != nil {
		slog.Debug("error response not delivered", "status", status, "message", message, "error", err)
	}
}

// Probe serves a health probe. A nil check is a liveness probe that always
// answers {"status":"ok"}; a failing check answers 503 with the reason.
func Probe(check func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				_ = WriteJSON(w, http.StatusServiceUnavailable, probeResponse{Status: "unavailable", Error: err.Error()})
				return
			}
		}
		_ = WriteJSON(w, http.StatusOK, probeResponse{Status: "ok"})
	}
}

type probeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func writeBody(w http.ResponseWriter, status int, body []byte) error {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
