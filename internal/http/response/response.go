// Package response renders the health probe payloads. The liveness surface
// is the only JSON this service serves; everything operator-facing goes
// through the bot.
package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type probeStatus struct {
	Status    string    `json:"status"`
	Checks    []string  `json:"checks,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Ready reports a passing readiness probe and the checks that backed it.
func Ready(w http.ResponseWriter, r *http.Request, checks ...string) {
	write(w, r, http.StatusOK, probeStatus{Status: "ready", Checks: checks})
}

// Unready reports a failing readiness probe with its cause.
func Unready(w http.ResponseWriter, r *http.Request, cause error) {
	write(w, r, http.StatusServiceUnavailable, probeStatus{Status: "unready", Error: cause.Error()})
}

func write(w http.ResponseWriter, r *http.Request, status int, p probeStatus) {
	p.RequestID = requestID(r)
	p.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func requestID(r *http.Request) string {
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return "req-unknown"
}
