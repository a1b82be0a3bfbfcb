package web

import "net/http"

// handleHealthz reports this process's own liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"sessions": s.service.SessionCount(),
	})
}

// handleBackendHealth returns the last backend probe. Answers 503 while the
// backend is down so load balancers can use it directly.
func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	health := s.service.BackendHealth()
	if !health.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, health)
}

// handleStatus returns the conversion limiter state and live session count.
// Used for monitoring and to check if the system can accept more uploads.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"conversions": s.service.LimiterStatus(),
		"sessions":    s.service.SessionCount(),
	})
}
