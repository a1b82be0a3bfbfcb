package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/bundlewizard/internal/core"
)

// maxAuditLimit bounds the ?limit query parameter.
const maxAuditLimit = 500

// handleAuditTrail returns the recorded actions of the caller's wizard,
// newest first. Optional ?limit=N (default 100, max 500).
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := wizardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := min(parseIntParam(r, "limit", core.DefaultAuditLimit), maxAuditLimit)
	entries, err := s.service.AuditTrail(r.Context(), id, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, map[string]any{
		"wizardId": id,
		"entries":  entries,
	})
}

// parseIntParam reads a positive integer query parameter, falling back to
// defaultVal when it is missing or invalid.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
