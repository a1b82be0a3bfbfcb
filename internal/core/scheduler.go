package core

// scheduler.go runs the service's background jobs:
//  1. Backend health monitor: probes /health and caches the result for the
//     status endpoint and the page header.
//  2. Audit purge: deletes audit entries past the retention window.
//
// Jobs are long-running and context-aware for graceful shutdown. They log
// failures but never stop the application.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
)

// runPeriodic runs job immediately, then every interval until ctx ends.
func runPeriodic(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	slog.Info("scheduler started", "job", name, "interval", interval.String())

	job(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "job", name)
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// StartHealthMonitor probes the backend every interval. It blocks; run it
// in its own goroutine.
func (s *Service) StartHealthMonitor(ctx context.Context, interval time.Duration) {
	runPeriodic(ctx, "backend_health", interval, s.checkHealth)
}

// checkHealth performs one probe and logs transitions between up and down.
func (s *Service) checkHealth(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	status, err := s.backend.Health(probeCtx)
	if ctx.Err() != nil {
		return
	}

	s.healthMu.Lock()
	prev := s.health
	s.health = status
	s.healthMu.Unlock()

	switch {
	case err != nil && (prev.OK || prev.Checked.IsZero()):
		slog.Warn("backend unhealthy", "status", status.Status, "error", err)
	case err == nil && !prev.OK:
		slog.Info("backend healthy", "status", status.Status, "latency_ms", status.Latency.Milliseconds())
	default:
		slog.Debug("backend health probe", "ok", status.OK, "latency_ms", status.Latency.Milliseconds())
	}
}

const healthProbeTimeout = 10 * time.Second

// BackendHealth returns the result of the most recent probe.
func (s *Service) BackendHealth() backend.HealthStatus {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health
}

// StartAuditPurge deletes audit entries older than retentionDays every
// interval. It blocks; run it in its own goroutine.
func (s *Service) StartAuditPurge(ctx context.Context, purger AuditPurger, retentionDays int, interval time.Duration) {
	slog.Info("audit purge configured", "retention_days", retentionDays)
	runPeriodic(ctx, "audit_purge", interval, func(ctx context.Context) {
		start := time.Now()
		purged, err := purger.Purge(ctx, retentionDays)
		if err != nil {
			slog.Error("audit purge failed", "error", err)
			return
		}
		slog.Info("purged audit log entries",
			"entries_purged", purged,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
