// Package web provides the HTTP server and handlers for the bundle wizard.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/bundlewizard/internal/config"
	"github.com/JonMunkholm/bundlewizard/internal/core"
	mw "github.com/JonMunkholm/bundlewizard/internal/web/middleware"
)

// Server is the HTTP server for the wizard.
type Server struct {
	cfg     *config.Config
	service *core.Service
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, service *core.Service) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.SecurityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Streaming routes sit outside the request timeout.
	s.router.Get("/api/wizard/progress", s.handleProgress)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		r.Use(middleware.Compress(5))

		r.Get("/", s.handlePage)
		r.Get("/healthz", s.handleHealthz)

		r.Route("/api", func(r chi.Router) {
			r.Get("/backend/health", s.handleBackendHealth)
			r.Get("/status", s.handleStatus)

			r.Route("/wizard", func(r chi.Router) {
				r.Post("/", s.handleCreateWizard)
				r.Get("/state", s.handleState)
				r.Post("/navigate/{stage}", s.handleNavigate)
				r.Post("/reset", s.handleReset)
				r.Post("/cancel", s.handleCancel)
				r.Get("/audit", s.handleAuditTrail)

				// Backend-bound actions share a tighter limit.
				r.Group(func(r chi.Router) {
					if s.cfg.Rate.Enabled {
						r.Use(mw.NewRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).Middleware)
					}
					r.Post("/upload", s.handleUpload)
					r.Post("/validate", s.handleValidate)
					r.Get("/download/excel", s.handleDownloadExcel)
				})

				r.Route("/review", func(r chi.Router) {
					r.Post("/cell", s.handleEditCell)
					r.Post("/rows", s.handleAddRow)
					r.Delete("/rows/{index}", s.handleDeleteRow)
					r.Post("/undo", s.handleUndoDelete)
					r.Post("/raw/begin", s.handleBeginRaw)
					r.Put("/raw", s.handleUpdateRaw)
					r.Post("/raw/save", s.handleSaveRaw)
					r.Post("/raw/cancel", s.handleCancelRaw)
					r.Post("/proceed", s.handleProceed)
				})
				r.Put("/document", s.handleReplaceDocument)

				r.Post("/advance", s.handleAdvance)
				r.Get("/download", s.handleDownload)
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
