package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bundlewizard/internal/core"
	"github.com/JonMunkholm/bundlewizard/internal/web/views"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

const (
	wizardCookie = "wizard_id"
	// wizardHeader lets API clients without a cookie jar name their wizard.
	wizardHeader = "X-Wizard-ID"

	maxJSONBody = 1 << 20
)

// wizardID returns the wizard the request belongs to.
func wizardID(r *http.Request) (string, error) {
	if id := r.Header.Get(wizardHeader); id != "" {
		return id, nil
	}
	c, err := r.Cookie(wizardCookie)
	if err != nil || c.Value == "" {
		return "", fmt.Errorf("%w: request carries no wizard", core.ErrWizardNotFound)
	}
	return c.Value, nil
}

func (s *Server) setWizardCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     wizardCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Security.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.Session.TTL.Seconds()),
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// respondState answers a successful action with the wizard's new state:
// the panel fragment for HTMX, JSON otherwise.
func (s *Server) respondState(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.service.Snapshot(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		views.Panel(snap).Render(r.Context(), w)
		return
	}
	writeJSON(w, snap)
}

// action wraps a handler that mutates the wizard and answers with its state.
func (s *Server) action(fn func(r *http.Request, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := wizardID(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := fn(r, id); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondState(w, r, id)
	}
}

// handlePage renders the wizard at its current stage. A browser without a
// live wizard gets a new one.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)

	var snap core.Snapshot
	id, err := wizardID(r)
	if err == nil {
		snap, err = s.service.Snapshot(id)
	}
	if errors.Is(err, core.ErrWizardNotFound) {
		wiz := s.service.NewWizard(ctx)
		s.setWizardCookie(w, wiz.ID)
		snap, err = s.service.Snapshot(wiz.ID)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	views.Page(snap, s.service.BackendHealth()).Render(ctx, w)
}

// handleCreateWizard starts a new wizard and returns its state.
func (s *Server) handleCreateWizard(w http.ResponseWriter, r *http.Request) {
	wiz := s.service.NewWizard(WithRequestMetadata(r.Context(), r))
	snap, err := s.service.Snapshot(wiz.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.setWizardCookie(w, wiz.ID)
	w.Header().Set(wizardHeader, wiz.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snap)
}

// handleState returns the wizard snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := wizardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondState(w, r, id)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		stage, err := workflow.ParseStage(chi.URLParam(r, "stage"))
		if err != nil {
			return err
		}
		return s.service.Navigate(id, stage)
	})(w, r)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		return s.service.Reset(WithRequestMetadata(r.Context(), r), id)
	})(w, r)
}

// handleValidate runs validation. A failed backend call still answers 200;
// the fatal report is part of the state.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.action(func(r *http.Request, id string) error {
		_, err := s.service.RunValidation(WithRequestMetadata(r.Context(), r), id)
		return err
	})(w, r)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	s.action(func(_ *http.Request, id string) error {
		return s.service.AdvanceToDownload(id)
	})(w, r)
}
