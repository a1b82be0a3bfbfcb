package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/config"
	"github.com/JonMunkholm/bundlewizard/internal/ingest"
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

var (
	ErrWizardNotFound      = errors.New("wizard not found")
	ErrNoConversion        = errors.New("no conversion for this wizard")
	ErrConversionCancelled = errors.New("conversion cancelled")
)

// Service hosts wizards and drives them against the conversion backend.
type Service struct {
	cfg        *config.Config
	backend    Backend
	sessions   *SessionStore
	limiter    *ConversionLimiter
	classifier *ingest.Classifier
	auditStore AuditStore

	healthMu sync.RWMutex
	health   backend.HealthStatus

	running sync.WaitGroup
}

// NewService creates a Service. audit may be nil to disable the audit trail.
func NewService(cfg *config.Config, b Backend, audit AuditStore) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if b == nil {
		return nil, errors.New("backend is required")
	}

	s := &Service{
		cfg:        cfg,
		backend:    b,
		limiter:    NewConversionLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		classifier: ingest.NewClassifier(cfg.Backend.ResultMarker),
		auditStore: audit,
		health:     backend.HealthStatus{Status: "unknown"},
	}
	s.sessions = NewSessionStore(cfg.Session.TTL, cfg.Session.CleanupInterval, s.evicted)
	return s, nil
}

// NewWizard starts a wizard at the upload step.
func (s *Service) NewWizard(ctx context.Context) *Wizard {
	w := newWizard(uuid.NewString())
	s.sessions.Save(w)
	slog.Debug("wizard created", "wizard_id", w.ID)
	s.audit(ctx, w.ID, ActionWizardCreated, "", nil)
	return w
}

// Wizard looks up a live wizard and extends its session.
func (s *Service) Wizard(id string) (*Wizard, error) {
	w, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWizardNotFound, id)
	}
	return w, nil
}

// update runs fn under the wizard's lock and records its error as the
// wizard's last error.
func (s *Service) update(id string, fn func(w *Wizard) error) error {
	w, err := s.Wizard(id)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := fn(w); err != nil {
		return w.fail(err)
	}
	w.clearError()
	return nil
}

// evicted runs when a wizard's session expires.
func (s *Service) evicted(w *Wizard) {
	w.mu.Lock()
	w.cancelConversionLocked()
	fileName := w.fileName
	w.mu.Unlock()

	slog.Info("wizard session expired", "wizard_id", w.ID)
	s.audit(context.Background(), w.ID, ActionWizardExpired, fileName, nil)
}

// StartConversion checks the upload and begins an asynchronous conversion.
// Returns the conversion ID immediately. Use SubscribeProgress to follow it.
//
// A previous conversion of the same wizard is cancelled. Returns
// ErrTooManyConversions if no slot frees up within the configured wait.
func (s *Service) StartConversion(ctx context.Context, wizardID, fileName string, data []byte) (string, error) {
	w, err := s.Wizard(wizardID)
	if err != nil {
		return "", err
	}

	pre, err := PreflightPDF(data, s.cfg.Upload.MaxFileSize, s.cfg.Upload.Preflight)
	if err == nil {
		err = s.requireUploadStage(w)
	}
	if err != nil {
		w.mu.Lock()
		w.fail(err)
		w.mu.Unlock()
		return "", err
	}

	// Acquire conversion slot (blocks until available or timeout)
	if err := s.limiter.Acquire(ctx); err != nil {
		w.mu.Lock()
		w.fail(err)
		w.mu.Unlock()
		return "", err
	}

	convCtx, cancel := context.WithCancel(context.Background())
	conv := newConversion(fileName, pre.Pages, cancel)

	w.mu.Lock()
	if err := uploadStageError(w.machine.Stage()); err != nil {
		w.fail(err)
		w.mu.Unlock()
		cancel()
		s.limiter.Release()
		return "", err
	}
	w.cancelConversionLocked()
	w.conv = conv
	w.fileName = fileName
	w.pages = pre.Pages
	w.clearError()
	w.mu.Unlock()

	s.audit(ctx, w.ID, ActionConversionStarted, fileName, map[string]any{
		"conversion_id": conv.ID,
		"bytes":         len(data),
		"pages":         pre.Pages,
	})

	// Process in background with panic recovery to ensure limiter release
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in conversion",
					"wizard_id", w.ID,
					"conversion_id", conv.ID,
					"panic", r,
				)
				s.conversionEnded(w, conv, nil, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.runConversion(convCtx, w, conv, data)
	}()

	return conv.ID, nil
}

func (s *Service) requireUploadStage(w *Wizard) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uploadStageError(w.machine.Stage())
}

func uploadStageError(st workflow.Stage) error {
	if st != workflow.StageUpload {
		return fmt.Errorf("%w: uploads are accepted on %q, wizard is on %q",
			workflow.ErrOutOfOrder, workflow.StageUpload.Label(), st.Label())
	}
	return nil
}

// runConversion streams /convert into a fresh ingestion session.
func (s *Service) runConversion(ctx context.Context, w *Wizard, conv *conversion, data []byte) {
	log := slog.With("wizard_id", w.ID, "conversion_id", conv.ID)
	log.Info("conversion started", "file", conv.FileName, "bytes", len(data))

	res, err := s.backend.Convert(ctx, conv.FileName, bytes.NewReader(data),
		ingest.WithClassifier(s.classifier),
		ingest.WithProgressFunc(conv.observe),
	)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ErrConversionCancelled, err)
	}

	final := s.conversionEnded(w, conv, res, err)
	log.Info("conversion finished",
		"phase", string(final.Phase),
		"steps", final.Current,
		"total", final.Total,
		"error", final.Error,
		"duration_ms", final.FinishedAt.Sub(final.StartedAt).Milliseconds(),
	)
}

// conversionEnded applies a conversion outcome to its wizard. Only the
// wizard's current conversion may move it to review; a superseded one is
// closed as cancelled.
func (s *Service) conversionEnded(w *Wizard, conv *conversion, res *backend.ConvertResult, err error) ConversionProgress {
	w.mu.Lock()
	current := w.conv == conv
	if err == nil && !current {
		err = ErrConversionCancelled
	}

	var final ConversionProgress
	action := ActionConversionCompleted
	detail := map[string]any{"conversion_id": conv.ID}

	switch {
	case err == nil:
		if w.machine.Stage() != workflow.StageUpload {
			// Upload is always reachable.
			_ = w.machine.Navigate(workflow.StageUpload)
		}
		if uerr := w.machine.CompleteUpload(res.Document); uerr != nil {
			err = uerr
			final = conv.finish(PhaseFailed, err)
			action = ActionConversionFailed
			break
		}
		if w.review != nil {
			w.review.Replace(res.Document)
		} else {
			w.review = review.New(res.Document)
		}
		w.report = nil
		w.clearError()
		final = conv.finish(PhaseComplete, nil)
		detail["entries"] = w.review.EntryCount()
		detail["streamed"] = res.Streamed

	case errors.Is(err, ErrConversionCancelled):
		final = conv.finish(PhaseCancelled, err)
		action = ActionConversionCancelled

	default:
		final = conv.finish(PhaseFailed, err)
		action = ActionConversionFailed
		detail["code"] = final.Code
	}

	if err != nil && current {
		w.lastErr = err
	}
	w.mu.Unlock()

	s.audit(context.Background(), w.ID, action, conv.FileName, detail)
	return final
}

// SubscribeProgress returns a channel that receives progress updates of
// the wizard's current conversion. The channel is closed when the
// conversion ends; subscribing to a finished conversion yields its final
// progress and a closed channel.
func (s *Service) SubscribeProgress(wizardID string) (<-chan ConversionProgress, error) {
	conv, err := s.currentConversion(wizardID)
	if err != nil {
		return nil, err
	}
	return conv.subscribe(), nil
}

// ConversionStatus returns the current progress without blocking.
func (s *Service) ConversionStatus(wizardID string) (ConversionProgress, error) {
	conv, err := s.currentConversion(wizardID)
	if err != nil {
		return ConversionProgress{}, err
	}
	return conv.snapshot(), nil
}

// WaitForConversion blocks until the wizard's current conversion ends.
func (s *Service) WaitForConversion(ctx context.Context, wizardID string) (ConversionProgress, error) {
	conv, err := s.currentConversion(wizardID)
	if err != nil {
		return ConversionProgress{}, err
	}
	select {
	case <-conv.Done:
		return conv.snapshot(), nil
	case <-ctx.Done():
		return conv.snapshot(), ctx.Err()
	}
}

// CancelConversion cancels an in-progress conversion.
func (s *Service) CancelConversion(wizardID string) error {
	conv, err := s.currentConversion(wizardID)
	if err != nil {
		return err
	}
	select {
	case <-conv.Done:
		return fmt.Errorf("%w: conversion already finished", ErrNoConversion)
	default:
	}
	conv.Cancel()
	return nil
}

func (s *Service) currentConversion(wizardID string) (*conversion, error) {
	w, err := s.Wizard(wizardID)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	conv := w.conv
	w.mu.Unlock()
	if conv == nil {
		return nil, ErrNoConversion
	}
	return conv, nil
}

// LimiterStatus returns the conversion limiter state for monitoring.
func (s *Service) LimiterStatus() ConversionLimiterStatus {
	return s.limiter.Status()
}

// SessionCount returns the number of live wizards.
func (s *Service) SessionCount() int {
	return s.sessions.Count()
}

// WaitForConversions blocks until every running conversion has finished
// or ctx ends. Used for graceful shutdown.
func (s *Service) WaitForConversions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels the conversion of every wizard.
func (s *Service) CancelAll() {
	s.sessions.Each(func(w *Wizard) {
		w.mu.Lock()
		w.cancelConversionLocked()
		w.mu.Unlock()
	})
}
