package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

var (
	ErrNotValidated = errors.New("validation has not run")
	ErrNotReady     = errors.New("bundle not ready")
)

const (
	contentTypeJSON = "application/json"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// RunValidation sends the reviewed document to the backend and records the
// report. Any earlier report is discarded first. A transport failure is
// recorded as a fatal report rather than returned as an error.
func (s *Service) RunValidation(ctx context.Context, wizardID string) (validation.Report, error) {
	w, err := s.Wizard(wizardID)
	if err != nil {
		return validation.Report{}, err
	}

	w.mu.Lock()
	if st := w.machine.Stage(); st != workflow.StageValidate {
		err := fmt.Errorf("%w: validation runs on %q, wizard is on %q",
			workflow.ErrOutOfOrder, workflow.StageValidate.Label(), st.Label())
		w.fail(err)
		w.mu.Unlock()
		return validation.Report{}, err
	}
	doc := w.machine.Reviewed()
	fileName := w.fileName
	w.report = nil
	w.validations++
	run := w.validations
	w.mu.Unlock()

	log := slog.With("wizard_id", wizardID)
	start := time.Now()

	report, err := s.backend.Validate(ctx, doc)
	if err != nil {
		log.Warn("validation request failed", "error", err)
		report = validation.Failed(failureMessage(err))
	}

	w.mu.Lock()
	stale := w.validations != run || w.machine.Stage() != workflow.StageValidate
	if !stale {
		w.report = &report
		w.clearError()
	}
	w.mu.Unlock()

	if stale {
		log.Info("validation result discarded; wizard moved on")
		return report, nil
	}

	log.Info("validation finished",
		"fatal", report.Fatal(),
		"errors", len(report.Errors),
		"warnings", len(report.Warnings),
		"score", report.Score(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.audit(ctx, wizardID, ActionValidationRun, fileName, map[string]any{
		"fatal":    report.Fatal(),
		"passed":   report.Passed(),
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
		"score":    report.Score(),
	})
	return report, nil
}

// failureMessage is the text shown for a validation request that never
// produced a report.
func failureMessage(err error) string {
	var te *backend.TransportError
	if errors.As(err, &te) && te.Message != "" {
		if te.Timeout() {
			return "Validation timed out"
		}
		return te.Message
	}
	return err.Error()
}

// AdvanceToDownload moves to the download step using the recorded report.
// A fatal or missing report keeps the wizard on the validate step.
func (s *Service) AdvanceToDownload(wizardID string) error {
	return s.update(wizardID, func(w *Wizard) error {
		if w.report == nil {
			return ErrNotValidated
		}
		return w.machine.CompleteValidation(*w.report)
	})
}

// Navigate jumps to a step already reached. Payloads are kept.
func (s *Service) Navigate(wizardID string, stage workflow.Stage) error {
	return s.update(wizardID, func(w *Wizard) error {
		return w.machine.Navigate(stage)
	})
}

// Reset cancels any conversion and returns the wizard to a fresh upload
// step.
func (s *Service) Reset(ctx context.Context, wizardID string) error {
	var fileName string
	err := s.update(wizardID, func(w *Wizard) error {
		w.cancelConversionLocked()
		fileName = w.fileName
		w.conv = nil
		w.machine.Reset()
		w.review = nil
		w.report = nil
		w.validations++
		w.fileName = ""
		w.pages = 0
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("wizard reset", "wizard_id", wizardID)
	s.audit(ctx, wizardID, ActionWizardReset, fileName, nil)
	return nil
}

// Download returns the validated document as pretty-printed JSON.
func (s *Service) Download(ctx context.Context, wizardID string) (Artifact, error) {
	var doc any
	var fileName string
	err := s.update(wizardID, func(w *Wizard) error {
		var err error
		doc, err = validatedDocument(w)
		fileName = w.fileName
		return err
	})
	if err != nil {
		return Artifact{}, err
	}

	data, err := document.Marshal(doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("serialize bundle: %w", err)
	}
	name := bundleFileName(time.Now(), "json")
	s.audit(ctx, wizardID, ActionDownload, fileName, map[string]any{"artifact": name, "bytes": len(data)})
	return Artifact{FileName: name, ContentType: contentTypeJSON, Data: data}, nil
}

// ExportExcel converts the validated document to a spreadsheet through
// the backend.
func (s *Service) ExportExcel(ctx context.Context, wizardID string) (Artifact, error) {
	var doc any
	var fileName string
	err := s.update(wizardID, func(w *Wizard) error {
		var err error
		doc, err = validatedDocument(w)
		fileName = w.fileName
		return err
	})
	if err != nil {
		return Artifact{}, err
	}

	data, err := s.backend.JSONToExcel(ctx, doc)
	if err != nil {
		return Artifact{}, err
	}
	name := bundleFileName(time.Now(), "xlsx")
	s.audit(ctx, wizardID, ActionExcelExport, fileName, map[string]any{"artifact": name, "bytes": len(data)})
	return Artifact{FileName: name, ContentType: contentTypeXLSX, Data: data}, nil
}

func validatedDocument(w *Wizard) (any, error) {
	res := w.machine.Result()
	if res == nil || w.machine.Highest() != workflow.StageDownload {
		return nil, ErrNotReady
	}
	return document.Clone(res.Document), nil
}

func bundleFileName(t time.Time, ext string) string {
	return fmt.Sprintf("nhcx-bundle-%d.%s", t.UnixMilli(), ext)
}
