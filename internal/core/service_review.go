package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

var (
	ErrNotInReview  = errors.New("review is not open")
	ErrUnsavedEdits = errors.New("unsaved raw edits")
)

// withReview runs fn on the wizard's reconciler while the wizard is on the
// review step.
func (s *Service) withReview(id string, fn func(w *Wizard, r *review.Reconciler) error) error {
	return s.update(id, func(w *Wizard) error {
		if w.machine.Stage() != workflow.StageReview || w.review == nil {
			return fmt.Errorf("%w: wizard is on %q", ErrNotInReview, w.machine.Stage().Label())
		}
		return fn(w, w.review)
	})
}

// EditCell sets one column of one row.
func (s *Service) EditCell(wizardID string, row int, field, value string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		return r.SetCell(row, field, value)
	})
}

// AddRow appends a blank row.
func (s *Service) AddRow(wizardID string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		return r.AddRow()
	})
}

// DeleteRow removes a row. The last deletion can be undone.
func (s *Service) DeleteRow(wizardID string, row int) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		return r.DeleteRow(row)
	})
}

// UndoDelete restores the most recently deleted row.
func (s *Service) UndoDelete(wizardID string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		return r.UndoDelete()
	})
}

// BeginRawEdit opens the raw JSON editor.
func (s *Service) BeginRawEdit(wizardID string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		r.BeginEdit()
		return nil
	})
}

// UpdateRaw replaces the editor text. Nothing is parsed until SaveRaw.
func (s *Service) UpdateRaw(wizardID, text string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		return r.EditRaw(text)
	})
}

// SaveRaw parses the editor text and installs it as the document. A parse
// failure returns a *review.ConflictError and keeps the editor open.
func (s *Service) SaveRaw(ctx context.Context, wizardID string) error {
	var entries int
	var fileName string
	err := s.withReview(wizardID, func(w *Wizard, r *review.Reconciler) error {
		if err := r.SaveRaw(); err != nil {
			return err
		}
		entries = r.EntryCount()
		fileName = w.fileName
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, wizardID, ActionRawSaved, fileName, map[string]any{"entries": entries})
	return nil
}

// CancelRawEdit closes the editor without saving.
func (s *Service) CancelRawEdit(wizardID string) error {
	return s.withReview(wizardID, func(_ *Wizard, r *review.Reconciler) error {
		r.CancelEdit()
		return nil
	})
}

// ReplaceDocument installs a document edited outside the table, such as
// the JSON console. While the raw editor is open the replacement waits
// until the editor closes.
func (s *Service) ReplaceDocument(ctx context.Context, wizardID string, doc any) error {
	var deferred bool
	var fileName string
	err := s.withReview(wizardID, func(w *Wizard, r *review.Reconciler) error {
		r.Replace(doc)
		deferred = r.HasPending()
		fileName = w.fileName
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, wizardID, ActionDocumentReplaced, fileName, map[string]any{"deferred": deferred})
	return nil
}

// ProceedToValidate hands the reviewed document to the validate step.
// It is refused while the raw editor holds unsaved text; an open editor
// without changes is closed first.
func (s *Service) ProceedToValidate(ctx context.Context, wizardID string) error {
	var entries int
	var fileName string
	err := s.withReview(wizardID, func(w *Wizard, r *review.Reconciler) error {
		if r.Dirty() {
			return ErrUnsavedEdits
		}
		if r.Editing() {
			r.CancelEdit()
		}
		if err := w.machine.CompleteReview(r.Document()); err != nil {
			return err
		}
		w.report = nil
		w.validations++
		entries = r.EntryCount()
		fileName = w.fileName
		return nil
	})
	if err != nil {
		return err
	}
	s.audit(ctx, wizardID, ActionReviewCompleted, fileName, map[string]any{"entries": entries})
	return nil
}

// ReviewedDocument returns a copy of the document handed to the validate
// step, before or after validation.
func (s *Service) ReviewedDocument(wizardID string) (any, error) {
	var doc any
	err := s.update(wizardID, func(w *Wizard) error {
		reviewed := w.machine.Reviewed()
		if reviewed == nil {
			return fmt.Errorf("%w: review has not been completed", ErrNotReady)
		}
		doc = document.Clone(reviewed)
		return nil
	})
	return doc, err
}
