// Package workflow holds the wizard's stage machine.
//
// Forward progress only happens through the Complete* methods, each of
// which requires the machine to be sitting on the stage being completed.
// Navigate moves freely between stages already reached and never touches
// payloads. Reset is the only transition that discards state.
package workflow

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

var (
	ErrInvalidStage    = errors.New("invalid stage")
	ErrStageLocked     = errors.New("stage not reached yet")
	ErrOutOfOrder      = errors.New("stage completed out of order")
	ErrValidationFatal = errors.New("validation reported a fatal error")
	ErrNoDocument      = errors.New("no document")
)

// Result is the payload of the validate stage.
type Result struct {
	Report   validation.Report
	Document any
}

// Passed mirrors the report's pass flag.
func (r Result) Passed() bool {
	return r.Report.Passed()
}

// Machine is the workflow state for one wizard. It is not safe for
// concurrent use; callers serialize access.
type Machine struct {
	stage   Stage
	highest Stage

	extracted any
	reviewed  any
	result    *Result
}

// New returns a machine at StageUpload with no payloads.
func New() *Machine {
	return &Machine{}
}

func (m *Machine) Stage() Stage   { return m.stage }
func (m *Machine) Highest() Stage { return m.highest }

// Reachable reports whether direct navigation to s is allowed.
func (m *Machine) Reachable(s Stage) bool {
	return s.Valid() && s <= m.highest
}

// Extracted returns the document produced by the upload stage.
func (m *Machine) Extracted() any { return m.extracted }

// Reviewed returns the document accepted at the end of review.
func (m *Machine) Reviewed() any { return m.reviewed }

// Result returns the validation payload, or nil before validation passed.
func (m *Machine) Result() *Result { return m.result }

// CompleteUpload installs the extracted document and moves to review.
// Later payloads belong to an older document and are dropped.
func (m *Machine) CompleteUpload(doc any) error {
	if err := m.require(StageUpload); err != nil {
		return err
	}
	if doc == nil {
		return ErrNoDocument
	}
	m.extracted = document.Clone(doc)
	m.reviewed = nil
	m.result = nil
	m.stage = StageReview
	m.highest = StageReview
	return nil
}

// CompleteReview records the reviewed document and moves to validation.
func (m *Machine) CompleteReview(doc any) error {
	if err := m.require(StageReview); err != nil {
		return err
	}
	if doc == nil {
		return ErrNoDocument
	}
	m.reviewed = document.Clone(doc)
	m.result = nil
	m.stage = StageValidate
	m.highest = StageValidate
	return nil
}

// CompleteValidation moves to download unless the report is fatal.
// Listed errors and warnings do not block.
func (m *Machine) CompleteValidation(report validation.Report) error {
	if err := m.require(StageValidate); err != nil {
		return err
	}
	if report.Fatal() {
		return fmt.Errorf("%w: %s", ErrValidationFatal, report.Error)
	}
	m.result = &Result{Report: report, Document: document.Clone(m.reviewed)}
	m.stage = StageDownload
	m.highest = StageDownload
	return nil
}

// Navigate jumps to a stage already reached.
func (m *Machine) Navigate(s Stage) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStage, int(s))
	}
	if s > m.highest {
		return fmt.Errorf("%w: %s", ErrStageLocked, s)
	}
	m.stage = s
	return nil
}

// Reset returns to upload and clears everything.
func (m *Machine) Reset() {
	*m = Machine{}
}

func (m *Machine) require(s Stage) error {
	if m.stage != s {
		return fmt.Errorf("%w: at %s, completing %s", ErrOutOfOrder, m.stage, s)
	}
	return nil
}

// StepView describes one stage for the step indicator.
type StepView struct {
	Stage     Stage  `json:"stage"`
	Label     string `json:"label"`
	Current   bool   `json:"current"`
	Done      bool   `json:"done"`
	Reachable bool   `json:"reachable"`
}

// Steps returns the step indicator model.
func (m *Machine) Steps() []StepView {
	out := make([]StepView, 0, len(Stages))
	for _, s := range Stages {
		out = append(out, StepView{
			Stage:     s,
			Label:     s.Label(),
			Current:   s == m.stage,
			Done:      s < m.highest,
			Reachable: m.Reachable(s),
		})
	}
	return out
}

// ConsoleContext is the JSON shown in the side console for the current
// stage.
func (m *Machine) ConsoleContext() map[string]any {
	switch m.stage {
	case StageReview:
		return map[string]any{
			"status": "Extracted elements",
			"data":   m.extracted,
		}
	case StageValidate:
		ctx := map[string]any{
			"status":          "Pending generation",
			"reviewedPayload": m.reviewed,
		}
		if m.result != nil {
			ctx["validationResult"] = m.result.Report
		} else {
			ctx["validationResult"] = nil
		}
		return ctx
	case StageDownload:
		var payload any
		if m.result != nil {
			payload = m.result.Document
		}
		return map[string]any{
			"status":       "Ready for export",
			"resourceType": "Bundle",
			"payload":      payload,
		}
	default:
		return map[string]any{"status": "Awaiting PDF file..."}
	}
}
