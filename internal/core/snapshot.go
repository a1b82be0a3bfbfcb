package core

import (
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

// Snapshot is everything a view needs to render a wizard, captured under
// the wizard's lock.
type Snapshot struct {
	WizardID     string              `json:"wizardId"`
	Stage        workflow.Stage      `json:"stage"`
	StageName    string              `json:"stageName"`
	Label        string              `json:"label"`
	ConsoleState string              `json:"consoleState"`
	Highest      workflow.Stage      `json:"highest"`
	Steps        []workflow.StepView `json:"steps"`

	FileName string `json:"fileName,omitempty"`
	Pages    int    `json:"pages,omitempty"`

	Rows       []review.Row `json:"rows"`
	RawText    string       `json:"rawText,omitempty"`
	Editing    bool         `json:"editing"`
	Dirty      bool         `json:"dirty"`
	HasPending bool         `json:"hasPending"`
	CanUndo    bool         `json:"canUndo"`

	Progress *ConversionProgress `json:"progress,omitempty"`
	Report   *validation.Report  `json:"report,omitempty"`
	// CanAdvance is true when the recorded report allows moving to download.
	CanAdvance bool `json:"canAdvance"`

	Error   *UserMessage   `json:"error,omitempty"`
	Console map[string]any `json:"console"`
}

// Snapshot captures the wizard's current state.
func (s *Service) Snapshot(wizardID string) (Snapshot, error) {
	w, err := s.Wizard(wizardID)
	if err != nil {
		return Snapshot{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.machine
	stage := m.Stage()
	snap := Snapshot{
		WizardID:     w.ID,
		Stage:        stage,
		StageName:    stage.String(),
		Label:        stage.Label(),
		ConsoleState: stage.ConsoleState(),
		Highest:      m.Highest(),
		Steps:        m.Steps(),
		FileName:     w.fileName,
		Pages:        w.pages,
		Rows:         []review.Row{},
		Console:      m.ConsoleContext(),
	}

	if r := w.review; r != nil {
		snap.Rows = r.Rows()
		snap.RawText = r.RawText()
		snap.Editing = r.Editing()
		snap.Dirty = r.Dirty()
		snap.HasPending = r.HasPending()
		snap.CanUndo = r.CanUndo()
	}
	if w.conv != nil {
		p := w.conv.snapshot()
		snap.Progress = &p
	}
	if w.report != nil {
		report := *w.report
		snap.Report = &report
		snap.CanAdvance = stage == workflow.StageValidate && !report.Fatal()
		if stage == workflow.StageValidate {
			snap.Console["validationResult"] = report
		}
	}
	if w.lastErr != nil {
		msg := MapError(w.lastErr)
		snap.Error = &msg
	}
	return snap, nil
}
