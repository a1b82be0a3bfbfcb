package core

import (
	"context"
	"io"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/ingest"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

// Backend is the conversion service as seen by the wizard.
// Satisfied by *backend.Client.
type Backend interface {
	Convert(ctx context.Context, fileName string, file io.Reader, opts ...ingest.Option) (*backend.ConvertResult, error)
	Validate(ctx context.Context, doc any) (validation.Report, error)
	JSONToExcel(ctx context.Context, doc any) ([]byte, error)
	Health(ctx context.Context) (backend.HealthStatus, error)
}

// ConversionPhase indicates the current stage of a conversion.
type ConversionPhase string

const (
	PhaseStarting  ConversionPhase = "starting"
	PhaseStreaming ConversionPhase = "streaming"
	PhaseComplete  ConversionPhase = "complete"
	PhaseFailed    ConversionPhase = "failed"
	PhaseCancelled ConversionPhase = "cancelled"
)

// logTailSize is how many progress lines a ConversionProgress carries.
const logTailSize = 50

// ConversionProgress represents the current state of a conversion.
type ConversionProgress struct {
	ConversionID string          `json:"conversionId"`
	FileName     string          `json:"fileName"`
	Phase        ConversionPhase `json:"phase"`
	Current      int             `json:"current"`
	Total        int             `json:"total"`
	Message      string          `json:"message,omitempty"`
	Log          []string        `json:"log,omitempty"`
	Pages        int             `json:"pages,omitempty"` // From preflight; 0 when skipped
	Error        string          `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
	Code         string          `json:"code,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt,omitzero"`
}

// Percent returns the progress as a percentage (0-100).
func (p ConversionProgress) Percent() int {
	if p.Phase == PhaseComplete {
		return 100
	}
	return ingest.Percent(p.Current, p.Total)
}

// Done reports whether the conversion has ended, successfully or not.
func (p ConversionProgress) Done() bool {
	switch p.Phase {
	case PhaseComplete, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Artifact is a file handed to the user.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}
