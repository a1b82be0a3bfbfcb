package core

import (
	"sync"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

// Wizard is one user's pass through upload, review, validate and download.
// All fields behind mu change together, so a Snapshot never sees a
// half-applied update.
type Wizard struct {
	ID      string
	Created time.Time

	mu      sync.Mutex
	machine *workflow.Machine
	review  *review.Reconciler
	conv    *conversion
	report  *validation.Report

	// validations counts validation runs; a response is kept only if no
	// newer run or state change happened meanwhile.
	validations uint64
	lastErr     error
	fileName    string
	pages       int
}

func newWizard(id string) *Wizard {
	return &Wizard{
		ID:      id,
		Created: time.Now(),
		machine: workflow.New(),
	}
}

// cancelConversionLocked cancels the running conversion, if any. The
// conversion stays attached so its final progress remains readable.
func (w *Wizard) cancelConversionLocked() {
	if w.conv != nil {
		w.conv.Cancel()
	}
}

// fail records err as the wizard's last error and returns it.
func (w *Wizard) fail(err error) error {
	w.lastErr = err
	return err
}

// clearError drops the last error after a successful action.
func (w *Wizard) clearError() {
	w.lastErr = nil
}
