package review

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrRowIndex      = errors.New("row index out of range")
	ErrUnknownField  = errors.New("unknown column")
	ErrNotEditing    = errors.New("raw editor is not open")
	ErrNothingToUndo = errors.New("nothing to undo")
)

// ConflictError is returned when the raw text does not parse on save.
// The canonical document keeps its last good value and the editor stays
// open.
type ConflictError struct {
	Err    error
	Offset int64
}

func (e *ConflictError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("invalid JSON at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("invalid JSON: %v", e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func newConflict(err error) *ConflictError {
	c := &ConflictError{Err: err}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		c.Offset = syn.Offset
	}
	return c
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
