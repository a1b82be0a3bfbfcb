package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is a failed call to the backend: the connection broke,
// the status was not 2xx, the backend answered with a "detail" error, or
// the call ran past its deadline. It is always retryable and never carries
// a parse failure of the streamed payload.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "status %d: ", e.StatusCode)
	}
	b.WriteString(e.Message)
	if e.Err != nil && e.Message != e.Err.Error() {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran past its deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// MessageTimeout is the message of a TransportError caused by a deadline.
const MessageTimeout = "timeout"

// requestFailed classifies an error from http.Client.Do or a body read.
// A cancelled parent context is returned as context.Canceled so callers
// can tell a user abort from a transport failure.
func requestFailed(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TransportError{Op: op, Message: MessageTimeout, Err: context.DeadlineExceeded}
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s: %w", op, context.Canceled)
	default:
		return &TransportError{Op: op, Message: "request failed", Err: err}
	}
}

// statusError builds the error for a non-2xx response. The backend's
// "detail" field is used as the message when the body carries one.
func statusError(op string, status int, body []byte, fallback string) *TransportError {
	msg := fallback
	if detail := detailOf(body); detail != "" {
		msg = detail
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &TransportError{Op: op, StatusCode: status, Message: msg}
}

// detailOf extracts a FastAPI-style "detail" message: either a string or
// a list of {msg} objects.
func detailOf(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return string(payload.Detail)
}

// payloadDetail is detailOf for an already decoded payload.
func payloadDetail(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	v, ok := obj["detail"]
	if !ok {
		return ""
	}
	raw, err := json.Marshal(map[string]any{"detail": v})
	if err != nil {
		return ""
	}
	return detailOf(raw)
}
