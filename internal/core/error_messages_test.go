package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/ingest"
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:        "backend timeout",
			err:         &backend.TransportError{Op: "convert", Message: backend.MessageTimeout, Err: context.DeadlineExceeded},
			wantCode:    "TRN001",
			wantMessage: "The conversion service took too long to respond",
		},
		{
			name:     "backend unreachable",
			err:      &backend.TransportError{Op: "convert", Message: "request failed", Err: errors.New("dial tcp: connection refused")},
			wantCode: "TRN002",
		},
		{
			name:     "backend status",
			err:      &backend.TransportError{Op: "convert", StatusCode: 500, Message: "LLM quota exceeded"},
			wantCode: "TRN003",
		},
		{
			name:        "malformed payload",
			err:         &ingest.ProtocolParseError{Reason: ingest.ReasonMalformedJSON, Err: errors.New("invalid character")},
			wantCode:    "PRS001",
			wantMessage: "The conversion result could not be read",
		},
		{
			name:     "empty payload",
			err:      &ingest.ProtocolParseError{Reason: ingest.ReasonEmptyPayload},
			wantCode: "PRS002",
		},
		{
			name:     "raw editor conflict",
			err:      &review.ConflictError{Err: errors.New("unexpected end of JSON input")},
			wantCode: "REC001",
		},
		{
			name:     "unsaved edits",
			err:      ErrUnsavedEdits,
			wantCode: "REC002",
		},
		{
			name:     "wrapped stage lock",
			err:      fmt.Errorf("navigate: %w", workflow.ErrStageLocked),
			wantCode: "WIZ001",
		},
		{
			name:     "fatal validation",
			err:      fmt.Errorf("%w: schema mismatch", workflow.ErrValidationFatal),
			wantCode: "VAL001",
		},
		{
			name:     "expired wizard",
			err:      ErrWizardNotFound,
			wantCode: "WIZ003",
		},
		{
			name:        "file too large",
			err:         fmt.Errorf("%w: 60MB exceeds 50MB", ErrFileTooLarge),
			wantCode:    "FILE001",
			wantMessage: "File exceeds the maximum size",
		},
		{
			name:     "not a pdf",
			err:      ErrNotPDF,
			wantCode: "FILE002",
		},
		{
			name:     "cancelled conversion before generic cancel",
			err:      fmt.Errorf("%w: context canceled", ErrConversionCancelled),
			wantCode: "UPL001",
		},
		{
			name:     "busy",
			err:      ErrTooManyConversions,
			wantCode: "UPL002",
		},
		{
			name:     "rate limit",
			err:      errors.New("rate limit exceeded"),
			wantCode: "RATE001",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("EMPTY PAYLOAD"),
			wantCode: "PRS002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.wantMessage != "" && got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapError_Detail(t *testing.T) {
	got := MapError(&backend.TransportError{Op: "validate", StatusCode: 422, Message: "Bundle too large"})
	if got.Detail != "Bundle too large" {
		t.Errorf("Detail = %q, want backend message", got.Detail)
	}

	got = MapError(&review.ConflictError{Err: errors.New("bad"), Offset: 7})
	if got.Detail != "invalid JSON at offset 7: bad" {
		t.Errorf("Detail = %q", got.Detail)
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error returns empty",
			err:  nil,
			want: "",
		},
		{
			name: "known error formats correctly",
			err:  ErrNotPDF,
			want: "Only PDF files are accepted (Code: FILE002). Choose a .pdf file",
		},
		{
			name: "unknown error uses default",
			err:  errors.New("xyz"),
			want: "An unexpected error occurred (Code: ERR000). Please try again or contact support",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatUserError(tt.err); got != tt.want {
				t.Errorf("FormatUserError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(ErrNoConversion) {
		t.Error("IsUserFacing(ErrNoConversion) = false")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("IsUserFacing(boom) = true")
	}
}
