package core

// error_messages.go maps technical errors to user-facing messages.
//
// # Error Codes Reference
//
// When users encounter errors, they can quote the code to support staff for
// faster diagnosis. Codes are grouped by category:
//
// # Transport Errors (TRN001-TRN099)
//
//	TRN001 - Backend timeout: the conversion service took too long
//	         Patterns: "timeout", "deadline exceeded"
//	TRN002 - Backend unreachable: the conversion service could not be reached
//	         Patterns: "request failed", "connection refused"
//	TRN003 - Backend error: the service answered with an error status or detail
//	         Matched by type (backend.TransportError with a status code)
//
// # Protocol Errors (PRS001-PRS099)
//
//	PRS001 - Malformed result: the JSON after the result marker did not parse
//	PRS002 - Empty result: the stream ended without a JSON result
//
// # Reconciliation Errors (REC001-REC099)
//
//	REC001 - Invalid JSON in the raw editor (editor stays open)
//	REC002 - Unsaved raw edits block leaving review
//	REC003..REC006 - Row, column, undo and editor state errors
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - Validation reported a fatal error
//	VAL002 - Validation has not run yet
//
// # Wizard State (WIZ001-WIZ099)
//
//	WIZ001 - Step not reached yet
//	WIZ002 - Action not available on this step
//	WIZ003 - Wizard session expired
//	WIZ004..WIZ006 - Review closed, bundle not ready, invalid step
//
// # File Errors (FILE001-FILE099), Upload Errors (UPL001-UPL099), RATE001
//
// # Audit (AUD001)
//
//	AUD001 - Audit history requested but no queryable store is configured
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check application logs for the
// original technical error when users report ERR000.
//
// # Pattern Matching
//
// Typed errors are checked first. Then patterns are matched
// case-insensitively using strings.Contains and the first match wins, so
// more specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/review"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`          // What happened (user-friendly)
	Action  string `json:"action"`           // What to do about it
	Code    string `json:"code"`             // Error code for support reference
	Detail  string `json:"detail,omitempty"` // Safe technical detail, e.g. the backend's own message
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Transport (TRN)
	// =========================================================================
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The conversion service took too long to respond",
			Action:  "Try again; large PDFs can take several minutes",
			Code:    "TRN001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "The conversion service took too long to respond",
			Action:  "Try again; large PDFs can take several minutes",
			Code:    "TRN001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "The conversion service is unreachable",
			Action:  "Check that the backend is running and try again",
			Code:    "TRN002",
		},
	},
	{
		pattern: "request failed",
		msg: UserMessage{
			Message: "The conversion service is unreachable",
			Action:  "Check that the backend is running and try again",
			Code:    "TRN002",
		},
	},

	// =========================================================================
	// Protocol (PRS)
	// =========================================================================
	{
		pattern: "malformed json",
		msg: UserMessage{
			Message: "The conversion result could not be read",
			Action:  "Upload the PDF again",
			Code:    "PRS001",
		},
	},
	{
		pattern: "empty payload",
		msg: UserMessage{
			Message: "The conversion finished without producing a document",
			Action:  "Upload the PDF again",
			Code:    "PRS002",
		},
	},

	// =========================================================================
	// Reconciliation (REC)
	// =========================================================================
	{
		pattern: "invalid json",
		msg: UserMessage{
			Message: "The JSON in the editor is not valid",
			Action:  "Fix the error or cancel editing to keep the last saved version",
			Code:    "REC001",
		},
	},
	{
		pattern: "unsaved raw edits",
		msg: UserMessage{
			Message: "You have unsaved JSON edits",
			Action:  "Save or cancel your edits before continuing",
			Code:    "REC002",
		},
	},
	{
		pattern: "row index out of range",
		msg: UserMessage{
			Message: "That row no longer exists",
			Action:  "Reload the table and try again",
			Code:    "REC003",
		},
	},
	{
		pattern: "unknown column",
		msg: UserMessage{
			Message: "That column cannot be edited",
			Action:  "Edit resource type, id, status or name",
			Code:    "REC004",
		},
	},
	{
		pattern: "nothing to undo",
		msg: UserMessage{
			Message: "There is no deleted row to restore",
			Action:  "Only the most recent deletion can be undone",
			Code:    "REC005",
		},
	},
	{
		pattern: "raw editor is not open",
		msg: UserMessage{
			Message: "The JSON editor is not open",
			Action:  "Open the editor before making changes",
			Code:    "REC006",
		},
	},

	// =========================================================================
	// Validation (VAL)
	// =========================================================================
	{
		pattern: "validation reported a fatal error",
		msg: UserMessage{
			Message: "Validation failed",
			Action:  "Go back to review, fix the problems and run validation again",
			Code:    "VAL001",
		},
	},
	{
		pattern: "validation has not run",
		msg: UserMessage{
			Message: "The bundle has not been validated",
			Action:  "Run validation before continuing",
			Code:    "VAL002",
		},
	},

	// =========================================================================
	// Wizard state (WIZ)
	// =========================================================================
	{
		pattern: "stage not reached yet",
		msg: UserMessage{
			Message: "That step is not available yet",
			Action:  "Complete the current step first",
			Code:    "WIZ001",
		},
	},
	{
		pattern: "stage completed out of order",
		msg: UserMessage{
			Message: "That action is not available on this step",
			Action:  "Go to the matching step and try again",
			Code:    "WIZ002",
		},
	},
	{
		pattern: "wizard not found",
		msg: UserMessage{
			Message: "Your session has expired",
			Action:  "Reload the page to start a new session",
			Code:    "WIZ003",
		},
	},
	{
		pattern: "review is not open",
		msg: UserMessage{
			Message: "There is no document to review",
			Action:  "Upload a PDF first",
			Code:    "WIZ004",
		},
	},
	{
		pattern: "bundle not ready",
		msg: UserMessage{
			Message: "The bundle is not ready for download",
			Action:  "Validate the bundle first",
			Code:    "WIZ005",
		},
	},
	{
		pattern: "invalid stage",
		msg: UserMessage{
			Message: "Unknown step",
			Action:  "Choose one of the four wizard steps",
			Code:    "WIZ006",
		},
	},

	// =========================================================================
	// File (FILE)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size",
			Action:  "Upload a PDF under the size limit (50MB by default)",
			Code:    "FILE001",
		},
	},
	{
		pattern: "not a pdf",
		msg: UserMessage{
			Message: "Only PDF files are accepted",
			Action:  "Choose a .pdf file",
			Code:    "FILE002",
		},
	},
	{
		pattern: "unreadable pdf",
		msg: UserMessage{
			Message: "The PDF could not be opened",
			Action:  "Check that the file is not damaged or password protected",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a PDF to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a PDF with content",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Upload (UPL)
	// =========================================================================
	{
		pattern: "conversion cancelled",
		msg: UserMessage{
			Message: "Conversion was cancelled",
			Action:  "Upload the PDF again when ready",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many concurrent",
		msg: UserMessage{
			Message: "System is busy converting other documents",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "no conversion",
		msg: UserMessage{
			Message: "No conversion is running",
			Action:  "Upload a PDF to start one",
			Code:    "UPL003",
		},
	},

	// =========================================================================
	// Audit (AUD)
	// =========================================================================
	{
		pattern: "audit trail unavailable",
		msg: UserMessage{
			Message: "The activity history is not available",
			Action:  "Configure an audit database to keep a per-session history",
			Code:    "AUD001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	msg := MapError(&ingest.ProtocolParseError{Reason: ingest.ReasonEmptyPayload})
//	// msg.Code == "PRS002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var te *backend.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return UserMessage{
			Message: "The conversion service returned an error",
			Action:  "Check the message below and try again",
			Code:    "TRN003",
			Detail:  te.Message,
		}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			msg := ep.msg
			if review.IsConflict(err) {
				msg.Detail = err.Error()
			}
			return msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error matches a known pattern, i.e. is
// not the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
