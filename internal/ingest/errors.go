package ingest

import (
	"errors"
	"fmt"
)

// Reasons reported by Finish.
const (
	ReasonMalformedJSON = "malformed JSON"
	ReasonEmptyPayload  = "empty payload"
)

// ErrSessionFinished is returned when a session is used after Finish.
var ErrSessionFinished = errors.New("ingestion session already finished")

// ProtocolParseError means the stream was delivered but did not carry a
// usable JSON payload. The connection itself succeeded.
type ProtocolParseError struct {
	Reason string
	Err    error // underlying decode error for ReasonMalformedJSON
}

func (e *ProtocolParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol parse error: %s: %v", e.Reason, e.Err)
	}
	return "protocol parse error: " + e.Reason
}

func (e *ProtocolParseError) Unwrap() error {
	return e.Err
}

// IsProtocolParseError reports whether err is or wraps a ProtocolParseError.
func IsProtocolParseError(err error) bool {
	var pe *ProtocolParseError
	return errors.As(err, &pe)
}
