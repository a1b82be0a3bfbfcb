package ingest

import (
	"strings"

	"github.com/JonMunkholm/bundlewizard/internal/document"
)

// Progress is a snapshot sent to the progress callback after every
// progress line (total, step or note).
type Progress struct {
	Kind    Kind
	Message string
	Current int
	Total   int
}

// Percent returns the progress as a percentage (0-100), or 0 when the
// total is unknown.
func (p Progress) Percent() int {
	return Percent(p.Current, p.Total)
}

// Percent returns current/total as a whole percentage in 0-100. Step
// counts come straight from backend text, so they may be arbitrarily large.
func Percent(current, total int) int {
	switch {
	case total <= 0 || current <= 0:
		return 0
	case current >= total:
		return 100
	}
	pct := int(float64(current) / float64(total) * 100)
	return min(pct, 99)
}

// Session consumes one /convert response body.
//
// A session is created per upload and discarded afterwards. It is not safe
// for concurrent use; the caller feeds it from a single goroutine.
type Session struct {
	decoder    Decoder
	splitter   LineSplitter
	classifier *Classifier
	onProgress func(Progress)

	mode     Mode
	log      []string
	payload  []string
	current  int
	total    int
	finished bool
}

// Option configures a Session.
type Option func(*Session)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option {
	return func(s *Session) {
		s.classifier = c
	}
}

// WithProgressFunc registers a callback invoked after each progress line.
func WithProgressFunc(fn func(Progress)) Option {
	return func(s *Session) {
		s.onProgress = fn
	}
}

// NewSession creates a session in progress mode with an empty log.
func NewSession(opts ...Option) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	if s.classifier == nil {
		s.classifier = NewClassifier("")
	}
	return s
}

// Feed pushes a chunk of decoded text through the splitter and classifier.
func (s *Session) Feed(chunk string) error {
	if s.finished {
		return ErrSessionFinished
	}
	for _, line := range s.splitter.Push(chunk) {
		s.handle(line)
	}
	return nil
}

// Write implements io.Writer for raw body bytes so a response body can be
// copied straight into the session.
func (s *Session) Write(p []byte) (int, error) {
	if s.finished {
		return 0, ErrSessionFinished
	}
	if err := s.Feed(s.decoder.Decode(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finish flushes the last partial line and parses the payload.
// It returns a *ProtocolParseError when the payload is empty or malformed.
// The session cannot be used afterwards.
func (s *Session) Finish() (any, error) {
	if s.finished {
		return nil, ErrSessionFinished
	}

	if rest := s.decoder.Flush(); rest != "" {
		for _, line := range s.splitter.Push(rest) {
			s.handle(line)
		}
	}
	if line, ok := s.splitter.Flush(); ok {
		s.handle(line)
	}
	s.finished = true

	raw := strings.Join(s.payload, "\n")
	if document.IsEmpty([]byte(raw)) {
		return nil, &ProtocolParseError{Reason: ReasonEmptyPayload}
	}

	doc, err := document.ParseString(raw)
	if err != nil {
		return nil, &ProtocolParseError{Reason: ReasonMalformedJSON, Err: err}
	}
	return doc, nil
}

func (s *Session) handle(raw string) {
	line := s.classifier.Classify(raw, s.mode)

	switch line.Kind {
	case KindBlank:
		return
	case KindSectionMarker:
		s.mode = ModePayload
		return
	case KindJSONLine:
		s.payload = append(s.payload, line.Text)
		return
	case KindProgressTotal:
		s.total = max(s.total, line.Total)
	case KindProgressStep:
		s.current = max(s.current, line.Current)
		s.total = max(s.total, line.Total)
	}

	s.log = append(s.log, line.Text)
	if s.onProgress != nil {
		s.onProgress(Progress{
			Kind:    line.Kind,
			Message: line.Text,
			Current: s.current,
			Total:   s.total,
		})
	}
}

// Mode returns the section the session is in.
func (s *Session) Mode() Mode {
	return s.mode
}

// Log returns a copy of the progress log.
func (s *Session) Log() []string {
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

// Steps returns the current and total step counts (0 when unknown).
func (s *Session) Steps() (current, total int) {
	return s.current, s.total
}

// PayloadLines returns the number of JSON lines collected so far.
func (s *Session) PayloadLines() int {
	return len(s.payload)
}

// Finished reports whether Finish has been called.
func (s *Session) Finished() bool {
	return s.finished
}
