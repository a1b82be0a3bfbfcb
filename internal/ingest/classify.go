package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultResultMarker separates the progress section of a /convert stream
// from the JSON payload that follows it.
const DefaultResultMarker = "---JSON RESULT---"

// Mode is the section of the stream the session is in.
type Mode int

const (
	ModeProgress Mode = iota
	ModePayload
)

func (m Mode) String() string {
	if m == ModePayload {
		return "json_payload"
	}
	return "progress"
}

// Kind tags a classified line.
type Kind int

const (
	KindBlank Kind = iota
	KindSectionMarker
	KindProgressTotal
	KindProgressStep
	KindProgressNote
	KindJSONLine
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindSectionMarker:
		return "section_marker"
	case KindProgressTotal:
		return "progress_total"
	case KindProgressStep:
		return "progress_step"
	case KindProgressNote:
		return "progress_note"
	case KindJSONLine:
		return "json_line"
	default:
		return "unknown"
	}
}

// Line is the result of classifying one line.
type Line struct {
	Kind Kind
	// Text is the line as received for JSON lines and trimmed otherwise.
	Text string
	// Current is set for KindProgressStep.
	Current int
	// Total is set for KindProgressStep and KindProgressTotal.
	Total int
}

// matcher tries one progress line shape. Matchers run in order and the
// first hit wins.
type matcher func(trimmed string) (Line, bool)

// Wire format pinned with the backend:
//
//	Processing 3 chunks          total
//	Total steps: 3               total
//	chunk 2/3                    step
//	Processing chunk 2/3         step
//	Step 2 of 3                  step
var (
	totalCountPattern = regexp.MustCompile(`(?i)^processing\s+(\d+)\s+(?:chunks?|steps?|pages?|sections?)\b`)
	totalLabelPattern = regexp.MustCompile(`(?i)^total\s+(?:chunks|steps|pages|sections)\s*[:=]\s*(\d+)\s*$`)
	stepPattern       = regexp.MustCompile(`(?i)\b(?:chunk|step|page|section)\s+(\d+)\s*(?:/|of)\s*(\d+)\b`)
)

// Classifier assigns a Kind to each line of a /convert stream.
type Classifier struct {
	marker   string
	matchers []matcher
}

// NewClassifier returns a classifier using marker as the section sentinel.
// An empty marker selects DefaultResultMarker.
func NewClassifier(marker string) *Classifier {
	if marker == "" {
		marker = DefaultResultMarker
	}
	return &Classifier{
		marker: marker,
		matchers: []matcher{
			matchTotal(totalCountPattern),
			matchTotal(totalLabelPattern),
			matchStep,
		},
	}
}

// Marker returns the section sentinel.
func (c *Classifier) Marker() string {
	return c.marker
}

// Classify tags line given the current mode. It never changes state; the
// caller flips to ModePayload when it sees KindSectionMarker.
func (c *Classifier) Classify(line string, mode Mode) Line {
	if mode == ModePayload {
		return Line{Kind: KindJSONLine, Text: line}
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Line{Kind: KindBlank}
	}
	if trimmed == c.marker {
		return Line{Kind: KindSectionMarker, Text: trimmed}
	}

	for _, m := range c.matchers {
		if l, ok := m(trimmed); ok {
			return l
		}
	}
	return Line{Kind: KindProgressNote, Text: trimmed}
}

func matchTotal(re *regexp.Regexp) matcher {
	return func(trimmed string) (Line, bool) {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			return Line{}, false
		}
		total, err := strconv.Atoi(m[1])
		if err != nil {
			return Line{}, false
		}
		return Line{Kind: KindProgressTotal, Text: trimmed, Total: total}, true
	}
}

func matchStep(trimmed string) (Line, bool) {
	m := stepPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Line{}, false
	}
	current, err := strconv.Atoi(m[1])
	if err != nil {
		return Line{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Line{}, false
	}
	return Line{Kind: KindProgressStep, Text: trimmed, Current: current, Total: total}, true
}
