package workflow

import (
	"fmt"
	"strconv"
)

// Stage is a position in the four-step wizard.
type Stage int

const (
	StageUpload Stage = iota
	StageReview
	StageValidate
	StageDownload
)

// Stages lists every stage in order.
var Stages = []Stage{StageUpload, StageReview, StageValidate, StageDownload}

var stageInfo = map[Stage]struct {
	name    string
	label   string
	console string
}{
	StageUpload:   {"upload", "Upload PDF", "Waiting"},
	StageReview:   {"review", "Structured Review", "Reviewing"},
	StageValidate: {"validate", "Generate & Validate", "Validating"},
	StageDownload: {"download", "Download Bundle", "Ready"},
}

// Valid reports whether s is one of the four stages.
func (s Stage) Valid() bool {
	return s >= StageUpload && s <= StageDownload
}

func (s Stage) String() string {
	if info, ok := stageInfo[s]; ok {
		return info.name
	}
	return "unknown"
}

// Label is the human-readable step title.
func (s Stage) Label() string {
	return stageInfo[s].label
}

// ConsoleState is the short status shown next to the JSON console.
func (s Stage) ConsoleState() string {
	return stageInfo[s].console
}

// ParseStage accepts a stage index ("0".."3") or name ("review").
func ParseStage(v string) (Stage, error) {
	if n, err := strconv.Atoi(v); err == nil {
		s := Stage(n)
		if !s.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidStage, n)
		}
		return s, nil
	}
	for _, s := range Stages {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStage, v)
}
