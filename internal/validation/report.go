// Package validation models the report returned by the backend's
// /validate endpoint.
//
// A report is never an error value. A report with Error set is fatal and
// blocks the workflow; errors and warnings listed in the report are shown
// to the user but do not block progress.
package validation

import "encoding/json"

// Issue is one finding in a validation report.
type Issue struct {
	Resource    string `json:"resource"`
	Field       string `json:"field"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// Report is the /validate response body.
type Report struct {
	// Error is set when validation could not be completed or the document
	// was rejected outright (e.g. "schema mismatch").
	Error    string  `json:"error,omitempty"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`

	ValidPercentage      *float64 `json:"valid_percentage,omitempty"`
	CompletionPercentage *float64 `json:"completion_percentage,omitempty"`
	CompliancePercentage *float64 `json:"compliance_percentage,omitempty"`
	PassedChecks         int      `json:"passed_checks"`
	TotalChecks          int      `json:"total_checks"`

	// Extra keeps fields the backend sends that this model does not name,
	// so the console view can show the full response.
	Extra map[string]json.RawMessage `json:"-"`
}

// Fatal reports whether the report blocks advancing to download.
func (r Report) Fatal() bool {
	return r.Error != ""
}

// Passed reports whether validation completed with no listed errors.
func (r Report) Passed() bool {
	return !r.Fatal() && len(r.Errors) == 0
}

// Score returns the headline percentage: valid, else completion, else 0.
func (r Report) Score() float64 {
	switch {
	case r.ValidPercentage != nil:
		return *r.ValidPercentage
	case r.CompletionPercentage != nil:
		return *r.CompletionPercentage
	default:
		return 0
	}
}

// Compliance returns the compliance percentage, or 0 when absent.
func (r Report) Compliance() float64 {
	if r.CompliancePercentage == nil {
		return 0
	}
	return *r.CompliancePercentage
}

// Failed builds the report used when the validation call itself failed.
func Failed(message string) Report {
	return Report{Error: message, Errors: []Issue{}, Warnings: []Issue{}}
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	if p.Errors == nil {
		p.Errors = []Issue{}
	}
	if p.Warnings == nil {
		p.Warnings = []Issue{}
	}
	*r = Report(p)
	return nil
}

var knownFields = []string{
	"error", "errors", "warnings",
	"valid_percentage", "completion_percentage", "compliance_percentage",
	"passed_checks", "total_checks",
}
