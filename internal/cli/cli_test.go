package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/core"
	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

const bundleJSON = `{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"InsurancePlan","id":"gold","status":"active","name":"Gold","premium":1.50}}]}`

func TestConversionModel_Update(t *testing.T) {
	m := newConversionModel("plan.pdf")

	next, cmd := m.Update(conversionMsg{Phase: core.PhaseStreaming, Current: 1, Total: 2, Message: "chunk 1/2"})
	m = next.(conversionModel)
	assert.Nil(t, cmd)
	assert.False(t, m.done)

	view := m.renderContent()
	assert.Contains(t, view, "[streaming]")
	assert.Contains(t, view, "1/2 chunks")
	assert.Contains(t, view, "chunk 1/2")

	next, cmd = m.Update(conversionMsg{Phase: core.PhaseComplete, Current: 2, Total: 2})
	m = next.(conversionModel)
	assert.NotNil(t, cmd)
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(), "Converted plan.pdf")
	assert.Contains(t, m.renderContent(), "Chunks processed: 2")
}

func TestConversionModel_FinalViews(t *testing.T) {
	tests := []struct {
		name  string
		msg   tea.Msg
		want  string
		quits bool
	}{
		{
			name: "failed",
			msg:  conversionMsg{Phase: core.PhaseFailed, Error: "malformed JSON"},
			want: "Conversion failed: malformed JSON",
		},
		{
			name: "cancelled",
			msg:  conversionMsg{Phase: core.PhaseCancelled},
			want: "Conversion cancelled.",
		},
		{
			name: "stream closed",
			msg:  streamClosedMsg{},
			want: "Converted plan.pdf",
		},
		{
			name:  "q",
			msg:   tea.KeyPressMsg{Code: 'q', Text: "q"},
			want:  "Conversion of plan.pdf cancelled.",
			quits: true,
		},
		{
			name:  "ctrl+c",
			msg:   tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl},
			want:  "Conversion of plan.pdf cancelled.",
			quits: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := newConversionModel("plan.pdf").Update(tt.msg)
			m := next.(conversionModel)
			assert.NotNil(t, cmd)
			assert.Equal(t, tt.quits, m.quitting)
			assert.Contains(t, m.renderContent(), tt.want)
		})
	}
}

func TestWatchModel_Update(t *testing.T) {
	m := newWatchModel(backend.New("http://127.0.0.1:1"))
	assert.Contains(t, m.renderContent(), "Contacting backend")

	next, cmd := m.Update(progressUpdateMsg{status: backend.ProgressStatus{CurrentStep: 2, TotalSteps: 4, Message: "Extracting"}})
	m = next.(watchModel)
	assert.NotNil(t, cmd, "polling continues")
	assert.Contains(t, m.renderContent(), "2/4 Extracting")

	next, cmd = m.Update(progressUpdateMsg{err: errors.New("connection refused")})
	m = next.(watchModel)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.renderContent(), "connection refused")
}

func TestFormatProgress(t *testing.T) {
	bar := newProgressBar()

	got := formatProgress(backend.ProgressStatus{CurrentStep: 3, Message: "Parsing"}, bar, defaultTheme)
	assert.Contains(t, got, "[step 3]")
	assert.Contains(t, got, "Parsing")

	got = formatProgress(backend.ProgressStatus{CurrentStep: 9, TotalSteps: 4, Message: "Done"}, bar, defaultTheme)
	assert.Contains(t, got, "9/4 Done")
	assert.Contains(t, got, "100%")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    outputFormat
		wantErr bool
	}{
		{in: "", want: formatJSON},
		{in: "json", want: formatJSON},
		{in: "YAML", want: formatYAML},
		{in: " yml ", want: formatYAML},
		{in: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDocument(t *testing.T) {
	doc, err := document.ParseString(bundleJSON)
	require.NoError(t, err)

	t.Run("json keeps numbers", func(t *testing.T) {
		out, err := encodeDocument(doc, formatJSON)
		require.NoError(t, err)
		assert.True(t, bytes.HasSuffix(out, []byte("\n")))
		assert.Contains(t, string(out), `"premium": 1.50`)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := encodeDocument(doc, formatYAML)
		require.NoError(t, err)
		text := string(out)
		assert.Contains(t, text, "resourceType: Bundle")
		assert.Contains(t, text, "premium: 1.50")
		assert.Contains(t, text, "- resource:")

		var back map[string]any
		require.NoError(t, yaml.Unmarshal(out, &back))
		assert.Equal(t, "Bundle", back["resourceType"])
		entries := back["entry"].([]any)
		res := entries[0].(map[string]any)["resource"].(map[string]any)
		assert.Equal(t, 1.5, res["premium"])
	})

	t.Run("yaml scalars", func(t *testing.T) {
		out, err := encodeDocument(map[string]any{
			"count":  json.Number("3"),
			"flag":   true,
			"none":   nil,
			"quoted": "007",
		}, formatYAML)
		require.NoError(t, err)

		var back map[string]any
		require.NoError(t, yaml.Unmarshal(out, &back))
		assert.Equal(t, 3, back["count"])
		assert.Equal(t, true, back["flag"])
		assert.Nil(t, back["none"])
		assert.Equal(t, "007", back["quoted"])
	})
}

func TestRenderReport(t *testing.T) {
	valid := 87.5
	compliance := 92.0

	tests := []struct {
		name   string
		report validation.Report
		want   []string
		absent []string
	}{
		{
			name:   "fatal",
			report: validation.Failed("schema mismatch"),
			want:   []string{"Validation failed: schema mismatch"},
			absent: []string{"Score"},
		},
		{
			name: "passed",
			report: validation.Report{
				ValidPercentage:      &valid,
				CompliancePercentage: &compliance,
				PassedChecks:         7,
				TotalChecks:          8,
				Warnings:             []validation.Issue{{Message: "coverage period missing"}},
			},
			want: []string{
				"Validation passed",
				"Score 87.5%, compliance 92.0%, 7/8 checks passed",
				"Warnings (1):",
				"• coverage period missing",
			},
		},
		{
			name: "listed errors",
			report: validation.Report{
				Errors: []validation.Issue{{
					Resource:    "InsurancePlan",
					Field:       "status",
					Message:     "required",
					Remediation: "set status to active",
				}},
			},
			want: []string{
				"Validation finished with errors",
				"Errors (1):",
				"• InsurancePlan.status: required",
				"→ set status to active",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderReport(&buf, tt.report, defaultTheme)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, buf.String(), a)
			}
		})
	}
}

func TestRenderHealth(t *testing.T) {
	var buf bytes.Buffer
	renderHealth(&buf, "http://be", backend.HealthStatus{OK: true, Status: "healthy", Latency: 12 * time.Millisecond}, defaultTheme)
	assert.Contains(t, buf.String(), "http://be (healthy, 12ms)")

	buf.Reset()
	renderHealth(&buf, "http://be", backend.HealthStatus{Status: "unreachable"}, defaultTheme)
	assert.Contains(t, buf.String(), "http://be (unreachable)")
}

func TestConversionError(t *testing.T) {
	assert.NoError(t, conversionError(core.ConversionProgress{Phase: core.PhaseComplete}))
	assert.ErrorIs(t, conversionError(core.ConversionProgress{Phase: core.PhaseCancelled}), core.ErrConversionCancelled)

	err := conversionError(core.ConversionProgress{Phase: core.PhaseFailed, Error: "malformed JSON", Code: "PRS001"})
	assert.EqualError(t, err, "conversion failed: malformed JSON (Code: PRS001)")

	assert.Error(t, conversionError(core.ConversionProgress{Phase: core.PhaseStreaming}))
}

func TestReportExitError(t *testing.T) {
	assert.NoError(t, reportExitError(validation.Report{Errors: []validation.Issue{{Message: "x"}}}))
	assert.EqualError(t, reportExitError(validation.Failed("schema mismatch")), "validation failed: schema mismatch")
}

func TestExcelPath(t *testing.T) {
	assert.Equal(t, "out/bundle.xlsx", excelPath("out/bundle.json"))
	assert.Equal(t, "plan.xlsx", excelPath("plan"))
	assert.Equal(t, "bundle.xlsx", excelPath("-"))
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	doc, err := readDocument(write("ok.json", bundleJSON))
	require.NoError(t, err)
	entries, ok := document.Entries(doc)
	require.True(t, ok)
	assert.Len(t, entries, 1)

	_, err = readDocument(write("empty.json", "  \n"))
	assert.ErrorContains(t, err, "is empty")

	_, err = readDocument(write("bad.json", "{not json"))
	assert.ErrorContains(t, err, "parse")

	_, err = readDocument(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// fakeBackend serves the conversion endpoints used by the commands.
func fakeBackend(t *testing.T, validateBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "Processing 2 chunks\nchunk 1/2\nchunk 2/2\n---JSON RESULT---\n"+bundleJSON+"\n")
	})
	mux.HandleFunc("POST /validate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, validateBody)
	})
	mux.HandleFunc("POST /json-to-excel", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("PK\x03\x04"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// runCLI executes the root command with fresh flag values.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("UPLOAD_PREFLIGHT", "false")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	convertOutput, convertFormat, convertValidate, convertQuiet = "", "json", false, false
	validateJSON, excelOutput, progressWatch = false, "", false
	backendURL, verbose = "", false

	rootCmd.SetArgs(args)
	return Execute()
}

func TestConvertCommand(t *testing.T) {
	srv := fakeBackend(t, `{"errors":[],"warnings":[],"valid_percentage":100,"passed_checks":3,"total_checks":3}`)
	dir := t.TempDir()
	pdf := filepath.Join(dir, "plan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n"), 0o600))

	t.Run("json with validation", func(t *testing.T) {
		out := filepath.Join(dir, "bundle.json")
		err := runCLI(t, "convert", pdf, "--quiet", "--validate", "-o", out, "--backend", srv.URL)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		doc, err := document.Parse(data)
		require.NoError(t, err)
		entries, _ := document.Entries(doc)
		assert.Len(t, entries, 1)
	})

	t.Run("yaml", func(t *testing.T) {
		out := filepath.Join(dir, "bundle.yaml")
		err := runCLI(t, "convert", pdf, "-q", "--format", "yaml", "-o", out, "--backend", srv.URL)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "entry:"))
	})

	t.Run("unknown format", func(t *testing.T) {
		err := runCLI(t, "convert", pdf, "-q", "--format", "xml", "--backend", srv.URL)
		assert.ErrorContains(t, err, "unknown format")
	})
}

func TestConvertCommand_FatalValidationWritesNothing(t *testing.T) {
	srv := fakeBackend(t, `{"error":"schema mismatch"}`)
	dir := t.TempDir()
	pdf := filepath.Join(dir, "plan.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4\n"), 0o600))
	out := filepath.Join(dir, "bundle.json")

	err := runCLI(t, "convert", pdf, "-q", "--validate", "-o", out, "--backend", srv.URL)
	assert.EqualError(t, err, "validation failed: schema mismatch")
	assert.NoFileExists(t, out)
}

func TestExcelCommand(t *testing.T) {
	srv := fakeBackend(t, `{}`)
	dir := t.TempDir()
	bundle := filepath.Join(dir, "bundle.json")
	require.NoError(t, os.WriteFile(bundle, []byte(bundleJSON), 0o600))

	require.NoError(t, runCLI(t, "excel", bundle, "--backend", srv.URL))

	data, err := os.ReadFile(filepath.Join(dir, "bundle.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), data)
}
