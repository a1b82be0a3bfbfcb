package core

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bundlewizard/internal/backend"
	"github.com/JonMunkholm/bundlewizard/internal/config"
	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/ingest"
	"github.com/JonMunkholm/bundlewizard/internal/review"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
	"github.com/JonMunkholm/bundlewizard/internal/workflow"
)

const planStream = "Processing 2 chunks\n" +
	"chunk 1/2\n" +
	"chunk 2/2\n" +
	"---JSON RESULT---\n" +
	`{"resourceType":"Bundle","entry":[{"resource":{"resourceType":"InsurancePlan","id":"gold","status":"active","name":"Gold"}}]}` + "\n"

var testPDF = []byte("%PDF-1.4\n% test upload\n")

// fakeBackend runs the real ingestion session over a scripted stream.
type fakeBackend struct {
	mu          sync.Mutex
	stream      string
	gate        chan struct{} // when set, Convert waits for it or for ctx
	convertErr  error
	report      validation.Report
	validateErr error
	validated   []any
	excel       []byte
	healthErr   error
}

func (f *fakeBackend) Convert(ctx context.Context, _ string, file io.Reader, opts ...ingest.Option) (*backend.ConvertResult, error) {
	if _, err := io.ReadAll(file); err != nil {
		return nil, err
	}
	f.mu.Lock()
	stream, gate, convertErr := f.stream, f.gate, f.convertErr
	f.mu.Unlock()

	session := ingest.NewSession(opts...)
	for _, line := range strings.SplitAfter(stream, "\n") {
		if err := session.Feed(line); err != nil {
			return nil, err
		}
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if convertErr != nil {
		return nil, convertErr
	}

	doc, err := session.Finish()
	if err != nil {
		return nil, err
	}
	current, total := session.Steps()
	return &backend.ConvertResult{Document: doc, Log: session.Log(), Current: current, Total: total, Streamed: true}, nil
}

func (f *fakeBackend) Validate(_ context.Context, doc any) (validation.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, doc)
	return f.report, f.validateErr
}

func (f *fakeBackend) JSONToExcel(_ context.Context, _ any) ([]byte, error) {
	return f.excel, nil
}

func (f *fakeBackend) Health(context.Context) (backend.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthErr != nil {
		return backend.HealthStatus{Status: "unreachable", Checked: time.Now()}, f.healthErr
	}
	return backend.HealthStatus{OK: true, Status: "ok", Checked: time.Now()}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{ResultMarker: ingest.DefaultResultMarker},
		Upload:  config.UploadConfig{MaxFileSize: 1 << 20, MaxConcurrent: 2, MaxWaitTime: time.Second},
		Session: config.SessionConfig{TTL: time.Hour, CleanupInterval: time.Hour},
	}
}

func newTestService(t *testing.T, fb *fakeBackend) (*Service, *memoryAuditStore) {
	t.Helper()
	audit := &memoryAuditStore{}
	svc, err := NewService(testConfig(), fb, audit)
	require.NoError(t, err)
	return svc, audit
}

func passingReport() validation.Report {
	valid := 96.5
	return validation.Report{
		Errors:          []validation.Issue{},
		Warnings:        []validation.Issue{{Message: "coverage period missing"}},
		ValidPercentage: &valid,
	}
}

// convert runs a conversion to completion and returns its final progress.
func convert(t *testing.T, svc *Service, wizardID string) ConversionProgress {
	t.Helper()
	_, err := svc.StartConversion(context.Background(), wizardID, "plan.pdf", testPDF)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := svc.WaitForConversion(ctx, wizardID)
	require.NoError(t, err)
	return final
}

// toValidate takes a fresh wizard through upload and review.
func toValidate(t *testing.T, svc *Service) string {
	t.Helper()
	w := svc.NewWizard(context.Background())
	require.Equal(t, PhaseComplete, convert(t, svc, w.ID).Phase)
	require.NoError(t, svc.ProceedToValidate(context.Background(), w.ID))
	return w.ID
}

func drain(t *testing.T, ch <-chan ConversionProgress) []ConversionProgress {
	t.Helper()
	var got []ConversionProgress
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, p)
		case <-timeout:
			t.Fatal("progress channel not closed")
			return got
		}
	}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, &fakeBackend{}, nil)
	assert.Error(t, err)
	_, err = NewService(testConfig(), nil, nil)
	assert.Error(t, err)
}

func TestService_ConversionMovesToReview(t *testing.T) {
	svc, audit := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())

	final := convert(t, svc, w.ID)

	assert.Equal(t, PhaseComplete, final.Phase)
	assert.Equal(t, 2, final.Current)
	assert.Equal(t, 2, final.Total)
	assert.Equal(t, 100, final.Percent())
	assert.Equal(t, []string{"Processing 2 chunks", "chunk 1/2", "chunk 2/2"}, final.Log)
	assert.Empty(t, final.Error)

	snap, err := svc.Snapshot(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageReview, snap.Stage)
	assert.Equal(t, "Structured Review", snap.Label)
	assert.Equal(t, workflow.StageReview, snap.Highest)
	assert.Equal(t, []review.Row{{ResourceType: "InsurancePlan", ID: "gold", Status: "active", Name: "Gold"}}, snap.Rows)
	assert.Equal(t, "Extracted elements", snap.Console["status"])
	assert.Equal(t, "plan.pdf", snap.FileName)
	assert.Nil(t, snap.Error)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]AuditAction{ActionWizardCreated, ActionConversionStarted, ActionConversionCompleted}, audit.actions())
	}, time.Second, 10*time.Millisecond)
}

func TestService_SubscribeProgress(t *testing.T) {
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	svc, _ := newTestService(t, fb)
	w := svc.NewWizard(context.Background())

	_, err := svc.StartConversion(context.Background(), w.ID, "plan.pdf", testPDF)
	require.NoError(t, err)

	ch, err := svc.SubscribeProgress(w.ID)
	require.NoError(t, err)
	close(fb.gate)

	updates := drain(t, ch)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 2, last.Total)

	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Current, updates[i-1].Current, "steps never decrease")
	}

	t.Run("late subscriber gets final state", func(t *testing.T) {
		ch, err := svc.SubscribeProgress(w.ID)
		require.NoError(t, err)
		updates := drain(t, ch)
		require.Len(t, updates, 1)
		assert.Equal(t, PhaseComplete, updates[0].Phase)
	})
}

func TestService_SubscribeWithoutConversion(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{})
	w := svc.NewWizard(context.Background())

	_, err := svc.SubscribeProgress(w.ID)
	assert.ErrorIs(t, err, ErrNoConversion)
	assert.ErrorIs(t, svc.CancelConversion(w.ID), ErrNoConversion)
}

func TestService_CancelConversion(t *testing.T) {
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	svc, audit := newTestService(t, fb)
	w := svc.NewWizard(context.Background())

	_, err := svc.StartConversion(context.Background(), w.ID, "plan.pdf", testPDF)
	require.NoError(t, err)
	require.NoError(t, svc.CancelConversion(w.ID))

	final, err := svc.WaitForConversion(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, final.Phase)
	assert.Equal(t, "UPL001", final.Code)

	snap, err := svc.Snapshot(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageUpload, snap.Stage)
	assert.Empty(t, snap.Rows)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "UPL001", snap.Error.Code)

	assert.ErrorIs(t, svc.CancelConversion(w.ID), ErrNoConversion, "already finished")
	assert.Eventually(t, func() bool {
		actions := audit.actions()
		return len(actions) > 0 && actions[len(actions)-1] == ActionConversionCancelled
	}, time.Second, 10*time.Millisecond)
}

func TestService_NewUploadSupersedesRunningConversion(t *testing.T) {
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	svc, _ := newTestService(t, fb)
	w := svc.NewWizard(context.Background())

	firstID, err := svc.StartConversion(context.Background(), w.ID, "old.pdf", testPDF)
	require.NoError(t, err)
	first, err := svc.SubscribeProgress(w.ID)
	require.NoError(t, err)

	secondID, err := svc.StartConversion(context.Background(), w.ID, "new.pdf", testPDF)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	updates := drain(t, first)
	assert.Equal(t, PhaseCancelled, updates[len(updates)-1].Phase)

	close(fb.gate)
	final, err := svc.WaitForConversion(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, secondID, final.ConversionID)
	assert.Equal(t, PhaseComplete, final.Phase)

	snap, err := svc.Snapshot(w.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageReview, snap.Stage)
	assert.Equal(t, "new.pdf", snap.FileName)
	assert.Nil(t, snap.Error, "superseded conversion does not record an error")
}

func TestService_ConversionFailures(t *testing.T) {
	tests := []struct {
		name       string
		backend    *fakeBackend
		wantCode   string
		wantReason string
	}{
		{
			name:       "garbage after marker",
			backend:    &fakeBackend{stream: "chunk 1/1\n---JSON RESULT---\n{not json\n"},
			wantCode:   "PRS001",
			wantReason: ingest.ReasonMalformedJSON,
		},
		{
			name:       "no marker",
			backend:    &fakeBackend{stream: "Processing 1 chunks\nchunk 1/1\n"},
			wantCode:   "PRS002",
			wantReason: ingest.ReasonEmptyPayload,
		},
		{
			name:     "backend error",
			backend:  &fakeBackend{convertErr: &backend.TransportError{Op: "convert", StatusCode: 502, Message: "LLM unavailable"}},
			wantCode: "TRN003",
		},
		{
			name:     "detail after marker",
			backend:  &fakeBackend{convertErr: &backend.TransportError{Op: "convert", StatusCode: 200, Message: "LLM extraction failed"}},
			wantCode: "TRN003",
		},
		{
			name:     "backend timeout",
			backend:  &fakeBackend{convertErr: &backend.TransportError{Op: "convert", Message: backend.MessageTimeout, Err: context.DeadlineExceeded}},
			wantCode: "TRN001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.backend)
			w := svc.NewWizard(context.Background())

			final := convert(t, svc, w.ID)
			assert.Equal(t, PhaseFailed, final.Phase)
			assert.Equal(t, tt.wantCode, final.Code)
			if tt.wantReason != "" {
				assert.Contains(t, final.Error, tt.wantReason)
			}

			snap, err := svc.Snapshot(w.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.StageUpload, snap.Stage)
			assert.Equal(t, workflow.StageUpload, snap.Highest)
			require.NotNil(t, snap.Error)
			assert.Equal(t, tt.wantCode, snap.Error.Code)
		})
	}
}

func TestService_StartConversionRejects(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})

	t.Run("unknown wizard", func(t *testing.T) {
		_, err := svc.StartConversion(context.Background(), "missing", "a.pdf", testPDF)
		assert.ErrorIs(t, err, ErrWizardNotFound)
	})

	files := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrEmptyFile},
		{"not a pdf", []byte("hello"), ErrNotPDF},
		{"too large", append([]byte("%PDF-"), make([]byte, 2<<20)...), ErrFileTooLarge},
	}
	for _, tt := range files {
		t.Run(tt.name, func(t *testing.T) {
			w := svc.NewWizard(context.Background())
			_, err := svc.StartConversion(context.Background(), w.ID, "x.pdf", tt.data)
			assert.ErrorIs(t, err, tt.wantErr)

			snap, err := svc.Snapshot(w.ID)
			require.NoError(t, err)
			assert.Nil(t, snap.Progress)
			require.NotNil(t, snap.Error)
			assert.Equal(t, MapError(tt.wantErr).Code, snap.Error.Code)
		})
	}

	t.Run("only on the upload step", func(t *testing.T) {
		w := svc.NewWizard(context.Background())
		convert(t, svc, w.ID)
		_, err := svc.StartConversion(context.Background(), w.ID, "again.pdf", testPDF)
		assert.ErrorIs(t, err, workflow.ErrOutOfOrder)

		require.NoError(t, svc.Navigate(w.ID, workflow.StageUpload))
		assert.Equal(t, PhaseComplete, convert(t, svc, w.ID).Phase)
	})
}

func TestService_ReviewEdits(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())
	convert(t, svc, w.ID)

	require.NoError(t, svc.EditCell(w.ID, 0, review.FieldName, "Gold Plus"))
	require.NoError(t, svc.AddRow(w.ID))
	require.NoError(t, svc.EditCell(w.ID, 1, review.FieldID, "silver"))

	snap, err := svc.Snapshot(w.ID)
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "Gold Plus", snap.Rows[0].Name)
	assert.Equal(t, "silver", snap.Rows[1].ID)
	assert.Contains(t, snap.RawText, `"Gold Plus"`)

	require.NoError(t, svc.DeleteRow(w.ID, 0))
	snap, _ = svc.Snapshot(w.ID)
	assert.Len(t, snap.Rows, 1)
	assert.True(t, snap.CanUndo)

	require.NoError(t, svc.UndoDelete(w.ID))
	snap, _ = svc.Snapshot(w.ID)
	assert.Equal(t, "Gold Plus", snap.Rows[0].Name)

	err = svc.EditCell(w.ID, 9, review.FieldName, "x")
	assert.ErrorIs(t, err, review.ErrRowIndex)
	snap, _ = svc.Snapshot(w.ID)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "REC003", snap.Error.Code)

	require.NoError(t, svc.AddRow(w.ID))
	snap, _ = svc.Snapshot(w.ID)
	assert.Nil(t, snap.Error, "success clears the last error")
}

func TestService_RawEditing(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())
	convert(t, svc, w.ID)

	assert.ErrorIs(t, svc.UpdateRaw(w.ID, "{}"), review.ErrNotEditing)

	require.NoError(t, svc.BeginRawEdit(w.ID))
	require.NoError(t, svc.UpdateRaw(w.ID, `{"entry": [}`))

	err := svc.SaveRaw(context.Background(), w.ID)
	var conflict *review.ConflictError
	require.ErrorAs(t, err, &conflict)

	snap, _ := svc.Snapshot(w.ID)
	assert.True(t, snap.Editing, "editor stays open after a failed save")
	assert.True(t, snap.Dirty)
	assert.Equal(t, "REC001", snap.Error.Code)
	assert.Len(t, snap.Rows, 1, "table keeps the last good document")

	assert.ErrorIs(t, svc.ProceedToValidate(context.Background(), w.ID), ErrUnsavedEdits)

	require.NoError(t, svc.UpdateRaw(w.ID, `{"entry":[{"resource":{"id":"a"}},{"resource":{"id":"b"}}]}`))
	require.NoError(t, svc.SaveRaw(context.Background(), w.ID))

	snap, _ = svc.Snapshot(w.ID)
	assert.False(t, snap.Editing)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "b", snap.Rows[1].ID)

	require.NoError(t, svc.BeginRawEdit(w.ID))
	require.NoError(t, svc.ProceedToValidate(context.Background(), w.ID), "unchanged editor does not block")

	snap, _ = svc.Snapshot(w.ID)
	assert.Equal(t, workflow.StageValidate, snap.Stage)
	assert.False(t, snap.Editing)
}

func TestService_ReplaceDocumentDeferredWhileEditing(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())
	convert(t, svc, w.ID)

	require.NoError(t, svc.BeginRawEdit(w.ID))
	replacement := map[string]any{"entry": []any{}}
	require.NoError(t, svc.ReplaceDocument(context.Background(), w.ID, replacement))

	snap, _ := svc.Snapshot(w.ID)
	assert.True(t, snap.HasPending)
	assert.Len(t, snap.Rows, 1)

	require.NoError(t, svc.CancelRawEdit(w.ID))
	snap, _ = svc.Snapshot(w.ID)
	assert.False(t, snap.HasPending)
	assert.Empty(t, snap.Rows)
}

func TestService_ReviewRequiresReviewStep(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())

	assert.ErrorIs(t, svc.EditCell(w.ID, 0, review.FieldName, "x"), ErrNotInReview)
	assert.ErrorIs(t, svc.ProceedToValidate(context.Background(), w.ID), ErrNotInReview)

	id := toValidate(t, svc)
	assert.ErrorIs(t, svc.AddRow(id), ErrNotInReview)
}

func TestService_ReviewedDocument(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())

	_, err := svc.ReviewedDocument(w.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	id := toValidate(t, svc)
	doc, err := svc.ReviewedDocument(id)
	require.NoError(t, err)
	entries, ok := document.Entries(doc)
	require.True(t, ok)
	assert.Len(t, entries, 1)

	// The copy is detached from the wizard.
	require.NoError(t, document.SetEntries(doc, nil))
	again, err := svc.ReviewedDocument(id)
	require.NoError(t, err)
	entries, _ = document.Entries(again)
	assert.Len(t, entries, 1)
}

func TestService_ValidationAndDownload(t *testing.T) {
	fb := &fakeBackend{stream: planStream, report: passingReport(), excel: []byte("PK\x03\x04")}
	svc, audit := newTestService(t, fb)
	w := svc.NewWizard(context.Background())
	convert(t, svc, w.ID)
	require.NoError(t, svc.EditCell(w.ID, 0, review.FieldStatus, "draft"))
	require.NoError(t, svc.ProceedToValidate(context.Background(), w.ID))

	_, err := svc.Download(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, svc.AdvanceToDownload(w.ID), ErrNotValidated)

	report, err := svc.RunValidation(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	require.Len(t, fb.validated, 1)

	snap, _ := svc.Snapshot(w.ID)
	assert.Equal(t, workflow.StageValidate, snap.Stage)
	assert.True(t, snap.CanAdvance)
	require.NotNil(t, snap.Report)
	assert.Equal(t, report, snap.Console["validationResult"])

	require.NoError(t, svc.AdvanceToDownload(w.ID))
	snap, _ = svc.Snapshot(w.ID)
	assert.Equal(t, workflow.StageDownload, snap.Stage)
	assert.Equal(t, "Ready for export", snap.Console["status"])

	art, err := svc.Download(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^nhcx-bundle-\d+\.json$`), art.FileName)
	assert.Equal(t, "application/json", art.ContentType)

	doc, err := document.Parse(art.Data)
	require.NoError(t, err)
	assert.True(t, document.Equal(fb.validated[0], doc), "download is the validated document")
	assert.Contains(t, string(art.Data), "\n  \"entry\"", "pretty-printed")

	xlsx, err := svc.ExportExcel(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^nhcx-bundle-\d+\.xlsx$`), xlsx.FileName)
	assert.Equal(t, []byte("PK\x03\x04"), xlsx.Data)

	assert.Eventually(t, func() bool {
		actions := audit.actions()
		return len(actions) >= 2 && actions[len(actions)-2] == ActionDownload && actions[len(actions)-1] == ActionExcelExport
	}, time.Second, 10*time.Millisecond)
}

func TestService_FatalValidationBlocksAdvance(t *testing.T) {
	fb := &fakeBackend{stream: planStream, report: validation.Failed("Bundle is missing required entries")}
	svc, _ := newTestService(t, fb)
	id := toValidate(t, svc)

	report, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, report.Fatal())

	err = svc.AdvanceToDownload(id)
	assert.ErrorIs(t, err, workflow.ErrValidationFatal)

	snap, _ := svc.Snapshot(id)
	assert.Equal(t, workflow.StageValidate, snap.Stage)
	assert.Equal(t, workflow.StageValidate, snap.Highest)
	assert.False(t, snap.CanAdvance)
	assert.Equal(t, "VAL001", snap.Error.Code)

	fb.mu.Lock()
	fb.report = passingReport()
	fb.mu.Unlock()

	_, err = svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, svc.AdvanceToDownload(id), "run again replaces the fatal report")
}

func TestService_ValidationTransportFailureIsAReport(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{
			name:        "status with detail",
			err:         &backend.TransportError{Op: "validate", StatusCode: 500, Message: "Validation failed: 500"},
			wantMessage: "Validation failed: 500",
		},
		{
			name:        "timeout",
			err:         &backend.TransportError{Op: "validate", Message: backend.MessageTimeout, Err: context.DeadlineExceeded},
			wantMessage: "Validation timed out",
		},
		{
			name:        "plain error",
			err:         errors.New("boom"),
			wantMessage: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeBackend{stream: planStream, validateErr: tt.err})
			id := toValidate(t, svc)

			report, err := svc.RunValidation(context.Background(), id)
			require.NoError(t, err)
			assert.True(t, report.Fatal())
			assert.Equal(t, tt.wantMessage, report.Error)
			assert.ErrorIs(t, svc.AdvanceToDownload(id), workflow.ErrValidationFatal)
		})
	}
}

func TestService_RunValidationOnlyOnValidateStep(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream})
	w := svc.NewWizard(context.Background())

	_, err := svc.RunValidation(context.Background(), w.ID)
	assert.ErrorIs(t, err, workflow.ErrOutOfOrder)
}

func TestService_NavigateKeepsPayloads(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{stream: planStream, report: passingReport()})
	id := toValidate(t, svc)

	assert.ErrorIs(t, svc.Navigate(id, workflow.StageDownload), workflow.ErrStageLocked)
	assert.ErrorIs(t, svc.Navigate(id, workflow.Stage(7)), workflow.ErrInvalidStage)

	require.NoError(t, svc.Navigate(id, workflow.StageReview))
	snap, _ := svc.Snapshot(id)
	assert.Equal(t, workflow.StageReview, snap.Stage)
	assert.Equal(t, workflow.StageValidate, snap.Highest)
	assert.Len(t, snap.Rows, 1)

	require.NoError(t, svc.Navigate(id, workflow.StageValidate))
	_, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
}

func TestService_Reset(t *testing.T) {
	svc, audit := newTestService(t, &fakeBackend{stream: planStream, report: passingReport()})
	id := toValidate(t, svc)
	_, err := svc.RunValidation(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, svc.AdvanceToDownload(id))

	require.NoError(t, svc.Reset(context.Background(), id))

	snap, err := svc.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageUpload, snap.Stage)
	assert.Equal(t, workflow.StageUpload, snap.Highest)
	assert.Empty(t, snap.Rows)
	assert.Nil(t, snap.Progress)
	assert.Nil(t, snap.Report)
	assert.Empty(t, snap.FileName)
	assert.Equal(t, map[string]any{"status": "Awaiting PDF file..."}, snap.Console)

	_, err = svc.Download(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotReady)

	actions := audit.actions()
	assert.Equal(t, ActionWizardReset, actions[len(actions)-1])
}

func TestService_ResetCancelsConversion(t *testing.T) {
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	svc, _ := newTestService(t, fb)
	w := svc.NewWizard(context.Background())

	_, err := svc.StartConversion(context.Background(), w.ID, "plan.pdf", testPDF)
	require.NoError(t, err)
	ch, err := svc.SubscribeProgress(w.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Reset(context.Background(), w.ID))

	updates := drain(t, ch)
	assert.Equal(t, PhaseCancelled, updates[len(updates)-1].Phase)

	snap, _ := svc.Snapshot(w.ID)
	assert.Equal(t, workflow.StageUpload, snap.Stage)
	assert.Nil(t, snap.Error)
}

func TestService_WizardNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{})

	_, err := svc.Snapshot("nope")
	assert.ErrorIs(t, err, ErrWizardNotFound)
	assert.ErrorIs(t, svc.Navigate("nope", workflow.StageUpload), ErrWizardNotFound)
	assert.Equal(t, "WIZ003", MapError(err).Code)
}

func TestService_ExpiredWizardCancelsConversion(t *testing.T) {
	cfg := testConfig()
	cfg.Session = config.SessionConfig{TTL: 50 * time.Millisecond, CleanupInterval: 10 * time.Millisecond}
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	audit := &memoryAuditStore{}
	svc, err := NewService(cfg, fb, audit)
	require.NoError(t, err)

	w := svc.NewWizard(context.Background())
	_, err = svc.StartConversion(context.Background(), w.ID, "plan.pdf", testPDF)
	require.NoError(t, err)
	ch, err := svc.SubscribeProgress(w.ID)
	require.NoError(t, err)

	updates := drain(t, ch)
	assert.Equal(t, PhaseCancelled, updates[len(updates)-1].Phase)

	_, err = svc.Snapshot(w.ID)
	assert.ErrorIs(t, err, ErrWizardNotFound)
	assert.Eventually(t, func() bool {
		for _, a := range audit.actions() {
			if a == ActionWizardExpired {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestService_WaitForConversions(t *testing.T) {
	fb := &fakeBackend{stream: planStream, gate: make(chan struct{})}
	svc, _ := newTestService(t, fb)
	w := svc.NewWizard(context.Background())
	_, err := svc.StartConversion(context.Background(), w.ID, "plan.pdf", testPDF)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.LimiterStatus().Active)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.WaitForConversions(ctx), context.DeadlineExceeded)

	svc.CancelAll()
	require.NoError(t, svc.WaitForConversions(context.Background()))
	assert.Equal(t, 0, svc.LimiterStatus().Active)
}
