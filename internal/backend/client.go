// Package backend is the HTTP client for the conversion and validation
// service.
//
// /convert answers with a text stream of progress lines followed by the
// result marker and the JSON document, which is fed chunk by chunk into an
// ingest.Session. A body that is a single JSON value from its first byte is
// treated as a synchronous result, whatever its Content-Type.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/JonMunkholm/bundlewizard/internal/document"
	"github.com/JonMunkholm/bundlewizard/internal/ingest"
	"github.com/JonMunkholm/bundlewizard/internal/validation"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 5 * time.Minute

	// maxErrorBody caps how much of a failed response is read for its detail.
	maxErrorBody = 64 * 1024
	// readChunk is the buffer size used when copying the /convert stream.
	readChunk = 32 * 1024
)

// Client talks to one backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the deadline applied to every call. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ConvertResult is a successful conversion.
type ConvertResult struct {
	Document any
	Log      []string
	Current  int
	Total    int
	// Streamed is false when the backend answered with a plain JSON body.
	Streamed bool
}

// Convert uploads a file to /convert and parses the response.
//
// Errors: *TransportError for connection, status, "detail" and timeout
// failures; *ingest.ProtocolParseError when the stream ends without a
// usable payload; context.Canceled when ctx was cancelled by the caller.
func (c *Client) Convert(ctx context.Context, fileName string, file io.Reader, opts ...ingest.Option) (*ConvertResult, error) {
	const op = "convert"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, contentType, err := multipartFile(fileName, "application/pdf", file)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.post(ctx, "/convert", contentType, body)
	if err != nil {
		return nil, requestFailed(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp, ""); err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(resp.Body, readChunk)
	if !startsWithJSON(br) {
		return c.convertStream(ctx, resp.StatusCode, br, opts)
	}

	raw, err := io.ReadAll(br)
	if err != nil {
		return nil, requestFailed(ctx, op, err)
	}
	if !json.Valid(raw) {
		return c.convertStream(ctx, resp.StatusCode, bytes.NewReader(raw), opts)
	}
	if detail := detailOf(raw); detail != "" {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Message: detail}
	}

	doc, err := document.Parse(raw)
	if err != nil {
		return nil, &ingest.ProtocolParseError{Reason: ingest.ReasonMalformedJSON, Err: err}
	}
	return &ConvertResult{Document: doc}, nil
}

// convertStream feeds r through an ingestion session. A payload carrying a
// "detail" field is a backend failure, not a document.
func (c *Client) convertStream(ctx context.Context, status int, r io.Reader, opts []ingest.Option) (*ConvertResult, error) {
	const op = "convert"

	session := ingest.NewSession(opts...)
	buf := make([]byte, readChunk)
	if _, err := io.CopyBuffer(session, r, buf); err != nil {
		return nil, requestFailed(ctx, op, err)
	}

	doc, err := session.Finish()
	if err != nil {
		return nil, err
	}
	if detail := payloadDetail(doc); detail != "" {
		return nil, &TransportError{Op: op, StatusCode: status, Message: detail}
	}

	current, total := session.Steps()
	return &ConvertResult{
		Document: doc,
		Log:      session.Log(),
		Current:  current,
		Total:    total,
		Streamed: true,
	}, nil
}

// Validate sends a document to /validate as bundle.json.
//
// A report with Error set is returned as a report, not an error. Transport
// failures and non-2xx answers return a *TransportError whose message is
// the backend's "detail" or "Validation failed: <status>".
func (c *Client) Validate(ctx context.Context, doc any) (validation.Report, error) {
	const op = "validate"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.postDocument(ctx, op, "/validate", doc, "Validation failed")
	if err != nil {
		return validation.Report{}, err
	}

	var report validation.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return validation.Report{}, &TransportError{Op: op, Message: "invalid validation response", Err: err}
	}
	return report, nil
}

// JSONToExcel converts a document to a spreadsheet via /json-to-excel.
func (c *Client) JSONToExcel(ctx context.Context, doc any) ([]byte, error) {
	const op = "json-to-excel"

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.postDocument(ctx, op, "/json-to-excel", doc, "Export failed")
}

// ProgressStatus is the /progress response.
type ProgressStatus struct {
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps,omitempty"`
	Message     string `json:"message"`
}

// Progress polls /progress.
func (c *Client) Progress(ctx context.Context) (ProgressStatus, error) {
	var status ProgressStatus
	err := c.getJSON(ctx, "progress", "/progress", &status)
	return status, err
}

// HealthStatus is the result of a /health probe.
type HealthStatus struct {
	OK      bool          `json:"ok"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
	Checked time.Time     `json:"checked"`
}

// Health probes /health. A probe that fails returns OK=false together
// with the error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	var body struct {
		Status string `json:"status"`
	}
	err := c.getJSON(ctx, "health", "/health", &body)

	h := HealthStatus{
		OK:      err == nil,
		Status:  body.Status,
		Latency: time.Since(start),
		Checked: start,
	}
	if h.Status == "" {
		if h.OK {
			h.Status = "ok"
		} else {
			h.Status = "unreachable"
		}
	}
	return h, err
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return requestFailed(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp, ""); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestFailed(ctx, op, err)
	}
	if document.IsEmpty(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "invalid response", Err: err}
	}
	return nil
}

// postDocument uploads doc as a pretty-printed bundle.json and returns the
// response body.
func (c *Client) postDocument(ctx context.Context, op, path string, doc any, failure string) ([]byte, error) {
	data, err := document.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, contentType, err := multipartFile("bundle.json", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.post(ctx, path, contentType, body)
	if err != nil {
		return nil, requestFailed(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp, failure); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestFailed(ctx, op, err)
	}
	return raw, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.httpClient.Do(req)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// checkStatus turns a non-2xx response into a *TransportError. failure,
// when set, produces messages like "Validation failed: 502".
func checkStatus(op string, resp *http.Response, failure string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	fallback := ""
	if failure != "" {
		fallback = fmt.Sprintf("%s: %d", failure, resp.StatusCode)
	}
	return statusError(op, resp.StatusCode, body, fallback)
}

// multipartFile builds a form with a single "file" field.
func multipartFile(fileName, contentType string, r io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// startsWithJSON reports whether the first non-space byte of r opens a
// JSON object or array. Nothing is consumed.
func startsWithJSON(r *bufio.Reader) bool {
	for i := 1; ; i++ {
		b, _ := r.Peek(i)
		if len(b) < i {
			return false
		}
		switch b[i-1] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
}
