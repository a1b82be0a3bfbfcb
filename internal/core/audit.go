package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionWizardCreated       AuditAction = "wizard_created"
	ActionConversionStarted   AuditAction = "conversion_started"
	ActionConversionCompleted AuditAction = "conversion_completed"
	ActionConversionFailed    AuditAction = "conversion_failed"
	ActionConversionCancelled AuditAction = "conversion_cancelled"
	ActionRawSaved            AuditAction = "raw_saved"
	ActionDocumentReplaced    AuditAction = "document_replaced"
	ActionReviewCompleted     AuditAction = "review_completed"
	ActionValidationRun       AuditAction = "validation_run"
	ActionDownload            AuditAction = "download"
	ActionExcelExport         AuditAction = "excel_export"
	ActionWizardReset         AuditAction = "wizard_reset"
	ActionWizardExpired       AuditAction = "wizard_expired"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string         `json:"id"`
	WizardID  string         `json:"wizardId"`
	Action    AuditAction    `json:"action"`
	Severity  AuditSeverity  `json:"severity"`
	FileName  string         `json:"fileName,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists audit entries.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditPurger removes entries older than a retention window.
type AuditPurger interface {
	Purge(ctx context.Context, olderThanDays int) (int64, error)
}

// AuditReader lists the entries of one wizard, newest first.
type AuditReader interface {
	ForWizard(ctx context.Context, wizardID string, limit int) ([]AuditEntry, error)
}

// ErrAuditUnavailable is returned by AuditTrail when the configured store
// cannot be queried.
var ErrAuditUnavailable = errors.New("audit trail unavailable")

// DefaultAuditLimit caps AuditTrail when the caller passes no limit.
const DefaultAuditLimit = 100

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionConversionStarted, ActionConversionCompleted, ActionDownload, ActionExcelExport:
		return SeverityHigh
	case ActionWizardCreated, ActionWizardExpired, ActionConversionCancelled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// LogAuditStore writes audit entries to the structured log. It is used when
// no database is configured.
type LogAuditStore struct {
	logger *slog.Logger
}

// NewLogAuditStore returns a store that logs through logger, or through the
// default logger when logger is nil.
func NewLogAuditStore(logger *slog.Logger) *LogAuditStore {
	return &LogAuditStore{logger: logger}
}

func (s *LogAuditStore) Record(ctx context.Context, e AuditEntry) error {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"audit_id", e.ID,
		"wizard_id", e.WizardID,
		"action", string(e.Action),
		"severity", string(e.Severity),
		"file", e.FileName,
		"detail", e.Detail,
		"ip", e.IPAddress,
	)
	return nil
}

// audit records an action for a wizard. Failures are logged and never
// surface to the caller.
func (s *Service) audit(ctx context.Context, wizardID string, action AuditAction, fileName string, detail map[string]any) {
	if s.auditStore == nil {
		return
	}
	ip, ua := ClientFromContext(ctx)
	entry := AuditEntry{
		ID:        uuid.NewString(),
		WizardID:  wizardID,
		Action:    action,
		Severity:  determineSeverity(action),
		FileName:  fileName,
		Detail:    detail,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: time.Now().UTC(),
	}
	// The request may already be gone; the record should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.auditStore.Record(ctx, entry); err != nil {
		slog.Warn("audit record failed", "wizard_id", wizardID, "action", string(action), "error", err)
	}
}

const auditTimeout = 5 * time.Second

// AuditTrail returns up to limit recorded actions of a wizard, newest first.
func (s *Service) AuditTrail(ctx context.Context, wizardID string, limit int) ([]AuditEntry, error) {
	if _, err := s.Wizard(wizardID); err != nil {
		return nil, err
	}
	reader, ok := s.auditStore.(AuditReader)
	if !ok {
		return nil, ErrAuditUnavailable
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	entries, err := reader.ForWizard(ctx, wizardID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
