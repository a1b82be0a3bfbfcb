package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS wizard_audit_log (
	id         UUID PRIMARY KEY,
	wizard_id  UUID NOT NULL,
	action     TEXT NOT NULL,
	severity   TEXT NOT NULL,
	file_name  TEXT,
	detail     JSONB,
	ip_address INET,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS wizard_audit_log_wizard_idx ON wizard_audit_log (wizard_id, created_at);
CREATE INDEX IF NOT EXISTS wizard_audit_log_created_idx ON wizard_audit_log (created_at);
`

const insertAuditSQL = `
INSERT INTO wizard_audit_log (id, wizard_id, action, severity, file_name, detail, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const purgeAuditSQL = `DELETE FROM wizard_audit_log WHERE created_at < now() - make_interval(days => $1)`

const wizardAuditSQL = `
SELECT id, wizard_id, action, severity, file_name, detail, ip_address, user_agent, created_at
FROM wizard_audit_log
WHERE wizard_id = $1
ORDER BY created_at DESC
LIMIT $2`

// PgAuditStore keeps the audit trail in PostgreSQL.
type PgAuditStore struct {
	db DBTX
}

// NewPgAuditStore wraps a pool or transaction.
func NewPgAuditStore(db DBTX) *PgAuditStore {
	return &PgAuditStore{db: db}
}

// EnsureSchema creates the audit table and its indexes if missing.
func (s *PgAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (s *PgAuditStore) Record(ctx context.Context, e AuditEntry) error {
	var detail []byte
	if e.Detail != nil {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			detail = nil // Fall back to nil if marshaling fails
		}
	}

	_, err := s.db.Exec(ctx, insertAuditSQL,
		toPgUUID(e.ID),
		toPgUUID(e.WizardID),
		string(e.Action),
		string(e.Severity),
		toPgText(e.FileName),
		detail,
		toInet(e.IPAddress),
		toPgText(e.UserAgent),
		pgtype.Timestamptz{Time: e.CreatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Purge deletes entries older than the given number of days and returns
// how many were removed.
func (s *PgAuditStore) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeAuditSQL, int32(olderThanDays))
	if err != nil {
		return 0, fmt.Errorf("purge audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ForWizard returns the most recent entries of one wizard, newest first.
func (s *PgAuditStore) ForWizard(ctx context.Context, wizardID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	rows, err := s.db.Query(ctx, wizardAuditSQL, toPgUUID(wizardID), int32(limit))
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			id, wizard       pgtype.UUID
			action, severity string
			fileName, ua     pgtype.Text
			detail           []byte
			ip               *netip.Addr
			created          pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &wizard, &action, &severity, &fileName, &detail, &ip, &ua, &created); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e := AuditEntry{
			ID:        uuidToString(id),
			WizardID:  uuidToString(wizard),
			Action:    AuditAction(action),
			Severity:  AuditSeverity(severity),
			FileName:  fileName.String,
			UserAgent: ua.String,
			CreatedAt: created.Time,
		}
		if ip != nil {
			e.IPAddress = ip.String()
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgUUID(s string) pgtype.UUID {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func uuidToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// toInet returns nil for addresses that do not parse so the column stays NULL.
func toInet(ip string) *netip.Addr {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}
	return &addr
}
