// Package audit persists authorization audit events to PostgreSQL. Events
// are append-only; there is no update or delete path.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/clinauth/clinauth/internal/platform/auth"
)

// Migration is the DDL for the audit table.
const Migration = `
CREATE TABLE IF NOT EXISTS audit_events (
    id          TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    user_id     TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT '',
    resource    TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL DEFAULT '',
    allowed     BOOLEAN,
    patient_id  TEXT NOT NULL DEFAULT '',
    grant_id    TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events (user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events (event_type, occurred_at);
`

// Event types written to audit_events.event_type.
const (
	EventPermissionCheck     = "permission_check"
	EventEmergencyAccess     = "emergency_access_granted"
	EventEmergencyRevocation = "emergency_access_revoked"
)

// PGAuditLogger implements auth.AuditLogger on PostgreSQL. Event IDs are
// ULIDs so the primary key sorts by time. A write failure propagates to the
// caller; emergency-access grants are rolled back when their audit insert
// fails.
type PGAuditLogger struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPGAuditLogger creates a logger writing to the given pool.
func NewPGAuditLogger(pool *pgxpool.Pool, log zerolog.Logger) *PGAuditLogger {
	return &PGAuditLogger{pool: pool, log: log.With().Str("component", "audit").Logger()}
}

func (l *PGAuditLogger) LogPermissionCheck(ctx context.Context, userID string, role auth.Role, resource, action string, allowed bool) error {
	const query = `INSERT INTO audit_events (id, event_type, user_id, role, resource, action, allowed, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := l.pool.Exec(ctx, query,
		newEventID(), EventPermissionCheck, userID, string(role), resource, action, allowed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit permission check: %w", err)
	}
	return nil
}

func (l *PGAuditLogger) LogEmergencyAccess(ctx context.Context, grant *auth.EmergencyAccessGrant) error {
	const query = `INSERT INTO audit_events (id, event_type, user_id, patient_id, grant_id, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := l.pool.Exec(ctx, query,
		newEventID(), EventEmergencyAccess, grant.UserID, grant.PatientID, grant.ID, grant.Reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit emergency access: %w", err)
	}
	l.log.Warn().
		Str("grant_id", grant.ID).
		Str("user_id", grant.UserID).
		Str("patient_id", grant.PatientID).
		Msg("emergency access granted")
	return nil
}

func (l *PGAuditLogger) LogEmergencyRevocation(ctx context.Context, grant *auth.EmergencyAccessGrant) error {
	const query = `INSERT INTO audit_events (id, event_type, user_id, patient_id, grant_id, detail, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := l.pool.Exec(ctx, query,
		newEventID(), EventEmergencyRevocation, grant.UserID, grant.PatientID, grant.ID, "revoked by "+grant.RevokedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("audit emergency revocation: %w", err)
	}
	l.log.Warn().
		Str("grant_id", grant.ID).
		Str("revoked_by", grant.RevokedBy).
		Msg("emergency access revoked")
	return nil
}

func newEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
}
