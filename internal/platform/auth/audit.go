package auth

import (
	"context"

	"github.com/rs/zerolog"
)

// AuditLogger receives every authorization decision and emergency-access
// lifecycle event. Implementations must be safe for concurrent use. The
// tamper-evident audit trail itself (hash chaining, storage) lives behind
// this interface in a separate component.
type AuditLogger interface {
	LogPermissionCheck(ctx context.Context, userID string, role Role, resource, action string, allowed bool) error
	LogEmergencyAccess(ctx context.Context, grant *EmergencyAccessGrant) error
	LogEmergencyRevocation(ctx context.Context, grant *EmergencyAccessGrant) error
}

// NopAuditLogger discards all events. It is the default collaborator when
// no logger is injected, so callers never nil-check.
type NopAuditLogger struct{}

func (NopAuditLogger) LogPermissionCheck(context.Context, string, Role, string, string, bool) error {
	return nil
}
func (NopAuditLogger) LogEmergencyAccess(context.Context, *EmergencyAccessGrant) error     { return nil }
func (NopAuditLogger) LogEmergencyRevocation(context.Context, *EmergencyAccessGrant) error { return nil }

// ZerologAuditLogger emits audit events as structured log entries.
// Permission checks log at debug when allowed and info when denied;
// emergency access always logs at warn.
type ZerologAuditLogger struct {
	logger zerolog.Logger
}

// NewZerologAuditLogger creates an audit logger writing to the given logger.
func NewZerologAuditLogger(logger zerolog.Logger) *ZerologAuditLogger {
	return &ZerologAuditLogger{logger: logger}
}

func (l *ZerologAuditLogger) LogPermissionCheck(_ context.Context, userID string, role Role, resource, action string, allowed bool) error {
	evt := l.logger.Debug()
	if !allowed {
		evt = l.logger.Info()
	}
	evt.
		Str("type", "permission_check").
		Str("user_id", userID).
		Str("role", string(role)).
		Str("resource", resource).
		Str("action", action).
		Bool("allowed", allowed).
		Msg("permission_check")
	return nil
}

func (l *ZerologAuditLogger) LogEmergencyAccess(_ context.Context, grant *EmergencyAccessGrant) error {
	l.logger.Warn().
		Str("type", "emergency_access_granted").
		Str("grant_id", grant.ID).
		Str("user_id", grant.UserID).
		Str("patient_id", grant.PatientID).
		Str("reason", grant.Reason).
		Time("expires_at", grant.ExpiresAt).
		Msg("emergency_access_granted")
	return nil
}

func (l *ZerologAuditLogger) LogEmergencyRevocation(_ context.Context, grant *EmergencyAccessGrant) error {
	l.logger.Warn().
		Str("type", "emergency_access_revoked").
		Str("grant_id", grant.ID).
		Str("user_id", grant.UserID).
		Str("patient_id", grant.PatientID).
		Str("revoked_by", grant.RevokedBy).
		Msg("emergency_access_revoked")
	return nil
}
