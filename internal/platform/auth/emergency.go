package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// emergencyAccessTTL is the fixed lifetime of a break-the-glass grant.
const emergencyAccessTTL = 60 * time.Minute

// minEmergencyReasonLen rejects terse justifications.
const minEmergencyReasonLen = 10

// EmergencyAccessGrant is a time-boxed break-the-glass override for a
// single patient. A grant is either active (!Revoked && now < ExpiresAt)
// or permanently inactive; there is no reactivation path.
type EmergencyAccessGrant struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	PatientID string     `json:"patient_id"`
	Reason    string     `json:"reason"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	RevokedBy string     `json:"revoked_by,omitempty"`
}

// Active reports whether the grant is usable at the given time.
func (g *EmergencyAccessGrant) Active(now time.Time) bool {
	return !g.Revoked && now.Before(g.ExpiresAt)
}

// GrantEmergencyAccess creates a break-the-glass grant for the user on the
// given patient. The justification must be at least ten characters. The
// grant is persisted and then audit-logged; an audit failure fails the
// whole operation so that no grant exists without a trail.
func (e *PermissionEngine) GrantEmergencyAccess(ctx context.Context, userID, reason, patientID string) (*EmergencyAccessGrant, error) {
	if len(reason) < minEmergencyReasonLen {
		return nil, fmt.Errorf("emergency access reason must be at least %d characters", minEmergencyReasonLen)
	}
	if userID == "" || patientID == "" {
		return nil, fmt.Errorf("emergency access requires both user and patient")
	}

	now := e.nowFn()
	grant := &EmergencyAccessGrant{
		ID:        uuid.New().String(),
		UserID:    userID,
		PatientID: patientID,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: now.Add(emergencyAccessTTL),
	}

	if err := e.grants.SaveGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("save emergency grant: %w", err)
	}
	if err := e.audit.LogEmergencyAccess(ctx, grant); err != nil {
		return nil, fmt.Errorf("audit emergency grant: %w", err)
	}
	return grant, nil
}

// RevokeEmergencyAccess revokes an active grant. Unknown grants and
// already-revoked grants fail with descriptive errors, so double revokes
// surface as caller bugs instead of silently succeeding.
func (e *PermissionEngine) RevokeEmergencyAccess(ctx context.Context, grantID, revokedBy string) error {
	grant, err := e.grants.GetGrant(ctx, grantID)
	if err != nil {
		return fmt.Errorf("emergency grant %s: %w", grantID, err)
	}
	if grant.Revoked {
		return fmt.Errorf("emergency grant %s is already revoked", grantID)
	}

	now := e.nowFn()
	if err := e.grants.RevokeGrant(ctx, grantID, revokedBy, now); err != nil {
		return fmt.Errorf("revoke emergency grant %s: %w", grantID, err)
	}

	grant.Revoked = true
	grant.RevokedAt = &now
	grant.RevokedBy = revokedBy
	if err := e.audit.LogEmergencyRevocation(ctx, grant); err != nil {
		return fmt.Errorf("audit emergency revocation: %w", err)
	}
	return nil
}

// HasEmergencyAccess reports whether the user holds any active grant.
func (e *PermissionEngine) HasEmergencyAccess(ctx context.Context, userID string) (bool, error) {
	grants, err := e.grants.ListGrantsByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list emergency grants: %w", err)
	}
	now := e.nowFn()
	for _, g := range grants {
		if g.Active(now) {
			return true, nil
		}
	}
	return false, nil
}

// hasActiveGrantFor reports whether the user holds an active grant naming
// the given patient.
func (e *PermissionEngine) hasActiveGrantFor(ctx context.Context, userID, patientID string) (bool, error) {
	grants, err := e.grants.ListGrantsByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list emergency grants: %w", err)
	}
	now := e.nowFn()
	for _, g := range grants {
		if g.PatientID == patientID && g.Active(now) {
			return true, nil
		}
	}
	return false, nil
}
