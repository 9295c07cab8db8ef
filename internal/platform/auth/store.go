package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist. The
// server maps it onto the appropriate OAuth error for the operation.
var ErrNotFound = errors.New("not found")

// ErrCodeAlreadyUsed is returned by MarkCodeUsed when the code was already
// redeemed. The store is the atomic authority for single redemption: of N
// concurrent redemptions exactly one MarkCodeUsed succeeds.
var ErrCodeAlreadyUsed = errors.New("authorization code already used")

// TokenStore persists authorization codes and token records. Every method
// may block for one store round-trip and honors ctx cancellation.
type TokenStore interface {
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkCodeUsed flips Used to true. It must be atomic: if the code is
	// already used it returns ErrCodeAlreadyUsed and has no effect.
	MarkCodeUsed(ctx context.Context, code string) error

	SaveToken(ctx context.Context, record *TokenRecord) error
	GetToken(ctx context.Context, token string) (*TokenRecord, error)
	GetRefreshToken(ctx context.Context, token string) (*TokenRecord, error)

	// RevokeToken marks the token revoked. Revoking an unknown token is
	// not an error (RFC 7009 semantics).
	RevokeToken(ctx context.Context, token string) error

	// RotateRefreshToken revokes old and saves fresh as one operation.
	// Implementations must not expose a window where both or neither
	// validate.
	RotateRefreshToken(ctx context.Context, old string, fresh *TokenRecord) error
}

// UserStore resolves clients, users, and launch tokens.
type UserStore interface {
	GetClient(ctx context.Context, clientID string) (*OAuthClient, error)
	GetUser(ctx context.Context, userID string) (*OAuthUser, error)

	// ResolveLaunchContext exchanges an opaque launch token for its
	// context. The token is one-time use; an unknown or expired token
	// returns ErrNotFound.
	ResolveLaunchContext(ctx context.Context, launchToken string) (*LaunchContext, error)
}

// EmergencyAccessStore persists break-the-glass grants.
type EmergencyAccessStore interface {
	SaveGrant(ctx context.Context, grant *EmergencyAccessGrant) error
	GetGrant(ctx context.Context, grantID string) (*EmergencyAccessGrant, error)
	ListGrantsByUser(ctx context.Context, userID string) ([]*EmergencyAccessGrant, error)

	// RevokeGrant sets revoked/revokedAt/revokedBy. Returns ErrNotFound
	// for unknown grants; revoking twice is the caller's error to reject.
	RevokeGrant(ctx context.Context, grantID, revokedBy string, at time.Time) error
}
