package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// MigrationAuth is the DDL for the authorization tables. Safe to execute
// repeatedly; the migrate subcommand runs it at startup.
const MigrationAuth = `
CREATE TABLE IF NOT EXISTS oauth_clients (
    client_id       TEXT PRIMARY KEY,
    client_secret   TEXT NOT NULL DEFAULT '',
    client_name     TEXT NOT NULL DEFAULT '',
    redirect_uris   TEXT[] NOT NULL DEFAULT '{}',
    grant_types     TEXT[] NOT NULL DEFAULT '{}',
    scopes          TEXT[] NOT NULL DEFAULT '{}',
    is_confidential BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS oauth_users (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL DEFAULT '',
    totp_secret   TEXT NOT NULL DEFAULT '',
    fhir_user     TEXT NOT NULL DEFAULT '',
    roles         TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS oauth_codes (
    code                  TEXT PRIMARY KEY,
    client_id             TEXT NOT NULL,
    redirect_uri          TEXT NOT NULL,
    user_id               TEXT NOT NULL DEFAULT '',
    scopes                TEXT[] NOT NULL DEFAULT '{}',
    code_challenge        TEXT NOT NULL DEFAULT '',
    code_challenge_method TEXT NOT NULL DEFAULT '',
    launch_json           JSONB,
    nonce                 TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL,
    expires_at            TIMESTAMPTZ NOT NULL,
    used                  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
    token       TEXT PRIMARY KEY,
    token_type  TEXT NOT NULL,
    client_id   TEXT NOT NULL,
    user_id     TEXT NOT NULL DEFAULT '',
    scopes      TEXT[] NOT NULL DEFAULT '{}',
    launch_json JSONB,
    created_at  TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    revoked     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_oauth_tokens_expires_at ON oauth_tokens (expires_at);

CREATE TABLE IF NOT EXISTS launch_contexts (
    token        TEXT PRIMARY KEY,
    context_json JSONB NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS emergency_access_grants (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    patient_id TEXT NOT NULL,
    reason     TEXT NOT NULL,
    granted_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    revoked    BOOLEAN NOT NULL DEFAULT FALSE,
    revoked_at TIMESTAMPTZ,
    revoked_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_emergency_grants_user ON emergency_access_grants (user_id);
`

// ---------------------------------------------------------------------------
// PGTokenStore
// ---------------------------------------------------------------------------

// PGTokenStore is the PostgreSQL-backed TokenStore. Single redemption and
// refresh rotation rely on the database for atomicity: mark-used is a
// conditional UPDATE and rotation runs inside one transaction.
type PGTokenStore struct {
	pool *pgxpool.Pool
}

// NewPGTokenStore creates a store on the given pool.
func NewPGTokenStore(pool *pgxpool.Pool) *PGTokenStore {
	return &PGTokenStore{pool: pool}
}

func (s *PGTokenStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	launch, err := marshalLaunch(code.LaunchContext)
	if err != nil {
		return err
	}
	const query = `INSERT INTO oauth_codes
(code, client_id, redirect_uri, user_id, scopes, code_challenge, code_challenge_method, launch_json, nonce, created_at, expires_at, used)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		code.Code, code.ClientID, code.RedirectURI, code.UserID, code.Scopes,
		code.CodeChallenge, code.CodeChallengeMethod, launch, code.Nonce,
		code.CreatedAt, code.ExpiresAt, code.Used)
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}
	return nil
}

func (s *PGTokenStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	const query = `SELECT code, client_id, redirect_uri, user_id, scopes, code_challenge, code_challenge_method, launch_json, nonce, created_at, expires_at, used
FROM oauth_codes WHERE code = $1`
	ac := &AuthorizationCode{}
	var launch []byte
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&ac.Code, &ac.ClientID, &ac.RedirectURI, &ac.UserID, &ac.Scopes,
		&ac.CodeChallenge, &ac.CodeChallengeMethod, &launch, &ac.Nonce,
		&ac.CreatedAt, &ac.ExpiresAt, &ac.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization code: %w", err)
	}
	if ac.LaunchContext, err = unmarshalLaunch(launch); err != nil {
		return nil, err
	}
	return ac, nil
}

// MarkCodeUsed is the atomic single-redemption gate: the conditional UPDATE
// succeeds for exactly one of any number of concurrent redeemers.
func (s *PGTokenStore) MarkCodeUsed(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_codes SET used = TRUE WHERE code = $1 AND used = FALSE`, code)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM oauth_codes WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrCodeAlreadyUsed
}

func (s *PGTokenStore) SaveToken(ctx context.Context, record *TokenRecord) error {
	launch, err := marshalLaunch(record.LaunchContext)
	if err != nil {
		return err
	}
	const query = `INSERT INTO oauth_tokens
(token, token_type, client_id, user_id, scopes, launch_json, created_at, expires_at, revoked)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = s.pool.Exec(ctx, query,
		record.Token, record.TokenType, record.ClientID, record.UserID,
		record.Scopes, launch, record.CreatedAt, record.ExpiresAt, record.Revoked)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *PGTokenStore) GetToken(ctx context.Context, token string) (*TokenRecord, error) {
	return s.getToken(ctx, token, "")
}

func (s *PGTokenStore) GetRefreshToken(ctx context.Context, token string) (*TokenRecord, error) {
	return s.getToken(ctx, token, TokenTypeRefresh)
}

func (s *PGTokenStore) getToken(ctx context.Context, token, tokenType string) (*TokenRecord, error) {
	query := `SELECT token, token_type, client_id, user_id, scopes, launch_json, created_at, expires_at, revoked
FROM oauth_tokens WHERE token = $1`
	args := []any{token}
	if tokenType != "" {
		query += ` AND token_type = $2`
		args = append(args, tokenType)
	}

	tr := &TokenRecord{}
	var launch []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&tr.Token, &tr.TokenType, &tr.ClientID, &tr.UserID, &tr.Scopes,
		&launch, &tr.CreatedAt, &tr.ExpiresAt, &tr.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if tr.LaunchContext, err = unmarshalLaunch(launch); err != nil {
		return nil, err
	}
	return tr, nil
}

// RevokeToken never fails for unknown tokens (RFC 7009).
func (s *PGTokenStore) RevokeToken(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE oauth_tokens SET revoked = TRUE WHERE token = $1`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RotateRefreshToken revokes the old token and inserts the fresh one in a
// single transaction so no interleaved request sees both or neither valid.
func (s *PGTokenStore) RotateRefreshToken(ctx context.Context, old string, fresh *TokenRecord) error {
	launch, err := marshalLaunch(fresh.LaunchContext)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE oauth_tokens SET revoked = TRUE WHERE token = $1`, old); err != nil {
		return fmt.Errorf("revoke old refresh token: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO oauth_tokens
(token, token_type, client_id, user_id, scopes, launch_json, created_at, expires_at, revoked)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,FALSE)`,
		fresh.Token, fresh.TokenType, fresh.ClientID, fresh.UserID,
		fresh.Scopes, launch, fresh.CreatedAt, fresh.ExpiresAt); err != nil {
		return fmt.Errorf("save fresh refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PGUserStore
// ---------------------------------------------------------------------------

// PGUserStore is the PostgreSQL-backed UserStore. It also owns credential
// verification (bcrypt password, optional TOTP) for the login step that
// precedes /authorize.
type PGUserStore struct {
	pool *pgxpool.Pool
}

// NewPGUserStore creates a store on the given pool.
func NewPGUserStore(pool *pgxpool.Pool) *PGUserStore {
	return &PGUserStore{pool: pool}
}

func (s *PGUserStore) GetClient(ctx context.Context, clientID string) (*OAuthClient, error) {
	const query = `SELECT client_id, client_secret, client_name, redirect_uris, grant_types, scopes, is_confidential
FROM oauth_clients WHERE client_id = $1`
	c := &OAuthClient{}
	err := s.pool.QueryRow(ctx, query, clientID).Scan(
		&c.ClientID, &c.ClientSecret, &c.Name, &c.RedirectURIs,
		&c.GrantTypes, &c.Scopes, &c.IsConfidential)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *PGUserStore) GetUser(ctx context.Context, userID string) (*OAuthUser, error) {
	const query = `SELECT id, username, fhir_user, roles FROM oauth_users WHERE id = $1`
	u := &OAuthUser{}
	err := s.pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Username, &u.FHIRUser, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// AuthenticateUser verifies a username/password pair and, when the account
// has MFA enrolled, a TOTP code. Credential policy (complexity, rotation)
// is managed elsewhere; this only verifies.
func (s *PGUserStore) AuthenticateUser(ctx context.Context, username, password, totpCode string) (*OAuthUser, error) {
	const query = `SELECT id, username, password_hash, totp_secret, fhir_user, roles
FROM oauth_users WHERE username = $1`
	u := &OAuthUser{}
	var passwordHash, totpSecret string
	err := s.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &passwordHash, &totpSecret, &u.FHIRUser, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return nil, ErrNotFound
	}
	if totpSecret != "" && !totp.Validate(totpCode, totpSecret) {
		return nil, ErrNotFound
	}
	return u, nil
}

// ResolveLaunchContext atomically consumes a launch token via
// DELETE ... RETURNING; a second resolution of the same token misses.
func (s *PGUserStore) ResolveLaunchContext(ctx context.Context, launchToken string) (*LaunchContext, error) {
	const query = `DELETE FROM launch_contexts
WHERE token = $1 AND expires_at > now()
RETURNING context_json`
	var data []byte
	err := s.pool.QueryRow(ctx, query, launchToken).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve launch context: %w", err)
	}
	lc := &LaunchContext{}
	if err := json.Unmarshal(data, lc); err != nil {
		return nil, fmt.Errorf("unmarshal launch context: %w", err)
	}
	return lc, nil
}

// SaveLaunchContext stores a launch context under the given opaque token.
func (s *PGUserStore) SaveLaunchContext(ctx context.Context, token string, lc *LaunchContext, expiresAt time.Time) error {
	data, err := json.Marshal(lc)
	if err != nil {
		return fmt.Errorf("marshal launch context: %w", err)
	}
	const query = `INSERT INTO launch_contexts (token, context_json, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (token) DO UPDATE SET context_json = EXCLUDED.context_json, expires_at = EXCLUDED.expires_at`
	if _, err := s.pool.Exec(ctx, query, token, data, expiresAt); err != nil {
		return fmt.Errorf("save launch context: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PGEmergencyAccessStore
// ---------------------------------------------------------------------------

// PGEmergencyAccessStore is the PostgreSQL-backed EmergencyAccessStore.
type PGEmergencyAccessStore struct {
	pool *pgxpool.Pool
}

// NewPGEmergencyAccessStore creates a store on the given pool.
func NewPGEmergencyAccessStore(pool *pgxpool.Pool) *PGEmergencyAccessStore {
	return &PGEmergencyAccessStore{pool: pool}
}

func (s *PGEmergencyAccessStore) SaveGrant(ctx context.Context, grant *EmergencyAccessGrant) error {
	const query = `INSERT INTO emergency_access_grants
(id, user_id, patient_id, reason, granted_at, expires_at, revoked, revoked_at, revoked_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.pool.Exec(ctx, query,
		grant.ID, grant.UserID, grant.PatientID, grant.Reason,
		grant.GrantedAt, grant.ExpiresAt, grant.Revoked, grant.RevokedAt, grant.RevokedBy)
	if err != nil {
		return fmt.Errorf("save emergency grant: %w", err)
	}
	return nil
}

func (s *PGEmergencyAccessStore) GetGrant(ctx context.Context, grantID string) (*EmergencyAccessGrant, error) {
	const query = `SELECT id, user_id, patient_id, reason, granted_at, expires_at, revoked, revoked_at, revoked_by
FROM emergency_access_grants WHERE id = $1`
	g := &EmergencyAccessGrant{}
	err := s.pool.QueryRow(ctx, query, grantID).Scan(
		&g.ID, &g.UserID, &g.PatientID, &g.Reason,
		&g.GrantedAt, &g.ExpiresAt, &g.Revoked, &g.RevokedAt, &g.RevokedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get emergency grant: %w", err)
	}
	return g, nil
}

func (s *PGEmergencyAccessStore) ListGrantsByUser(ctx context.Context, userID string) ([]*EmergencyAccessGrant, error) {
	const query = `SELECT id, user_id, patient_id, reason, granted_at, expires_at, revoked, revoked_at, revoked_by
FROM emergency_access_grants WHERE user_id = $1 ORDER BY granted_at DESC`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list emergency grants: %w", err)
	}
	defer rows.Close()

	var out []*EmergencyAccessGrant
	for rows.Next() {
		g := &EmergencyAccessGrant{}
		if err := rows.Scan(&g.ID, &g.UserID, &g.PatientID, &g.Reason,
			&g.GrantedAt, &g.ExpiresAt, &g.Revoked, &g.RevokedAt, &g.RevokedBy); err != nil {
			return nil, fmt.Errorf("scan emergency grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PGEmergencyAccessStore) RevokeGrant(ctx context.Context, grantID, revokedBy string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE emergency_access_grants SET revoked = TRUE, revoked_at = $2, revoked_by = $3 WHERE id = $1`,
		grantID, at, revokedBy)
	if err != nil {
		return fmt.Errorf("revoke emergency grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Launch JSON helpers
// ---------------------------------------------------------------------------

func marshalLaunch(lc *LaunchContext) ([]byte, error) {
	if lc == nil {
		return nil, nil
	}
	data, err := json.Marshal(lc)
	if err != nil {
		return nil, fmt.Errorf("marshal launch context: %w", err)
	}
	return data, nil
}

func unmarshalLaunch(data []byte) (*LaunchContext, error) {
	if len(data) == 0 {
		return nil, nil
	}
	lc := &LaunchContext{}
	if err := json.Unmarshal(data, lc); err != nil {
		return nil, fmt.Errorf("unmarshal launch context: %w", err)
	}
	return lc, nil
}
