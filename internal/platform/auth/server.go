package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default lifetimes, overridable via ServerConfig.
const (
	DefaultCodeTTL    = 10 * time.Minute
	DefaultAccessTTL  = 1 * time.Hour
	DefaultRefreshTTL = 24 * time.Hour
)

// Grant types supported by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// ServerConfig configures an AuthorizationServer.
type ServerConfig struct {
	Issuer     string
	SigningKey []byte
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthorizationServer implements the OAuth2/SMART protocol endpoints over
// injected stores. It is stateless per request; all shared mutable state
// lives behind TokenStore and UserStore.
type AuthorizationServer struct {
	cfg    ServerConfig
	tokens TokenStore
	users  UserStore
	nowFn  func() time.Time
}

// NewAuthorizationServer creates a server. Zero TTLs fall back to defaults.
func NewAuthorizationServer(cfg ServerConfig, tokens TokenStore, users UserStore) *AuthorizationServer {
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &AuthorizationServer{cfg: cfg, tokens: tokens, users: users, nowFn: time.Now}
}

// AuthorizeRequest carries the /authorize parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Aud                 string
	Launch              string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// AuthorizeResponse is the successful result of an authorization request.
type AuthorizeResponse struct {
	RedirectURI string
	Code        string
	State       string
}

// TokenRequest carries the /token parameters for all grant types.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the OAuth2 token response with SMART context extensions.
type TokenResponse struct {
	AccessToken       string `json:"access_token"`
	TokenType         string `json:"token_type"`
	ExpiresIn         int    `json:"expires_in"`
	Scope             string `json:"scope"`
	RefreshToken      string `json:"refresh_token,omitempty"`
	IDToken           string `json:"id_token,omitempty"`
	Patient           string `json:"patient,omitempty"`
	Encounter         string `json:"encounter,omitempty"`
	NeedPatientBanner *bool  `json:"need_patient_banner,omitempty"`
	SMARTStyleURL     string `json:"smart_style_url,omitempty"`
}

// IntrospectionResponse is the RFC 7662 token metadata shape.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Patient   string `json:"patient,omitempty"`
	Encounter string `json:"encounter,omitempty"`
}

// ---------------------------------------------------------------------------
// /authorize
// ---------------------------------------------------------------------------

// Authorize validates an authorization request for an already-authenticated
// user and issues a single-use authorization code bound to PKCE and launch
// context.
func (s *AuthorizationServer) Authorize(ctx context.Context, req *AuthorizeRequest, authenticatedUserID string) (*AuthorizeResponse, error) {
	if req.ResponseType != "code" {
		return nil, NewOAuthError(ErrUnsupportedResponseType, "response_type must be 'code'")
	}

	client, err := s.users.GetClient(ctx, req.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewOAuthError(ErrInvalidRequest, "unknown client_id")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		return nil, NewOAuthError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}

	if req.State == "" {
		return nil, NewOAuthError(ErrInvalidRequest, "state is required")
	}

	scopes, err := s.grantedScopes(req.Scope, client)
	if err != nil {
		return nil, err
	}

	// PKCE: public clients must use it; S256 is the only supported method.
	if !client.IsConfidential && req.CodeChallenge == "" {
		return nil, NewOAuthError(ErrInvalidRequest, "code_challenge is required for public clients")
	}
	if req.CodeChallenge != "" && req.CodeChallengeMethod != "S256" {
		return nil, NewOAuthError(ErrInvalidRequest, "code_challenge_method must be S256")
	}

	if req.Aud != "" && req.Aud != s.cfg.Issuer {
		return nil, NewOAuthError(ErrInvalidRequest, "aud does not match this server")
	}

	var launchCtx *LaunchContext
	if req.Launch != "" {
		launchCtx, err = s.users.ResolveLaunchContext(ctx, req.Launch)
		if errors.Is(err, ErrNotFound) {
			return nil, NewOAuthError(ErrInvalidRequest, "invalid or expired launch token")
		}
		if err != nil {
			return nil, fmt.Errorf("resolve launch context: %w", err)
		}
	}

	// 256 bits of entropy, URL-safe.
	code, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate authorization code: %w", err)
	}

	now := s.nowFn()
	ac := &AuthorizationCode{
		Code:                code,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		UserID:              authenticatedUserID,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		LaunchContext:       launchCtx,
		Nonce:               req.Nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.CodeTTL),
	}
	if err := s.tokens.SaveAuthorizationCode(ctx, ac); err != nil {
		return nil, fmt.Errorf("save authorization code: %w", err)
	}

	return &AuthorizeResponse{RedirectURI: req.RedirectURI, Code: code, State: req.State}, nil
}

// grantedScopes validates the requested scope string against the client's
// allow-list. Every requested scope must be syntactically valid AND present
// in the client's registered set; any miss fails the whole request. There
// are no partial grants.
func (s *AuthorizationServer) grantedScopes(scopeStr string, client *OAuthClient) ([]string, error) {
	requested := strings.Fields(scopeStr)
	if len(requested) == 0 {
		return nil, NewOAuthError(ErrInvalidScope, "at least one scope is required")
	}

	allowed := make(map[string]bool, len(client.Scopes))
	for _, a := range client.Scopes {
		allowed[a] = true
	}

	for _, sc := range requested {
		if !IsValidScope(sc) {
			return nil, NewOAuthError(ErrInvalidScope, fmt.Sprintf("invalid scope %q", sc))
		}
		if !allowed[sc] {
			return nil, NewOAuthError(ErrInvalidScope, fmt.Sprintf("scope %q is not permitted for this client", sc))
		}
	}
	return requested, nil
}

// ---------------------------------------------------------------------------
// /token
// ---------------------------------------------------------------------------

// Token dispatches a token request by grant type.
func (s *AuthorizationServer) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.exchangeCode(ctx, req)
	case GrantRefreshToken:
		return s.refresh(ctx, req)
	case GrantClientCredentials:
		return s.clientCredentials(ctx, req)
	default:
		return nil, NewOAuthError(ErrUnsupportedGrantType,
			"grant_type must be authorization_code, refresh_token, or client_credentials")
	}
}

// exchangeCode redeems an authorization code for tokens.
func (s *AuthorizationServer) exchangeCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	ac, err := s.tokens.GetAuthorizationCode(ctx, req.Code)
	if errors.Is(err, ErrNotFound) {
		return nil, NewOAuthError(ErrInvalidGrant, "invalid authorization code")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup authorization code: %w", err)
	}

	now := s.nowFn()
	if ac.Used {
		return nil, NewOAuthError(ErrInvalidGrant, "authorization code already used")
	}
	if ac.Expired(now) {
		return nil, NewOAuthError(ErrInvalidGrant, "authorization code has expired")
	}
	if ac.RedirectURI != req.RedirectURI {
		return nil, NewOAuthError(ErrInvalidGrant, "redirect_uri does not match")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if client.ClientID != ac.ClientID {
		return nil, NewOAuthError(ErrInvalidGrant, "authorization code was issued to a different client")
	}

	if ac.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, NewOAuthError(ErrInvalidGrant, "code_verifier is required")
		}
		if !verifyPKCE(req.CodeVerifier, ac.CodeChallenge) {
			return nil, NewOAuthError(ErrInvalidGrant, "PKCE verification failed")
		}
	}

	// Point of no return: the store is the atomic authority for single
	// redemption. All validation above must precede this write.
	if err := s.tokens.MarkCodeUsed(ctx, ac.Code); err != nil {
		if errors.Is(err, ErrCodeAlreadyUsed) {
			return nil, NewOAuthError(ErrInvalidGrant, "authorization code already used")
		}
		return nil, fmt.Errorf("mark code used: %w", err)
	}

	user, err := s.users.GetUser(ctx, ac.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	resp, err := s.issueTokens(ctx, client, user, ac.Scopes, ac.LaunchContext, now)
	if err != nil {
		return nil, err
	}

	if containsString(ac.Scopes, "openid") {
		idToken, err := s.signIDToken(client, user, ac.Nonce, now)
		if err != nil {
			return nil, fmt.Errorf("sign id token: %w", err)
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// refresh exchanges a refresh token for a new access token and rotates the
// refresh token.
func (s *AuthorizationServer) refresh(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	record, err := s.tokens.GetRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, NewOAuthError(ErrInvalidGrant, "invalid refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	now := s.nowFn()
	if !record.Active(now) {
		return nil, NewOAuthError(ErrInvalidGrant, "refresh token is revoked or expired")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if client.ClientID != record.ClientID {
		return nil, NewOAuthError(ErrInvalidGrant, "refresh token was issued to a different client")
	}

	// Scope narrowing only: every requested scope must be in the original
	// grant, otherwise the whole request fails.
	scopes := record.Scopes
	if req.Scope != "" {
		requested := strings.Fields(req.Scope)
		for _, sc := range requested {
			if !record.HasScope(sc) {
				return nil, NewOAuthError(ErrInvalidScope,
					fmt.Sprintf("scope %q exceeds the original grant", sc))
			}
		}
		scopes = requested
	}

	var user *OAuthUser
	if record.UserID != "" {
		user, err = s.users.GetUser(ctx, record.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
	}

	accessToken, accessRecord, err := s.signAccessToken(client, user, scopes, record.LaunchContext, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SaveToken(ctx, accessRecord); err != nil {
		return nil, fmt.Errorf("save access token: %w", err)
	}

	// Rotate: the old refresh token is dead before the new one is visible.
	freshValue, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	fresh := &TokenRecord{
		Token:         freshValue,
		TokenType:     TokenTypeRefresh,
		ClientID:      client.ClientID,
		UserID:        record.UserID,
		Scopes:        record.Scopes, // rotation preserves the full grant
		LaunchContext: record.LaunchContext,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.RefreshTTL),
	}
	if err := s.tokens.RotateRefreshToken(ctx, record.Token, fresh); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	resp := s.buildTokenResponse(accessToken, scopes, record.LaunchContext)
	resp.RefreshToken = freshValue
	return resp, nil
}

// clientCredentials issues a system-context access token for a backend
// client. No refresh or ID token is ever issued for this grant.
func (s *AuthorizationServer) clientCredentials(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		return nil, NewOAuthError(ErrInvalidRequest, "client_id and client_secret are required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(GrantClientCredentials) {
		return nil, NewOAuthError(ErrUnauthorizedClient, "client is not authorized for client_credentials")
	}

	var scopes []string
	if req.Scope == "" {
		scopes = client.SystemScopes()
		if len(scopes) == 0 {
			return nil, NewOAuthError(ErrInvalidScope, "client has no system scopes registered")
		}
	} else {
		scopes, err = s.grantedScopes(req.Scope, client)
		if err != nil {
			return nil, err
		}
	}

	now := s.nowFn()
	accessToken, accessRecord, err := s.signAccessToken(client, nil, scopes, nil, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SaveToken(ctx, accessRecord); err != nil {
		return nil, fmt.Errorf("save access token: %w", err)
	}

	return s.buildTokenResponse(accessToken, scopes, nil), nil
}

// ---------------------------------------------------------------------------
// /introspect and /revoke
// ---------------------------------------------------------------------------

// Introspect returns RFC 7662 metadata for a token. The store is consulted
// first; tokens absent from the store fall back to self-contained JWT
// verification so externally issued-but-unpersisted tokens still resolve.
func (s *AuthorizationServer) Introspect(ctx context.Context, token string) (*IntrospectionResponse, error) {
	record, err := s.tokens.GetToken(ctx, token)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	now := s.nowFn()
	if record != nil {
		if !record.Active(now) {
			return &IntrospectionResponse{Active: false}, nil
		}
		resp := &IntrospectionResponse{
			Active:    true,
			Scope:     strings.Join(record.Scopes, " "),
			ClientID:  record.ClientID,
			TokenType: "Bearer",
			Exp:       record.ExpiresAt.Unix(),
			Iat:       record.CreatedAt.Unix(),
			Sub:       record.UserID,
			Aud:       s.cfg.Issuer,
			Iss:       s.cfg.Issuer,
		}
		if record.LaunchContext != nil {
			resp.Patient = record.LaunchContext.Patient
			resp.Encounter = record.LaunchContext.Encounter
		}
		if record.UserID != "" {
			if user, uerr := s.users.GetUser(ctx, record.UserID); uerr == nil {
				resp.Username = user.Username
			}
		}
		return resp, nil
	}

	claims, err := s.verifyJWT(token)
	if err != nil {
		return &IntrospectionResponse{Active: false}, nil
	}
	exp, _ := claims.GetExpirationTime()
	if exp == nil || now.After(exp.Time) {
		return &IntrospectionResponse{Active: false}, nil
	}
	iat, _ := claims.GetIssuedAt()
	resp := &IntrospectionResponse{
		Active:    true,
		TokenType: "Bearer",
		Exp:       exp.Unix(),
		Iss:       s.cfg.Issuer,
		Aud:       s.cfg.Issuer,
	}
	if iat != nil {
		resp.Iat = iat.Unix()
	}
	if sub, ok := claims["sub"].(string); ok {
		resp.Sub = sub
	}
	if scope, ok := claims["scope"].(string); ok {
		resp.Scope = scope
	}
	if cid, ok := claims["client_id"].(string); ok {
		resp.ClientID = cid
	}
	if username, ok := claims["username"].(string); ok {
		resp.Username = username
	}
	if patient, ok := claims["patient"].(string); ok {
		resp.Patient = patient
	}
	if encounter, ok := claims["encounter"].(string); ok {
		resp.Encounter = encounter
	}
	return resp, nil
}

// Revoke marks a token revoked. Unknown tokens are not an error (RFC 7009).
func (s *AuthorizationServer) Revoke(ctx context.Context, token string) error {
	if err := s.tokens.RevokeToken(ctx, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Client authentication
// ---------------------------------------------------------------------------

// authenticateClient resolves the client and, for confidential clients,
// checks the presented secret in constant time. Public clients carry no
// secret and authenticate through PKCE instead.
func (s *AuthorizationServer) authenticateClient(ctx context.Context, clientID, clientSecret string) (*OAuthClient, error) {
	client, err := s.users.GetClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewOAuthError(ErrInvalidClient, "unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup client: %w", err)
	}

	if client.IsConfidential {
		if clientSecret == "" {
			return nil, NewOAuthError(ErrInvalidClient, "client authentication required")
		}
		if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.ClientSecret)) != 1 {
			return nil, NewOAuthError(ErrInvalidClient, "invalid client credentials")
		}
	}
	return client, nil
}

// verifyPKCE checks BASE64URL(SHA256(verifier)) against the stored
// challenge, byte for byte.
func verifyPKCE(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ---------------------------------------------------------------------------
// Token issuance
// ---------------------------------------------------------------------------

// issueTokens signs and persists the access token and, when offline_access
// was granted, a refresh token.
func (s *AuthorizationServer) issueTokens(ctx context.Context, client *OAuthClient, user *OAuthUser, scopes []string, launch *LaunchContext, now time.Time) (*TokenResponse, error) {
	accessToken, accessRecord, err := s.signAccessToken(client, user, scopes, launch, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SaveToken(ctx, accessRecord); err != nil {
		return nil, fmt.Errorf("save access token: %w", err)
	}

	resp := s.buildTokenResponse(accessToken, scopes, launch)

	if containsString(scopes, "offline_access") {
		refreshValue, err := randomToken(32)
		if err != nil {
			return nil, fmt.Errorf("generate refresh token: %w", err)
		}
		refreshRecord := &TokenRecord{
			Token:         refreshValue,
			TokenType:     TokenTypeRefresh,
			ClientID:      client.ClientID,
			Scopes:        scopes,
			LaunchContext: launch,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.cfg.RefreshTTL),
		}
		if user != nil {
			refreshRecord.UserID = user.ID
		}
		if err := s.tokens.SaveToken(ctx, refreshRecord); err != nil {
			return nil, fmt.Errorf("save refresh token: %w", err)
		}
		resp.RefreshToken = refreshValue
	}

	return resp, nil
}

// signAccessToken builds the signed JWT and its corresponding store record.
func (s *AuthorizationServer) signAccessToken(client *OAuthClient, user *OAuthUser, scopes []string, launch *LaunchContext, now time.Time) (string, *TokenRecord, error) {
	expiresAt := now.Add(s.cfg.AccessTTL)

	claims := jwt.MapClaims{
		"iss":       s.cfg.Issuer,
		"aud":       s.cfg.Issuer,
		"exp":       expiresAt.Unix(),
		"iat":       now.Unix(),
		"jti":       uuid.New().String(),
		"client_id": client.ClientID,
		"scope":     strings.Join(scopes, " "),
	}
	if user != nil {
		claims["sub"] = user.ID
		claims["username"] = user.Username
		if user.FHIRUser != "" {
			claims["fhirUser"] = user.FHIRUser
		}
	} else {
		claims["sub"] = client.ClientID
	}
	if launch != nil {
		if launch.Patient != "" {
			claims["patient"] = launch.Patient
		}
		if launch.Encounter != "" {
			claims["encounter"] = launch.Encounter
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}

	record := &TokenRecord{
		Token:         signed,
		TokenType:     TokenTypeAccess,
		ClientID:      client.ClientID,
		Scopes:        scopes,
		LaunchContext: launch,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if user != nil {
		record.UserID = user.ID
	}
	return signed, record, nil
}

// signIDToken builds the OIDC ID token, echoing the authorization
// request's nonce.
func (s *AuthorizationServer) signIDToken(client *OAuthClient, user *OAuthUser, nonce string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.cfg.Issuer,
		"aud": client.ClientID,
		"exp": now.Add(s.cfg.AccessTTL).Unix(),
		"iat": now.Unix(),
	}
	if user != nil {
		claims["sub"] = user.ID
		claims["preferred_username"] = user.Username
		if user.FHIRUser != "" {
			claims["fhirUser"] = user.FHIRUser
		}
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
}

// verifyJWT parses and verifies a token signed by this server.
func (s *AuthorizationServer) verifyJWT(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.cfg.SigningKey, nil
	}, jwt.WithIssuer(s.cfg.Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// buildTokenResponse assembles the shared response shape.
func (s *AuthorizationServer) buildTokenResponse(accessToken string, scopes []string, launch *LaunchContext) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}
	if launch != nil {
		resp.Patient = launch.Patient
		resp.Encounter = launch.Encounter
		if launch.NeedPatientBanner {
			banner := true
			resp.NeedPatientBanner = &banner
		}
		resp.SMARTStyleURL = launch.SMARTStyleURL
	}
	return resp
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
