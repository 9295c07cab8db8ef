package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) (*AuthorizationServer, *MemoryTokenStore, *MemoryUserStore) {
	t.Helper()
	tokens := NewMemoryTokenStore()
	users := NewMemoryUserStore(5 * time.Minute)

	users.PutClient(&OAuthClient{
		ClientID:       "ehr-app",
		ClientSecret:   "s3cret",
		Name:           "EHR App",
		RedirectURIs:   []string{"https://app.example.org/callback"},
		GrantTypes:     []string{GrantAuthorizationCode, GrantRefreshToken},
		IsConfidential: true,
		Scopes: []string{
			"openid", "fhirUser", "launch", "launch/patient", "offline_access",
			"patient/Observation.read", "patient/*.read", "user/Patient.read",
		},
	})
	users.PutClient(&OAuthClient{
		ClientID:     "spa-app",
		Name:         "Public SPA",
		RedirectURIs: []string{"https://spa.example.org/cb"},
		GrantTypes:   []string{GrantAuthorizationCode},
		Scopes:       []string{"openid", "patient/Observation.read"},
	})
	users.PutClient(&OAuthClient{
		ClientID:       "backend-svc",
		ClientSecret:   "backend-s3cret",
		Name:           "Backend Service",
		GrantTypes:     []string{GrantClientCredentials},
		IsConfidential: true,
		Scopes:         []string{"system/*.read", "system/Observation.cruds"},
	})
	users.PutUser(&OAuthUser{
		ID:       "u-1",
		Username: "dr.house",
		FHIRUser: "Practitioner/house",
		Roles:    []string{"physician"},
	})

	srv := NewAuthorizationServer(ServerConfig{
		Issuer:     "https://auth.example.org",
		SigningKey: []byte(testSigningKey),
	}, tokens, users)
	return srv, tokens, users
}

func pkcePair(t *testing.T) (verifier, challenge string) {
	t.Helper()
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

func authorizeCode(t *testing.T, srv *AuthorizationServer, scope, challenge, launch, nonce string) string {
	t.Helper()
	resp, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "ehr-app",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               scope,
		State:               "xyz",
		Launch:              launch,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Nonce:               nonce,
	}, "u-1")
	require.NoError(t, err)
	require.Equal(t, "xyz", resp.State)
	require.NotEmpty(t, resp.Code)
	return resp.Code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")

	resp, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "patient/Observation.read", resp.Scope)
	require.Empty(t, resp.RefreshToken)
	require.Empty(t, resp.IDToken)
	require.Equal(t, 3600, resp.ExpiresIn)

	intro, err := srv.Introspect(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.True(t, intro.Active)
	require.Equal(t, "u-1", intro.Sub)
	require.Equal(t, "dr.house", intro.Username)
	require.Equal(t, "ehr-app", intro.ClientID)

	require.NoError(t, srv.Revoke(context.Background(), resp.AccessToken))
	intro, err = srv.Introspect(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.False(t, intro.Active)
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	srv, _, _ := newTestServer(t)
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")

	req := &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	}
	_, err := srv.Token(context.Background(), req)
	require.NoError(t, err)

	_, err = srv.Token(context.Background(), req)
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidGrant, oe.Code)
}

func TestAuthorizationCodeExpiry(t *testing.T) {
	srv, _, _ := newTestServer(t)
	base := time.Now()
	srv.nowFn = func() time.Time { return base }

	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")

	srv.nowFn = func() time.Time { return base.Add(11 * time.Minute) }
	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidGrant, oe.Code)
}

func TestPKCEVerification(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier",
	})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidGrant, oe.Code)

	// Missing verifier when a challenge was bound.
	code = authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")
	_, err = srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
	})
	oe, ok = AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidGrant, oe.Code)
}

func TestAuthorizeValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()
	_, challenge := pkcePair(t)

	base := &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "ehr-app",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "patient/Observation.read",
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}

	tests := []struct {
		name     string
		mutate   func(r *AuthorizeRequest)
		wantCode string
	}{
		{"wrong response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, ErrUnsupportedResponseType},
		{"unknown client", func(r *AuthorizeRequest) { r.ClientID = "nope" }, ErrInvalidRequest},
		{"unregistered redirect", func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example.org/cb" }, ErrInvalidRequest},
		{"missing state", func(r *AuthorizeRequest) { r.State = "" }, ErrInvalidRequest},
		{"empty scope", func(r *AuthorizeRequest) { r.Scope = "" }, ErrInvalidScope},
		{"malformed scope", func(r *AuthorizeRequest) { r.Scope = "patient/Widget.read" }, ErrInvalidScope},
		{"scope outside allow-list", func(r *AuthorizeRequest) { r.Scope = "system/*.read" }, ErrInvalidScope},
		{"plain challenge method", func(r *AuthorizeRequest) { r.CodeChallengeMethod = "plain" }, ErrInvalidRequest},
		{"aud mismatch", func(r *AuthorizeRequest) { r.Aud = "https://other.example.org" }, ErrInvalidRequest},
		{"bad launch token", func(r *AuthorizeRequest) { r.Launch = "stale" }, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := *base
			tt.mutate(&req)
			_, err := srv.Authorize(ctx, &req, "u-1")
			oe, ok := AsOAuthError(err)
			require.True(t, ok, "expected OAuthError, got %v", err)
			require.Equal(t, tt.wantCode, oe.Code)
		})
	}

	t.Run("public client requires challenge", func(t *testing.T) {
		_, err := srv.Authorize(ctx, &AuthorizeRequest{
			ResponseType: "code",
			ClientID:     "spa-app",
			RedirectURI:  "https://spa.example.org/cb",
			Scope:        "patient/Observation.read",
			State:        "xyz",
		}, "u-1")
		oe, ok := AsOAuthError(err)
		require.True(t, ok)
		require.Equal(t, ErrInvalidRequest, oe.Code)
	})
}

func TestOpenIDIssuesIDToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "openid fhirUser patient/Observation.read", challenge, "", "n0nce")

	resp, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.IDToken)

	parsed, err := jwt.Parse(resp.IDToken, func(*jwt.Token) (interface{}, error) {
		return []byte(testSigningKey), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "u-1", claims["sub"])
	require.Equal(t, "ehr-app", claims["aud"])
	require.Equal(t, "n0nce", claims["nonce"])
	require.Equal(t, "Practitioner/house", claims["fhirUser"])
}

func TestRefreshTokenRotation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "offline_access patient/Observation.read", challenge, "", "")

	first, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	second, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)

	// The old refresh token is dead after rotation.
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
	})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidGrant, oe.Code)

	// The rotated token still works.
	third, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: second.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
	})
	require.NoError(t, err)
	require.NotEmpty(t, third.AccessToken)
}

func TestRefreshScopeNarrowing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "offline_access patient/Observation.read patient/*.read", challenge, "", "")

	first, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)

	// Narrowing to a subset succeeds.
	narrowed, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: first.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		Scope:        "patient/Observation.read",
	})
	require.NoError(t, err)
	require.Equal(t, "patient/Observation.read", narrowed.Scope)

	// Widening beyond the original grant fails, even to a scope the client
	// has registered.
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: narrowed.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		Scope:        "user/Patient.read",
	})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidScope, oe.Code)

	// Rotation preserved the full original grant, so re-narrowing to the
	// other original scope still works.
	again, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: narrowed.RefreshToken,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		Scope:        "patient/*.read",
	})
	require.NoError(t, err)
	require.Equal(t, "patient/*.read", again.Scope)
}

func TestClientCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "backend-svc",
		ClientSecret: "backend-s3cret",
	})
	require.NoError(t, err)
	require.Empty(t, resp.RefreshToken)
	require.Empty(t, resp.IDToken)
	require.Equal(t, "system/*.read system/Observation.cruds", resp.Scope)

	intro, err := srv.Introspect(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, intro.Active)
	require.Equal(t, "backend-svc", intro.Sub)

	// Wrong secret.
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "backend-svc",
		ClientSecret: "wrong",
	})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidClient, oe.Code)
	require.Equal(t, 401, oe.Status)

	// Client not registered for the grant.
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
	})
	oe, ok = AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrUnauthorizedClient, oe.Code)
}

func TestUnsupportedGrantType(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, err := srv.Token(context.Background(), &TokenRequest{GrantType: "password"})
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrUnsupportedGrantType, oe.Code)
}

func TestLaunchContextFlow(t *testing.T) {
	srv, _, users := newTestServer(t)
	ctx := context.Background()

	launch, err := users.CreateLaunchToken(&LaunchContext{
		Patient:           "p-42",
		Encounter:         "e-7",
		NeedPatientBanner: true,
		SMARTStyleURL:     "https://ehr.example.org/smart-style.json",
	})
	require.NoError(t, err)

	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "launch patient/Observation.read", challenge, launch, "")

	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.Equal(t, "p-42", resp.Patient)
	require.Equal(t, "e-7", resp.Encounter)
	require.NotNil(t, resp.NeedPatientBanner)
	require.True(t, *resp.NeedPatientBanner)
	require.Equal(t, "https://ehr.example.org/smart-style.json", resp.SMARTStyleURL)

	intro, err := srv.Introspect(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "p-42", intro.Patient)
	require.Equal(t, "e-7", intro.Encounter)

	// Launch tokens are one-time use.
	_, err = srv.Authorize(ctx, &AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "ehr-app",
		RedirectURI:         "https://app.example.org/callback",
		Scope:               "launch patient/Observation.read",
		State:               "xyz",
		Launch:              launch,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, "u-1")
	oe, ok := AsOAuthError(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidRequest, oe.Code)
}

func TestIntrospectJWTFallback(t *testing.T) {
	srv, tokens, _ := newTestServer(t)
	ctx := context.Background()
	verifier, challenge := pkcePair(t)
	code := authorizeCode(t, srv, "patient/Observation.read", challenge, "", "")

	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://app.example.org/callback",
		ClientID:     "ehr-app",
		ClientSecret: "s3cret",
		CodeVerifier: verifier,
	})
	require.NoError(t, err)

	// Drop the store record; the signed JWT must still introspect as active.
	tokens.mu.Lock()
	delete(tokens.tokens, resp.AccessToken)
	tokens.mu.Unlock()

	intro, err := srv.Introspect(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, intro.Active)
	require.Equal(t, "u-1", intro.Sub)
	require.Equal(t, "patient/Observation.read", intro.Scope)

	// Garbage never errors, only reports inactive.
	intro, err = srv.Introspect(ctx, "not-a-token")
	require.NoError(t, err)
	require.False(t, intro.Active)
}

func TestRevokeUnknownTokenIsIdempotent(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NoError(t, srv.Revoke(context.Background(), "never-issued"))
}
