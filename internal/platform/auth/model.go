package auth

import "time"

// OAuthClient represents a registered SMART application. Registration
// happens outside this subsystem; clients are read-only here.
type OAuthClient struct {
	ClientID       string   `json:"client_id"`
	ClientSecret   string   `json:"client_secret,omitempty"`
	Name           string   `json:"client_name"`
	RedirectURIs   []string `json:"redirect_uris"`
	GrantTypes     []string `json:"grant_types"`
	Scopes         []string `json:"scopes"`
	IsConfidential bool     `json:"is_confidential"`
}

// AllowsGrantType reports whether the client registered the grant type.
func (c *OAuthClient) AllowsGrantType(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered.
// Exact string match only; no prefix or pattern matching.
func (c *OAuthClient) AllowsRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// SystemScopes returns the client's registered system/ scopes. Used as the
// default grant for client_credentials when no scope is requested.
func (c *OAuthClient) SystemScopes() []string {
	var out []string
	for _, s := range c.Scopes {
		if len(s) > 7 && s[:7] == "system/" {
			out = append(out, s)
		}
	}
	return out
}

// OAuthUser is the authenticated principal behind an authorization code.
type OAuthUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	FHIRUser string   `json:"fhirUser,omitempty"` // e.g. "Practitioner/123"
	Roles    []string `json:"roles"`
}

// LaunchContext holds SMART launch parameters resolved from an opaque
// launch token. Immutable once attached to a code or token.
type LaunchContext struct {
	Patient           string `json:"patient,omitempty"`
	Encounter         string `json:"encounter,omitempty"`
	Intent            string `json:"intent,omitempty"`
	NeedPatientBanner bool   `json:"need_patient_banner,omitempty"`
	SMARTStyleURL     string `json:"smart_style_url,omitempty"`
}

// AuthorizationCode is the single-use artifact issued by /authorize and
// consumed exactly once by /token. Used=true is permanent.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	UserID              string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	LaunchContext       *LaunchContext
	Nonce               string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// Expired reports whether the code is past its expiry at the given time.
func (a *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Token types stored in TokenRecord.TokenType.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenRecord is a persisted access or refresh token. Records are never
// deleted; revocation only flips Revoked so introspection and audit keep
// visibility into dead tokens.
type TokenRecord struct {
	Token         string
	TokenType     string
	ClientID      string
	UserID        string
	Scopes        []string
	LaunchContext *LaunchContext
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
}

// Active reports whether the record is usable at the given time.
func (t *TokenRecord) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// HasScope reports whether the record's grant includes the exact scope.
func (t *TokenRecord) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
