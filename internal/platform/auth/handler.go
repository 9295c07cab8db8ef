package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Handler exposes the authorization server over HTTP. Endpoints follow the
// SMART App Launch layout: /auth/authorize, /auth/token, /auth/introspect,
// /auth/revoke, plus the well-known discovery document.
type Handler struct {
	server *AuthorizationServer
	engine *PermissionEngine
	users  UserStore
	authn  UserAuthenticator

	// createLaunch mints an opaque launch token for an EHR-initiated
	// launch. Wired per deployment (memory or Postgres backed).
	createLaunch func(ctx context.Context, lc *LaunchContext) (string, error)

	log zerolog.Logger
}

// UserAuthenticator verifies end-user credentials during the authorize step.
type UserAuthenticator interface {
	AuthenticateUser(ctx context.Context, username, password, totpCode string) (*OAuthUser, error)
}

// NewHandler wires the HTTP layer.
func NewHandler(server *AuthorizationServer, engine *PermissionEngine, users UserStore, authn UserAuthenticator, createLaunch func(ctx context.Context, lc *LaunchContext) (string, error), log zerolog.Logger) *Handler {
	return &Handler{
		server:       server,
		engine:       engine,
		users:        users,
		authn:        authn,
		createLaunch: createLaunch,
		log:          log.With().Str("component", "auth").Logger(),
	}
}

// RegisterRoutes mounts all auth endpoints on the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/smart-configuration", h.SMARTConfiguration)

	g := e.Group("/auth")
	g.POST("/authorize", h.Authorize)
	g.POST("/token", h.Token)
	g.POST("/introspect", h.Introspect)
	g.POST("/revoke", h.Revoke)
	g.POST("/launch", h.Launch)
	g.POST("/emergency-access", h.GrantEmergencyAccess)
	g.DELETE("/emergency-access/:id", h.RevokeEmergencyAccess)
}

// ---------------------------------------------------------------------------
// /authorize
// ---------------------------------------------------------------------------

// Authorize authenticates the end user from the posted credentials, runs the
// authorization request, and redirects back to the client with a code.
// Protocol errors after the client and redirect URI have been validated are
// delivered on the redirect per RFC 6749 4.1.2.1; earlier failures get JSON.
func (h *Handler) Authorize(c echo.Context) error {
	req := &AuthorizeRequest{
		ResponseType:        c.FormValue("response_type"),
		ClientID:            c.FormValue("client_id"),
		RedirectURI:         c.FormValue("redirect_uri"),
		Scope:               c.FormValue("scope"),
		State:               c.FormValue("state"),
		Aud:                 c.FormValue("aud"),
		Launch:              c.FormValue("launch"),
		CodeChallenge:       c.FormValue("code_challenge"),
		CodeChallengeMethod: c.FormValue("code_challenge_method"),
		Nonce:               c.FormValue("nonce"),
	}
	ctx := c.Request().Context()

	redirectable := h.redirectRegistered(ctx, req.ClientID, req.RedirectURI)

	user, err := h.authn.AuthenticateUser(ctx, c.FormValue("username"), c.FormValue("password"), c.FormValue("totp_code"))
	if err != nil {
		h.log.Warn().Str("client_id", req.ClientID).Msg("authorize: user authentication failed")
		return h.authorizeError(c, redirectable, req,
			NewOAuthError("access_denied", "user authentication failed"))
	}

	resp, err := h.server.Authorize(ctx, req, user.ID)
	if err != nil {
		if oe, ok := AsOAuthError(err); ok {
			return h.authorizeError(c, redirectable, req, oe)
		}
		h.log.Error().Err(err).Msg("authorize failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server_error"})
	}

	target, err := url.Parse(resp.RedirectURI)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ErrInvalidRequest})
	}
	q := target.Query()
	q.Set("code", resp.Code)
	q.Set("state", resp.State)
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// redirectRegistered reports whether the redirect URI is registered for the
// client, which decides whether errors may be delivered on the redirect.
func (h *Handler) redirectRegistered(ctx context.Context, clientID, redirectURI string) bool {
	if clientID == "" || redirectURI == "" {
		return false
	}
	client, err := h.users.GetClient(ctx, clientID)
	if err != nil {
		return false
	}
	return client.AllowsRedirectURI(redirectURI)
}

func (h *Handler) authorizeError(c echo.Context, redirectable bool, req *AuthorizeRequest, oe *OAuthError) error {
	if !redirectable {
		return c.JSON(oe.Status, map[string]string{
			"error":             oe.Code,
			"error_description": oe.Description,
		})
	}
	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ErrInvalidRequest})
	}
	q := target.Query()
	q.Set("error", oe.Code)
	if oe.Description != "" {
		q.Set("error_description", oe.Description)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// ---------------------------------------------------------------------------
// /token
// ---------------------------------------------------------------------------

// Token handles all grant types. Client credentials come from HTTP Basic
// auth when present, otherwise from the form body.
func (h *Handler) Token(c echo.Context) error {
	clientID, clientSecret := h.extractClientCredentials(c)

	req := &TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
	}

	resp, err := h.server.Token(c.Request().Context(), req)
	if err != nil {
		return h.tokenError(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
	return c.JSON(http.StatusOK, resp)
}

// extractClientCredentials prefers the Authorization header (RFC 6749 2.3.1)
// over form parameters.
func (h *Handler) extractClientCredentials(c echo.Context) (string, string) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Basic ") {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err == nil {
			if id, secret, ok := strings.Cut(string(raw), ":"); ok {
				uid, errID := url.QueryUnescape(id)
				usecret, errSecret := url.QueryUnescape(secret)
				if errID == nil && errSecret == nil {
					return uid, usecret
				}
			}
		}
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}

func (h *Handler) tokenError(c echo.Context, err error) error {
	if oe, ok := AsOAuthError(err); ok {
		if oe.Code == ErrInvalidClient {
			c.Response().Header().Set("WWW-Authenticate", `Basic realm="token"`)
		}
		return c.JSON(oe.Status, map[string]string{
			"error":             oe.Code,
			"error_description": oe.Description,
		})
	}
	h.log.Error().Err(err).Msg("token request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server_error"})
}

// ---------------------------------------------------------------------------
// /introspect and /revoke
// ---------------------------------------------------------------------------

// Introspect returns RFC 7662 metadata. Lookup failures surface as
// active:false rather than errors so callers cannot probe the store.
func (h *Handler) Introspect(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":             ErrInvalidRequest,
			"error_description": "token is required",
		})
	}
	resp, err := h.server.Introspect(c.Request().Context(), token)
	if err != nil {
		h.log.Error().Err(err).Msg("introspection failed")
		return c.JSON(http.StatusOK, &IntrospectionResponse{Active: false})
	}
	return c.JSON(http.StatusOK, resp)
}

// Revoke always answers 200 for well-formed requests (RFC 7009).
func (h *Handler) Revoke(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":             ErrInvalidRequest,
			"error_description": "token is required",
		})
	}
	if err := h.server.Revoke(c.Request().Context(), token); err != nil {
		h.log.Error().Err(err).Msg("revocation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server_error"})
	}
	return c.NoContent(http.StatusOK)
}

// ---------------------------------------------------------------------------
// /launch
// ---------------------------------------------------------------------------

type launchRequest struct {
	Patient           string `json:"patient"`
	Encounter         string `json:"encounter,omitempty"`
	Intent            string `json:"intent,omitempty"`
	NeedPatientBanner bool   `json:"need_patient_banner,omitempty"`
	SMARTStyleURL     string `json:"smart_style_url,omitempty"`
}

// Launch mints an opaque one-time launch token for an EHR-initiated app
// launch. Called by the EHR front end, not by SMART apps.
func (h *Handler) Launch(c echo.Context) error {
	var req launchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ErrInvalidRequest})
	}
	if req.Patient == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":             ErrInvalidRequest,
			"error_description": "patient is required",
		})
	}
	token, err := h.createLaunch(c.Request().Context(), &LaunchContext{
		Patient:           req.Patient,
		Encounter:         req.Encounter,
		Intent:            req.Intent,
		NeedPatientBanner: req.NeedPatientBanner,
		SMARTStyleURL:     req.SMARTStyleURL,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("launch token creation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server_error"})
	}
	return c.JSON(http.StatusCreated, map[string]string{"launch": token})
}

// ---------------------------------------------------------------------------
// Emergency access
// ---------------------------------------------------------------------------

type emergencyAccessRequest struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

// GrantEmergencyAccess opens a break-the-glass grant. The route must sit
// behind authentication middleware; this handler trusts the payload.
func (h *Handler) GrantEmergencyAccess(c echo.Context) error {
	var req emergencyAccessRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ErrInvalidRequest})
	}
	grant, err := h.engine.GrantEmergencyAccess(c.Request().Context(), req.UserID, req.Reason, req.PatientID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":             ErrInvalidRequest,
			"error_description": err.Error(),
		})
	}
	return c.JSON(http.StatusCreated, grant)
}

// RevokeEmergencyAccess closes an active grant before its expiry.
func (h *Handler) RevokeEmergencyAccess(c echo.Context) error {
	revokedBy := c.QueryParam("revoked_by")
	if err := h.engine.RevokeEmergencyAccess(c.Request().Context(), c.Param("id"), revokedBy); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":             ErrInvalidRequest,
			"error_description": err.Error(),
		})
	}
	return c.NoContent(http.StatusOK)
}

// ---------------------------------------------------------------------------
// Discovery
// ---------------------------------------------------------------------------

// SMARTConfiguration serves the SMART App Launch discovery document.
func (h *Handler) SMARTConfiguration(c echo.Context) error {
	issuer := strings.TrimSuffix(h.server.cfg.Issuer, "/")
	return c.JSON(http.StatusOK, map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/auth/authorize",
		"token_endpoint":         issuer + "/auth/token",
		"introspection_endpoint": issuer + "/auth/introspect",
		"revocation_endpoint":    issuer + "/auth/revoke",
		"grant_types_supported": []string{
			GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials,
		},
		"response_types_supported":          []string{"code"},
		"code_challenge_methods_supported":  []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"scopes_supported": []string{
			"openid", "fhirUser", "profile", "launch", "launch/patient", "launch/encounter",
			"offline_access", "online_access",
			"patient/*.read", "patient/*.cruds", "user/*.read", "user/*.cruds", "system/*.read",
		},
		"capabilities": []string{
			"launch-ehr", "launch-standalone",
			"client-public", "client-confidential-symmetric",
			"context-ehr-patient", "context-ehr-encounter", "context-standalone-patient",
			"sso-openid-connect",
			"permission-patient", "permission-user", "permission-v2", "permission-offline",
		},
	})
}
