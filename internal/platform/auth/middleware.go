package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Echo context keys populated by RequireToken.
const (
	ContextKeyUserID   = "auth.user_id"
	ContextKeyClientID = "auth.client_id"
	ContextKeyScopes   = "auth.scopes"
	ContextKeyRoles    = "auth.roles"
	ContextKeyPatient  = "auth.patient"
)

// RequireToken validates the bearer token against the store and hangs the
// resolved identity on the echo context. Revoked and expired tokens fail
// with 401 even when their JWT signature still verifies.
func (h *Handler) RequireToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c)
			if !ok {
				return unauthorized(c, "missing bearer token")
			}

			info, err := h.server.Introspect(c.Request().Context(), token)
			if err != nil {
				h.log.Error().Err(err).Msg("token introspection failed")
				return unauthorized(c, "token validation failed")
			}
			if !info.Active {
				return unauthorized(c, "token is not active")
			}

			c.Set(ContextKeyClientID, info.ClientID)
			c.Set(ContextKeyScopes, strings.Fields(info.Scope))
			c.Set(ContextKeyPatient, info.Patient)
			if info.Sub != info.ClientID {
				c.Set(ContextKeyUserID, info.Sub)
				if user, uerr := h.users.GetUser(c.Request().Context(), info.Sub); uerr == nil {
					c.Set(ContextKeyRoles, user.Roles)
				}
			}
			return next(c)
		}
	}
}

// RequireScope allows the request through when the token's granted scopes
// permit action on resourceType under SMART v2 semantics.
func (h *Handler) RequireScope(resourceType, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scopes := ScopesFromContext(c)
			if !ValidateScopeAccess(scopes, resourceType, action) {
				return forbidden(c, "granted scopes do not permit "+action+" on "+resourceType)
			}
			return next(c)
		}
	}
}

// RequireAccess enforces RBAC with break-the-glass rescue. The patient in
// scope comes from the token's launch context; role checks run against each
// of the user's roles and pass on the first allow.
func (h *Handler) RequireAccess(resourceType, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := UserIDFromContext(c)
			if userID == "" {
				return forbidden(c, "no user identity on request")
			}
			patient := PatientFromContext(c)

			for _, role := range RolesFromContext(c) {
				allowed, err := h.engine.CheckAccess(c.Request().Context(), userID, Role(role), resourceType, action, patient)
				if err != nil {
					h.log.Error().Err(err).Msg("access check failed")
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "server_error"})
				}
				if allowed {
					return next(c)
				}
			}
			return forbidden(c, "role does not permit "+action+" on "+resourceType)
		}
	}
}

// UserIDFromContext returns the authenticated user ID, or "" for
// system-context (client_credentials) requests.
func UserIDFromContext(c echo.Context) string {
	id, _ := c.Get(ContextKeyUserID).(string)
	return id
}

// ScopesFromContext returns the token's granted scopes.
func ScopesFromContext(c echo.Context) []string {
	scopes, _ := c.Get(ContextKeyScopes).([]string)
	return scopes
}

// RolesFromContext returns the authenticated user's roles.
func RolesFromContext(c echo.Context) []string {
	roles, _ := c.Get(ContextKeyRoles).([]string)
	return roles
}

// PatientFromContext returns the launch-context patient bound to the token.
func PatientFromContext(c echo.Context) string {
	patient, _ := c.Get(ContextKeyPatient).(string)
	return patient
}

func bearerToken(c echo.Context) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="fhir"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": msg,
	})
}

func forbidden(c echo.Context, msg string) error {
	return c.JSON(http.StatusForbidden, map[string]string{
		"error":             "insufficient_scope",
		"error_description": msg,
	})
}
