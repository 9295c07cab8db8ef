package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes used by this server, per RFC 6749 §4.1.2.1 and §5.2.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrInvalidScope            = "invalid_scope"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedResponseType = "unsupported_response_type"
)

// oauthErrorStatus maps error codes to their HTTP status. invalid_client is
// the only 401 per RFC 6749; everything else the server emits is a 400.
var oauthErrorStatus = map[string]int{
	ErrInvalidRequest:          http.StatusBadRequest,
	ErrInvalidClient:           http.StatusUnauthorized,
	ErrInvalidGrant:            http.StatusBadRequest,
	ErrInvalidScope:            http.StatusBadRequest,
	ErrUnauthorizedClient:      http.StatusBadRequest,
	ErrUnsupportedGrantType:    http.StatusBadRequest,
	ErrUnsupportedResponseType: http.StatusBadRequest,
}

// OAuthError represents an OAuth 2.0 protocol error response. Protocol
// failures are surfaced as *OAuthError so callers can match on Code;
// infrastructure failures (store, transport) propagate as plain errors.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates an OAuthError with the status implied by the code.
func NewOAuthError(code, description string) *OAuthError {
	status, ok := oauthErrorStatus[code]
	if !ok {
		status = http.StatusBadRequest
	}
	return &OAuthError{Code: code, Description: description, Status: status}
}

// AsOAuthError unwraps err into an *OAuthError if it is one.
func AsOAuthError(err error) (*OAuthError, bool) {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
