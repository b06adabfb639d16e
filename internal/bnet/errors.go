package bnet

import (
	"fmt"
	"net/http"
)

// UserAuthorizationError means the OAuth2 callback could not be turned
// into a user token.
type UserAuthorizationError struct {
	Reason string
	Err    error
}

func (e *UserAuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("user authorization failed: %s: %v", e.Reason, e.Err)
	}
	return "user authorization failed: " + e.Reason
}

func (e *UserAuthorizationError) Unwrap() error { return e.Err }

// InvalidScopeError means the user did not grant the required scope.
type InvalidScopeError struct {
	Required string
	Granted  string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("granted scope %q does not contain %q", e.Granted, e.Required)
}

// APIError is a non-2xx answer of the Battle.net API.
type APIError struct {
	Code int
	URL  string
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("battle.net http %d (%s): %s", e.Code, e.URL, e.Body)
}

func (e *APIError) StatusCode() int { return e.Code }

// retryable reports whether a request with this status may succeed later.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
