package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a callback carries a state that was
	// never issued, was already consumed, or has expired.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrUnauthenticated means there is no usable credential and the user
	// has to go through interactive authorization again.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNetwork wraps transport failures and timeouts talking to the
	// identity provider.
	ErrNetwork = errors.New("identity provider unreachable")
)

// AuthExchangeError is a non-2xx response to an authorization_code grant.
type AuthExchangeError struct {
	StatusCode int
	Body       string
}

func (e *AuthExchangeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("authorization code exchange failed: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("authorization code exchange failed: status=%d body=%s", e.StatusCode, e.Body)
}

// AuthRefreshError is a non-2xx response to a refresh_token grant.
type AuthRefreshError struct {
	StatusCode int
}

func (e *AuthRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: status=%d", e.StatusCode)
}

// Rejected reports whether the provider refused the refresh token itself.
// Such a token must not be presented again.
func (e *AuthRefreshError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
