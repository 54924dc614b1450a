package kick

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelNotFound is returned when the channel slug does not exist.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrForbidden is returned when the token lacks access to the resource,
	// usually because the account tier does not expose it.
	ErrForbidden = errors.New("forbidden")
	// ErrNoClipEndpoint is returned when the clip endpoint is not available.
	ErrNoClipEndpoint = errors.New("clip endpoint not available")
	// ErrNetwork wraps transport failures and timeouts.
	ErrNetwork = errors.New("network error")
)

// RemoteError is an unexpected non-2xx response from the Kick API.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("kick api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("kick api returned status %d: %s", e.StatusCode, e.Body)
}
