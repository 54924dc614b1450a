package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/kick"
)

// Classify maps a run failure to its button label.
func Classify(err error) string {
	var remote *kick.RemoteError
	switch {
	case err == nil:
		return LabelGenericError
	case errors.Is(err, auth.ErrUnauthenticated):
		return LabelLoginNeeded
	case errors.Is(err, auth.ErrNetwork),
		errors.Is(err, kick.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded):
		return LabelNetworkError
	case errors.Is(err, kick.ErrChannelNotFound):
		return LabelNoChannel
	case errors.Is(err, kick.ErrForbidden):
		return LabelForbidden
	case errors.Is(err, kick.ErrNoClipEndpoint):
		return LabelNoClipAPI
	case errors.As(err, &remote):
		return fmt.Sprintf(remoteLabelPattern, remote.StatusCode)
	default:
		return LabelGenericError
	}
}
