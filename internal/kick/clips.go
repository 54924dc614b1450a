package kick

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ClipRequest describes the clip to create. DurationSeconds is already
// clamped by the caller.
type ClipRequest struct {
	DurationSeconds int
	Title           string
}

// ClipResult is the created clip. URL may be empty if the API omits it.
type ClipResult struct {
	ID  string
	URL string
}

type clipBody struct {
	Duration int    `json:"duration"`
	Title    string `json:"title"`
}

type clipPayload struct {
	ID      flexID `json:"id"`
	ClipURL string `json:"clip_url"`
	URL     string `json:"url"`
	Data    *struct {
		ID      flexID `json:"id"`
		ClipURL string `json:"clip_url"`
		URL     string `json:"url"`
	} `json:"data"`
}

// CreateClip creates a clip of the live stream on the resolved channel.
func (c *Client) CreateClip(ctx context.Context, ref *ChannelRef, req ClipRequest, token string) (*ClipResult, error) {
	if ref == nil || ref.ChannelID == "" {
		return nil, fmt.Errorf("create clip: %w", ErrChannelNotFound)
	}

	var out clipPayload
	path := "/channels/" + url.PathEscape(ref.ChannelID) + "/clips"
	err := c.do(ctx, http.MethodPost, path, token, clipBody{Duration: req.DurationSeconds, Title: req.Title}, &out)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			switch remote.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("create clip: %w", ErrNoClipEndpoint)
			case http.StatusForbidden:
				return nil, fmt.Errorf("create clip: %w", ErrForbidden)
			}
		}
		return nil, fmt.Errorf("create clip: %w", err)
	}

	result := &ClipResult{ID: string(out.ID), URL: out.ClipURL}
	if result.URL == "" {
		result.URL = out.URL
	}
	if out.Data != nil {
		if result.ID == "" {
			result.ID = string(out.Data.ID)
		}
		if result.URL == "" {
			result.URL = out.Data.ClipURL
		}
		if result.URL == "" {
			result.URL = out.Data.URL
		}
	}

	c.logger.Info().
		Str("channel_id", ref.ChannelID).
		Str("clip_id", result.ID).
		Int("duration", req.DurationSeconds).
		Msg("🎬 Clip created")
	return result, nil
}
