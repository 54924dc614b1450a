package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ChannelRef identifies a channel and, when exposed, its chat room.
type ChannelRef struct {
	Slug       string
	ChannelID  string
	ChatRoomID string
}

type channelPayload struct {
	ID                flexID `json:"id"`
	BroadcasterUserID flexID `json:"broadcaster_user_id"`
	Slug              string `json:"slug"`
	ChatRoomID        flexID `json:"chatroom_id"`
	ChatRoom          *struct {
		ID flexID `json:"id"`
	} `json:"chatroom"`
}

// Resolve looks up a channel by slug. Nothing is cached; every run resolves
// afresh.
func (c *Client) Resolve(ctx context.Context, slug, token string) (*ChannelRef, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrChannelNotFound
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(slug), token, nil, &raw)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			switch remote.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("resolve %q: %w", slug, ErrChannelNotFound)
			case http.StatusForbidden:
				return nil, fmt.Errorf("resolve %q: %w", slug, ErrForbidden)
			}
		}
		return nil, fmt.Errorf("resolve %q: %w", slug, err)
	}

	payload, err := decodeChannel(raw)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", slug, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("resolve %q: %w", slug, ErrChannelNotFound)
	}

	ref := &ChannelRef{
		Slug:       slug,
		ChannelID:  string(payload.ID),
		ChatRoomID: string(payload.ChatRoomID),
	}
	if ref.ChannelID == "" {
		ref.ChannelID = string(payload.BroadcasterUserID)
	}
	if payload.ChatRoom != nil && payload.ChatRoom.ID != "" {
		ref.ChatRoomID = string(payload.ChatRoom.ID)
	}
	if payload.Slug != "" {
		ref.Slug = payload.Slug
	}
	if ref.ChannelID == "" {
		return nil, fmt.Errorf("resolve %q: response carries no channel id", slug)
	}

	c.logger.Debug().
		Str("slug", ref.Slug).
		Str("channel_id", ref.ChannelID).
		Bool("has_chatroom", ref.ChatRoomID != "").
		Msg("Resolved channel")
	return ref, nil
}

// decodeChannel accepts a bare channel object or one wrapped in "data",
// where data may itself be an object or an array. A nil result means the
// response held no channel.
func decodeChannel(raw json.RawMessage) (*channelPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if raw[0] == '{' {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decode channel: %w", err)
		}
	}

	body := raw
	if data := bytes.TrimSpace(envelope.Data); len(data) > 0 {
		body = data
	}

	switch body[0] {
	case '[':
		var list []channelPayload
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode channel: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	case '{':
		var ch channelPayload
		if err := json.Unmarshal(body, &ch); err != nil {
			return nil, fmt.Errorf("decode channel: %w", err)
		}
		return &ch, nil
	case 'n':
		return nil, nil
	default:
		return nil, fmt.Errorf("decode channel: unexpected body")
	}
}
