package kick

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type chatBody struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Announce posts a chat message to the given chat room.
func (c *Client) Announce(ctx context.Context, chatRoomID, content, token string) error {
	if chatRoomID == "" {
		return fmt.Errorf("announce: no chat room")
	}
	path := "/messages/send/" + url.PathEscape(chatRoomID)
	if err := c.do(ctx, http.MethodPost, path, token, chatBody{Content: content, Type: "message"}, nil); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	c.logger.Info().Str("chatroom_id", chatRoomID).Msg("💬 Announced clip in chat")
	return nil
}
