package streamdeck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Handler receives inbound host events from the read loop. It must not
// block; long work belongs on its own goroutine.
type Handler interface {
	HandleEvent(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// Client is the plugin end of the host's WebSocket control channel.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
}

// Dial connects to the host on the loopback port it passed on the command
// line.
func Dial(ctx context.Context, port int, logger zerolog.Logger) (*Client, error) {
	return DialURL(ctx, fmt.Sprintf("ws://127.0.0.1:%d", port), logger)
}

func DialURL(ctx context.Context, rawURL string, logger zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream deck host: %w", err)
	}
	return &Client{
		conn:   conn,
		logger: logger.With().Str("component", "streamdeck").Logger(),
	}, nil
}

// Register announces the plugin. The host expects it exactly once, before
// any other message.
func (c *Client) Register(registerEvent, pluginUUID string) error {
	return c.send(outbound{Event: registerEvent, UUID: pluginUUID})
}

func (c *Client) SetTitle(contextID, title string) error {
	return c.send(outbound{
		Event:   "setTitle",
		Context: contextID,
		Payload: titlePayload{Title: title, Target: 0},
	})
}

func (c *Client) GetSettings(contextID string) error {
	return c.send(outbound{Event: "getSettings", Context: contextID})
}

func (c *Client) SetSettings(contextID string, settings interface{}) error {
	return c.send(outbound{Event: "setSettings", Context: contextID, Payload: settings})
}

// OpenURL asks the host to open url in the default browser.
func (c *Client) OpenURL(url string) error {
	return c.send(outbound{Event: "openUrl", Payload: urlPayload{URL: url}})
}

func (c *Client) SendToPropertyInspector(contextID string, payload interface{}) error {
	return c.send(outbound{Event: "sendToPropertyInspector", Context: contextID, Payload: payload})
}

func (c *Client) send(msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Event, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Event, err)
	}
	c.logger.Trace().Str("event", msg.Event).Str("context", msg.Context).Msg("Sent host message")
	return nil
}

// Run reads host events and hands them to h until the connection closes or
// ctx is cancelled. A normal close returns nil.
func (c *Client) Run(ctx context.Context, h Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Info().Msg("Host closed the connection")
				return nil
			}
			return fmt.Errorf("host connection read failed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed host message")
			continue
		}
		if evt.Event == "" {
			continue
		}
		c.logger.Debug().Str("event", evt.Event).Str("context", evt.Context).Msg("Received host event")
		h.HandleEvent(evt)
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}
