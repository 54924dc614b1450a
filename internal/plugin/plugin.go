package plugin

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/publish"
	"github.com/dvcrn/kickclip/internal/streamdeck"
)

// Property inspector commands carried by sendToPlugin.
const (
	CommandLogin  = "login"
	CommandLogout = "logout"
	CommandStatus = "status"
)

// Host is the outbound half of the host control channel.
type Host interface {
	SetTitle(contextID, title string) error
	GetSettings(contextID string) error
	SetSettings(contextID string, settings interface{}) error
	OpenURL(url string) error
	SendToPropertyInspector(contextID string, payload interface{}) error
}

type Publisher interface {
	Press(contextID string, req publish.Request) bool
	IdleTitle() string
}

type Authenticator interface {
	BeginLogin() (*auth.AuthorizationRequest, error)
	Logout(ctx context.Context) error
	Status(ctx context.Context) (*credentials.Credential, error)
}

// Listener is the redirect capture started on demand for in-plugin login.
type Listener interface {
	Start() error
}

// StatusReply is sent to the property inspector after every command.
type StatusReply struct {
	Command       string     `json:"command"`
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Pending       bool       `json:"pending,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Plugin dispatches host events. It never blocks the read loop: presses
// run on the orchestrator's goroutines.
type Plugin struct {
	host      Host
	publisher Publisher
	auth      Authenticator
	listener  Listener
	defaults  Settings
	logger    zerolog.Logger

	mu       sync.Mutex
	settings map[string]Settings
}

func New(host Host, publisher Publisher, authn Authenticator, listener Listener, defaults Settings, logger zerolog.Logger) *Plugin {
	return &Plugin{
		host:      host,
		publisher: publisher,
		auth:      authn,
		listener:  listener,
		defaults:  defaults.Normalize(),
		logger:    logger.With().Str("component", "plugin").Logger(),
		settings:  make(map[string]Settings),
	}
}

func (p *Plugin) HandleEvent(e streamdeck.Event) {
	switch e.Event {
	case streamdeck.EventKeyDown:
		p.handleKeyDown(e)
	case streamdeck.EventWillAppear:
		p.handleWillAppear(e)
	case streamdeck.EventDidReceiveSettings:
		s, _ := MergeSettings(e.Settings(), p.defaults)
		p.remember(e.Context, s)
	case streamdeck.EventWillDisappear:
		p.forget(e.Context)
	case streamdeck.EventSendToPlugin:
		p.handleCommand(e)
	default:
		p.logger.Trace().Str("event", e.Event).Msg("Ignoring host event")
	}
}

func (p *Plugin) handleKeyDown(e streamdeck.Event) {
	s, ok := p.lookup(e.Context)
	if raw := e.Settings(); len(raw) > 0 || !ok {
		s, _ = MergeSettings(raw, p.defaults)
		p.remember(e.Context, s)
	}

	if s.ChannelSlug == "" {
		p.logger.Warn().Str("context", e.Context).Msg("⚠️  No channel configured for this button")
		p.setTitle(e.Context, publish.LabelNoChannel)
		return
	}

	if !p.publisher.Press(e.Context, s.PublishRequest()) {
		p.logger.Debug().Str("context", e.Context).Msg("Press ignored, run already active")
	}
}

func (p *Plugin) handleWillAppear(e streamdeck.Event) {
	raw := e.Settings()
	s, complete := MergeSettings(raw, p.defaults)
	p.remember(e.Context, s)
	p.setTitle(e.Context, p.publisher.IdleTitle())

	if raw == nil {
		// The host answers with didReceiveSettings.
		if err := p.host.GetSettings(e.Context); err != nil {
			p.logger.Warn().Err(err).Str("context", e.Context).Msg("Failed to request settings")
		}
		return
	}
	if !complete {
		p.persistSettings(e.Context, s)
	}
}

// persistSettings is the only path that writes settings back to the host.
func (p *Plugin) persistSettings(contextID string, s Settings) {
	p.remember(contextID, s)
	if err := p.host.SetSettings(contextID, s); err != nil {
		p.logger.Warn().Err(err).Str("context", contextID).Msg("Failed to persist settings")
	}
}

func (p *Plugin) handleCommand(e streamdeck.Event) {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		p.logger.Warn().Err(err).Msg("Malformed sendToPlugin payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch payload.Command {
	case CommandLogin:
		p.login(e.Context)
	case CommandLogout:
		reply := StatusReply{Command: CommandLogout}
		if err := p.auth.Logout(ctx); err != nil {
			reply.Error = err.Error()
		}
		p.reply(e.Context, reply)
	case CommandStatus:
		p.reply(e.Context, p.status(ctx, CommandStatus))
	default:
		p.logger.Debug().Str("command", payload.Command).Msg("Ignoring unknown property inspector command")
	}
}

func (p *Plugin) login(contextID string) {
	reply := StatusReply{Command: CommandLogin}
	if err := p.listener.Start(); err != nil {
		p.logger.Error().Err(err).Msg("❌ Failed to start callback listener")
		reply.Error = "callback listener unavailable"
		p.reply(contextID, reply)
		return
	}
	req, err := p.auth.BeginLogin()
	if err != nil {
		reply.Error = err.Error()
		p.reply(contextID, reply)
		return
	}
	if err := p.host.OpenURL(req.URL); err != nil {
		p.logger.Error().Err(err).Msg("❌ Failed to open authorization URL")
		reply.Error = "could not open browser"
		p.reply(contextID, reply)
		return
	}
	reply.Pending = true
	p.reply(contextID, reply)
}

func (p *Plugin) status(ctx context.Context, command string) StatusReply {
	reply := StatusReply{Command: command}
	cred, err := p.auth.Status(ctx)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	if cred != nil && cred.AccessToken != "" {
		reply.Authenticated = true
		expires := cred.ExpiresAt
		reply.ExpiresAt = &expires
	}
	return reply
}

func (p *Plugin) reply(contextID string, r StatusReply) {
	if err := p.host.SendToPropertyInspector(contextID, r); err != nil {
		p.logger.Warn().Err(err).Str("command", r.Command).Msg("Failed to reply to property inspector")
	}
}

func (p *Plugin) setTitle(contextID, title string) {
	if err := p.host.SetTitle(contextID, title); err != nil {
		p.logger.Warn().Err(err).Str("context", contextID).Msg("Failed to update button title")
	}
}

func (p *Plugin) lookup(contextID string) (Settings, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.settings[contextID]
	return s, ok
}

func (p *Plugin) remember(contextID string, s Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings[contextID] = s
}

func (p *Plugin) forget(contextID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.settings, contextID)
}
