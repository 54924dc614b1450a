package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/publish"
	"github.com/dvcrn/kickclip/internal/streamdeck"
)

type hostCall struct {
	Event   string
	Context string
	Payload interface{}
}

type fakeHost struct {
	mu    sync.Mutex
	calls []hostCall
}

func (h *fakeHost) record(c hostCall) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
	return nil
}

func (h *fakeHost) SetTitle(contextID, title string) error {
	return h.record(hostCall{"setTitle", contextID, title})
}

func (h *fakeHost) GetSettings(contextID string) error {
	return h.record(hostCall{"getSettings", contextID, nil})
}

func (h *fakeHost) SetSettings(contextID string, settings interface{}) error {
	return h.record(hostCall{"setSettings", contextID, settings})
}

func (h *fakeHost) OpenURL(url string) error {
	return h.record(hostCall{"openUrl", "", url})
}

func (h *fakeHost) SendToPropertyInspector(contextID string, payload interface{}) error {
	return h.record(hostCall{"sendToPropertyInspector", contextID, payload})
}

func (h *fakeHost) byEvent(event string) []hostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hostCall
	for _, c := range h.calls {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

type fakePublisher struct {
	mu      sync.Mutex
	presses []publish.Request
	busy    bool
}

func (f *fakePublisher) Press(_ string, req publish.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.presses = append(f.presses, req)
	return true
}

func (f *fakePublisher) IdleTitle() string { return "Kick Clip" }

type fakeAuth struct {
	cred      *credentials.Credential
	loggedOut bool
	beginErr  error
}

func (f *fakeAuth) BeginLogin() (*auth.AuthorizationRequest, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &auth.AuthorizationRequest{URL: "https://id.kick.com/oauth/authorize?state=s", State: "s"}, nil
}

func (f *fakeAuth) Logout(context.Context) error {
	f.loggedOut = true
	f.cred = nil
	return nil
}

func (f *fakeAuth) Status(context.Context) (*credentials.Credential, error) {
	return f.cred, nil
}

type fakeListener struct {
	starts int
	err    error
}

func (f *fakeListener) Start() error {
	f.starts++
	return f.err
}

type fixture struct {
	plugin    *Plugin
	host      *fakeHost
	publisher *fakePublisher
	auth      *fakeAuth
	listener  *fakeListener
}

func newFixture() *fixture {
	f := &fixture{
		host:      &fakeHost{},
		publisher: &fakePublisher{},
		auth:      &fakeAuth{},
		listener:  &fakeListener{},
	}
	f.plugin = New(f.host, f.publisher, f.auth, f.listener, DefaultSettings("fallback"), zerolog.Nop())
	return f
}

func event(name, contextID, payload string) streamdeck.Event {
	e := streamdeck.Event{Event: name, Context: contextID}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

func TestKeyDownPressesWithMergedSettings(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventKeyDown, "ctx1",
		`{"settings":{"channelSlug":"streamer","clipDuration":90,"autoPostToChat":true}}`))

	require.Len(t, f.publisher.presses, 1)
	req := f.publisher.presses[0]
	assert.Equal(t, "streamer", req.ChannelSlug)
	assert.Equal(t, 60, req.Clip.DurationSeconds)
	assert.True(t, req.Announce)
}

func TestKeyDownFallsBackToCachedSettings(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventDidReceiveSettings, "ctx1", `{"settings":{"channelSlug":"cached"}}`))
	f.plugin.HandleEvent(event(streamdeck.EventKeyDown, "ctx1", ""))

	require.Len(t, f.publisher.presses, 1)
	assert.Equal(t, "cached", f.publisher.presses[0].ChannelSlug)
	assert.Empty(t, f.host.byEvent("setSettings"))
}

func TestKeyDownWithoutChannel(t *testing.T) {
	f := newFixture()
	f.plugin = New(f.host, f.publisher, f.auth, f.listener, DefaultSettings(""), zerolog.Nop())

	f.plugin.HandleEvent(event(streamdeck.EventKeyDown, "ctx1", `{"settings":{}}`))

	assert.Empty(t, f.publisher.presses)
	titles := f.host.byEvent("setTitle")
	require.Len(t, titles, 1)
	assert.Equal(t, publish.LabelNoChannel, titles[0].Payload)
}

func TestKeyDownWhileBusyIsIgnored(t *testing.T) {
	f := newFixture()
	f.publisher.busy = true

	f.plugin.HandleEvent(event(streamdeck.EventKeyDown, "ctx1", `{"settings":{"channelSlug":"streamer"}}`))

	assert.Empty(t, f.publisher.presses)
	assert.Empty(t, f.host.byEvent("setTitle"))
}

func TestWillAppearSetsIdleTitleAndPersistsIncompleteSettings(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventWillAppear, "ctx1", `{"settings":{"channelSlug":"streamer"}}`))

	titles := f.host.byEvent("setTitle")
	require.Len(t, titles, 1)
	assert.Equal(t, "Kick Clip", titles[0].Payload)

	persisted := f.host.byEvent("setSettings")
	require.Len(t, persisted, 1)
	assert.Equal(t, Settings{ChannelSlug: "streamer", ClipDuration: 30}, persisted[0].Payload)
}

func TestWillAppearKeepsValidFieldsBesideMistypedOne(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventWillAppear, "ctx1",
		`{"settings":{"channelSlug":"xqc","clipDuration":45,"clipTitle":"t","autoPostToChat":"yes"}}`))

	persisted := f.host.byEvent("setSettings")
	require.Len(t, persisted, 1)
	assert.Equal(t, Settings{ChannelSlug: "xqc", ClipDuration: 45, ClipTitle: "t"}, persisted[0].Payload)
}

func TestWillAppearWithCompleteSettingsDoesNotPersist(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventWillAppear, "ctx1",
		`{"settings":{"channelSlug":"streamer","clipDuration":30,"clipTitle":"","autoPostToChat":false}}`))

	assert.Empty(t, f.host.byEvent("setSettings"))
}

func TestWillAppearWithoutPayloadRequestsSettings(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventWillAppear, "ctx1", ""))

	assert.Len(t, f.host.byEvent("getSettings"), 1)
	assert.Empty(t, f.host.byEvent("setSettings"))
}

func TestWillDisappearDropsCache(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventDidReceiveSettings, "ctx1", `{"settings":{"channelSlug":"cached"}}`))
	f.plugin.HandleEvent(event(streamdeck.EventWillDisappear, "ctx1", ""))
	f.plugin.HandleEvent(event(streamdeck.EventKeyDown, "ctx1", ""))

	require.Len(t, f.publisher.presses, 1)
	assert.Equal(t, "fallback", f.publisher.presses[0].ChannelSlug)
}

func TestLoginCommandStartsListenerAndOpensURL(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"login"}`))

	assert.Equal(t, 1, f.listener.starts)
	urls := f.host.byEvent("openUrl")
	require.Len(t, urls, 1)
	assert.Equal(t, "https://id.kick.com/oauth/authorize?state=s", urls[0].Payload)

	replies := f.host.byEvent("sendToPropertyInspector")
	require.Len(t, replies, 1)
	assert.Equal(t, StatusReply{Command: CommandLogin, Pending: true}, replies[0].Payload)
}

func TestLoginCommandListenerFailure(t *testing.T) {
	f := newFixture()
	f.listener.err = errors.New("address already in use")

	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"login"}`))

	assert.Empty(t, f.host.byEvent("openUrl"))
	replies := f.host.byEvent("sendToPropertyInspector")
	require.Len(t, replies, 1)
	assert.NotEmpty(t, replies[0].Payload.(StatusReply).Error)
}

func TestStatusAndLogoutCommands(t *testing.T) {
	f := newFixture()
	expires := time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)
	f.auth.cred = &credentials.Credential{AccessToken: "at", ExpiresAt: expires}

	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"status"}`))
	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"logout"}`))
	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"status"}`))

	replies := f.host.byEvent("sendToPropertyInspector")
	require.Len(t, replies, 3)

	first := replies[0].Payload.(StatusReply)
	assert.True(t, first.Authenticated)
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, expires, *first.ExpiresAt)

	assert.True(t, f.auth.loggedOut)
	assert.Equal(t, StatusReply{Command: CommandLogout}, replies[1].Payload)
	assert.False(t, replies[2].Payload.(StatusReply).Authenticated)
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	f := newFixture()

	f.plugin.HandleEvent(event("deviceDidConnect", "", `{}`))
	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `not json`))
	f.plugin.HandleEvent(event(streamdeck.EventSendToPlugin, "ctx1", `{"command":"dance"}`))

	assert.Empty(t, f.host.calls)
	assert.Empty(t, f.publisher.presses)
}
