package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/kick"
)

type fakeCreds struct {
	err error
}

func (f *fakeCreds) EnsureUsable(context.Context) (*credentials.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &credentials.Credential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeKick struct {
	resolveErr  error
	createErr   error
	announceErr error
	chatRoomID  string
	// clip overrides the created clip when set.
	clip *kick.ClipResult
	// createGate, when set, blocks CreateClip until closed.
	createGate chan struct{}

	resolveCalls  atomic.Int32
	createCalls   atomic.Int32
	announceCalls atomic.Int32

	mu          sync.Mutex
	lastToken   string
	lastRequest kick.ClipRequest
	lastContent string
}

func (f *fakeKick) Resolve(_ context.Context, slug, token string) (*kick.ChannelRef, error) {
	f.resolveCalls.Add(1)
	f.mu.Lock()
	f.lastToken = token
	f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &kick.ChannelRef{Slug: slug, ChannelID: "42", ChatRoomID: f.chatRoomID}, nil
}

func (f *fakeKick) CreateClip(_ context.Context, _ *kick.ChannelRef, req kick.ClipRequest, _ string) (*kick.ClipResult, error) {
	f.createCalls.Add(1)
	f.mu.Lock()
	f.lastRequest = req
	f.mu.Unlock()
	if f.createGate != nil {
		<-f.createGate
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.clip != nil {
		return f.clip, nil
	}
	return &kick.ClipResult{ID: "c1", URL: "https://kick.com/clips/c1"}, nil
}

func (f *fakeKick) Announce(_ context.Context, _, content, _ string) error {
	f.announceCalls.Add(1)
	f.mu.Lock()
	f.lastContent = content
	f.mu.Unlock()
	return f.announceErr
}

type recordingSink struct {
	mu     sync.Mutex
	titles map[string][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{titles: make(map[string][]string)}
}

func (s *recordingSink) SetTitle(contextID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[contextID] = append(s.titles[contextID], title)
	return nil
}

func (s *recordingSink) For(contextID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles[contextID]...)
}

func newTestOrchestrator(creds *fakeCreds, k *fakeKick, sink *recordingSink) *Orchestrator {
	return New(creds, k, k, sink, zerolog.Nop(), Options{
		RequestTimeout: time.Second,
		RevertDelay:    50 * time.Millisecond,
	})
}

var defaultRequest = Request{
	ChannelSlug: "streamer",
	Clip:        kick.ClipRequest{DurationSeconds: 30, Title: "Big play"},
	Announce:    true,
}

func TestRunSucceedsWithAnnouncement(t *testing.T) {
	k := &fakeKick{chatRoomID: "99"}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.Equal(t, LabelSucceeded, run.Label)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "c1", run.Clip.ID)
	assert.Equal(t, "tok", k.lastToken)
	assert.Equal(t, defaultRequest.Clip, k.lastRequest)
	assert.Equal(t, "🎬 New clip: https://kick.com/clips/c1", k.lastContent)
	assert.Equal(t, []string{"Auth...", "Resolving...", "Clipping...", "Posting...", "Success!"}, sink.For("ctx1"))

	require.Eventually(t, func() bool {
		titles := sink.For("ctx1")
		return titles[len(titles)-1] == DefaultIdleTitle
	}, time.Second, 5*time.Millisecond)
	assert.False(t, o.Active("ctx1"))
}

func TestRunSkipsAnnouncementWithoutChatRoom(t *testing.T) {
	k := &fakeKick{}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.Zero(t, k.announceCalls.Load())
	assert.Equal(t, []string{"Auth...", "Resolving...", "Clipping...", "Success!"}, sink.For("ctx1"))
}

func TestRunSkipsAnnouncementWithoutClipURL(t *testing.T) {
	k := &fakeKick{chatRoomID: "99", clip: &kick.ClipResult{ID: "c1"}}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.Empty(t, run.Clip.URL)
	assert.Zero(t, k.announceCalls.Load())
	assert.Empty(t, k.lastContent)
	assert.Equal(t, []string{"Auth...", "Resolving...", "Clipping...", "Success!"}, sink.For("ctx1"))
}

func TestRunSkipsAnnouncementWhenDisabled(t *testing.T) {
	k := &fakeKick{chatRoomID: "99"}
	o := newTestOrchestrator(&fakeCreds{}, k, newRecordingSink())

	req := defaultRequest
	req.Announce = false
	run, err := o.Run(context.Background(), "ctx1", req)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.Zero(t, k.announceCalls.Load())
}

func TestAnnouncementFailureStillSucceeds(t *testing.T) {
	k := &fakeKick{chatRoomID: "99", announceErr: &kick.RemoteError{StatusCode: 500}}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, run.State)
	assert.NoError(t, run.Err)
	assert.Equal(t, int32(1), k.announceCalls.Load())
	assert.Equal(t, "Success!", sink.For("ctx1")[4])
}

func TestCreateForbiddenFailsWithoutAnnouncing(t *testing.T) {
	k := &fakeKick{chatRoomID: "99", createErr: fmt.Errorf("create clip: %w", kick.ErrForbidden)}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Failed, run.State)
	assert.Equal(t, "Forbidden", run.Label)
	assert.Zero(t, k.announceCalls.Load())
	assert.Equal(t, []string{"Auth...", "Resolving...", "Clipping...", "Forbidden"}, sink.For("ctx1"))
}

func TestNoClipEndpointNeverAnnounces(t *testing.T) {
	k := &fakeKick{chatRoomID: "99", createErr: fmt.Errorf("create clip: %w", kick.ErrNoClipEndpoint)}
	o := newTestOrchestrator(&fakeCreds{}, k, newRecordingSink())

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)

	assert.Equal(t, Failed, run.State)
	assert.Equal(t, "No Clip API", run.Label)
	assert.Zero(t, k.announceCalls.Load())
}

func TestUnknownChannelNeverCreates(t *testing.T) {
	k := &fakeKick{resolveErr: fmt.Errorf("resolve %q: %w", "nosuchchannel", kick.ErrChannelNotFound)}
	o := newTestOrchestrator(&fakeCreds{}, k, newRecordingSink())

	req := defaultRequest
	req.ChannelSlug = "nosuchchannel"
	run, err := o.Run(context.Background(), "ctx1", req)
	require.NoError(t, err)

	assert.Equal(t, Failed, run.State)
	assert.Equal(t, "No Channel", run.Label)
	assert.Zero(t, k.createCalls.Load())
}

func TestAuthenticationFailuresAreDistinguished(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		label string
	}{
		{name: "no credential", err: auth.ErrUnauthenticated, label: "Login Needed"},
		{name: "rejected refresh", err: fmt.Errorf("%w: %w", auth.ErrUnauthenticated, &auth.AuthRefreshError{StatusCode: 401}), label: "Login Needed"},
		{name: "network", err: fmt.Errorf("%w: dial tcp", auth.ErrNetwork), label: "Net Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &fakeKick{}
			o := newTestOrchestrator(&fakeCreds{err: tt.err}, k, newRecordingSink())

			run, err := o.Run(context.Background(), "ctx1", defaultRequest)
			require.NoError(t, err)

			assert.Equal(t, Failed, run.State)
			assert.Equal(t, tt.label, run.Label)
			assert.Zero(t, k.resolveCalls.Load())
		})
	}
}

func TestPressWhileActiveIsIgnored(t *testing.T) {
	k := &fakeKick{createGate: make(chan struct{})}
	sink := newRecordingSink()
	o := newTestOrchestrator(&fakeCreds{}, k, sink)

	require.True(t, o.Press("ctx1", defaultRequest))
	require.Eventually(t, func() bool { return k.createCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, o.Press("ctx1", defaultRequest))
	_, err := o.Run(context.Background(), "ctx1", defaultRequest)
	assert.ErrorIs(t, err, ErrBusy)

	// Other contexts are independent.
	other := newTestOrchestrator(&fakeCreds{}, &fakeKick{}, sink)
	assert.True(t, other.Press("ctx2", defaultRequest))

	close(k.createGate)
	o.Wait()
	other.Wait()

	assert.Equal(t, int32(1), k.createCalls.Load())
	assert.False(t, o.Active("ctx1"))
	assert.True(t, o.Press("ctx1", defaultRequest))
	o.Wait()
	assert.Equal(t, int32(2), k.createCalls.Load())
}

func TestNewRunCancelsPendingRevert(t *testing.T) {
	k := &fakeKick{}
	sink := newRecordingSink()
	o := New(&fakeCreds{}, k, k, sink, zerolog.Nop(), Options{RevertDelay: 50 * time.Millisecond})
	defer o.Close()

	_, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)
	k.createGate = make(chan struct{})
	require.True(t, o.Press("ctx1", defaultRequest))

	time.Sleep(100 * time.Millisecond)
	titles := sink.For("ctx1")
	assert.Equal(t, "Clipping...", titles[len(titles)-1])

	close(k.createGate)
	o.Wait()
}

func TestStepTimeoutIsNetworkError(t *testing.T) {
	creds := &blockingCreds{}
	o := New(creds, &fakeKick{}, &fakeKick{}, newRecordingSink(), zerolog.Nop(), Options{RequestTimeout: 20 * time.Millisecond})

	run, err := o.Run(context.Background(), "ctx1", defaultRequest)
	require.NoError(t, err)
	assert.Equal(t, "Net Error", run.Label)
}

type blockingCreds struct{}

func (blockingCreds) EnsureUsable(ctx context.Context) (*credentials.Credential, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: auth.ErrUnauthenticated, want: "Login Needed"},
		{err: fmt.Errorf("resolve: %w", kick.ErrNetwork), want: "Net Error"},
		{err: context.DeadlineExceeded, want: "Net Error"},
		{err: kick.ErrChannelNotFound, want: "No Channel"},
		{err: kick.ErrForbidden, want: "Forbidden"},
		{err: kick.ErrNoClipEndpoint, want: "No Clip API"},
		{err: fmt.Errorf("create clip: %w", &kick.RemoteError{StatusCode: 429}), want: "API 429"},
		{err: errors.New("boom"), want: "Error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}

func TestStateLabels(t *testing.T) {
	assert.True(t, Succeeded.Terminal())
	assert.True(t, Failed.Terminal())
	assert.False(t, Announcing.Terminal())
	assert.Equal(t, "resolving_channel", ResolvingChannel.String())
	assert.Empty(t, Failed.Label())
}
