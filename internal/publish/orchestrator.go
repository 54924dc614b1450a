package publish

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/kick"
)

const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultRevertDelay      = 2500 * time.Millisecond
	DefaultIdleTitle        = "Kick Clip"
	DefaultAnnounceTemplate = "🎬 New clip: {url}"
)

// ErrBusy is returned by Run when the context already has an active run.
var ErrBusy = errors.New("a publish run is already active for this context")

type CredentialProvider interface {
	EnsureUsable(ctx context.Context) (*credentials.Credential, error)
}

type ChannelResolver interface {
	Resolve(ctx context.Context, slug, token string) (*kick.ChannelRef, error)
}

type ClipPublisher interface {
	CreateClip(ctx context.Context, ref *kick.ChannelRef, req kick.ClipRequest, token string) (*kick.ClipResult, error)
	Announce(ctx context.Context, chatRoomID, content, token string) error
}

// StatusSink receives button labels. Implementations must be safe for
// concurrent use.
type StatusSink interface {
	SetTitle(contextID, title string) error
}

// Request is the immutable input of one run.
type Request struct {
	ChannelSlug string
	Clip        kick.ClipRequest
	Announce    bool
}

// Run is the outcome of one button press.
type Run struct {
	ID        string
	ContextID string
	State     State
	Label     string
	StartedAt time.Time
	Clip      *kick.ClipResult
	Err       error
}

type Options struct {
	RequestTimeout   time.Duration
	RevertDelay      time.Duration
	IdleTitle        string
	AnnounceTemplate string
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RevertDelay <= 0 {
		o.RevertDelay = DefaultRevertDelay
	}
	if o.IdleTitle == "" {
		o.IdleTitle = DefaultIdleTitle
	}
	if o.AnnounceTemplate == "" {
		o.AnnounceTemplate = DefaultAnnounceTemplate
	}
	return o
}

// Orchestrator sequences credential, channel, clip and chat steps for each
// press and reports every transition to the sink.
type Orchestrator struct {
	creds     CredentialProvider
	resolver  ChannelResolver
	publisher ClipPublisher
	sink      StatusSink
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time

	mu      sync.Mutex
	active  map[string]struct{}
	reverts map[string]*time.Timer

	wg sync.WaitGroup
}

func New(creds CredentialProvider, resolver ChannelResolver, publisher ClipPublisher, sink StatusSink, logger zerolog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		creds:     creds,
		resolver:  resolver,
		publisher: publisher,
		sink:      sink,
		logger:    logger.With().Str("component", "publish").Logger(),
		opts:      opts.withDefaults(),
		now:       time.Now,
		active:    make(map[string]struct{}),
		reverts:   make(map[string]*time.Timer),
	}
}

// IdleTitle is the label buttons revert to.
func (o *Orchestrator) IdleTitle() string {
	return o.opts.IdleTitle
}

// Press starts a run in the background. It returns false, and does
// nothing, if contextID already has an active run.
func (o *Orchestrator) Press(contextID string, req Request) bool {
	if !o.acquire(contextID) {
		o.logger.Debug().Str("context", contextID).Msg("Ignoring press while a run is active")
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(context.Background(), contextID, req)
	}()
	return true
}

// Run executes a run synchronously.
func (o *Orchestrator) Run(ctx context.Context, contextID string, req Request) (*Run, error) {
	if !o.acquire(contextID) {
		return nil, ErrBusy
	}
	return o.execute(ctx, contextID, req), nil
}

// Active reports whether contextID has a run in progress.
func (o *Orchestrator) Active(contextID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[contextID]
	return ok
}

// Wait blocks until every run started by Press has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops pending title reverts.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.reverts {
		t.Stop()
		delete(o.reverts, id)
	}
}

func (o *Orchestrator) acquire(contextID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[contextID]; busy {
		return false
	}
	o.active[contextID] = struct{}{}
	// A pending revert from the previous run would overwrite our progress.
	if t, ok := o.reverts[contextID]; ok {
		t.Stop()
		delete(o.reverts, contextID)
	}
	return true
}

// release frees the context and schedules the idle revert.
func (o *Orchestrator) release(contextID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, contextID)

	var timer *time.Timer
	timer = time.AfterFunc(o.opts.RevertDelay, func() {
		o.mu.Lock()
		current, ok := o.reverts[contextID]
		if !ok || current != timer {
			o.mu.Unlock()
			return
		}
		delete(o.reverts, contextID)
		o.mu.Unlock()
		o.emit(contextID, o.opts.IdleTitle)
	})
	o.reverts[contextID] = timer
}

func (o *Orchestrator) execute(ctx context.Context, contextID string, req Request) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		ContextID: contextID,
		State:     Idle,
		StartedAt: o.now(),
	}
	log := o.logger.With().Str("context", contextID).Str("run_id", run.ID).Logger()
	defer o.release(contextID)

	log.Info().Str("channel", req.ChannelSlug).Int("duration", req.Clip.DurationSeconds).Msg("🎬 Publish run started")

	o.transition(run, Authenticating)
	var cred *credentials.Credential
	err := o.step(ctx, func(ctx context.Context) error {
		var err error
		cred, err = o.creds.EnsureUsable(ctx)
		return err
	})
	if err != nil {
		return o.fail(log, run, err)
	}

	o.transition(run, ResolvingChannel)
	var ref *kick.ChannelRef
	err = o.step(ctx, func(ctx context.Context) error {
		var err error
		ref, err = o.resolver.Resolve(ctx, req.ChannelSlug, cred.AccessToken)
		return err
	})
	if err != nil {
		return o.fail(log, run, err)
	}

	o.transition(run, Publishing)
	err = o.step(ctx, func(ctx context.Context) error {
		var err error
		run.Clip, err = o.publisher.CreateClip(ctx, ref, req.Clip, cred.AccessToken)
		return err
	})
	if err != nil {
		return o.fail(log, run, err)
	}

	switch {
	case !req.Announce:
	case ref.ChatRoomID == "":
		log.Debug().Msg("No chat room resolved, skipping announcement")
	case run.Clip.URL == "":
		log.Debug().Msg("Clip has no URL, skipping announcement")
	default:
		o.transition(run, Announcing)
		content := strings.ReplaceAll(o.opts.AnnounceTemplate, "{url}", run.Clip.URL)
		err = o.step(ctx, func(ctx context.Context) error {
			return o.publisher.Announce(ctx, ref.ChatRoomID, content, cred.AccessToken)
		})
		if err != nil {
			log.Warn().Err(err).Str("chatroom_id", ref.ChatRoomID).Msg("⚠️  Chat announcement failed, clip was still created")
		}
	}

	o.transition(run, Succeeded)
	log.Info().
		Str("clip_id", run.Clip.ID).
		Str("clip_url", run.Clip.URL).
		Dur("elapsed", o.now().Sub(run.StartedAt)).
		Msg("✅ Publish run succeeded")
	return run
}

// step runs one network call under its own timeout.
func (o *Orchestrator) step(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return fn(ctx)
}

func (o *Orchestrator) transition(run *Run, next State) {
	run.State = next
	run.Label = next.Label()
	o.emit(run.ContextID, run.Label)
}

func (o *Orchestrator) fail(log zerolog.Logger, run *Run, err error) *Run {
	from := run.State
	run.State = Failed
	run.Err = err
	run.Label = Classify(err)
	log.Error().Err(err).Str("step", from.String()).Str("label", run.Label).Msg("❌ Publish run failed")
	o.emit(run.ContextID, run.Label)
	return run
}

func (o *Orchestrator) emit(contextID, title string) {
	if err := o.sink.SetTitle(contextID, title); err != nil {
		o.logger.Warn().Err(err).Str("context", contextID).Str("title", title).Msg("Failed to update button title")
	}
}
