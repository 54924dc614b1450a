package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/kickclip/internal/credentials"
)

const (
	// DefaultRefreshSkew is how long before expiry a credential stops being
	// handed out as-is.
	DefaultRefreshSkew = 5 * time.Minute
	// DefaultRefreshTimeout bounds one refresh round trip.
	DefaultRefreshTimeout = 10 * time.Second
)

// TokenClient is the identity-provider side of the lifecycle.
type TokenClient interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*credentials.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (*credentials.Credential, error)
}

// Manager decides whether the stored credential is usable, needs a refresh,
// or requires a new interactive login. It is the only writer of the store.
type Manager struct {
	client TokenClient
	store  credentials.Store
	pkce   *PKCE
	logger zerolog.Logger

	skew           time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	mu     sync.Mutex // serializes store writes
	flight singleflight.Group
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

func WithRefreshSkew(d time.Duration) ManagerOption {
	return func(m *Manager) { m.skew = d }
}

func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(client TokenClient, store credentials.Store, pkce *PKCE, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:         client,
		store:          store,
		pkce:           pkce,
		logger:         logger.With().Str("component", "auth").Logger(),
		skew:           DefaultRefreshSkew,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BeginLogin starts an interactive PKCE authorization.
func (m *Manager) BeginLogin() (*AuthorizationRequest, error) {
	req, err := m.pkce.Begin()
	if err != nil {
		return nil, err
	}
	m.logger.Info().Msg("🔑 Started interactive authorization")
	return req, nil
}

// OnCallback completes a login started by BeginLogin. Each state is
// accepted at most once.
func (m *Manager) OnCallback(ctx context.Context, code, state string) error {
	pending, ok := m.pkce.Take(state)
	if !ok {
		m.logger.Warn().Msg("⚠️  Rejected callback with unknown or expired state")
		return ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("authorization code is empty")
	}

	cred, err := m.client.ExchangeCode(ctx, code, pending.CodeVerifier)
	if err != nil {
		m.logger.Error().Err(err).Msg("❌ Authorization code exchange failed")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	m.logger.Info().
		Time("expires_at", cred.ExpiresAt).
		Int("token_length", len(cred.AccessToken)).
		Msg("✅ Authorization complete")
	return nil
}

// EnsureUsable returns a credential that is valid for at least the refresh
// skew, refreshing it first if needed. Concurrent callers share one refresh.
func (m *Manager) EnsureUsable(ctx context.Context) (*credentials.Credential, error) {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrUnauthenticated
	}

	if cred.UsableAt(m.now(), m.skew) {
		m.logger.Debug().
			Int64("minutes_until_expiry", m.minutesUntil(cred.ExpiresAt)).
			Msg("✅ OAuth token is still valid")
		return cred, nil
	}

	m.logger.Info().
		Int64("minutes_until_expiry", m.minutesUntil(cred.ExpiresAt)).
		Msg("🔄 OAuth token expired or expiring soon, refreshing...")

	ch := m.flight.DoChan("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credentials.Credential), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	}
}

// refresh runs inside the single-flight group. It is detached from the
// first caller's cancellation so that waiters are not failed by it.
func (m *Manager) refresh(ctx context.Context) (*credentials.Credential, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another flight may have rotated the credential while we waited.
	cred, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrUnauthenticated
	}
	if cred.UsableAt(m.now(), m.skew) {
		return cred, nil
	}
	if strings.TrimSpace(cred.RefreshToken) == "" {
		m.logger.Warn().Msg("⚠️  Credential expired and has no refresh token")
		m.clearLocked(ctx)
		return nil, ErrUnauthenticated
	}

	next, err := m.client.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		var refreshErr *AuthRefreshError
		if errors.As(err, &refreshErr) {
			if refreshErr.Rejected() {
				m.logger.Error().Int("status", refreshErr.StatusCode).Msg("❌ Refresh token rejected, re-authorization required")
				m.clearLocked(ctx)
				return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
			}
			m.logger.Error().Int("status", refreshErr.StatusCode).Msg("❌ Identity provider failed to refresh token")
			return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		m.logger.Error().Err(err).Msg("❌ Failed to refresh OAuth token")
		if !errors.Is(err, ErrNetwork) {
			err = fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return nil, err
	}

	if err := m.store.Save(ctx, next); err != nil {
		// The old refresh token is spent; hand out the new one regardless.
		m.logger.Error().Err(err).Msg("❌ Failed to update tokens in storage")
		return next, nil
	}

	m.logger.Info().
		Int64("new_expiry_minutes", m.minutesUntil(next.ExpiresAt)).
		Msg("✅ OAuth token refreshed successfully")
	return next, nil
}

// Status returns the stored credential without refreshing it.
func (m *Manager) Status(ctx context.Context) (*credentials.Credential, error) {
	return m.store.Load(ctx)
}

// Logout forgets the stored credential.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	m.logger.Info().Msg("🚪 Logged out")
	return nil
}

// RunBackgroundRefresh periodically keeps the stored credential fresh until
// ctx is cancelled.
func (m *Manager) RunBackgroundRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.EnsureUsable(ctx); err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					m.logger.Debug().Msg("Background refresh: no credential stored")
					continue
				}
				m.logger.Error().Err(err).Msg("Background refresh failed")
			}
		case <-ctx.Done():
			m.logger.Debug().Msg("Background token refresh stopped")
			return
		}
	}
}

func (m *Manager) clearLocked(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error().Err(err).Msg("❌ Failed to clear rejected credential")
	}
}

func (m *Manager) minutesUntil(t time.Time) int64 {
	return int64(t.Sub(m.now()) / time.Minute)
}
