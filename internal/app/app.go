package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/callback"
	"github.com/dvcrn/kickclip/internal/config"
	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/kick"
	"github.com/dvcrn/kickclip/internal/plugin"
	"github.com/dvcrn/kickclip/internal/publish"
)

// App holds the long-lived components shared by the plugin binary and the
// CLI.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    credentials.Store
	Auth     *auth.Manager
	Kick     *kick.Client
	Callback *callback.Server

	closers []func() error
}

// New wires the component graph described by cfg.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	store, closer, err := NewStore(cfg, log)
	if err != nil {
		return nil, err
	}

	oauth := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		AuthBaseURL:  cfg.AuthBaseURL,
		Timeout:      cfg.RequestTimeout.Duration,
	})
	pkce := auth.NewPKCE(oauth, cfg.PendingAuthTTL.Duration)
	manager := auth.NewManager(oauth, store, pkce, log,
		auth.WithRefreshSkew(cfg.RefreshSkew.Duration),
		auth.WithRefreshTimeout(cfg.RequestTimeout.Duration),
	)

	a := &App{
		Config: cfg,
		Logger: log,
		Store:  store,
		Auth:   manager,
		Kick: kick.NewClient(kick.Config{
			BaseURL:   cfg.APIBaseURL,
			Timeout:   cfg.RequestTimeout.Duration,
			RateLimit: cfg.APIRateLimit,
			Burst:     cfg.APIBurst,
		}, log),
		Callback: callback.NewServer(cfg.ListenAddr(), cfg.CallbackPath(), manager, log),
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

// NewStore opens the credential backend selected by credentials.backend.
// The returned closer may be nil.
func NewStore(cfg *config.Config, log zerolog.Logger) (credentials.Store, func() error, error) {
	switch cfg.Credentials.Backend {
	case config.BackendFile, "":
		path := cfg.Credentials.Path
		if path == "" {
			path = credentials.DefaultCredsPath()
		}
		log.Info().Str("path", path).Msg("📄 Using filesystem credential store")
		return credentials.NewFSStore(path), nil, nil
	case config.BackendSQLite:
		path := cfg.Credentials.Path
		if path == "" {
			path = credentials.DefaultDBPath()
		}
		store, err := credentials.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", store.Path()).Msg("🗄️  Using SQLite credential store")
		return store, store.Close, nil
	case config.BackendKeychain:
		if runtime.GOOS != "darwin" {
			return nil, nil, fmt.Errorf("keychain credential store is only available on macOS")
		}
		log.Info().Msg("🔑 Using keychain credential store")
		return credentials.NewKeychainStore(), nil, nil
	case config.BackendMemory:
		log.Warn().Msg("⚠️  Using in-memory credential store, logins will not survive a restart")
		return credentials.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown credentials backend %q", cfg.Credentials.Backend)
	}
}

// NewOrchestrator builds a publish orchestrator that reports to sink.
func (a *App) NewOrchestrator(sink publish.StatusSink) *publish.Orchestrator {
	return publish.New(a.Auth, a.Kick, a.Kick, sink, a.Logger, publish.Options{
		RequestTimeout:   a.Config.RequestTimeout.Duration,
		RevertDelay:      a.Config.RevertDelay.Duration,
		IdleTitle:        a.Config.IdleTitle,
		AnnounceTemplate: a.Config.AnnounceTemplate,
	})
}

// NewPlugin builds the host event dispatcher.
func (a *App) NewPlugin(host plugin.Host, orch *publish.Orchestrator) *plugin.Plugin {
	return plugin.New(host, orch, a.Auth, a.Callback, plugin.DefaultSettings(a.Config.DefaultChannel), a.Logger)
}

// ValidateCredentials logs the state of the stored credential at startup.
// It never refreshes.
func (a *App) ValidateCredentials(ctx context.Context) {
	cred, err := a.Auth.Status(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("⚠️  Failed to read credentials at startup")
		return
	}
	if cred == nil {
		a.Logger.Warn().Msg("⚠️  Not logged in to Kick, use the property inspector or `kickclip login`")
		return
	}

	minutesUntilExpiry := int64(time.Until(cred.ExpiresAt) / time.Minute)
	switch {
	case minutesUntilExpiry <= 0:
		a.Logger.Warn().
			Int64("minutes_expired", -minutesUntilExpiry).
			Bool("has_refresh_token", cred.RefreshToken != "").
			Msg("⚠️  Token is already expired, will attempt refresh on first use")
	case minutesUntilExpiry <= 60:
		a.Logger.Info().
			Int64("minutes_until_expiry", minutesUntilExpiry).
			Msg("✅ Credentials loaded, token expires soon and will be refreshed")
	default:
		a.Logger.Info().
			Int64("minutes_until_expiry", minutesUntilExpiry).
			Int("token_length", len(cred.AccessToken)).
			Msg("✅ Credentials loaded successfully")
	}
}

// Close stops the callback listener and releases the store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := []error{a.Callback.Stop(ctx)}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
