// Package config loads plugin configuration from defaults, an optional TOML
// file, a .env file and KICKCLIP_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/dvcrn/kickclip/internal/auth"
	"github.com/dvcrn/kickclip/internal/credentials"
	"github.com/dvcrn/kickclip/internal/kick"
	"github.com/dvcrn/kickclip/internal/publish"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendKeychain = "keychain"
	BackendMemory   = "memory"

	envPrefix = "KICKCLIP_"
)

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type CredentialsConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type Config struct {
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`

	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
	AuthBaseURL  string   `toml:"auth_base_url"`
	APIBaseURL   string   `toml:"api_base_url"`

	DefaultChannel string            `toml:"default_channel"`
	Credentials    CredentialsConfig `toml:"credentials"`

	RefreshSkew       Duration `toml:"refresh_skew"`
	PendingAuthTTL    Duration `toml:"pending_auth_ttl"`
	RequestTimeout    Duration `toml:"request_timeout"`
	RevertDelay       Duration `toml:"revert_delay"`
	BackgroundRefresh Duration `toml:"background_refresh"`

	IdleTitle        string  `toml:"idle_title"`
	AnnounceTemplate string  `toml:"announce_template"`
	APIRateLimit     float64 `toml:"api_rate_limit"`
	APIBurst         int     `toml:"api_burst"`
	CallbackAddr     string  `toml:"callback_addr"`

	// Path is the config file that was read, if any.
	Path string `toml:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	dir := credentials.ConfigDir()
	return &Config{
		Environment:       "development",
		LogLevel:          "info",
		LogFile:           filepath.Join(dir, "kickclip.log"),
		RedirectURI:       auth.DefaultRedirectURI,
		Scopes:            append([]string(nil), auth.DefaultScopes...),
		AuthBaseURL:       auth.DefaultAuthBaseURL,
		APIBaseURL:        kick.DefaultBaseURL,
		Credentials:       CredentialsConfig{Backend: BackendFile},
		RefreshSkew:       Duration{auth.DefaultRefreshSkew},
		PendingAuthTTL:    Duration{auth.DefaultPendingTTL},
		RequestTimeout:    Duration{publish.DefaultRequestTimeout},
		RevertDelay:       Duration{publish.DefaultRevertDelay},
		BackgroundRefresh: Duration{15 * time.Minute},
		IdleTitle:         publish.DefaultIdleTitle,
		AnnounceTemplate:  publish.DefaultAnnounceTemplate,
		APIRateLimit:      kick.DefaultRateLimit,
		APIBurst:          kick.DefaultBurst,
	}
}

// DefaultPath is <user config dir>/kickclip/config.toml.
func DefaultPath() string {
	return filepath.Join(credentials.ConfigDir(), "config.toml")
}

// Load builds the configuration. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Existing environment variables win over .env entries.
	_ = godotenv.Load()
	if envFile := filepath.Join(credentials.ConfigDir(), ".env"); credentials.FileExists(envFile) {
		_ = godotenv.Load(envFile)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error

	if v, ok := os.LookupEnv("ENV"); ok && v != "" {
		c.Environment = v
	}
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFile, "LOG_FILE")
	setString(&c.ClientID, "CLIENT_ID")
	setString(&c.ClientSecret, "CLIENT_SECRET")
	setString(&c.RedirectURI, "REDIRECT_URI")
	setString(&c.AuthBaseURL, "AUTH_BASE_URL")
	setString(&c.APIBaseURL, "API_BASE_URL")
	setString(&c.DefaultChannel, "DEFAULT_CHANNEL")
	setString(&c.Credentials.Backend, "CREDENTIALS_BACKEND")
	setString(&c.Credentials.Path, "CREDENTIALS_PATH")
	setString(&c.IdleTitle, "IDLE_TITLE")
	setString(&c.AnnounceTemplate, "ANNOUNCE_TEMPLATE")
	setString(&c.CallbackAddr, "CALLBACK_ADDR")

	if v, ok := lookup("SCOPES"); ok {
		c.Scopes = splitList(v)
	}

	errs = append(errs,
		setDuration(&c.RefreshSkew, "REFRESH_SKEW"),
		setDuration(&c.PendingAuthTTL, "PENDING_AUTH_TTL"),
		setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT"),
		setDuration(&c.RevertDelay, "REVERT_DELAY"),
		setDuration(&c.BackgroundRefresh, "BACKGROUND_REFRESH"),
		setFloat(&c.APIRateLimit, "API_RATE_LIMIT"),
		setInt(&c.APIBurst, "API_BURST"),
	)
	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("client_id is required (set KICKCLIP_CLIENT_ID or client_id in config.toml)"))
	}
	if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme != "http" || u.Host == "" {
		errs = append(errs, fmt.Errorf("redirect_uri must be an http loopback URL, got %q", c.RedirectURI))
	}
	for name, raw := range map[string]string{"auth_base_url": c.AuthBaseURL, "api_base_url": c.APIBaseURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	if len(c.Scopes) == 0 {
		errs = append(errs, errors.New("scopes must not be empty"))
	}

	switch c.Credentials.Backend {
	case BackendFile, BackendSQLite, BackendKeychain, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.backend %q", c.Credentials.Backend))
	}

	for name, d := range map[string]time.Duration{
		"refresh_skew":     c.RefreshSkew.Duration,
		"pending_auth_ttl": c.PendingAuthTTL.Duration,
		"request_timeout":  c.RequestTimeout.Duration,
		"revert_delay":     c.RevertDelay.Duration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.BackgroundRefresh.Duration < 0 {
		errs = append(errs, fmt.Errorf("background_refresh must not be negative, got %s", c.BackgroundRefresh.Duration))
	}
	if c.APIRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("api_rate_limit must be positive, got %v", c.APIRateLimit))
	}
	if c.APIBurst <= 0 {
		errs = append(errs, fmt.Errorf("api_burst must be positive, got %d", c.APIBurst))
	}
	if c.CallbackAddr != "" {
		if _, _, err := net.SplitHostPort(c.CallbackAddr); err != nil {
			errs = append(errs, fmt.Errorf("callback_addr %q: %w", c.CallbackAddr, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// ListenAddr is the callback listener address: callback_addr if set,
// otherwise the host and port of redirect_uri.
func (c *Config) ListenAddr() string {
	if c.CallbackAddr != "" {
		return c.CallbackAddr
	}
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Host == "" {
		return "127.0.0.1:8080"
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return u.Host
}

// CallbackPath is the path component of redirect_uri.
func (c *Config) CallbackPath() string {
	u, err := url.Parse(c.RedirectURI)
	if err != nil || u.Path == "" {
		return "/callback"
	}
	return u.Path
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setDuration(dst *Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: invalid number %q", envPrefix, key, v)
	}
	*dst = f
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, v)
	}
	*dst = n
	return nil
}

// splitList accepts comma or whitespace separated values.
func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
