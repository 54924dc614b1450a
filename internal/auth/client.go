package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dvcrn/kickclip/internal/credentials"
)

const (
	// DefaultAuthBaseURL is Kick's identity provider.
	DefaultAuthBaseURL = "https://id.kick.com/oauth"
	// DefaultRedirectURI is where the local callback listener waits.
	DefaultRedirectURI = "http://127.0.0.1:8080/callback"
	// DefaultTokenLifetime is assumed when the provider omits expires_in.
	DefaultTokenLifetime = time.Hour
)

// DefaultScopes are the scopes needed to read the channel, create clips and chat.
var DefaultScopes = []string{"user:read", "channel:read", "chat:write", "clips:write"}

// OAuthConfig describes the registered Kick application.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthBaseURL  string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OAuthClient talks to the identity provider's token endpoint.
type OAuthClient struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.AuthBaseURL), "/")
	if base == "" {
		base = DefaultAuthBaseURL
	}
	redirect := cfg.RedirectURI
	if redirect == "" {
		redirect = DefaultRedirectURI
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the browser URL for an S256 PKCE authorization request.
func (c *OAuthClient) AuthCodeURL(state, codeVerifier string) string {
	return c.config.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

// ExchangeCode trades an authorization code and its verifier for a credential.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*credentials.Credential, error) {
	tok, err := c.config.Exchange(c.withClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return nil, &AuthExchangeError{
				StatusCode: rErr.Response.StatusCode,
				Body:       strings.TrimSpace(string(rErr.Body)),
			}
		}
		return nil, fmt.Errorf("%w: code exchange: %w", ErrNetwork, err)
	}
	return credentialFromToken(tok), nil
}

// Refresh trades a refresh token for a rotated credential. If the provider
// does not rotate the refresh token the old one is kept.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*credentials.Credential, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	src := c.config.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			return nil, &AuthRefreshError{StatusCode: rErr.Response.StatusCode}
		}
		return nil, fmt.Errorf("%w: refresh: %w", ErrNetwork, err)
	}

	cred := credentialFromToken(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

func (c *OAuthClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// credentialFromToken keeps the expiry x/oauth2 derived from expires_in at
// the moment the response was received.
func credentialFromToken(tok *oauth2.Token) *credentials.Credential {
	cred := &credentials.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = time.Now().Add(DefaultTokenLifetime)
	}
	return cred
}
