package credentials

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Credential is an authenticated Kick session.
type Credential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// UsableAt reports whether the access token can still be used at now
// without entering the refresh window.
func (c *Credential) UsableAt(now time.Time, skew time.Duration) bool {
	if c == nil || strings.TrimSpace(c.AccessToken) == "" {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-skew))
}

// Store is durable per-installation storage for a single Credential.
// Load returns (nil, nil) when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Clear(ctx context.Context) error
}

// ErrNilCredential is returned by Save when given nil.
var ErrNilCredential = errors.New("credential is required")

func validate(cred *Credential) error {
	if cred == nil {
		return ErrNilCredential
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return errors.New("credential is missing an access token")
	}
	return nil
}
