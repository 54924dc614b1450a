package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultPendingTTL bounds how long a started login may wait for its callback.
const DefaultPendingTTL = 10 * time.Minute

// PendingAuthorization is an in-flight PKCE handshake.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	CreatedAt    time.Time
}

// AuthorizationRequest is what the user has to open in a browser.
type AuthorizationRequest struct {
	URL   string
	State string
}

// AuthURLBuilder renders the provider's authorize URL for a state and verifier.
type AuthURLBuilder interface {
	AuthCodeURL(state, codeVerifier string) string
}

// PKCE issues state/verifier pairs and remembers them until they are
// consumed or expire.
type PKCE struct {
	urls AuthURLBuilder
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]PendingAuthorization
}

func NewPKCE(urls AuthURLBuilder, ttl time.Duration) *PKCE {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PKCE{
		urls:    urls,
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]PendingAuthorization),
	}
}

// Begin creates a new pending authorization and returns its authorize URL.
func (p *PKCE) Begin() (*AuthorizationRequest, error) {
	state, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked()
	if _, exists := p.pending[state]; exists {
		return nil, fmt.Errorf("state collision")
	}
	p.pending[state] = PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    p.now(),
	}

	return &AuthorizationRequest{
		URL:   p.urls.AuthCodeURL(state, verifier),
		State: state,
	}, nil
}

// Take removes and returns the pending authorization for state. It reports
// false if the state is unknown or older than the TTL.
func (p *PKCE) Take(state string) (PendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked()
	pa, ok := p.pending[state]
	if !ok {
		return PendingAuthorization{}, false
	}
	delete(p.pending, state)
	return pa, true
}

// Pending returns the number of live pending authorizations.
func (p *PKCE) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.pending)
}

func (p *PKCE) pruneLocked() {
	now := p.now()
	for state, pa := range p.pending {
		if !now.Before(pa.CreatedAt.Add(p.ttl)) {
			delete(p.pending, state)
		}
	}
}

// randomToken returns 32 bytes from crypto/rand as unpadded base64url
// (43 characters from the unreserved set).
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
