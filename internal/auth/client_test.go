package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*OAuthClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewOAuthClient(OAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURI:  "http://127.0.0.1:8080/callback",
		AuthBaseURL:  srv.URL + "/oauth",
		Timeout:      2 * time.Second,
	})
	return client, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestExchangeCodePostsPKCEForm(t *testing.T) {
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))
		assert.Equal(t, "client-123", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-456", r.PostForm.Get("client_secret"))
		assert.Equal(t, "http://127.0.0.1:8080/callback", r.PostForm.Get("redirect_uri"))
		writeJSON(w, http.StatusOK, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"Bearer","scope":"user:read"}`)
	})

	before := time.Now()
	cred, err := client.ExchangeCode(context.Background(), "the-code", "the-verifier")
	after := time.Now()
	require.NoError(t, err)

	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.Equal(t, "user:read", cred.Scope)
	assert.False(t, cred.ExpiresAt.Before(before.Add(time.Hour)))
	assert.False(t, cred.ExpiresAt.After(after.Add(time.Hour)))
}

func TestExchangeCodeNon2xx(t *testing.T) {
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	})

	_, err := client.ExchangeCode(context.Background(), "bad", "verifier")
	var exErr *AuthExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, http.StatusBadRequest, exErr.StatusCode)
	assert.Contains(t, exErr.Body, "invalid_grant")
}

func TestRefreshRotatesCredential(t *testing.T) {
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-123", r.PostForm.Get("client_id"))
		writeJSON(w, http.StatusOK, `{"access_token":"at-new","refresh_token":"rt-new","expires_in":7200,"token_type":"Bearer"}`)
	})

	cred, err := client.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", cred.AccessToken)
	assert.Equal(t, "rt-new", cred.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), cred.ExpiresAt, 5*time.Second)
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"access_token":"at-new","expires_in":60}`)
	})

	cred, err := client.Refresh(context.Background(), "rt-keep")
	require.NoError(t, err)
	assert.Equal(t, "rt-keep", cred.RefreshToken)
}

func TestRefreshRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, `{"error":"invalid_grant"}`)
		})

		_, err := client.Refresh(context.Background(), "rt")
		var refreshErr *AuthRefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Equal(t, status, refreshErr.StatusCode)
		assert.True(t, refreshErr.Rejected())
	}
}

func TestRefreshServerErrorIsNotRejection(t *testing.T) {
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	})

	_, err := client.Refresh(context.Background(), "rt")
	var refreshErr *AuthRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.False(t, refreshErr.Rejected())
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	client, srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.ExchangeCode(context.Background(), "code", "verifier")
	assert.True(t, errors.Is(err, ErrNetwork), "got %v", err)

	_, err = client.Refresh(context.Background(), "rt")
	assert.True(t, errors.Is(err, ErrNetwork), "got %v", err)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	client, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Refresh(ctx, "rt")
	assert.ErrorIs(t, err, ErrNetwork)
}
