// Package callback receives the identity provider's redirect on a loopback
// listener and hands (code, state) to the token lifecycle manager.
package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/kickclip/internal/auth"
)

const (
	DefaultAddr = "127.0.0.1:8080"
	DefaultPath = "/callback"

	exchangeTimeout = 15 * time.Second
)

var (
	// ErrProviderDenied is reported when the provider redirects with an
	// error instead of a code.
	ErrProviderDenied = errors.New("authorization denied by provider")
	// ErrMissingCode is reported when the redirect carries no code.
	ErrMissingCode = errors.New("no authorization code received")
)

// Handler completes an authorization.
type Handler interface {
	OnCallback(ctx context.Context, code, state string) error
}

// Server is a loopback HTTP listener for the OAuth redirect. It stays up
// across logins; Start is a no-op while it is running.
type Server struct {
	addr    string
	path    string
	handler Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	results  chan error
}

func NewServer(addr, path string, handler Handler, logger zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if path == "" {
		path = DefaultPath
	}
	return &Server{
		addr:    addr,
		path:    path,
		handler: handler,
		logger:  logger.With().Str("component", "callback").Logger(),
		results: make(chan error, 1),
	}
}

// Start begins listening if not already listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: exchangeTimeout + 5*time.Second,
	}
	s.server = srv
	s.listener = listener

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Callback listener stopped")
		}
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Str("path", s.path).Msg("🔗 Callback listener started")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Results delivers the outcome of each callback: nil on success. Only the
// most recent unread outcome is kept.
func (s *Server) Results() <-chan error {
	return s.results
}

// Wait blocks for the next callback outcome.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case err := <-s.results:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for authorization callback: %w", ctx.Err())
	}
}

// Stop shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	return err
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		s.logger.Warn().Str("error", errParam).Str("description", desc).Msg("⚠️  Provider returned an error")
		s.publish(fmt.Errorf("%w: %s %s", ErrProviderDenied, errParam, desc))
		writePage(w, http.StatusBadRequest, "Authorization failed", desc)
		return
	}

	code := q.Get("code")
	if code == "" {
		s.publish(ErrMissingCode)
		writePage(w, http.StatusBadRequest, "Authorization failed", "No authorization code was received.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	err := s.handler.OnCallback(ctx, code, q.Get("state"))
	s.publish(err)
	switch {
	case err == nil:
		writePage(w, http.StatusOK, "Connected to Kick", "You can close this window and return to your Stream Deck.")
	case errors.Is(err, auth.ErrInvalidState):
		writePage(w, http.StatusBadRequest, "Authorization expired", "This login link is no longer valid. Start the login again.")
	default:
		s.logger.Error().Err(err).Msg("❌ Failed to complete authorization")
		writePage(w, http.StatusBadGateway, "Authorization failed", "The token exchange with Kick failed. Check the plugin log for details.")
	}
}

func (s *Server) publish(err error) {
	for {
		select {
		case s.results <- err:
			return
		default:
		}
		// Drop the stale outcome so the latest one wins.
		select {
		case <-s.results:
		default:
		}
	}
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, pageTemplate, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Kick Clip - %s</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #0b0e0f; }
        .container { text-align: center; background: #191b1f; padding: 48px 64px; border-radius: 16px; }
        h1 { color: #53fc18; margin: 0 0 8px 0; font-size: 24px; font-weight: 600; }
        p { color: #c9cdd3; margin: 0; font-size: 16px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>`

// OpenBrowser opens url in the default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
