package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/locator"
	"github.com/byte4ever/repogate/gateway/pipeline"
)

const (
	maxBodySize       = 10 << 20
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second

	// DefaultTerminalRetention is how long a failed session
	// stays queryable when nobody asks for its status.
	DefaultTerminalRetention = 5 * time.Minute
)

// Config holds the settings of a Server.
type Config struct {
	// NewSession creates an unauthenticated credential
	// session. Required.
	NewSession func() (*auth.Session, error)
	// Provisioner creates working copies. Required.
	Provisioner pipeline.Provisioner
	// Host is the platform hostname repositories live on.
	Host string
	// AuthTimeout bounds background polling.
	AuthTimeout time.Duration
	// WebhookSecret verifies webhook signatures. Webhooks
	// are refused when empty.
	WebhookSecret string
	// TerminalRetention bounds how long an expired or
	// denied session is kept. Defaults to
	// DefaultTerminalRetention.
	TerminalRetention time.Duration
}

// entry is one registered session.
type entry struct {
	id       string
	key      string
	ref      locator.Reference
	session  *auth.Session
	pipeline *pipeline.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
}

// Server is the HTTP front of the gateway.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*entry
	keys     map[string]string
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	const errCtx = "creating server"

	if cfg.NewSession == nil || cfg.Provisioner == nil {
		return nil, fmt.Errorf(
			"%s: session factory and provisioner must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	if cfg.Host == "" {
		cfg.Host = "github.com"
	}

	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = pipeline.DefaultAuthTimeout
	}

	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = DefaultTerminalRetention
	}

	return &Server{
		cfg:      cfg,
		sessions: make(map[string]*entry),
		keys:     make(map[string]string),
	}, nil
}

// Handler returns the routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/start", s.handleStart)
	mux.HandleFunc("GET /auth/status/{id}", s.handleStatus)
	mux.HandleFunc("POST /commands/execute", s.handleExecute)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts
// down gracefully and releases every session.
func (s *Server) Serve(ctx context.Context, addr string) error {
	const errCtx = "serving"

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("listening", "addr", addr)

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()

		return fmt.Errorf("%s: %w", errCtx, err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx), shutdownTimeout,
	)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	s.Close()

	if err != nil {
		return fmt.Errorf("%s: shutdown: %w", errCtx, err)
	}

	return nil
}

// Close stops every poller and removes every working copy.
func (s *Server) Close() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))

	for _, e := range s.sessions {
		entries = append(entries, e)
	}

	s.sessions = make(map[string]*entry)
	s.keys = make(map[string]string)
	s.mu.Unlock()

	for _, e := range entries {
		s.release(e)
	}
}

// release stops the poller of e and drops its resources.
func (s *Server) release(e *entry) {
	e.cancel()
	<-e.done
	e.session.Invalidate()
	e.pipeline.Close()

	slog.Info("session released", "session_id", e.id)
}

func (s *Server) lookup(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]

	return e, ok
}

// startSession creates and registers a session, starts the
// device flow and launches its poller.
func (s *Server) startSession(
	ctx context.Context,
	key string,
	ref locator.Reference,
) (*entry, *auth.DeviceGrant, error) {
	const errCtx = "starting session"

	session, err := s.cfg.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	grant, err := session.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	pl, err := pipeline.New(pipeline.Config{
		Session:     session,
		Provisioner: s.cfg.Provisioner,
		Repository:  &ref,
		Host:        s.cfg.Host,
		AuthTimeout: s.cfg.AuthTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	e := &entry{
		id:       uuid.NewString(),
		key:      key,
		ref:      ref,
		session:  session,
		pipeline: pl,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(e.done)

		state, err := session.Poll(pollCtx, s.cfg.AuthTimeout)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn(
				"session polling ended",
				"session_id", e.id,
				"state", state,
				"error", err,
			)
		}

		if isTerminal(state) && !errors.Is(err, context.Canceled) {
			time.AfterFunc(s.cfg.TerminalRetention, func() {
				s.reap(e.id)
			})

			return
		}

		slog.Info("session polling ended", "session_id", e.id, "state", state)
	}()

	s.mu.Lock()
	previous := s.sessions[s.keys[key]]
	s.sessions[e.id] = e
	s.keys[key] = e.id
	if previous != nil {
		delete(s.sessions, previous.id)
	}
	s.mu.Unlock()

	if previous != nil {
		go s.release(previous)
	}

	slog.Info(
		"session started",
		"session_id", e.id,
		"repository", ref.FullName,
	)

	return e, grant, nil
}

// existing returns the reusable session registered for key:
// authenticated or still pending.
func (s *Server) existing(key string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[s.keys[key]]
	if !ok {
		return nil, false
	}

	switch e.session.State() {
	case auth.StateAuthenticated, auth.StatePending:
		return e, true
	default:
		return nil, false
	}
}

// isTerminal reports whether a session can no longer
// become authenticated without a new start.
func isTerminal(state auth.State) bool {
	switch state {
	case auth.StateExpired, auth.StateDenied, auth.StateUnauthenticated:
		return true
	default:
		return false
	}
}

// reap drops the session id when it is still registered.
func (s *Server) reap(id string) {
	e, ok := s.remove(id)
	if !ok {
		return
	}

	slog.Info("reaping session", "session_id", id, "state", e.session.State())

	s.release(e)
}

func (s *Server) remove(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}

	delete(s.sessions, id)

	if s.keys[e.key] == id {
		delete(s.keys, e.key)
	}

	return e, true
}

func (s *Server) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
