package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/forge"
)

// State is the lifecycle position of a Session.
type State string

// Session states.
const (
	StateUnauthenticated State = "unauthenticated"
	StatePending         State = "pending"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
	StateDenied          State = "denied"
)

const (
	defaultInterval = 5 * time.Second
	slowDownStep    = 5 * time.Second
)

// PlatformFactory builds a platform bound to an
// authenticated HTTP client.
type PlatformFactory func(
	client *http.Client,
	token string,
) (forge.Platform, error)

// Config holds the settings of a Session.
type Config struct {
	// ClientID is the OAuth application id. Start fails
	// with errs.ErrConfiguration when it is empty.
	ClientID string
	// Scopes requested with the device code.
	Scopes []string
	// Endpoint must carry DeviceAuthURL and TokenURL.
	Endpoint oauth2.Endpoint
	// HTTPClient is the base client for the exchange and
	// the bound API client. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	// Clock defaults to RealClock.
	Clock Clock
	// NewPlatform resolves the identity once a token is
	// granted. Required.
	NewPlatform PlatformFactory
}

// Session is one credential session. It is safe for
// concurrent use; the lock is never held while waiting
// between polls.
type Session struct {
	cfg   Config
	oauth *oauth2.Config

	mu       sync.Mutex
	state    State
	grant    *DeviceGrant
	interval time.Duration
	token    string
	identity forge.Identity
	platform forge.Platform
	client   *http.Client
	err      error
}

// NewSession validates cfg and returns an unauthenticated
// Session.
func NewSession(cfg Config) (*Session, error) {
	const errCtx = "creating session"

	if cfg.NewPlatform == nil {
		return nil, fmt.Errorf(
			"%s: platform factory must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}

	return &Session{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: cfg.Endpoint,
			Scopes:   cfg.Scopes,
		},
		state: StateUnauthenticated,
	}, nil
}

// baseContext carries the configured HTTP client for
// golang.org/x/oauth2.
func (s *Session) baseContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
}

// Start requests a device code and moves the session to
// pending. A pending session returns its current grant.
// Any other state starts over and drops the previous
// token.
func (s *Session) Start(ctx context.Context) (*DeviceGrant, error) {
	const errCtx = "starting device flow"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePending && s.grant != nil {
		g := *s.grant

		return &g, nil
	}

	if s.cfg.ClientID == "" {
		return nil, fmt.Errorf(
			"%s: client id must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	s.reset(StateUnauthenticated, nil)

	resp, err := s.oauth.DeviceAuth(s.baseContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, rejection(err))
	}

	if resp.DeviceCode == "" {
		return nil, fmt.Errorf("%s: %w", errCtx, &errs.UpstreamError{
			Message: "device authorization returned no device code",
		})
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	var expiresAt time.Time
	if !resp.Expiry.IsZero() {
		expiresAt = s.cfg.Clock.Now().Add(time.Until(resp.Expiry))
	}

	s.grant = &DeviceGrant{
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		ExpiresAt:       expiresAt,
		Interval:        interval,
		deviceCode:      resp.DeviceCode,
	}
	s.interval = interval
	s.state = StatePending

	slog.Info(
		"device flow started",
		"verification_uri", resp.VerificationURI,
		"expires_at", expiresAt,
		"interval", interval,
	)

	g := *s.grant

	return &g, nil
}

// Step performs one token exchange and applies the
// resulting transition. It returns the new state and, for
// terminal failures, an error matching one of
// errs.ErrExpired, errs.ErrDenied or errs.ErrUpstream.
func (s *Session) Step(ctx context.Context) (State, error) {
	const errCtx = "polling device flow"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return s.state, fmt.Errorf(
			"%s: session is %s", errCtx, s.state,
		)
	}

	tr, err := exchange(
		ctx,
		s.cfg.HTTPClient,
		s.cfg.Endpoint.TokenURL,
		s.cfg.ClientID,
		s.grant.deviceCode,
	)
	if err != nil {
		return s.fail(StateUnauthenticated, err)
	}

	switch tr.Error {
	case "":
		return s.complete(ctx, tr.AccessToken)

	case codePending:
		slog.Debug("authorization pending")

		return s.state, nil

	case codeSlowDown:
		s.interval += slowDownStep
		s.grant.Interval = s.interval

		slog.Info("slowing down poll", "interval", s.interval)

		return s.state, nil

	case codeExpired:
		return s.fail(StateExpired, fmt.Errorf(
			"%s: device code expired: %w", errCtx, errs.ErrExpired,
		))

	case codeDenied:
		return s.fail(StateDenied, fmt.Errorf(
			"%s: %w", errCtx, errs.ErrDenied,
		))

	default:
		return s.fail(StateUnauthenticated, fmt.Errorf(
			"%s: %w", errCtx, &errs.UpstreamError{
				Code:    tr.Error,
				Message: tr.ErrorDescription,
			},
		))
	}
}

// complete binds the token, resolves the identity and moves
// to authenticated. Identity failure leaves the session
// unauthenticated.
func (s *Session) complete(
	ctx context.Context,
	token string,
) (State, error) {
	const errCtx = "completing device flow"

	client := oauth2.NewClient(
		s.baseContext(context.Background()),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	)

	platform, err := s.cfg.NewPlatform(client, token)
	if err != nil {
		return s.fail(StateUnauthenticated, fmt.Errorf(
			"%s: %w", errCtx, err,
		))
	}

	id, err := platform.Identity(ctx)
	if err != nil {
		return s.fail(StateUnauthenticated, fmt.Errorf(
			"%s: resolving identity: %w", errCtx, err,
		))
	}

	s.grant = nil
	s.state = StateAuthenticated
	s.token = token
	s.client = client
	s.platform = platform
	s.identity = id
	s.err = nil

	slog.Info("authenticated", "login", id.Login)

	return s.state, nil
}

// fail moves to state, drops every credential and records
// err.
func (s *Session) fail(state State, err error) (State, error) {
	s.reset(state, err)

	slog.Warn("device flow ended", "state", state, "error", err)

	return state, err
}

func (s *Session) reset(state State, err error) {
	s.state = state
	s.grant = nil
	s.token = ""
	s.client = nil
	s.platform = nil
	s.identity = forge.Identity{}
	s.err = err
}

// Poll drives Step until the session leaves pending. Each
// attempt waits for the current interval first. When
// timeout is positive the session expires with
// errs.ErrTimeout once it has elapsed; the device code
// expiry always applies.
func (s *Session) Poll(
	ctx context.Context,
	timeout time.Duration,
) (State, error) {
	const errCtx = "polling device flow"

	clock := s.cfg.Clock

	var deadline time.Time
	if timeout > 0 {
		deadline = clock.Now().Add(timeout)
	}

	for {
		s.mu.Lock()
		state, interval, err := s.state, s.interval, s.err

		var expiresAt time.Time
		if s.grant != nil {
			expiresAt = s.grant.ExpiresAt
		}
		s.mu.Unlock()

		if state != StatePending {
			return state, err
		}

		select {
		case <-ctx.Done():
			return state, fmt.Errorf("%s: %w", errCtx, ctx.Err())
		case <-clock.After(interval):
		}

		now := clock.Now()

		if !deadline.IsZero() && !now.Before(deadline) {
			return s.expire(fmt.Errorf(
				"%s: no authorization within %s: %w",
				errCtx, timeout, errs.ErrTimeout,
			))
		}

		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			return s.expire(fmt.Errorf(
				"%s: device code expired: %w",
				errCtx, errs.ErrExpired,
			))
		}

		state, err = s.Step(ctx)
		if err != nil || state != StatePending {
			return state, err
		}
	}
}

func (s *Session) expire(err error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return s.state, s.err
	}

	return s.fail(StateExpired, err)
}

// Authenticate returns immediately for an authenticated
// session. Otherwise it starts the flow, hands the grant
// to onGrant (may be nil) and polls until a terminal state.
func (s *Session) Authenticate(
	ctx context.Context,
	timeout time.Duration,
	onGrant func(*DeviceGrant),
) error {
	const errCtx = "authenticating"

	if s.State() == StateAuthenticated {
		return nil
	}

	grant, err := s.Start(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if onGrant != nil {
		onGrant(grant)
	}

	state, err := s.Poll(ctx, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if state != StateAuthenticated {
		return fmt.Errorf(
			"%s: session is %s: %w",
			errCtx, state, errs.ErrNotAuthenticated,
		)
	}

	return nil
}

// Invalidate drops the token and identity. The session
// returns to unauthenticated.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset(StateUnauthenticated, nil)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the reason of the last terminal failure, nil
// otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Grant returns a copy of the pending grant, nil unless
// pending.
func (s *Session) Grant() *DeviceGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grant == nil {
		return nil
	}

	g := *s.grant

	return &g
}

// Interval returns the current poll interval.
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// AccessToken returns the token while authenticated,
// empty string otherwise.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.token
}

// Identity returns the resolved actor while authenticated.
func (s *Session) Identity() (forge.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return forge.Identity{}, errs.ErrNotAuthenticated
	}

	return s.identity, nil
}

// Platform returns the platform bound to the token while
// authenticated.
func (s *Session) Platform() (forge.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated {
		return nil, errs.ErrNotAuthenticated
	}

	return s.platform, nil
}

// HTTPClient returns a client that authenticates requests
// with the session token, nil unless authenticated.
func (s *Session) HTTPClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client
}
