package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/locator"
	"github.com/byte4ever/repogate/gateway/pipeline"
)

// StartRequest opens a session for one user on one
// repository.
type StartRequest struct {
	UserID string `json:"user_id"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// StartResponse carries the session id and, while pending,
// the code the user must enter.
type StartResponse struct {
	SessionID       string     `json:"session_id"`
	State           auth.State `json:"state"`
	UserCode        string     `json:"user_code,omitempty"`
	VerificationURI string     `json:"verification_uri,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// StatusResponse describes a session.
type StatusResponse struct {
	SessionID  string            `json:"session_id"`
	State      auth.State        `json:"state"`
	Repository locator.Reference `json:"repository"`
	Error      string            `json:"error,omitempty"`
	Pipeline   *pipeline.Status  `json:"pipeline,omitempty"`
}

// ExecuteRequest submits a command batch to a session.
type ExecuteRequest struct {
	SessionID string            `json:"session_id"`
	Commands  []command.Command `json:"commands"`
}

// LogoutRequest drops a session.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("cannot write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(
		io.LimitReader(r.Body, maxBodySize),
	).Decode(v); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}

	return nil
}

// statusFor maps an error to the HTTP status reported to
// the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotAuthenticated),
		errors.Is(err, errs.ErrExpired),
		errors.Is(err, errs.ErrDenied),
		errors.Is(err, errs.ErrTimeout):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.count(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if req.UserID == "" || req.Owner == "" || req.Repo == "" {
		writeError(w, http.StatusBadRequest, errors.New(
			"user_id, owner and repo are required",
		))

		return
	}

	key := req.UserID + "/" + req.Owner + "/" + req.Repo

	if e, ok := s.existing(key); ok {
		writeJSON(w, http.StatusOK, startResponse(e, e.session.Grant()))

		return
	}

	ref := locator.NewReference(s.cfg.Host, req.Owner, req.Repo)

	e, grant, err := s.startSession(r.Context(), key, ref)
	if err != nil {
		slog.Error("cannot start session", "key", key, "error", err)
		writeError(w, statusFor(err), err)

		return
	}

	writeJSON(w, http.StatusOK, startResponse(e, grant))
}

func startResponse(e *entry, grant *auth.DeviceGrant) StartResponse {
	resp := StartResponse{
		SessionID: e.id,
		State:     e.session.State(),
	}

	if resp.State == auth.StateAuthenticated {
		resp.Message = "already authenticated"

		return resp
	}

	if grant != nil {
		expires := grant.ExpiresAt
		resp.UserCode = grant.UserCode
		resp.VerificationURI = grant.VerificationURI
		resp.ExpiresAt = &expires
		resp.Message = grant.Prompt(time.Now())
	}

	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	e, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf(
			"session %q: %w", id, errs.ErrNotFound,
		))

		return
	}

	resp := StatusResponse{
		SessionID:  e.id,
		State:      e.session.State(),
		Repository: e.ref,
	}

	if err := e.session.Err(); err != nil {
		resp.Error = err.Error()
	}

	// A failed session is reported once, then dropped.
	if isTerminal(resp.State) {
		writeJSON(w, http.StatusOK, resp)
		go s.reap(e.id)

		return
	}

	st, err := e.pipeline.Status(r.Context())
	if err != nil {
		slog.Warn("cannot read pipeline status", "session_id", e.id, "error", err)
	} else {
		resp.Pipeline = st
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	e, ok := s.lookup(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf(
			"session %q: %w", req.SessionID, errs.ErrNotFound,
		))

		return
	}

	// The pipeline would otherwise start a fresh device
	// flow and block the request on it.
	if state := e.session.State(); state != auth.StateAuthenticated {
		writeError(w, http.StatusUnauthorized, fmt.Errorf(
			"session is %s: %w", state, errs.ErrNotAuthenticated,
		))

		return
	}

	res := e.pipeline.Run(r.Context(), req.Commands)

	switch {
	case res.IsValidation():
		writeJSON(w, http.StatusBadRequest, res)
	case res.NotReady():
		writeJSON(w, statusFor(res.Err), res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret == "" {
		writeError(w, http.StatusForbidden, errors.New(
			"webhook secret not configured",
		))

		return
	}

	body, err := gh.ValidatePayload(r, []byte(s.cfg.WebhookSecret))
	if err != nil {
		slog.Warn("rejecting webhook", "error", err)
		writeError(w, http.StatusForbidden, errors.New("invalid signature"))

		return
	}

	kind := gh.WebHookType(r)

	event, err := gh.ParseWebHook(kind, body)
	if err != nil {
		slog.Info("ignoring webhook", "event", kind, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"event":  kind,
		})

		return
	}

	switch ev := event.(type) {
	case *gh.InstallationEvent:
		slog.Info(
			"installation event",
			"action", ev.GetAction(),
			"account", ev.GetInstallation().GetAccount().GetLogin(),
			"repositories", len(ev.Repositories),
		)

	case *gh.InstallationRepositoriesEvent:
		slog.Info(
			"installation repositories event",
			"action", ev.GetAction(),
			"account", ev.GetInstallation().GetAccount().GetLogin(),
			"added", len(ev.RepositoriesAdded),
			"removed", len(ev.RepositoriesRemoved),
		)

	case *gh.PingEvent:
		slog.Info("ping event", "zen", ev.GetZen())

	default:
		slog.Debug("unhandled webhook", "event", kind)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "received",
		"event":  kind,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	e, ok := s.remove(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf(
			"session %q: %w", req.SessionID, errs.ErrNotFound,
		))

		return
	}

	s.release(e)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "logged out",
		"session_id": e.id,
	})
}
