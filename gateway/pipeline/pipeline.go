package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/byte4ever/repogate/gateway/auth"
	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/fileops"
	"github.com/byte4ever/repogate/gateway/forge"
	"github.com/byte4ever/repogate/gateway/git"
	"github.com/byte4ever/repogate/gateway/locator"
	"github.com/byte4ever/repogate/gateway/workcopy"
)

// DefaultAuthTimeout bounds the wait for the user to
// approve a device code.
const DefaultAuthTimeout = 5 * time.Minute

// Session is the credential session a Pipeline runs under.
// *auth.Session implements it.
type Session interface {
	Authenticate(
		ctx context.Context,
		timeout time.Duration,
		onGrant func(*auth.DeviceGrant),
	) error
	State() auth.State
	AccessToken() string
	Identity() (forge.Identity, error)
	Platform() (forge.Platform, error)
}

// Provisioner creates working copies. *workcopy.Provisioner
// implements it.
type Provisioner interface {
	Provision(
		ctx context.Context,
		req workcopy.Request,
	) (*workcopy.WorkingCopy, error)
}

// GitOps is the git operation adapter. *git.Repo implements
// it.
type GitOps interface {
	Commit(
		ctx context.Context,
		message string,
		fallback git.Identity,
	) (*git.CommitResult, error)
	Push(
		ctx context.Context,
		branch string,
		token string,
	) (*git.PushResult, error)
	Pull(ctx context.Context, token string) (string, error)
	CreateBranch(ctx context.Context, name string) error
	SwitchBranch(ctx context.Context, name, token string) error
	Status(ctx context.Context) (*git.Status, error)
}

// FileOps is the file operation adapter. *fileops.Manager
// implements it.
type FileOps interface {
	Create(p, encoded string) (*fileops.FileInfo, error)
	Read(p string) (*fileops.FileContent, error)
	Modify(p, encoded string, appendMode bool) (*fileops.FileInfo, error)
	Delete(p string) (*fileops.Deleted, error)
	Search(mode command.SearchMode, query string) ([]fileops.Match, error)
}

// Config holds all settings of a Pipeline.
type Config struct {
	// Session authenticates the actor. Required.
	Session Session

	// Provisioner creates the working copy. Required.
	Provisioner Provisioner

	// Repository is the target repository. When nil it is
	// detected from WorkspacePath.
	Repository *locator.Reference

	// WorkspacePath is where detection starts.
	WorkspacePath string

	// Host is the hosting platform hostname
	// (e.g. "github.com").
	Host string

	// AuthTimeout bounds device flow polling. Defaults
	// to DefaultAuthTimeout.
	AuthTimeout time.Duration

	// OnDeviceCode receives the grant the user must
	// approve.
	OnDeviceCode func(*auth.DeviceGrant)

	// NewGitOps overrides the git adapter built for a
	// working copy.
	NewGitOps func(*workcopy.WorkingCopy) GitOps

	// NewFileOps overrides the file adapter built for a
	// working copy.
	NewFileOps func(*workcopy.WorkingCopy) (FileOps, error)
}

// Pipeline runs command batches. Runs are serialised; the
// working copy is provisioned on the first run and reused
// until Close.
type Pipeline struct {
	cfg Config

	mu    sync.Mutex
	wc    *workcopy.WorkingCopy
	git   GitOps
	files FileOps
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	const errCtx = "creating pipeline"

	if cfg.Session == nil {
		return nil, fmt.Errorf(
			"%s: session must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	if cfg.Provisioner == nil {
		return nil, fmt.Errorf(
			"%s: provisioner must be set: %w",
			errCtx, errs.ErrConfiguration,
		)
	}

	if cfg.Host == "" {
		cfg.Host = "github.com"
	}

	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}

	if cfg.NewGitOps == nil {
		cfg.NewGitOps = func(wc *workcopy.WorkingCopy) GitOps {
			return wc.Repo
		}
	}

	if cfg.NewFileOps == nil {
		cfg.NewFileOps = func(wc *workcopy.WorkingCopy) (FileOps, error) {
			return fileops.NewManager(wc.Path)
		}
	}

	return &Pipeline{cfg: cfg}, nil
}

// Run validates cmds, ensures readiness and executes the
// commands in ascending step order, stopping at the first
// failure. A malformed batch is rejected before any side
// effect.
func (p *Pipeline) Run(
	ctx context.Context,
	cmds []command.Command,
) *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &Result{
		Results: []StepResult{},
		Total:   len(cmds),
	}

	if err := command.ValidateBatch(cmds); err != nil {
		slog.Warn("rejecting batch", "error", err)

		res.Message = err.Error()
		res.Err = err

		return res
	}

	sorted := command.Sorted(cmds)

	ops := make([]command.Op, len(sorted))
	for i, c := range sorted {
		op, err := command.Parse(c)
		if err != nil {
			res.Message = err.Error()
			res.Err = fmt.Errorf("%w: %w", errs.ErrValidation, err)

			return res
		}

		ops[i] = op
	}

	if err := p.ready(ctx); err != nil {
		slog.Error("pipeline not ready", "error", err)

		res.Results = append(res.Results, StepResult{
			Step:    0,
			Success: false,
			Message: "pipeline not ready",
			Error:   err.Error(),
		})
		res.Failed = 1
		res.Message = "pipeline not ready: " + err.Error()
		res.Err = err
		res.notReady = true

		return res
	}

	p.describe(res)

	for i, op := range ops {
		sr := p.dispatch(ctx, op)
		sr.Step = sorted[i].Step
		sr.Kind = op.Kind()

		res.Results = append(res.Results, sr)

		if !sr.Success {
			res.Failed++
			res.Message = fmt.Sprintf(
				"step %d (%s) failed: %s", sr.Step, sr.Kind, sr.Error,
			)
			res.Err = fmt.Errorf(
				"step %d (%s): %s", sr.Step, sr.Kind, sr.Error,
			)

			slog.Warn(
				"stopping batch",
				"step", sr.Step,
				"kind", sr.Kind,
				"error", sr.Error,
			)

			return res
		}

		res.Successful++
	}

	res.Success = true
	res.Message = fmt.Sprintf(
		"all %d commands executed successfully", res.Total,
	)

	return res
}

// describe copies the actor and repository into res.
func (p *Pipeline) describe(res *Result) {
	if id, err := p.cfg.Session.Identity(); err == nil {
		res.Identity = &id
	}

	if p.wc != nil {
		ref := p.wc.Reference
		perms := p.wc.Permissions
		res.Repository = &ref
		res.Permissions = &perms
	}
}

// ready authenticates the session and provisions the
// working copy when missing.
func (p *Pipeline) ready(ctx context.Context) error {
	const errCtx = "preparing pipeline"

	if err := p.cfg.Session.Authenticate(
		ctx, p.cfg.AuthTimeout, p.cfg.OnDeviceCode,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if p.wc != nil {
		return nil
	}

	ref, err := p.repository(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	id, err := p.cfg.Session.Identity()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	platform, err := p.cfg.Session.Platform()
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	wc, err := p.cfg.Provisioner.Provision(ctx, workcopy.Request{
		Token:     p.cfg.Session.AccessToken(),
		Identity:  id,
		Reference: ref,
		Platform:  platform,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	files, err := p.cfg.NewFileOps(wc)
	if err != nil {
		p.cleanup(wc)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	p.wc = wc
	p.git = p.cfg.NewGitOps(wc)
	p.files = files

	return nil
}

func (p *Pipeline) repository(ctx context.Context) (locator.Reference, error) {
	if p.cfg.Repository != nil {
		return *p.cfg.Repository, nil
	}

	if p.cfg.WorkspacePath == "" {
		return locator.Reference{}, fmt.Errorf(
			"no repository given and no workspace to detect from: %w",
			errs.ErrNotDetected,
		)
	}

	return locator.Detect(ctx, p.cfg.WorkspacePath, p.cfg.Host)
}

// Status reports the session state and, once provisioned,
// the working copy state.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	const errCtx = "reading pipeline status"

	p.mu.Lock()
	defer p.mu.Unlock()

	st := &Status{Session: p.cfg.Session.State()}

	if id, err := p.cfg.Session.Identity(); err == nil {
		st.Identity = &id
	}

	if p.wc == nil {
		return st, nil
	}

	ref := p.wc.Reference
	st.Repository = &ref
	st.WorkingCopy = p.wc.Path

	gs, err := p.git.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	st.Git = gs

	return st, nil
}

// Close removes the working copy. Errors are logged, not
// returned.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wc == nil {
		return
	}

	p.cleanup(p.wc)

	p.wc = nil
	p.git = nil
	p.files = nil
}

func (p *Pipeline) cleanup(wc *workcopy.WorkingCopy) {
	if err := wc.Cleanup(); err != nil {
		slog.Warn(
			"cannot remove working copy",
			"path", wc.Path,
			"error", err,
		)

		return
	}

	slog.Info("working copy removed", "path", wc.Path)
}

// NotReady reports whether the batch failed before its
// first command, while authenticating or provisioning.
func (r *Result) NotReady() bool {
	return r.notReady
}

// IsValidation reports whether a Result failed validation.
func (r *Result) IsValidation() bool {
	return errors.Is(r.Err, errs.ErrValidation)
}
