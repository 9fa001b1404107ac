package workcopy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/forge"
	"github.com/byte4ever/repogate/gateway/git"
	"github.com/byte4ever/repogate/gateway/locator"
)

// Config holds the settings of a Provisioner.
type Config struct {
	// TmpDir is the parent of the temporary directories.
	// Empty means os.TempDir().
	TmpDir string
	// Mirror is an optional local mirror used as a
	// reference clone.
	Mirror string
	// CredentialUser is the URL username paired with the
	// token.
	CredentialUser string
	// Branch to check out. Empty means the remote HEAD.
	Branch string
}

// Provisioner creates working copies.
type Provisioner struct {
	cfg Config
}

// NewProvisioner returns a Provisioner.
func NewProvisioner(cfg Config) *Provisioner {
	return &Provisioner{cfg: cfg}
}

// Request describes what to provision.
type Request struct {
	Token     string
	Identity  forge.Identity
	Reference locator.Reference
	// Platform is used for the permission check. A nil
	// Platform skips it.
	Platform forge.Platform
}

// WorkingCopy is an ephemeral clone owned by a single
// pipeline run.
type WorkingCopy struct {
	// Path is the root of the checkout.
	Path string `json:"local_path"`
	// Reference is the repository the copy belongs to.
	Reference locator.Reference `json:"repository"`
	// Permissions of the actor on the repository.
	Permissions forge.Permissions `json:"permissions"`
	// Repo operates on the checkout.
	Repo *git.Repo `json:"-"`

	root string
}

// Provision checks read access, then clones the repository
// and configures it. The token never persists in the clone
// configuration.
func (p *Provisioner) Provision(
	ctx context.Context,
	req Request,
) (*WorkingCopy, error) {
	const errCtx = "provisioning working copy"

	if req.Token == "" {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, errs.ErrNotAuthenticated,
		)
	}

	ref := req.Reference
	if ref.CanonicalURL == "" || ref.Name == "" {
		return nil, fmt.Errorf(
			"%s: no repository: %w", errCtx, errs.ErrNotDetected,
		)
	}

	perms := forge.Permissions{Read: true}

	if req.Platform != nil {
		var err error

		perms, err = req.Platform.Permissions(
			ctx, ref.Owner, ref.Name, req.Identity.Login,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		if !perms.Read {
			return nil, fmt.Errorf(
				"%s: %s is not readable by %s: %w",
				errCtx, ref.FullName, req.Identity.Login, errs.ErrNotFound,
			)
		}
	}

	root, err := os.MkdirTemp(p.cfg.TmpDir, "repogate-")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	wc, err := p.clone(ctx, req, root)
	if err != nil {
		if rerr := os.RemoveAll(root); rerr != nil {
			slog.Warn("cannot remove working copy", "path", root, "error", rerr)
		}

		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	wc.Permissions = perms

	slog.Info(
		"working copy ready",
		"repository", ref.FullName,
		"path", wc.Path,
	)

	return wc, nil
}

func (p *Provisioner) clone(
	ctx context.Context,
	req Request,
	root string,
) (*WorkingCopy, error) {
	ref := req.Reference

	authURL, err := git.CredentialURL(
		ref.CanonicalURL, p.cfg.CredentialUser, req.Token,
	)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, ref.Name)

	repo, err := git.Clone(ctx, authURL, dir, git.CloneOptions{
		Branch:         p.cfg.Branch,
		Mirror:         p.cfg.Mirror,
		CredentialUser: p.cfg.CredentialUser,
	})
	if err != nil {
		return nil, err
	}

	if err := repo.SetRemoteURL(ctx, ref.CanonicalURL); err != nil {
		return nil, err
	}

	if err := repo.ConfigureIdentity(ctx, git.Identity{
		Name:  req.Identity.CommitName(),
		Email: req.Identity.CommitEmail(ref.Host),
	}); err != nil {
		return nil, err
	}

	return &WorkingCopy{
		Path:      dir,
		Reference: ref,
		Repo:      repo,
		root:      root,
	}, nil
}

// Cleanup removes the clone, waiting for any credentialed
// git operation on it to finish, then its temporary root.
func (wc *WorkingCopy) Cleanup() error {
	const errCtx = "removing working copy"

	if wc.Repo != nil {
		if err := wc.Repo.Clean(); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	target := wc.root
	if target == "" {
		target = wc.Path
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}
