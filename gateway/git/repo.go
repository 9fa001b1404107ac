package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/byte4ever/repogate/gateway/exec"
)

// DefaultCredentialUser is the URL username paired with a
// token for GitHub remotes.
const DefaultCredentialUser = "x-access-token"

// Identity is a git author or committer.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String formats the identity the way git prints authors.
func (id Identity) String() string {
	return id.Name + " <" + id.Email + ">"
}

// Repo is a local clone of a git repository. Create
// with Clone, and call Clean when done. A Repo must not be
// copied after first use.
type Repo struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the upstream remote.
	RemoteName string
	// CredentialUser is the URL username used with a
	// token. Defaults to DefaultCredentialUser.
	CredentialUser string

	mu sync.Mutex
}

// CloneOptions tune Clone.
type CloneOptions struct {
	// Branch to check out. Empty means the remote HEAD.
	Branch string
	// Mirror is an optional local mirror used as a
	// reference clone.
	Mirror string
	// CredentialUser is copied to the returned Repo.
	CredentialUser string
}

// Clone clones remoteURL into dir, replacing anything already
// there. All branches are fetched so remote-tracking refs
// are available for switching.
func Clone(
	ctx context.Context,
	remoteURL string,
	dir string,
	opts CloneOptions,
) (*Repo, error) {
	const errCtx = "cloning repository"

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	remoteName := "origin"

	args := []string{
		"clone",
		"--no-tags",
		"--origin", remoteName,
	}

	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}

	if opts.Mirror != "" {
		args = append(args, "--reference", opts.Mirror)
	}

	args = append(args, remoteURL, dir)

	if _, err := exec.Ex(ctx, "", "git", args...); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &Repo{
		Dir:            dir,
		RemoteName:     remoteName,
		CredentialUser: opts.CredentialUser,
	}, nil
}

// Clean removes the local clone directory. It waits for a
// credentialed operation in progress to restore the remote.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

func (r *Repo) git(
	ctx context.Context,
	args ...string,
) (string, error) {
	return exec.Ex(ctx, r.Dir, "git", args...)
}

// RemoteURL returns the configured URL of the remote.
func (r *Repo) RemoteURL(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "remote", "get-url", r.RemoteName)
	if err != nil {
		return "", fmt.Errorf("reading remote url: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// SetRemoteURL points the remote at remoteURL.
func (r *Repo) SetRemoteURL(
	ctx context.Context,
	remoteURL string,
) error {
	if _, err := r.git(
		ctx, "remote", "set-url", r.RemoteName, remoteURL,
	); err != nil {
		return fmt.Errorf("setting remote url: %w", err)
	}

	return nil
}

// ConfigureIdentity writes user.name and user.email to the
// repository configuration.
func (r *Repo) ConfigureIdentity(
	ctx context.Context,
	id Identity,
) error {
	const errCtx = "configuring identity"

	for key, value := range map[string]string{
		"user.name":  id.Name,
		"user.email": id.Email,
	} {
		if _, err := r.git(
			ctx, "config", "--local", key, value,
		); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return nil
}

// LocalIdentity returns the identity from the repository
// configuration. ok is false unless both name and email
// are set.
func (r *Repo) LocalIdentity(ctx context.Context) (Identity, bool) {
	name, err := r.git(ctx, "config", "--local", "--get", "user.name")
	if err != nil {
		return Identity{}, false
	}

	email, err := r.git(ctx, "config", "--local", "--get", "user.email")
	if err != nil {
		return Identity{}, false
	}

	id := Identity{
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
	}

	return id, id.Name != "" && id.Email != ""
}

// CurrentBranch returns the checked out branch. It works
// on a branch without commits.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("reading current branch: %w", err)
	}

	return strings.TrimSpace(out), nil
}

// CredentialURL returns raw with user and token as its
// userinfo. Non-HTTP remotes are returned unchanged.
func CredentialURL(raw, user, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing remote url: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return raw, nil
	}

	if user == "" {
		user = DefaultCredentialUser
	}

	u.User = url.UserPassword(user, token)

	return u.String(), nil
}

// withCredential runs fn with the token embedded in the
// remote URL. The original URL is restored afterwards even
// when fn fails or ctx is cancelled. The repository lock is
// held for the whole scope.
func (r *Repo) withCredential(
	ctx context.Context,
	token string,
	fn func() error,
) (err error) {
	const errCtx = "injecting credential"

	r.mu.Lock()
	defer r.mu.Unlock()

	if token == "" {
		return fn()
	}

	orig, err := r.RemoteURL(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	authURL, err := CredentialURL(orig, r.CredentialUser, token)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if authURL == orig {
		return fn()
	}

	if err := r.SetRemoteURL(ctx, authURL); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		rerr := r.SetRemoteURL(context.WithoutCancel(ctx), orig)
		if rerr != nil {
			slog.Error(
				"cannot restore remote url",
				"dir", r.Dir,
				"error", rerr,
			)

			err = errors.Join(err, fmt.Errorf(
				"%s: restore: %w", errCtx, rerr,
			))
		}
	}()

	return fn()
}
