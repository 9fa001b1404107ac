package git

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/exec"
)

// missingUpstreamMarkers are provider messages meaning the
// push needs an explicit upstream.
var missingUpstreamMarkers = []string{
	"has no upstream branch",
	"no upstream configured",
	"no upstream branch",
}

// CommitResult describes a commit. Hash is empty when
// there was nothing to commit.
type CommitResult struct {
	Hash      string `json:"commit_id"`
	Author    string `json:"author,omitempty"`
	Committed bool   `json:"committed"`
}

// Commit stages every change, including untracked files,
// and commits with message. The author is the locally
// configured identity, or fallback applied through the
// environment of this single invocation. A clean tree is
// not an error.
func (r *Repo) Commit(
	ctx context.Context,
	message string,
	fallback Identity,
) (*CommitResult, error) {
	const errCtx = "committing"

	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	clean, err := r.isClean(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if clean {
		slog.Info("nothing to commit", "dir", r.Dir)

		return &CommitResult{}, nil
	}

	var env []string

	if _, ok := r.LocalIdentity(ctx); !ok && fallback.Name != "" {
		env = []string{
			"GIT_AUTHOR_NAME=" + fallback.Name,
			"GIT_AUTHOR_EMAIL=" + fallback.Email,
			"GIT_COMMITTER_NAME=" + fallback.Name,
			"GIT_COMMITTER_EMAIL=" + fallback.Email,
		}
	}

	if _, err := exec.ExEnv(
		ctx, r.Dir, env, "git", "commit", "-m", message,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	hash, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	author, err := r.git(ctx, "log", "-1", "--pretty=%an <%ae>")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &CommitResult{
		Hash:      strings.TrimSpace(hash),
		Author:    strings.TrimSpace(author),
		Committed: true,
	}, nil
}

// isClean reports whether the working tree has no
// uncommitted changes.
func (r *Repo) isClean(ctx context.Context) (bool, error) {
	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) == "", nil
}

// PushResult describes a push.
type PushResult struct {
	Branch      string `json:"branch"`
	Attempts    int    `json:"attempts"`
	UpstreamSet bool   `json:"upstream_set"`
}

// Push pushes branch (the current one when empty) with
// token injected into the remote URL. A branch without
// upstream gets one with the push. When the provider still
// reports a missing upstream the push is retried exactly
// once with an explicit refspec; a second failure matches
// errs.ErrTransientGit. A failed push still returns the
// result so the attempts can be reported.
func (r *Repo) Push(
	ctx context.Context,
	branch string,
	token string,
) (*PushResult, error) {
	const errCtx = "pushing"

	if branch == "" {
		b, err := r.CurrentBranch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		branch = b
	}

	res := &PushResult{Branch: branch}

	err := r.withCredential(ctx, token, func() error {
		args := []string{"push"}

		if !r.hasUpstream(ctx, branch) {
			args = append(args, "--set-upstream")
			res.UpstreamSet = true
		}

		args = append(args, r.RemoteName, branch)
		res.Attempts = 1

		out, err := r.git(ctx, args...)
		if err == nil {
			return nil
		}

		if !isMissingUpstream(out) {
			return err
		}

		slog.Warn(
			"push reported missing upstream, retrying",
			"branch", branch,
		)

		res.Attempts = 2
		res.UpstreamSet = true

		ref := "refs/heads/" + branch
		if _, err := r.git(
			ctx, "push", "--set-upstream",
			r.RemoteName, ref+":"+ref,
		); err != nil {
			return fmt.Errorf("%w: %w", errs.ErrTransientGit, err)
		}

		return nil
	})
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", errCtx, branch, err)
	}

	slog.Info(
		"pushed",
		"branch", branch,
		"attempts", res.Attempts,
		"upstream_set", res.UpstreamSet,
	)

	return res, nil
}

func (r *Repo) hasUpstream(ctx context.Context, branch string) bool {
	_, err := r.git(
		ctx, "rev-parse", "--abbrev-ref",
		"--symbolic-full-name", branch+"@{upstream}",
	)

	return err == nil
}

func isMissingUpstream(out string) bool {
	lower := strings.ToLower(out)

	for _, m := range missingUpstreamMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	return false
}

// Pull fetches and merges the upstream of the current
// branch with token injected into the remote URL.
func (r *Repo) Pull(ctx context.Context, token string) (string, error) {
	const errCtx = "pulling"

	var out string

	err := r.withCredential(ctx, token, func() error {
		var err error

		out, err = r.git(ctx, "pull", "--no-rebase", "--no-edit")

		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// refs returns which of the given full ref names exist.
func (r *Repo) refs(
	ctx context.Context,
	names ...string,
) (map[string]bool, error) {
	args := append(
		[]string{"for-each-ref", "--format=%(refname)"},
		names...,
	)

	out, err := r.git(ctx, args...)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(names))

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		for _, n := range names {
			if line == n {
				found[n] = true
			}
		}
	}

	return found, sc.Err()
}

func (r *Repo) checkBranchName(ctx context.Context, name string) error {
	if _, err := r.git(
		ctx, "check-ref-format", "--branch", name,
	); err != nil {
		return fmt.Errorf(
			"branch name %q: %w", name, errs.ErrValidation,
		)
	}

	return nil
}

// CreateBranch creates name from the current HEAD and
// checks it out. It fails with errs.ErrAlreadyExists when a
// local branch or remote-tracking branch of that name
// exists.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	const errCtx = "creating branch"

	if err := r.checkBranchName(ctx, name); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	local := "refs/heads/" + name
	remote := "refs/remotes/" + r.RemoteName + "/" + name

	found, err := r.refs(ctx, local, remote)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if found[local] || found[remote] {
		return fmt.Errorf(
			"%s: %q: %w", errCtx, name, errs.ErrAlreadyExists,
		)
	}

	if _, err := r.git(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// SwitchBranch checks out name. A missing local branch is
// fetched from the remote with token and set to track it.
// It fails with errs.ErrNotFound when neither side has the
// branch.
func (r *Repo) SwitchBranch(
	ctx context.Context,
	name string,
	token string,
) error {
	const errCtx = "switching branch"

	if err := r.checkBranchName(ctx, name); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	local := "refs/heads/" + name
	remote := "refs/remotes/" + r.RemoteName + "/" + name

	found, err := r.refs(ctx, local)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if found[local] {
		if _, err := r.git(ctx, "checkout", name); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	ferr := r.withCredential(ctx, token, func() error {
		_, err := r.git(
			ctx, "fetch", "--no-tags", r.RemoteName,
			"+"+local+":"+remote,
		)

		return err
	})

	found, err = r.refs(ctx, remote)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if !found[remote] {
		if ferr != nil {
			slog.Debug("fetch failed", "branch", name, "error", ferr)
		}

		return fmt.Errorf(
			"%s: %q: %w", errCtx, name, errs.ErrNotFound,
		)
	}

	if _, err := r.git(
		ctx, "checkout", "-b", name,
		"--track", r.RemoteName+"/"+name,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Status summarises the working tree.
type Status struct {
	Branch    string   `json:"branch"`
	Dirty     bool     `json:"dirty"`
	Untracked []string `json:"untracked"`
	Modified  []string `json:"modified"`
	Staged    []string `json:"staged"`
}

// Status reports the current branch and working tree
// changes.
func (r *Repo) Status(ctx context.Context) (*Status, error) {
	const errCtx = "reading status"

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	st := parseStatus(out)
	st.Branch = branch

	return st, nil
}

// parseStatus reads "git status --porcelain" v1 output.
func parseStatus(out string) *Status {
	st := &Status{
		Untracked: []string{},
		Modified:  []string{},
		Staged:    []string{},
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}

		x, y, path := line[0], line[1], line[3:]
		if _, to, ok := strings.Cut(path, " -> "); ok {
			path = to
		}

		st.Dirty = true

		if x == '?' && y == '?' {
			st.Untracked = append(st.Untracked, path)

			continue
		}

		if x != ' ' {
			st.Staged = append(st.Staged, path)
		}

		if y != ' ' {
			st.Modified = append(st.Modified, path)
		}
	}

	return st
}
