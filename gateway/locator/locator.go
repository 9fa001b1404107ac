package locator

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/exec"
)

// Reference identifies a hosted repository. It is
// immutable once built.
type Reference struct {
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	FullName     string `json:"full_name"`
	CanonicalURL string `json:"canonical_url"`
	Host         string `json:"-"`
}

// NewReference builds a Reference for owner/name on host.
func NewReference(host, owner, name string) Reference {
	host = strings.ToLower(host)

	return Reference{
		Owner:        owner,
		Name:         name,
		FullName:     owner + "/" + name,
		CanonicalURL: "https://" + host + "/" + owner + "/" + name,
		Host:         host,
	}
}

// Detect walks from start towards the filesystem root and
// returns the Reference of the first working copy whose
// origin remote points at host. A working copy without an
// origin is skipped.
func Detect(
	ctx context.Context,
	start string,
	host string,
) (Reference, error) {
	const errCtx = "detecting repository"

	dir, err := filepath.Abs(start)
	if err != nil {
		return Reference{}, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	for {
		if isWorkingCopy(dir) {
			out, err := exec.Ex(
				ctx, dir,
				"git", "config", "--get", "remote.origin.url",
			)
			if err == nil {
				return ParseRemoteURL(
					strings.TrimSpace(out), host,
				)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Reference{}, fmt.Errorf(
				"%s: no working copy with an origin above %s: %w",
				errCtx, start, errs.ErrNotDetected,
			)
		}

		dir = parent
	}
}

// isWorkingCopy reports whether dir holds a ".git" entry.
// Worktrees and submodules use a ".git" file.
func isWorkingCopy(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))

	return err == nil
}

// ParseRemoteURL parses an origin URL into a Reference.
//
// Accepted shapes are "https://host/owner/name[.git]",
// "ssh://git@host[:port]/owner/name[.git]" and the scp-like
// "git@host:owner/name[.git]". The host must match host
// (case-insensitive) and the path must have exactly two
// segments.
func ParseRemoteURL(raw, host string) (Reference, error) {
	const errCtx = "parsing remote url"

	normalized, err := normalize(strings.TrimSpace(raw))
	if err != nil {
		return Reference{}, fmt.Errorf(
			"%s: %q: %w", errCtx, raw, err,
		)
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Host == "" {
		return Reference{}, fmt.Errorf(
			"%s: %q: malformed: %w",
			errCtx, raw, errs.ErrNotDetected,
		)
	}

	if !strings.EqualFold(u.Hostname(), host) {
		return Reference{}, fmt.Errorf(
			"%s: %q: host %q is not %q: %w",
			errCtx, raw, u.Hostname(), host, errs.ErrNotDetected,
		)
	}

	p := strings.Trim(u.Path, "/")
	p = strings.TrimSuffix(p, ".git")

	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Reference{}, fmt.Errorf(
			"%s: %q: expected owner/name: %w",
			errCtx, raw, errs.ErrNotDetected,
		)
	}

	return NewReference(host, parts[0], parts[1]), nil
}

// normalize rewrites SSH forms to an https URL so a single
// parser handles every shape.
func normalize(raw string) (string, error) {
	switch {
	case raw == "":
		return "", errs.ErrNotDetected

	case strings.HasPrefix(raw, "https://"),
		strings.HasPrefix(raw, "http://"):
		return raw, nil

	case strings.HasPrefix(raw, "ssh://"):
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", errs.ErrNotDetected
		}

		return "https://" + u.Hostname() + u.Path, nil

	case strings.Contains(raw, "://"):
		return "", errs.ErrNotDetected
	}

	// scp-like: [user@]host:path
	hostPart, path, ok := strings.Cut(raw, ":")
	if !ok || path == "" {
		return "", errs.ErrNotDetected
	}

	if _, h, found := strings.Cut(hostPart, "@"); found {
		hostPart = h
	}

	if hostPart == "" || strings.ContainsAny(hostPart, "/ ") {
		return "", errs.ErrNotDetected
	}

	return "https://" + hostPart + "/" + strings.TrimPrefix(path, "/"), nil
}
