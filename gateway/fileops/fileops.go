package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/payload"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// Manager performs file operations below Base.
type Manager struct {
	// Base is the directory every path is resolved
	// against.
	Base string

	// realBase is Base with symlinks evaluated.
	realBase string
}

// NewManager returns a Manager rooted at base, which must
// be an existing directory.
func NewManager(base string) (*Manager, error) {
	const errCtx = "creating file manager"

	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if !fi.IsDir() {
		return nil, fmt.Errorf(
			"%s: %s is not a directory: %w",
			errCtx, abs, errs.ErrConfiguration,
		)
	}

	realBase, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &Manager{Base: abs, realBase: realBase}, nil
}

// Resolve maps a relative path onto the filesystem. The
// result always lies inside Base and outside version
// control metadata, symlinks included; anything else
// matches errs.ErrValidation.
func (m *Manager) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path: %w", errs.ErrValidation)
	}

	clean := filepath.Clean("/" + filepath.ToSlash(p))
	if clean == "/" {
		return "", fmt.Errorf(
			"path %q resolves to the base directory: %w",
			p, errs.ErrValidation,
		)
	}

	if first, _, _ := strings.Cut(clean[1:], "/"); isMetadata(first) {
		return "", fmt.Errorf(
			"path %q is inside %s: %w", p, first, errs.ErrValidation,
		)
	}

	full := filepath.Join(m.Base, filepath.FromSlash(clean))

	if err := m.confined(full); err != nil {
		return "", fmt.Errorf("path %q: %w", p, err)
	}

	return full, nil
}

// isMetadata reports whether a top-level entry name is a
// version control directory. Case is ignored for
// case-insensitive filesystems.
func isMetadata(name string) bool {
	return skipDirs[strings.ToLower(name)]
}

// confined evaluates the symlinks of the deepest existing
// ancestor of full and checks the target stays inside the
// working copy and outside its metadata.
func (m *Manager) confined(full string) error {
	base := m.realBase
	if base == "" {
		base = m.Base
	}

	existing := full
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			existing = resolved

			break
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("resolving symlinks: %w", err)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return nil
		}

		existing = parent
	}

	rel, err := filepath.Rel(base, existing)
	if err != nil || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("escapes the working copy: %w", errs.ErrValidation)
	}

	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if isMetadata(first) {
		return fmt.Errorf("points inside %s: %w", first, errs.ErrValidation)
	}

	return nil
}

// rel returns path relative to Base with forward slashes.
func (m *Manager) rel(path string) string {
	r, err := filepath.Rel(m.Base, path)
	if err != nil {
		return path
	}

	return filepath.ToSlash(r)
}

// FileInfo describes a written file.
type FileInfo struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Create writes the decoded content to p, creating missing
// parent directories and replacing an existing file.
func (m *Manager) Create(p, encoded string) (*FileInfo, error) {
	const errCtx = "creating file"

	full, err := m.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	data, err := payload.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	if err := os.MkdirAll(filepath.Dir(full), dirMode); err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	//nolint:gosec // mode 0644 is intentional
	if err := os.WriteFile(full, data, fileMode); err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	return &FileInfo{
		Path:   m.rel(full),
		Size:   int64(len(data)),
		SHA256: digestBytes(data),
	}, nil
}

// FileContent is the result of a read.
type FileContent struct {
	Path string `json:"path"`
	// Content is the base64 encoding of the file.
	Content string `json:"content"`
	// Text is the raw content when it is valid UTF-8.
	Text   string `json:"text,omitempty"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Read returns the content of p. A missing file matches
// errs.ErrNotFound.
func (m *Manager) Read(p string) (*FileContent, error) {
	const errCtx = "reading file"

	full, err := m.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	data, err := os.ReadFile(full) //nolint:gosec // confined path
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, notFound(err))
	}

	fc := &FileContent{
		Path:    m.rel(full),
		Content: payload.Encode(data),
		Size:    int64(len(data)),
		SHA256:  digestBytes(data),
	}

	if utf8.Valid(data) {
		fc.Text = string(data)
	}

	return fc, nil
}

// Modify replaces the content of the existing file p, or
// appends to it when appendMode is set. A missing file
// matches errs.ErrNotFound in both modes.
func (m *Manager) Modify(
	p string,
	encoded string,
	appendMode bool,
) (*FileInfo, error) {
	const errCtx = "modifying file"

	full, err := m.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	fi, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, notFound(err))
	}

	if fi.IsDir() {
		return nil, fmt.Errorf(
			"%s %s: is a directory: %w", errCtx, p, errs.ErrValidation,
		)
	}

	data, err := payload.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	if appendMode {
		err = appendFile(full, data)
	} else {
		err = os.WriteFile(full, data, fi.Mode().Perm())
	}

	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	digest, err := CalculateDigest(full)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	size := int64(len(data))
	if appendMode {
		size += fi.Size()
	}

	return &FileInfo{
		Path:   m.rel(full),
		Size:   size,
		SHA256: digest,
	}, nil
}

func appendFile(path string, data []byte) (retErr error) {
	//nolint:gosec // confined path
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	_, err = f.Write(data)

	return err
}

// Deleted describes a removal.
type Deleted struct {
	Path string `json:"path"`
	Dir  bool   `json:"directory"`
}

// Delete removes the file or directory p, recursively for
// directories. A missing path matches errs.ErrNotFound.
func (m *Manager) Delete(p string) (*Deleted, error) {
	const errCtx = "deleting"

	full, err := m.Resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	fi, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, notFound(err))
	}

	if err := os.RemoveAll(full); err != nil {
		return nil, fmt.Errorf("%s %s: %w", errCtx, p, err)
	}

	return &Deleted{Path: m.rel(full), Dir: fi.IsDir()}, nil
}

// notFound adds errs.ErrNotFound to missing-file errors.
func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	}

	return err
}
