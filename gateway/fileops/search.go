package fileops

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/errs"
)

// maxContentSize bounds the files scanned by content
// search.
const maxContentSize = 10 << 20

// skipDirs are version control metadata directories.
var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// Match is a search hit.
type Match struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// matcher decides whether a file is a hit.
type matcher func(path string, d fs.DirEntry) (bool, error)

// Search walks Base and returns the regular files matching
// query according to mode, in lexical path order.
func (m *Manager) Search(
	mode command.SearchMode,
	query string,
) ([]Match, error) {
	const errCtx = "searching files"

	if query == "" {
		return nil, fmt.Errorf(
			"%s: empty query: %w", errCtx, errs.ErrValidation,
		)
	}

	match, err := newMatcher(mode, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	matches := []Match{}

	err = filepath.WalkDir(m.Base, func(
		path string,
		d fs.DirEntry,
		err error,
	) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		ok, err := match(path, d)
		if err != nil || !ok {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		matches = append(matches, Match{
			Path: m.rel(path),
			Name: d.Name(),
			Size: fi.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return matches, nil
}

func newMatcher(mode command.SearchMode, query string) (matcher, error) {
	switch mode {
	case command.SearchByName:
		return nameMatcher(query), nil
	case command.SearchByExtension:
		return extensionMatcher(query), nil
	case command.SearchByContent:
		return contentMatcher(query), nil
	default:
		return nil, fmt.Errorf(
			"unknown search mode %q: %w", mode, errs.ErrValidation,
		)
	}
}

// nameMatcher matches names case-insensitively against a
// glob. A query without wildcards matches as a substring.
func nameMatcher(query string) matcher {
	pattern := strings.ToLower(query)
	if !strings.ContainsAny(pattern, "*?[") {
		pattern = "*" + pattern + "*"
	}

	if _, err := filepath.Match(pattern, ""); err != nil {
		needle := strings.ToLower(query)

		return func(_ string, d fs.DirEntry) (bool, error) {
			return strings.Contains(strings.ToLower(d.Name()), needle), nil
		}
	}

	return func(_ string, d fs.DirEntry) (bool, error) {
		return filepath.Match(pattern, strings.ToLower(d.Name()))
	}
}

// extensionMatcher matches the exact extension, with or
// without its leading dot.
func extensionMatcher(query string) matcher {
	ext := "." + strings.TrimPrefix(query, ".")

	return func(_ string, d fs.DirEntry) (bool, error) {
		return filepath.Ext(d.Name()) == ext, nil
	}
}

// contentMatcher matches file contents against a
// case-insensitive regular expression. An invalid
// expression is searched literally.
func contentMatcher(query string) matcher {
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
	}

	return func(path string, d fs.DirEntry) (bool, error) {
		fi, err := d.Info()
		if err != nil {
			return false, err
		}

		if fi.Size() > maxContentSize {
			return false, nil
		}

		data, err := os.ReadFile(path) //nolint:gosec // walked path
		if err != nil {
			return false, err
		}

		if bytes.IndexByte(data, 0) >= 0 {
			return false, nil
		}

		return re.Match(data), nil
	}
}
