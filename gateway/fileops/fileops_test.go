package fileops_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/repogate/gateway/command"
	"github.com/byte4ever/repogate/gateway/errs"
	"github.com/byte4ever/repogate/gateway/fileops"
	"github.com/byte4ever/repogate/gateway/payload"
)

// sha256("hello")
const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func newManager(t *testing.T) *fileops.Manager {
	t.Helper()

	m, err := fileops.NewManager(t.TempDir())
	require.NoError(t, err)

	return m
}

func enc(s string) string {
	return payload.Encode([]byte(s))
}

func TestNewManager_not_a_directory(t *testing.T) {
	t.Parallel()

	fp := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(fp, nil, 0o600))

	_, err := fileops.NewManager(fp)

	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestManager_Resolve_confined(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "plain", path: "a/b.txt", want: "a/b.txt"},
		{name: "parent escape", path: "../../etc/passwd", want: "etc/passwd"},
		{name: "absolute", path: "/etc/passwd", want: "etc/passwd"},
		{name: "inner dots", path: "a/../b.txt", want: "b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := m.Resolve(tt.path)

			require.NoError(t, err)
			assert.Equal(t, filepath.Join(m.Base, filepath.FromSlash(tt.want)), got)
		})
	}
}

func TestManager_Resolve_rejects_base(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	for _, p := range []string{"", " ", ".", "..", "/"} {
		_, err := m.Resolve(p)
		assert.ErrorIs(t, err, errs.ErrValidation, "path %q", p)
	}
}

func TestManager_Resolve_rejects_metadata(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Base, ".git", "hooks"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(m.Base, ".git", "config"), []byte("[core]\n"), 0o600,
	))

	tests := []struct {
		name string
		path string
	}{
		{name: "config", path: ".git/config"},
		{name: "dot prefix", path: "./.git/hooks/x"},
		{name: "inner dots", path: "a/../.git/config"},
		{name: "parent escape", path: "../.git/config"},
		{name: "directory itself", path: ".git"},
		{name: "upper case", path: ".GIT/config"},
		{name: "mercurial", path: ".hg/hgrc"},
		{name: "subversion", path: ".svn/entries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := m.Resolve(tt.path)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestManager_metadata_left_untouched(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	cfg := filepath.Join(m.Base, ".git", "config")

	require.NoError(t, os.MkdirAll(filepath.Dir(cfg), 0o750))
	require.NoError(t, os.WriteFile(cfg, []byte("[core]\n"), 0o600))

	hook := enc("[core]\n\tfsmonitor = \"touch marker; false\"\n")

	_, err := m.Modify(".git/config", hook, true)
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = m.Create(".git/config", hook)
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = m.Delete(".git")
	require.ErrorIs(t, err, errs.ErrValidation)

	got, err := os.ReadFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, "[core]\n", string(got))
}

func TestManager_Resolve_rejects_symlinks_out(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	outside := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(m.Base, ".git"), 0o750))
	require.NoError(t, os.Symlink(".git", filepath.Join(m.Base, "meta")))
	require.NoError(t, os.Symlink(outside, filepath.Join(m.Base, "out")))
	require.NoError(t, os.MkdirAll(filepath.Join(m.Base, "docs"), 0o750))
	require.NoError(t, os.Symlink("docs", filepath.Join(m.Base, "alias")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "into metadata", path: "meta/config", wantErr: true},
		{name: "metadata link itself", path: "meta", wantErr: true},
		{name: "outside base", path: "out/file.txt", wantErr: true},
		{name: "inside base", path: "alias/readme.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := m.Resolve(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, errs.ErrValidation)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestManager_Create_then_Read(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	info, err := m.Create("dir/sub/hello.txt", enc("hello"))

	require.NoError(t, err)
	assert.Equal(t, &fileops.FileInfo{
		Path:   "dir/sub/hello.txt",
		Size:   5,
		SHA256: helloDigest,
	}, info)

	fc, err := m.Read("dir/sub/hello.txt")

	require.NoError(t, err)
	assert.Equal(t, enc("hello"), fc.Content)
	assert.Equal(t, "hello", fc.Text)
	assert.EqualValues(t, 5, fc.Size)
	assert.Equal(t, helloDigest, fc.SHA256)
}

func TestManager_Create_overwrites(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Create("f.txt", enc("first"))
	require.NoError(t, err)

	_, err = m.Create("f.txt", enc("second"))
	require.NoError(t, err)

	fc, err := m.Read("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "second", fc.Text)
}

func TestManager_Create_bad_payload(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Create("f.txt", "not base64!")

	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(m.Base, "f.txt"))
}

func TestManager_Read_binary(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	data := []byte{0xff, 0xfe, 0x00}

	_, err := m.Create("bin", payload.Encode(data))
	require.NoError(t, err)

	fc, err := m.Read("bin")

	require.NoError(t, err)
	assert.Empty(t, fc.Text)
	assert.Equal(t, payload.Encode(data), fc.Content)
}

func TestManager_Read_missing(t *testing.T) {
	t.Parallel()

	_, err := newManager(t).Read("missing.txt")

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManager_Modify(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Create("f.txt", enc("he"))
	require.NoError(t, err)

	info, err := m.Modify("f.txt", enc("llo"), true)

	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.Equal(t, helloDigest, info.SHA256)

	_, err = m.Modify("f.txt", enc("replaced"), false)
	require.NoError(t, err)

	fc, err := m.Read("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "replaced", fc.Text)
}

func TestManager_Modify_missing(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	for _, appendMode := range []bool{true, false} {
		_, err := m.Modify("missing.txt", enc("x"), appendMode)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	}

	assert.NoFileExists(t, filepath.Join(m.Base, "missing.txt"))
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Create("tree/a/b.txt", enc("b"))
	require.NoError(t, err)
	_, err = m.Create("single.txt", enc("s"))
	require.NoError(t, err)

	del, err := m.Delete("tree")

	require.NoError(t, err)
	assert.Equal(t, &fileops.Deleted{Path: "tree", Dir: true}, del)
	assert.NoDirExists(t, filepath.Join(m.Base, "tree"))

	del, err = m.Delete("single.txt")

	require.NoError(t, err)
	assert.False(t, del.Dir)

	_, err = m.Delete("single.txt")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManager_Search(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	for path, content := range map[string]string{
		"README.md":         "Project readme",
		"src/main.go":       "package main\n// TODO refactor\n",
		"src/main_test.go":  "package main\n",
		"docs/Guide.MD":     "guide",
		".git/config":       "[core] todo",
		"notes/todo.txt":    "nothing here",
		"src/util/regex.go": "a+b",
	} {
		_, err := m.Create(path, enc(content))
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		mode  command.SearchMode
		query string
		want  []string
	}{
		{
			name:  "name substring case insensitive",
			mode:  command.SearchByName,
			query: "MAIN",
			want:  []string{"src/main.go", "src/main_test.go"},
		},
		{
			name:  "name glob",
			mode:  command.SearchByName,
			query: "*_test.go",
			want:  []string{"src/main_test.go"},
		},
		{
			name:  "extension without dot",
			mode:  command.SearchByExtension,
			query: "go",
			want:  []string{"src/main.go", "src/main_test.go", "src/util/regex.go"},
		},
		{
			name:  "extension exact case",
			mode:  command.SearchByExtension,
			query: ".md",
			want:  []string{"README.md"},
		},
		{
			name:  "content skips vcs metadata",
			mode:  command.SearchByContent,
			query: "todo",
			want:  []string{"src/main.go"},
		},
		{
			name:  "content regex",
			mode:  command.SearchByContent,
			query: "^package",
			want:  []string{"src/main.go", "src/main_test.go"},
		},
		{
			name:  "content invalid regex is literal",
			mode:  command.SearchByContent,
			query: "a+b(",
			want:  []string{},
		},
		{
			name:  "no hit",
			mode:  command.SearchByName,
			query: "absent",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := m.Search(tt.mode, tt.query)
			require.NoError(t, err)

			paths := make([]string, 0, len(got))
			for _, hit := range got {
				paths = append(paths, hit.Path)
				assert.Equal(t, filepath.Base(hit.Path), hit.Name)
			}

			assert.Equal(t, tt.want, paths)
		})
	}
}

func TestManager_Search_invalid(t *testing.T) {
	t.Parallel()

	m := newManager(t)

	_, err := m.Search(command.SearchByName, "")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = m.Search("fuzzy", "x")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCalculateDigest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pa := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(pa, []byte("hello"), 0o600))

	got, err := fileops.CalculateDigest(pa)

	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)

	got, err = fileops.CalculateDigest(filepath.Join(dir, "missing"))

	assert.Empty(t, got)
	assert.NoError(t, err)
}
