package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmirror/elmirror/internal/gitstore"
)

// setupMirror creates a store holding one repository with a tagged commit
// and returns the store plus the tagged commit hash.
func setupMirror(t *testing.T, name, version string) (*gitstore.Store, plumbing.Hash) {
	t.Helper()

	s, err := gitstore.New(t.TempDir())
	require.NoError(t, err)

	dir := s.Dir(name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "elm.json"), []byte(`{"name":"pkg"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("readme"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)

	hash, err := wt.Commit("release", &git.CommitOptions{
		Author: &object.Signature{Name: "Tests", Email: "tests@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	_, err = repo.CreateTag(version, hash, nil)
	require.NoError(t, err)

	return s, hash
}

func TestExport(t *testing.T) {
	store, hash := setupMirror(t, "user/pkg", "1.0.0")
	b := New(t.TempDir(), store)
	ctx := context.Background()

	created, err := b.Export(ctx, "user/pkg", "1.0.0")
	require.NoError(t, err)
	assert.True(t, created)

	dest := b.Path("user/pkg", "1.0.0")
	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	prefix := "user-pkg-" + hash.String()[:7] + "/"
	var names []string
	for _, f := range zr.File {
		assert.True(t, strings.HasPrefix(f.Name, prefix), "entry %q lacks prefix %q", f.Name, prefix)
		names = append(names, strings.TrimPrefix(f.Name, prefix))
	}
	assert.ElementsMatch(t, []string{"elm.json", "README.md"}, names)
}

func TestExportIdempotent(t *testing.T) {
	store, _ := setupMirror(t, "user/pkg", "1.0.0")
	b := New(t.TempDir(), store)
	ctx := context.Background()

	created, err := b.Export(ctx, "user/pkg", "1.0.0")
	require.NoError(t, err)
	require.True(t, created)

	before, err := os.ReadFile(b.Path("user/pkg", "1.0.0"))
	require.NoError(t, err)

	created, err = b.Export(ctx, "user/pkg", "1.0.0")
	require.NoError(t, err)
	assert.False(t, created, "second export must be a no-op")

	after, err := os.ReadFile(b.Path("user/pkg", "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "no-op export must not rewrite the archive")
}

func TestExportFailures(t *testing.T) {
	store, _ := setupMirror(t, "user/pkg", "1.0.0")
	b := New(t.TempDir(), store)
	ctx := context.Background()

	t.Run("unresolvable tag", func(t *testing.T) {
		_, err := b.Export(ctx, "user/pkg", "9.9.9")
		assert.ErrorIs(t, err, ErrExportFailed)
		assert.NoFileExists(t, b.Path("user/pkg", "9.9.9"))
	})

	t.Run("missing repository", func(t *testing.T) {
		_, err := b.Export(ctx, "user/absent", "1.0.0")
		assert.ErrorIs(t, err, ErrExportFailed)
	})
}

func TestPath(t *testing.T) {
	store, err := gitstore.New(t.TempDir())
	require.NoError(t, err)

	b := New("/out", store)
	assert.Equal(t, filepath.Join("/out", "user", "pkg", "1.0.0.zip"), b.Path("user/pkg", "1.0.0"))
}
