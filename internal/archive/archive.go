// Package archive exports tagged revisions of mirrored repositories into
// distributable zip files. Output paths are canonical and exports are
// idempotent: an archive that already exists is never rewritten.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/elmirror/elmirror/internal/gitstore"
)

// abbrevLen is the abbreviated hash length used in archive entry prefixes,
// matching git show-ref --abbrev.
const abbrevLen = 7

// ErrExportFailed is returned when a tag cannot be resolved in the local
// mirror or the archive cannot be written. It is never fatal to a run.
var ErrExportFailed = errors.New("export failed")

// Builder writes version archives under a single output root. The output
// tree has the same shape as the mirror tree: one directory per package,
// one zip per version.
type Builder struct {
	root   string
	store  *gitstore.Store
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for export diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// New returns a Builder writing archives under root, reading repositories
// from store.
func New(root string, store *gitstore.Store, opts ...Option) *Builder {
	b := &Builder{
		root:   root,
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Path returns the canonical archive path for a package version.
func (b *Builder) Path(name, version string) string {
	return filepath.Join(b.root, filepath.FromSlash(name), version+".zip")
}

// Export writes the archive for one package version unless it already
// exists. It reports whether a new archive was created.
func (b *Builder) Export(ctx context.Context, name, version string) (bool, error) {
	dest := b.Path(name, version)
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}

	repo, err := git.PlainOpen(b.store.Dir(name))
	if err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "opening %s", name)
	}

	commit, err := resolveTagCommit(repo, version)
	if err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "resolving %s tag %s", name, version)
	}

	prefix := fmt.Sprintf("%s-%s/", strings.ReplaceAll(name, "/", "-"), commit.Hash.String()[:abbrevLen])

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "creating archive directory for %s", name)
	}

	// Write to a temp file and rename so a crashed export never leaves a
	// half-written archive at the canonical path.
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+version+"-*")
	if err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "creating temp archive for %s", name)
	}
	defer os.Remove(tmp.Name())

	if err := writeZip(tmp, commit, prefix); err != nil {
		_ = tmp.Close()
		return false, gitstore.WrapErrorf(ErrExportFailed, "archiving %s %s", name, version)
	}
	if err := tmp.Close(); err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "closing archive for %s", name)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, gitstore.WrapErrorf(ErrExportFailed, "placing archive for %s", name)
	}

	b.logger.Debug("exported archive", "package", name, "version", version, "path", dest)
	return true, nil
}

// resolveTagCommit resolves a tag name to the commit it points at, peeling
// annotated tags.
func resolveTagCommit(repo *git.Repository, tag string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewTagReferenceName(tag), true)
	if err != nil {
		return nil, err
	}

	if tagObj, tagErr := repo.TagObject(ref.Hash()); tagErr == nil {
		return tagObj.Commit()
	}

	return repo.CommitObject(ref.Hash())
}

// writeZip writes the commit's tree into w with every entry name prefixed.
func writeZip(w io.Writer, commit *object.Commit, prefix string) error {
	tree, err := commit.Tree()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	err = tree.Files().ForEach(func(f *object.File) error {
		mode, modeErr := f.Mode.ToOSFileMode()
		if modeErr != nil {
			return modeErr
		}

		hdr := &zip.FileHeader{
			Name:   prefix + f.Name,
			Method: zip.Deflate,
		}
		hdr.SetMode(mode)

		entry, entryErr := zw.CreateHeader(hdr)
		if entryErr != nil {
			return entryErr
		}

		r, readerErr := f.Reader()
		if readerErr != nil {
			return readerErr
		}
		defer r.Close()

		_, copyErr := io.Copy(entry, r)
		return copyErr
	})
	if err != nil {
		_ = zw.Close()
		return err
	}

	return zw.Close()
}
