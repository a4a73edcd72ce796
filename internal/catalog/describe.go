// Package catalog extracts per-version package descriptions (elm.json)
// from mirrored repositories and renders the browsable index page for the
// mirror root.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/elmirror/elmirror/internal/gitstore"
)

// manifestFile is the package manifest looked up at each version tag.
// Pre-0.19 packages shipped elm-package.json instead and are not mirrored.
const manifestFile = "elm.json"

// interestingElmVersion selects the compiler line this mirror serves.
const interestingElmVersion = "0.19."

// Description is the subset of the package manifest the mirror reads.
type Description struct {
	Name       string `json:"name"`
	Summary    string `json:"summary"`
	Version    string `json:"version"`
	ElmVersion string `json:"elm-version"`
}

// Describer writes one description file per (package, version) under a
// single output root shaped like the mirror tree.
type Describer struct {
	root   string
	store  *gitstore.Store
	logger *slog.Logger
}

// DescriberOption configures a Describer.
type DescriberOption func(*Describer)

// WithDescriberLogger sets the logger used for extraction diagnostics.
func WithDescriberLogger(logger *slog.Logger) DescriberOption {
	return func(d *Describer) {
		d.logger = logger
	}
}

// NewDescriber returns a Describer writing descriptions under root, reading
// repositories from store.
func NewDescriber(root string, store *gitstore.Store, opts ...DescriberOption) *Describer {
	d := &Describer{
		root:   root,
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Path returns the canonical description path for a package version.
func (d *Describer) Path(name, version string) string {
	return filepath.Join(d.root, filepath.FromSlash(name), version+".json")
}

// Describe extracts the manifest at the given version tag and writes it to
// the description tree. It reports whether the version belongs to the
// compiler line this mirror serves; uninteresting or manifest-less versions
// are skipped without error.
func (d *Describer) Describe(ctx context.Context, name, version string) (bool, error) {
	repo, err := git.PlainOpen(d.store.Dir(name))
	if err != nil {
		return false, gitstore.WrapErrorf(err, "opening %s", name)
	}

	raw, err := manifestAt(repo, version)
	if err != nil {
		// Old package versions predate elm.json; nothing to serve.
		d.logger.Debug("no manifest at version", "package", name, "version", version, "error", err)
		return false, nil
	}

	var desc Description
	if err := json.Unmarshal(raw, &desc); err != nil {
		d.logger.Warn("unparseable manifest", "package", name, "version", version, "error", err)
		return false, nil
	}

	if !strings.Contains(desc.ElmVersion, interestingElmVersion) {
		d.logger.Warn("skipping version for other compiler line",
			"package", name, "version", version, "elm-version", desc.ElmVersion)
		return false, nil
	}

	dest := d.Path(name, version)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, gitstore.WrapErrorf(err, "creating description directory for %s", name)
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return false, gitstore.WrapErrorf(err, "writing description for %s %s", name, version)
	}

	return true, nil
}

// manifestAt reads the manifest blob at a version tag.
func manifestAt(repo *git.Repository, version string) ([]byte, error) {
	ref, err := repo.Reference(plumbing.NewTagReferenceName(version), true)
	if err != nil {
		return nil, err
	}

	commit, err := commitAt(repo, ref.Hash())
	if err != nil {
		return nil, err
	}

	f, err := commit.File(manifestFile)
	if err != nil {
		return nil, err
	}

	contents, err := f.Contents()
	if err != nil {
		return nil, err
	}

	return []byte(contents), nil
}

// commitAt peels a possibly annotated tag hash to its commit.
func commitAt(repo *git.Repository, hash plumbing.Hash) (*object.Commit, error) {
	if tagObj, err := repo.TagObject(hash); err == nil {
		return tagObj.Commit()
	}
	return repo.CommitObject(hash)
}
