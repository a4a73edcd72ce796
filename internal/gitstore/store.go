// Package gitstore manages the lifecycle of one local bare mirror
// repository per package. It owns the mirror tree exclusively: every
// destructive operation is containment-checked against the tree root and
// gated on an explicit corruption finding.
package gitstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/serverinfo"
)

const (
	// DefaultRemoteName is the remote fetched during mirror updates.
	DefaultRemoteName = "origin"

	// mirrorRefSpec fetches every remote ref into the same local name,
	// matching the ref layout of a repository cloned with --mirror.
	mirrorRefSpec = "+refs/*:refs/*"
)

// Store owns the tree of bare mirror repositories under a single root.
// One package maps to one repository directory addressed by the package
// name's path segments.
type Store struct {
	root   string
	logger *slog.Logger

	// unhealthy records packages whose last health check failed. A discard
	// is only honored for packages present here, so a transient fetch error
	// can never escalate into data loss.
	unhealthy map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for operational diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New returns a Store rooted at root. The directory is created if absent.
func New(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, WrapErrorf(err, "resolving store root %q", root)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, WrapErrorf(err, "creating store root %q", abs)
	}

	s := &Store{
		root:      abs,
		logger:    slog.Default(),
		unhealthy: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Dir returns the repository directory for a package name.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Exists reports whether a local repository directory is present for the
// package. Presence says nothing about structural validity; see Healthy.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Dir(name))
	return err == nil && info.IsDir()
}

// Healthy reports whether the package's local repository is a structurally
// valid git repository. The check is purely local: the repository must open
// and its references must enumerate. Network failures can never produce a
// negative finding here.
//
// A negative finding is recorded and later consumed by Discard.
func (s *Store) Healthy(ctx context.Context, name string) bool {
	dir := s.Dir(name)

	repo, err := git.PlainOpen(dir)
	if err != nil {
		s.logger.Warn("repository failed health check", "package", name, "error", err)
		s.unhealthy[name] = struct{}{}
		return false
	}

	refs, err := repo.References()
	if err == nil {
		err = refs.ForEach(func(*plumbing.Reference) error { return nil })
	}
	if err != nil {
		s.logger.Warn("repository references unreadable", "package", name, "error", err)
		s.unhealthy[name] = struct{}{}
		return false
	}

	delete(s.unhealthy, name)
	return true
}

// LocalTags enumerates the tag names currently present in the package's
// local mirror, sorted alphabetically.
func (s *Store) LocalTags(ctx context.Context, name string) ([]string, error) {
	repo, err := git.PlainOpen(s.Dir(name))
	if err != nil {
		return nil, WrapErrorf(ErrRepoCorrupt, "opening %s", name)
	}

	refs, err := repo.References()
	if err != nil {
		return nil, WrapErrorf(ErrRepoCorrupt, "reading references of %s", name)
	}

	var tags []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsTag() {
			tags = append(tags, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return nil, WrapErrorf(ErrRepoCorrupt, "iterating references of %s", name)
	}

	sort.Strings(tags)
	return tags, nil
}

// CloneFresh performs a full bare mirror clone of remoteURL into the
// package's directory. On failure the partial directory is removed so a
// later run sees a clean absence rather than a half-written repository.
func (s *Store) CloneFresh(ctx context.Context, name, remoteURL string) error {
	dir := s.Dir(name)

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return WrapErrorf(ErrCloneFailed, "creating parent directory for %s", name)
	}

	s.logger.Debug("cloning mirror", "package", name, "url", remoteURL)

	_, err := git.PlainCloneContext(ctx, dir, true, &git.CloneOptions{
		URL:    remoteURL,
		Mirror: true,
	})
	if err != nil {
		if rmErr := s.remove(dir); rmErr != nil {
			s.logger.Error("unable to clean up partial clone", "package", name, "error", rmErr)
		}
		return WrapErrorf(errors.Join(ErrCloneFailed, err), "cloning %s", name)
	}

	return nil
}

// FetchUpdate fetches new refs into an existing healthy mirror, pruning
// refs deleted upstream. It reports whether any refs changed. A failure
// here is a network-class error, never a corruption finding.
func (s *Store) FetchUpdate(ctx context.Context, name string) (bool, error) {
	repo, err := git.PlainOpen(s.Dir(name))
	if err != nil {
		return false, WrapErrorf(ErrRepoCorrupt, "opening %s", name)
	}

	s.logger.Debug("fetching updates", "package", name)

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   []config.RefSpec{mirrorRefSpec},
		Prune:      true,
		Tags:       git.AllTags,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, WrapErrorf(errors.Join(ErrFetchFailed, err), "fetching %s", name)
	}

	return true, nil
}

// Discard destructively removes the package's repository directory ahead of
// a fresh clone. It refuses to act unless a prior Healthy call recorded a
// corruption finding for this exact package, and unless the directory
// resolves to a path inside the store root.
func (s *Store) Discard(name string) error {
	if _, found := s.unhealthy[name]; !found {
		return WrapErrorf(ErrDiscardRefused, "package %s", name)
	}

	dir := s.Dir(name)
	s.logger.Warn("discarding corrupt repository", "package", name, "dir", dir)

	if err := s.remove(dir); err != nil {
		return WrapErrorf(err, "discarding %s", name)
	}

	delete(s.unhealthy, name)
	return nil
}

// RefreshServerInfo regenerates the static metadata (info/refs and
// objects/info/packs) required to serve the repository over dumb HTTP.
func (s *Store) RefreshServerInfo(name string) error {
	dir := s.Dir(name)

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return WrapErrorf(ErrRepoCorrupt, "opening %s", name)
	}

	if err := serverinfo.UpdateServerInfo(repo.Storer, osfs.New(dir)); err != nil {
		return WrapErrorf(err, "updating server info for %s", name)
	}

	return nil
}

// remove deletes dir after verifying it is a directory strictly inside the
// store root. Anything suspicious aborts the removal.
func (s *Store) remove(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return WrapErrorf(ErrDiscardRefused, "path %q escapes store root %q", dir, s.root)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return WrapErrorf(ErrDiscardRefused, "path %q is not a directory", abs)
	}

	return os.RemoveAll(abs)
}
