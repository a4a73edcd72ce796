// Package planner is the incremental synchronization engine. For each
// package listed in the index it compares the target state against the
// local mirror and decides the cheapest operation that converges them:
// skip, fetch, a fresh clone, or a reclone after a corruption finding.
//
// The key optimization is the skip short-circuit: when every index-listed
// tag is already present locally, the mirror is proven current and no
// network call of any kind is made for that package.
package planner

import (
	"context"
	"log/slog"

	"github.com/elmirror/elmirror/internal/index"
)

// DefaultRemoteBase is the source host package names are resolved against.
const DefaultRemoteBase = "https://github.com"

// Decision is the synchronization operation chosen for one package.
type Decision int8

const (
	// Skip means the local mirror already holds every index-listed tag.
	Skip Decision = iota

	// Fetch means the mirror is healthy but missing tags; fetch updates.
	Fetch

	// CloneFresh means no local repository exists; clone from scratch.
	CloneFresh

	// RecloneAfterCorruption means the local repository failed the health
	// check; discard it and clone from scratch.
	RecloneAfterCorruption
)

// String returns a human-readable string representation of the Decision.
func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Fetch:
		return "fetch"
	case CloneFresh:
		return "clone-fresh"
	case RecloneAfterCorruption:
		return "reclone-after-corruption"
	default:
		return "unknown"
	}
}

// State is the observed local mirror state for one package.
type State struct {
	// Exists reports whether a repository directory is present.
	Exists bool

	// Healthy reports whether the repository passed the structural
	// validity check. Only meaningful when Exists is true.
	Healthy bool

	// Missing holds index tags absent from the local mirror, in index
	// order. Only meaningful when the repository exists and is healthy.
	Missing []string
}

// Plan maps an observed state to a synchronization decision. It is a pure
// function so the decision table can be tested without a repository.
func Plan(st State) Decision {
	switch {
	case !st.Exists:
		return CloneFresh
	case !st.Healthy:
		return RecloneAfterCorruption
	case len(st.Missing) > 0:
		return Fetch
	default:
		return Skip
	}
}

// Store is the subset of the repository store the planner drives.
type Store interface {
	Exists(name string) bool
	Healthy(ctx context.Context, name string) bool
	LocalTags(ctx context.Context, name string) ([]string, error)
	CloneFresh(ctx context.Context, name, remoteURL string) error
	FetchUpdate(ctx context.Context, name string) (bool, error)
	Discard(name string) error
	RefreshServerInfo(name string) error
}

// Archiver materializes the distributable archive for one version.
type Archiver interface {
	Export(ctx context.Context, name, version string) (bool, error)
}

// Describer extracts the description for one version and reports whether
// the version should be published at all.
type Describer interface {
	Describe(ctx context.Context, name, version string) (bool, error)
}

// Prober reports whether a package's source repository still answers.
type Prober interface {
	Available(ctx context.Context, url string) bool
}

// Runner executes the synchronization plan package by package, strictly
// sequentially, isolating every per-package failure.
type Runner struct {
	store      Store
	archiver   Archiver
	describer  Describer
	prober     Prober
	remoteBase string
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithProber installs an availability probe consulted before any network
// git operation. Without one, every source is assumed reachable.
func WithProber(p Prober) Option {
	return func(r *Runner) {
		r.prober = p
	}
}

// WithRemoteBase overrides the source host URL prefix.
func WithRemoteBase(base string) Option {
	return func(r *Runner) {
		r.remoteBase = base
	}
}

// New returns a Runner driving store, archiver and describer.
func New(store Store, archiver Archiver, describer Describer, opts ...Option) *Runner {
	r := &Runner{
		store:      store,
		archiver:   archiver,
		describer:  describer,
		remoteBase: DefaultRemoteBase,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// SyncAll mirrors every index entry in order. Per-package failures are
// logged and never interrupt the remaining packages.
func (r *Runner) SyncAll(ctx context.Context, entries []index.Entry) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := r.syncOne(ctx, entry); err != nil {
			r.logger.Error("error mirroring package", "package", entry.Name, "error", err)
		}
	}
}

// syncOne brings a single package's mirror and artifacts in sync with its
// index entry.
func (r *Runner) syncOne(ctx context.Context, entry index.Entry) error {
	st, err := r.observe(ctx, entry)
	if err != nil {
		return err
	}

	decision := Plan(st)
	r.logger.Debug("planned", "package", entry.Name, "decision", decision.String())

	changed := false
	switch decision {
	case Skip:
		// Every index tag is already local: proof the mirror is current.

	case Fetch:
		if !r.available(ctx, entry.Name) {
			break
		}
		changed, err = r.store.FetchUpdate(ctx, entry.Name)
		if err != nil {
			return err
		}
		r.reportStillMissing(ctx, entry)

	case CloneFresh:
		if !r.available(ctx, entry.Name) {
			break
		}
		r.logger.Info("initial mirror of package", "package", entry.Name)
		if err := r.store.CloneFresh(ctx, entry.Name, r.remoteURL(entry.Name)); err != nil {
			return err
		}
		changed = true

	case RecloneAfterCorruption:
		r.logger.Warn("invalid repository, removing and trying again", "package", entry.Name)
		if err := r.store.Discard(entry.Name); err != nil {
			return err
		}
		if !r.available(ctx, entry.Name) {
			break
		}
		if err := r.store.CloneFresh(ctx, entry.Name, r.remoteURL(entry.Name)); err != nil {
			return err
		}
		changed = true
	}

	if changed {
		if err := r.store.RefreshServerInfo(entry.Name); err != nil {
			r.logger.Warn("server info refresh failed", "package", entry.Name, "error", err)
		}
	}

	return r.publish(ctx, entry)
}

// observe derives the package's State from the store.
func (r *Runner) observe(ctx context.Context, entry index.Entry) (State, error) {
	st := State{Exists: r.store.Exists(entry.Name)}
	if !st.Exists {
		return st, nil
	}

	st.Healthy = r.store.Healthy(ctx, entry.Name)
	if !st.Healthy {
		return st, nil
	}

	tags, err := r.store.LocalTags(ctx, entry.Name)
	if err != nil {
		return st, err
	}
	st.Missing = missingTags(entry.Versions, tags)

	return st, nil
}

// publish materializes descriptions and archives for every index version
// present in the local mirror. Per-version failures are logged and skipped.
func (r *Runner) publish(ctx context.Context, entry index.Entry) error {
	if !r.store.Exists(entry.Name) {
		// Clone was skipped (source gone) or failed; nothing to publish.
		return nil
	}

	tags, err := r.store.LocalTags(ctx, entry.Name)
	if err != nil {
		return err
	}

	local := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		local[t] = struct{}{}
	}

	for _, version := range entry.Versions {
		if _, ok := local[version]; !ok {
			continue
		}

		interesting, err := r.describer.Describe(ctx, entry.Name, version)
		if err != nil {
			r.logger.Warn("description failed", "package", entry.Name, "version", version, "error", err)
			continue
		}
		if !interesting {
			continue
		}

		if _, err := r.archiver.Export(ctx, entry.Name, version); err != nil {
			r.logger.Warn("archive export failed", "package", entry.Name, "version", version, "error", err)
		}
	}

	return nil
}

// reportStillMissing re-checks the index tags after a fetch. A stale index
// or an upstream tag deletion can leave tags unfetchable; they are treated
// as silently unavailable, not as errors.
func (r *Runner) reportStillMissing(ctx context.Context, entry index.Entry) {
	tags, err := r.store.LocalTags(ctx, entry.Name)
	if err != nil {
		return
	}
	if missing := missingTags(entry.Versions, tags); len(missing) > 0 {
		r.logger.Debug("tags still missing after fetch", "package", entry.Name, "tags", missing)
	}
}

// available consults the prober, if any, for the package's source URL.
func (r *Runner) available(ctx context.Context, name string) bool {
	if r.prober == nil {
		return true
	}
	return r.prober.Available(ctx, r.remoteURL(name))
}

// remoteURL resolves a package name against the source host.
func (r *Runner) remoteURL(name string) string {
	return r.remoteBase + "/" + name
}

// missingTags returns the index tags absent from local, preserving index
// order.
func missingTags(want, local []string) []string {
	have := make(map[string]struct{}, len(local))
	for _, t := range local {
		have[t] = struct{}{}
	}

	var missing []string
	for _, t := range want {
		if _, ok := have[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
