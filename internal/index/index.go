// Package index retrieves and normalizes the package index that drives a
// mirror run. The index maps package names ("user/project") to the list of
// published version tags for that package.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// ErrIndexUnavailable is returned when the package index cannot be retrieved
// or parsed. It is the only fatal error class of a mirror run.
var ErrIndexUnavailable = errors.New("package index unavailable")

// nameExpr matches well-formed package names so that a hostile index entry
// can never escape the destination tree ("foo/.." and friends).
var nameExpr = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9]/[a-zA-Z0-9_-][a-zA-Z0-9_.-]*$`)

// Entry identifies one package and its published version tags.
// Tags are unique and ordered oldest release first.
type Entry struct {
	// Name is the package identifier in "user/project" form.
	Name string

	// Versions holds the version tags published for the package.
	Versions []string
}

// ValidName reports whether name is a well-formed "user/project" package
// identifier.
func ValidName(name string) bool {
	return nameExpr.MatchString(name)
}

// Parse normalizes a raw index payload into entries sorted by package name.
// Entries with malformed names are dropped; duplicate version tags within an
// entry are deduplicated. Returns ErrIndexUnavailable if the payload is not
// a valid index document.
func Parse(data []byte) ([]Entry, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	entries := make([]Entry, 0, len(raw))
	for name, versions := range raw {
		if !ValidName(name) {
			continue
		}
		entries = append(entries, Entry{
			Name:     name,
			Versions: normalizeVersions(versions),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// Load reads the index from a local override file.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return Parse(data)
}

// normalizeVersions deduplicates tags and orders them oldest release first.
// Tags that parse as semantic versions sort numerically; anything else sorts
// lexicographically after them.
func normalizeVersions(versions []string) []string {
	seen := make(map[string]struct{}, len(versions))
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		vi, erri := semver.StrictNewVersion(out[i])
		vj, errj := semver.StrictNewVersion(out[j])
		switch {
		case erri == nil && errj == nil:
			return vi.LessThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return out[i] < out[j]
		}
	})

	return out
}
