// Package gitstore provides sentinel errors for mirror repository
// operations. All errors can be checked using errors.Is() for programmatic
// handling.
package gitstore

import (
	"errors"
	"fmt"
)

// ErrCloneFailed is returned when a fresh mirror clone cannot be completed.
// The per-package mirror is left absent; the next run will retry the clone.
var ErrCloneFailed = errors.New("clone failed")

// ErrFetchFailed is returned when fetching new refs into an existing mirror
// fails for network or protocol reasons. It never indicates corruption of
// the local repository.
var ErrFetchFailed = errors.New("fetch failed")

// ErrRepoCorrupt is returned when an operation requires a structurally
// valid repository but the on-disk state fails the health check.
var ErrRepoCorrupt = errors.New("repository corrupt")

// ErrDiscardRefused is returned when a destructive discard is requested for
// a package without a prior corruption finding for that same package.
var ErrDiscardRefused = errors.New("discard refused without corruption finding")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while
// preserving the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
