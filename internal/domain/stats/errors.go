package stats

import "errors"

var (
	// ErrNotFound means the subject does not exist upstream, or is private.
	// Private subjects are deliberately indistinguishable from missing ones.
	ErrNotFound = errors.New("subject not found")

	// ErrUnavailable means no cached fallback existed and the refresh was
	// vetoed or the upstream call failed.
	ErrUnavailable = errors.New("stats unavailable")

	// ErrStoreUnavailable means the persistence layer failed. Fatal to the
	// request, never retried.
	ErrStoreUnavailable = errors.New("stats store unavailable")

	// ErrUpstream means the upstream call failed in transport. Not retried.
	ErrUpstream = errors.New("upstream call failed")
)
