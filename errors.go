package blobcache

import "errors"

var (
	// ErrBaseDirEmpty is returned by New when no base directory is given.
	ErrBaseDirEmpty = errors.New("blobcache: base dir is empty")

	// ErrInvalidLimit is returned by New when a configured size limit is
	// not positive.
	ErrInvalidLimit = errors.New("blobcache: size limit must be positive")
)
