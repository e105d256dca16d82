package domain

import "errors"

// Domain errors represent failure classes of the checkpoint subsystem.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrOpenFailure is returned when the checkpoint or backup file cannot
	// be opened or created.
	ErrOpenFailure = errors.New("rootckpt: open failure")

	// ErrWriteFailure is returned when an underlying write errors or writes
	// fewer bytes than requested.
	ErrWriteFailure = errors.New("rootckpt: write failure")

	// ErrReadFailure is returned when the header cannot be decoded on an
	// explicit options load. A run cannot resume without its configuration.
	ErrReadFailure = errors.New("rootckpt: read failure")

	// ErrLockFailure is returned when the advisory lock cannot be acquired
	// at the OS level. There is no lock-free fallback.
	ErrLockFailure = errors.New("rootckpt: lock failure")

	// ErrStatFailure is returned when the inode lookup fails.
	ErrStatFailure = errors.New("rootckpt: stat failure")
)
