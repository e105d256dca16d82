// Package flock provides whole-file exclusive advisory locking over an open
// file, used to serialize checkpoint appends and compaction across worker
// processes. The lock is cooperative: it excludes only participants that
// also acquire it.
package flock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cladelabs/rootckpt/internal/domain"
)

// ErrWouldBlock is returned by a non-blocking acquire when another holder
// already has the lock.
var ErrWouldBlock = errors.New("rootckpt: lock held elsewhere")

// Lock is a held exclusive lock on a file. Release it with Release, on every
// exit path of the critical section:
//
//	lk, err := flock.Acquire(f, true)
//	if err != nil {
//	    return err
//	}
//	defer lk.Release()
//
// The lock is scoped to the open file description, so two handles on the
// same path exclude each other even within one process.
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive advisory lock on f. With blocking set, the call
// waits indefinitely for the current holder; correctness-critical sections
// (append, compaction) always use blocking mode so a busy writer never
// silently loses an update. Without blocking, ErrWouldBlock is returned if
// the lock is held elsewhere.
func Acquire(f *os.File, blocking bool) (*Lock, error) {
	how := unix.LOCK_EX
	if !blocking {
		how |= unix.LOCK_NB
	}

	// Retry on EINTR: a blocking flock can be interrupted by signals the Go
	// runtime uses internally.
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("%w: flock %s: %v", domain.ErrLockFailure, f.Name(), err)
	}
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() {
	if l.f == nil {
		return
	}
	// Unlock cannot meaningfully fail for a held lock; ignore the result so
	// Release is safe in defer position.
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f = nil
}
