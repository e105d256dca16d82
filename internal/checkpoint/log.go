// Package checkpoint owns the durable checkpoint file of a root search run:
// one configuration header followed by zero or more checksummed result
// records, in append order.
//
// A worker opens the log at startup. If the file pre-exists the log is in
// resume mode: the stored header is authoritative and completed work is
// recovered by scanning the body records. If the file is new the caller's
// configuration is written once as the header. During the run each worker
// appends one checksummed record per completed root candidate, holding the
// advisory file lock for the duration of the write. The designated
// coordinating rank may compact the log with Clean.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/cladelabs/rootckpt/internal/codec"
	"github.com/cladelabs/rootckpt/internal/domain"
	"github.com/cladelabs/rootckpt/internal/flock"
	"github.com/cladelabs/rootckpt/internal/frame"
)

const (
	// Suffix is appended to the run prefix to form the checkpoint path.
	Suffix = ".ckp"

	// backupSuffix is appended to the checkpoint path during compaction.
	backupSuffix = ".bak"

	fileMode = 0o640
)

// Log is an open checkpoint file. It exclusively owns the file handle and
// the decision of when to read, lock, append, or rotate it. Callers own the
// RunOptions and RootResult values; the log only borrows them long enough to
// serialize or return a decoded copy.
//
// A Log is safe for concurrent use across processes: appends, scans, and
// compaction all serialize on the same whole-file advisory lock.
type Log struct {
	path     string
	file     *os.File
	existing bool
	saved    bool
	logger   zerolog.Logger
}

// Option configures optional behavior of a Log.
type Option func(*Log)

// WithLogger sets the logger used for advisory messages (corruption
// detected, resuming from checkpoint). The default discards them.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Open opens the checkpoint file for the given run prefix, creating it if
// absent. The existence check happens before the open call so that
// fresh-vs-resume mode reflects the state of the world before this process
// could have created the file.
func Open(prefix string, opts ...Option) (*Log, error) {
	l := &Log{
		path:   prefix + Suffix,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	_, err := os.Stat(l.path)
	l.existing = err == nil

	l.file, err = os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, fileMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOpenFailure, l.path, err)
	}

	if l.existing {
		l.logger.Info().Str("path", l.path).Msg("resuming from existing checkpoint")
	}
	return l, nil
}

// Path returns the checkpoint file path.
func (l *Log) Path() string { return l.path }

// Existing reports whether the checkpoint file pre-existed at open time.
func (l *Log) Existing() bool { return l.existing }

// SaveOptions writes the framed configuration header. On a fresh file it
// writes exactly once; on resume, or after the header has been written, it
// is a no-op: the on-disk header is authoritative and never overwritten.
func (l *Log) SaveOptions(o *domain.RunOptions) error {
	if l.existing || l.saved {
		return nil
	}
	if _, err := frame.Write(l.file, o); err != nil {
		return err
	}
	l.saved = true
	return nil
}

// LoadOptions reads the stored configuration header through a separate
// read-only handle positioned at file start. Only meaningful in resume mode.
func (l *Log) LoadOptions() (domain.RunOptions, error) {
	var o domain.RunOptions
	if !l.existing {
		return o, fmt.Errorf("%w: no existing checkpoint at %s", domain.ErrReadFailure, l.path)
	}
	l.logger.Warn().Str("path", l.path).Msg("loading options from the checkpoint file")

	rf, err := os.Open(l.path)
	if err != nil {
		return o, fmt.Errorf("%w: %s: %v", domain.ErrOpenFailure, l.path, err)
	}
	defer rf.Close()

	if _, err := frame.Read(rf, &o); err != nil {
		return o, fmt.Errorf("%w: decoding header: %v", domain.ErrReadFailure, err)
	}
	return o, nil
}

// AppendResult appends one checksummed result record, holding the exclusive
// blocking lock for the duration of the write. Returns the bytes written.
func (l *Log) AppendResult(r domain.RootResult) (int, error) {
	l.logger.Debug().Uint64("root_id", r.RootID).Msg("writing result record")

	lk, err := flock.Acquire(l.file, true)
	if err != nil {
		return 0, err
	}
	defer lk.Release()

	return frame.WriteChecksummed(l.file, &r)
}

// ScanResults returns every valid result record in on-disk append order.
// The exclusive lock is held for the whole scan so concurrent appenders see
// a consistent snapshot. Corruption in the body (a truncated tail, a flipped
// bit) stops the scan: everything validated before the corruption point is
// returned and a warning is emitted, but no failure propagates.
func (l *Log) ScanResults() ([]domain.RootResult, error) {
	lk, err := flock.Acquire(l.file, true)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	_, results, err := l.readAll()
	return results, err
}

// CompletedIDs returns the root identifier of every valid result record,
// in append order. Callers use it to skip already finished candidates.
func (l *Log) CompletedIDs() ([]uint64, error) {
	results, err := l.ScanResults()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(results))
	for i, r := range results {
		ids[i] = r.RootID
	}
	return ids, nil
}

// Clean compacts the checkpoint: it rewrites the header and every
// still-valid record into a fresh backup file and atomically renames it over
// the original. Only the coordinating rank may compact; all other callers,
// and fresh files with nothing to compact, return immediately.
//
// The backup is created with exclusive-create semantics. A pre-existing
// backup means a prior compaction was interrupted and is reported as a loud
// setup failure, never silently overwritten. A crash before the final rename
// leaves the original untouched; a crash after leaves the new file fully in
// place. There is no window where the checkpoint path names a half-written
// file.
func (l *Log) Clean(coordinator bool) error {
	if !l.existing || !coordinator {
		return nil
	}

	lk, err := flock.Acquire(l.file, true)
	if err != nil {
		return err
	}
	defer lk.Release()

	backupPath := l.path + backupSuffix
	bf, err := os.OpenFile(backupPath, os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return fmt.Errorf("%w: creating backup %s (stale backup from an interrupted compaction?): %v",
			domain.ErrOpenFailure, backupPath, err)
	}
	defer bf.Close()

	opts, results, err := l.readAll()
	if err != nil {
		return err
	}

	if _, err := frame.Write(bf, &opts); err != nil {
		return err
	}
	for i := range results {
		if _, err := frame.WriteChecksummed(bf, &results[i]); err != nil {
			return err
		}
	}
	if err := bf.Close(); err != nil {
		return fmt.Errorf("%w: closing backup %s: %v", domain.ErrWriteFailure, backupPath, err)
	}

	if err := os.Rename(backupPath, l.path); err != nil {
		return fmt.Errorf("%w: renaming %s over %s: %v", domain.ErrWriteFailure, backupPath, l.path, err)
	}

	l.logger.Info().Int("records", len(results)).Str("path", l.path).Msg("checkpoint compacted")
	return nil
}

// Reload closes and reopens the handle at the same path. Use it after an
// external rewrite, e.g. after the coordinating rank compacted the file, so
// this handle's append position refers to the live inode again.
func (l *Log) Reload() error {
	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, fileMode)
	if err != nil {
		return fmt.Errorf("%w: reloading %s: %v", domain.ErrOpenFailure, l.path, err)
	}
	l.file = f
	return nil
}

// Inode returns a stable identifier for the open file's storage location.
// Callers compare inodes across time to tell a compaction-replaced file from
// the same file that simply grew.
func (l *Log) Inode() (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(l.file.Fd()), &st); err != nil {
		return 0, fmt.Errorf("%w: fstat %s: %v", domain.ErrStatFailure, l.path, err)
	}
	return uint64(st.Ino), nil
}

// Close releases the file handle. The advisory lock, if held by an
// in-flight operation, is released with it.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// readAll reads the header and the valid body prefix through a fresh
// read-only handle. The caller must hold the lock.
func (l *Log) readAll() (domain.RunOptions, []domain.RootResult, error) {
	var opts domain.RunOptions

	rf, err := os.Open(l.path)
	if err != nil {
		return opts, nil, fmt.Errorf("%w: %s: %v", domain.ErrOpenFailure, l.path, err)
	}
	defer rf.Close()

	if _, err := frame.Read(rf, &opts); err != nil {
		return opts, nil, fmt.Errorf("%w: decoding header: %v", domain.ErrReadFailure, err)
	}

	var results []domain.RootResult
	for {
		var r domain.RootResult
		_, err := frame.ReadChecksummed(rf, &r)
		if err == io.EOF {
			break
		}
		if errors.Is(err, frame.ErrShortRead) ||
			errors.Is(err, frame.ErrChecksumMismatch) ||
			errors.Is(err, codec.ErrCorrupt) {
			l.logger.Warn().Err(err).Int("recovered", len(results)).
				Msg("checkpoint file is corrupted, resuming with what we can")
			break
		}
		if err != nil {
			return opts, results, fmt.Errorf("%w: scanning results: %v", domain.ErrReadFailure, err)
		}
		results = append(results, r)
	}
	return opts, results, nil
}
