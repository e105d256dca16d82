// Package watch monitors a checkpoint file for external changes. Workers
// use it to notice two things without polling: another worker appended a
// record (the file grew), or the coordinating rank compacted the file (the
// path now names a different inode).
package watch

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Kind classifies a checkpoint file change.
type Kind int

const (
	// Appended means the existing file grew in place.
	Appended Kind = iota

	// Replaced means the path now refers to a different underlying file,
	// the signature of a completed compaction.
	Replaced
)

// Event is one observed checkpoint change, delivered after debouncing.
type Event struct {
	Kind  Kind
	Inode uint64
}

// Watcher delivers checkpoint change events. Create one with New and drive
// it with Run.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger
}

// Option configures optional behavior of a Watcher.
type Option func(*Watcher)

// WithDebounce sets the delay to wait after a burst of file events before
// delivering one coalesced event. Default: 100 milliseconds.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// New creates a Watcher for the checkpoint file at path.
func New(path string, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the checkpoint until ctx is done, invoking onEvent for each
// coalesced change. The parent directory is watched, not the file itself:
// a compaction rename would silently detach a watch on the old inode.
func (w *Watcher) Run(ctx context.Context, onEvent func(Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	lastInode, _ := inodeOf(w.path)
	base := filepath.Base(w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil

			inode, err := inodeOf(w.path)
			if err != nil {
				// The file can be transiently absent mid-rename; the next
				// event resolves it.
				w.logger.Debug().Err(err).Msg("checkpoint stat failed after change")
				continue
			}
			ev := Event{Kind: Appended, Inode: inode}
			if inode != lastInode {
				ev.Kind = Replaced
				lastInode = inode
			}
			onEvent(ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("checkpoint watcher error")
		}
	}
}

func inodeOf(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, nil
	}
	return uint64(st.Ino), nil
}
