// Package rootckpt provides the checkpoint/restart layer for a distributed
// phylogenetic root search. Workers record one result per completed root
// candidate in an append-only, checksum-protected file; a restarted job
// resumes from whatever was durably recorded without recomputing finished
// work and without trusting a truncated or corrupted file.
//
// Example usage:
//
//	ckp, err := rootckpt.Open("run1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ckp.Close()
//
//	if ckp.Existing() {
//	    opts, _ = ckp.LoadOptions() // on-disk configuration wins
//	    done, _ := ckp.CompletedIDs()
//	    skip(done)
//	} else {
//	    ckp.SaveOptions(&opts)
//	}
//	// per completed candidate:
//	ckp.AppendResult(rootckpt.RootResult{RootID: id, LWR: lwr})
//	// at shutdown, on the coordinating rank only:
//	ckp.Clean(rank == 0)
package rootckpt

import (
	"github.com/cladelabs/rootckpt/internal/checkpoint"
	"github.com/cladelabs/rootckpt/internal/domain"
)

// Log is an open checkpoint file. See the package documentation for the
// lifecycle; all methods are safe against concurrent workers in other
// processes.
type Log = checkpoint.Log

// Option configures optional behavior of a Log.
type Option = checkpoint.Option

// RunOptions is the configuration snapshot stored once as the checkpoint
// header.
type RunOptions = domain.RunOptions

// RootResult is one completed root candidate evaluation.
type RootResult = domain.RootResult

// Suffix is appended to the run prefix to form the checkpoint path.
const Suffix = checkpoint.Suffix

// Failure classes returned by the checkpoint API; check with errors.Is.
var (
	ErrOpenFailure  = domain.ErrOpenFailure
	ErrWriteFailure = domain.ErrWriteFailure
	ErrReadFailure  = domain.ErrReadFailure
	ErrLockFailure  = domain.ErrLockFailure
	ErrStatFailure  = domain.ErrStatFailure
)

// Open opens the checkpoint file for the given run prefix, creating it if
// absent. Existing reports fresh-vs-resume mode afterwards.
func Open(prefix string, opts ...Option) (*Log, error) {
	return checkpoint.Open(prefix, opts...)
}

// WithLogger sets the logger used for advisory messages.
var WithLogger = checkpoint.WithLogger
