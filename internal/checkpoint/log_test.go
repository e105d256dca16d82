package checkpoint

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cladelabs/rootckpt/internal/domain"
)

func testOptions() domain.RunOptions {
	return domain.RunOptions{
		MSAFile:        "align.fasta",
		TreeFile:       "tree.nwk",
		Prefix:         "run1",
		ModelString:    "GTR+G4",
		RateCategories: 4,
		Seed:           42,
		MinRoots:       1,
		Threads:        4,
		RootRatio:      0.05,
		AbsTolerance:   1e-7,
		EarlyStop:      true,
	}
}

func openFresh(t *testing.T) (*Log, string) {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "run1")
	l, err := Open(prefix)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, prefix
}

func appendResults(t *testing.T, l *Log, ids ...uint64) {
	t.Helper()
	for _, id := range ids {
		r := domain.RootResult{RootID: id, LWR: 0.1, LogLikelihood: -100.5, Alpha: 0.7}
		if _, err := l.AppendResult(r); err != nil {
			t.Fatalf("append %d: %v", id, err)
		}
	}
}

func TestFreshThenResume(t *testing.T) {
	l, prefix := openFresh(t)

	if l.Existing() {
		t.Fatal("fresh prefix reported existing")
	}

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2, 3)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	if !r.Existing() {
		t.Fatal("reopened prefix not reported existing")
	}
	got, err := r.LoadOptions()
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if got != opts {
		t.Fatalf("options mismatch:\ngot  %+v\nwant %+v", got, opts)
	}

	ids, err := r.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("completed ids = %v, want [1 2 3]", ids)
	}
}

func TestSaveOptionsNeverOverwritesHeader(t *testing.T) {
	l, prefix := openFresh(t)

	first := testOptions()
	if err := l.SaveOptions(&first); err != nil {
		t.Fatalf("save options: %v", err)
	}

	// Second save on the same instance must not append another header.
	second := testOptions()
	second.Seed = 99
	if err := l.SaveOptions(&second); err != nil {
		t.Fatalf("second save: %v", err)
	}
	l.Close()

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	// On resume, save is a no-op: the on-disk header is authoritative.
	third := testOptions()
	third.Seed = 1000
	if err := r.SaveOptions(&third); err != nil {
		t.Fatalf("save on resume: %v", err)
	}

	got, err := r.LoadOptions()
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if got.Seed != first.Seed {
		t.Fatalf("stored seed = %d, want %d", got.Seed, first.Seed)
	}
}

func TestAppendOrderPreserved(t *testing.T) {
	l, _ := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 3, 1, 2)

	ids, err := l.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("completed ids = %v, want append order [3 1 2]", ids)
	}
}

func TestScanKeepsPrefixBeforeTruncatedTail(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 10, 11)

	// Simulate a crash mid-append: a record prefix that declares more
	// payload than the file holds.
	f, err := os.OpenFile(prefix+Suffix, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		t.Fatalf("open for tampering: %v", err)
	}
	partial := binary.NativeEndian.AppendUint64(nil, domain.RootResultSize)
	partial = binary.NativeEndian.AppendUint64(partial, 0) // checksum slot
	partial = append(partial, 0xde, 0xad, 0xbe)
	if _, err := f.Write(partial); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	f.Close()

	results, err := l.ScanResults()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 2 || results[0].RootID != 10 || results[1].RootID != 11 {
		t.Fatalf("results = %v, want the two complete records", results)
	}
}

func TestScanKeepsPrefixBeforeFlippedBit(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2, 3)

	// Flip one bit inside the last record's payload.
	path := prefix + Suffix
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	results, err := l.ScanResults()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 2 || results[0].RootID != 1 || results[1].RootID != 2 {
		t.Fatalf("results = %v, want records before the corruption point", results)
	}
}

func TestScanKeepsPrefixBeforeCorruptLengthWord(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2)

	// Flip a high bit in the last record's length word. The scan must
	// treat the absurd declared size as corruption and keep the record
	// before it, not attempt the allocation.
	path := prefix + Suffix
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lengthOff := len(data) - (16 + domain.RootResultSize)
	length := binary.NativeEndian.Uint64(data[lengthOff:])
	binary.NativeEndian.PutUint64(data[lengthOff:], length|1<<62)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	results, err := l.ScanResults()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(results) != 1 || results[0].RootID != 1 {
		t.Fatalf("results = %v, want the record before the corrupt length", results)
	}
}

func TestCleanPreservesRecordsAndSwapsInode(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2, 3)
	l.Close()

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	before, err := r.Inode()
	if err != nil {
		t.Fatalf("inode: %v", err)
	}

	if err := r.Clean(true); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := os.Stat(prefix + Suffix + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("backup file left behind: %v", err)
	}

	// The handle still points at the replaced inode until Reload.
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	after, err := r.Inode()
	if err != nil {
		t.Fatalf("inode: %v", err)
	}
	if before == after {
		t.Fatal("compaction did not replace the underlying file")
	}

	got, err := r.LoadOptions()
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if got != opts {
		t.Fatalf("options mismatch after clean:\ngot  %+v\nwant %+v", got, opts)
	}
	ids, err := r.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("completed ids = %v, want [1 2 3]", ids)
	}
}

func TestCleanDropsCorruptedTail(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2)
	l.Close()

	// Truncate mid-record.
	path := prefix + Suffix
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, fi.Size()-5); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	if err := r.Clean(true); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// The corrupted tail is gone; the compacted file scans cleanly.
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	ids, err := r.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("completed ids = %v, want [1]", ids)
	}
	if after.Size() >= fi.Size() {
		t.Fatalf("compacted size %d not smaller than corrupted size %d", after.Size(), fi.Size())
	}
}

func TestCleanRefusesStaleBackup(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1, 2, 3)
	l.Close()

	// A leftover backup marks an interrupted prior compaction. Clean must
	// fail loudly and leave the original untouched.
	stale := prefix + Suffix + ".bak"
	if err := os.WriteFile(stale, []byte("stale"), 0o640); err != nil {
		t.Fatalf("plant stale backup: %v", err)
	}

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	if err := r.Clean(true); !errors.Is(err, domain.ErrOpenFailure) {
		t.Fatalf("expected ErrOpenFailure, got %v", err)
	}

	ids, err := r.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("original damaged by refused clean: ids = %v", ids)
	}
}

func TestCleanOnlyRunsOnCoordinator(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	appendResults(t, l, 1)
	l.Close()

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	before, err := r.Inode()
	if err != nil {
		t.Fatalf("inode: %v", err)
	}
	if err := r.Clean(false); err != nil {
		t.Fatalf("non-coordinator clean: %v", err)
	}
	after, err := r.Inode()
	if err != nil {
		t.Fatalf("inode: %v", err)
	}
	if before != after {
		t.Fatal("non-coordinator clean replaced the file")
	}
}

func TestCleanIsNoopOnFreshFile(t *testing.T) {
	l, prefix := openFresh(t)

	if err := l.Clean(true); err != nil {
		t.Fatalf("clean on fresh file: %v", err)
	}
	if _, err := os.Stat(prefix + Suffix + ".bak"); !os.IsNotExist(err) {
		t.Fatal("clean on fresh file created a backup")
	}
}

func TestConcurrentAppendsAllSurvive(t *testing.T) {
	l, prefix := openFresh(t)

	opts := testOptions()
	if err := l.SaveOptions(&opts); err != nil {
		t.Fatalf("save options: %v", err)
	}
	l.Close()

	// Each appender opens its own Log, as independent worker processes
	// would; the file lock serializes the writes.
	const appenders = 16
	var wg sync.WaitGroup
	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			w, err := Open(prefix)
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			defer w.Close()
			if _, err := w.AppendResult(domain.RootResult{RootID: id}); err != nil {
				t.Errorf("append %d: %v", id, err)
			}
		}(uint64(i))
	}
	wg.Wait()

	r, err := Open(prefix)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	ids, err := r.CompletedIDs()
	if err != nil {
		t.Fatalf("completed ids: %v", err)
	}
	if len(ids) != appenders {
		t.Fatalf("recovered %d records, want %d", len(ids), appenders)
	}
	seen := make(map[uint64]bool, appenders)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestLoadOptionsOnFreshFileFails(t *testing.T) {
	l, _ := openFresh(t)

	if _, err := l.LoadOptions(); !errors.Is(err, domain.ErrReadFailure) {
		t.Fatalf("expected ErrReadFailure, got %v", err)
	}
}
