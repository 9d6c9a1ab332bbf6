package walog

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tinydb/pkg/tderr"
)

// WAL is the append-only write-ahead log file.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
	size int64

	nextLSN atomic.Uint64

	// Group commit: the first caller to arrive performs the fsync for
	// everyone waiting with it (spec.md §4.4.3).
	commitMu   sync.Mutex
	commitCond *sync.Cond
	syncing    bool
	syncErr    error

	archiver *archiver
}

// Open opens or creates the log file at path.
func Open(path string, archiveDir string, archiveRetain int) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, tderr.Wrap(tderr.KindIO, "open WAL file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tderr.Wrap(tderr.KindIO, "stat WAL file", err)
	}

	w := &WAL{file: f, path: path, size: info.Size()}
	w.commitCond = sync.NewCond(&w.commitMu)
	w.archiver = newArchiver(archiveDir, archiveRetain)
	w.nextLSN.Store(1)
	return w, nil
}

// NextLSN allocates a fresh, monotonically increasing log sequence number.
func (w *WAL) NextLSN() uint64 {
	return w.nextLSN.Add(1) - 1
}

// Append writes rec to the end of the log without fsyncing. Returns the
// record's byte offset.
func (w *WAL) Append(rec *Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := rec.encode()
	offset := w.size
	if _, err := w.file.WriteAt(buf, offset); err != nil {
		return 0, tderr.Wrap(tderr.KindIO, "append WAL record", err)
	}
	w.size += int64(len(buf))
	return offset, nil
}

// Sync fsyncs the log file directly, with no group-commit batching. Used
// for checkpoint boundary records where batching doesn't apply.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return tderr.Wrap(tderr.KindIO, "sync WAL file", err)
	}
	return nil
}

// GroupCommit fsyncs the log, batching concurrent callers arriving within
// window of each other into a single fsync call (spec.md §4.4.3). The
// first caller to arrive performs the fsync after sleeping out the
// window (giving concurrent committers time to also call GroupCommit and
// queue behind it); everyone else blocks until that fsync completes and
// shares its result.
func (w *WAL) GroupCommit(window time.Duration) error {
	w.commitMu.Lock()
	if w.syncing {
		for w.syncing {
			w.commitCond.Wait()
		}
		err := w.syncErr
		w.commitMu.Unlock()
		return err
	}

	w.syncing = true
	w.commitMu.Unlock()

	if window > 0 {
		time.Sleep(window)
	}

	err := w.Sync()

	w.commitMu.Lock()
	w.syncErr = err
	w.syncing = false
	w.commitCond.Broadcast()
	w.commitMu.Unlock()

	return err
}

// Size returns the current length of the log file in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Scan reads every well-formed record from the start of the log,
// invoking fn for each in order. It stops (without error) at the first
// truncated or unreadable trailing bytes, since a torn write there can
// only be an in-flight append that never completed — recovery treats
// that exactly like an aborted transaction. A CRC mismatch *within* a
// record whose length prefix was otherwise intact is escalated as a
// fatal corruption error per spec.md §4.4.5.
func (w *WAL) Scan(fn func(*Record) error) error {
	w.mu.Lock()
	data := make([]byte, w.size)
	_, err := w.file.ReadAt(data, 0)
	w.mu.Unlock()
	if err != nil && err != io.EOF {
		return tderr.Wrap(tderr.KindIO, "read WAL file", err)
	}

	offset := 0
	for offset < len(data) {
		rec, n, err := decodeRecord(data[offset:])
		if err != nil {
			if kind, ok := tderr.Of(err); ok && kind == tderr.KindCorrupt {
				return err
			}
			// Truncated trailing bytes: treat as an incomplete append.
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// Reset archives (best-effort, lz4-compressed) and truncates the log
// back to empty after a checkpoint completes (spec.md §4.4.4 step 4).
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 {
		buf := make([]byte, w.size)
		if _, err := w.file.ReadAt(buf, 0); err == nil {
			w.archiver.archive(buf)
		}
	}

	if err := w.file.Truncate(0); err != nil {
		return tderr.Wrap(tderr.KindIO, "truncate WAL file", err)
	}
	w.size = 0
	return w.file.Sync()
}

// Close fsyncs and closes the log file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return tderr.Wrap(tderr.KindIO, "sync WAL on close", err)
	}
	return w.file.Close()
}
