// Package engine ties the storage core's layers into the single entry
// point an application opens: the paged file, the write-ahead log, the
// transaction manager, and the collection catalog, all guarded by an
// exclusive file lock enforcing spec.md §5.5's one-process-per-file rule.
//
// Grounded on the teacher's pkg/turdb (db.go's Open/Close sequencing and
// its lock_unix.go/lock_windows.go guard), generalized from a SQL
// database handle to a document-store handle.
package engine

import (
	"os"
	"sync"
	"time"

	"tinydb/pkg/collection"
	"tinydb/pkg/idgen"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
	"tinydb/pkg/walog"
)

// ErrLocked is returned by Open when another process already holds the
// database file's exclusive lock.
var ErrLocked = tderr.New(tderr.KindIO, "database file is locked by another process")

// Options configures an Engine. Zero values fall back to the defaults
// noted per field.
type Options struct {
	// PageSize must be in [512, 65536]; 0 uses storage.DefaultPageSize.
	PageSize int
	// CachePages bounds the page cache's resident set; 0 uses the
	// transaction manager's internal default.
	CachePages int
	// GroupCommitWindow batches concurrent commits into one fsync.
	GroupCommitWindow time.Duration
	// ArchiveDir, if set, keeps a copy of each WAL segment truncated by
	// a checkpoint, for offline inspection.
	ArchiveDir string
	// ArchiveRetain caps how many archived segments ArchiveDir keeps.
	ArchiveRetain int
}

func (o Options) pageSize() int {
	if o.PageSize == 0 {
		return storage.DefaultPageSize
	}
	return o.PageSize
}

// Engine is a single open TinyDb database file: its storage, WAL,
// transaction manager and collection catalog, under an advisory
// exclusive lock for the process's lifetime.
type Engine struct {
	path string
	lock *os.File

	file *storage.File
	wal  *walog.WAL
	mgr  *txn.Manager

	catMu sync.Mutex
	cat   *collection.Catalog
}

// Open acquires path's lock, opens (or creates) the paged file and WAL
// pair alongside it, runs crash recovery if needed (via txn.NewManager),
// and loads the collection catalog.
func Open(path string, opts Options) (*Engine, error) {
	lockPath := path + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, tderr.Wrap(tderr.KindIO, "opening lock file", err)
	}
	if err := lockFile(lf); err != nil {
		lf.Close()
		return nil, err
	}

	sf, err := storage.Open(path, opts.pageSize())
	if err != nil {
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	walPath := path + ".wal"
	w, err := walog.Open(walPath, opts.ArchiveDir, opts.ArchiveRetain)
	if err != nil {
		sf.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	mgr, err := txn.NewManagerWithCacheCapacity(sf, w, opts.GroupCommitWindow, opts.CachePages)
	if err != nil {
		w.Close()
		sf.Close()
		unlockFile(lf)
		lf.Close()
		return nil, err
	}

	e := &Engine{path: path, lock: lf, file: sf, wal: w, mgr: mgr}

	tx := mgr.Begin()
	cat, err := collection.LoadCatalog(tx, sf)
	if err != nil {
		tx.Rollback()
		e.closeLocked()
		return nil, err
	}
	tx.Rollback()
	e.cat = cat

	return e, nil
}

// BeginTransaction starts a new write transaction. Only one is active at
// a time; a concurrent call blocks until the previous one commits or
// rolls back.
func (e *Engine) BeginTransaction() *txn.Txn {
	return e.mgr.Begin()
}

// GetCollection opens (creating on first reference) the named
// collection within tx, using idStrategy if the collection doesn't
// already exist.
func (e *Engine) GetCollection(tx *txn.Txn, name string, idStrategy idgen.Strategy) (*collection.Collection, error) {
	e.catMu.Lock()
	defer e.catMu.Unlock()
	return collection.Open(tx, e.file, e.cat, name, idStrategy)
}

// CollectionNames lists every collection currently in the catalog.
func (e *Engine) CollectionNames() []string {
	e.catMu.Lock()
	defer e.catMu.Unlock()
	return e.cat.CollectionNames()
}

// SaveCatalog persists any structural catalog changes (new collections
// or indexes, bumped id counters) made within tx. Callers that create
// collections or indexes must call this before committing tx.
func (e *Engine) SaveCatalog(tx *txn.Txn) error {
	e.catMu.Lock()
	defer e.catMu.Unlock()
	return e.cat.Save(tx)
}

// Flush forces a checkpoint: every dirty page is written to the main
// file and the WAL is truncated.
func (e *Engine) Flush() error {
	return e.mgr.Checkpoint()
}

// Close flushes outstanding dirty pages, closes the WAL and paged file,
// and releases the file lock.
func (e *Engine) Close() error {
	if err := e.mgr.Checkpoint(); err != nil {
		return err
	}
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unlockFile(e.lock); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	os.Remove(e.path + ".lock")
	return firstErr
}

// Path returns the path the engine was opened with, not including the
// .wal/.lock sidecar files derived from it.
func (e *Engine) Path() string { return e.path }
