package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"tinydb/pkg/cache"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/walog"
)

// Manager owns the page cache, the WAL, and the single write latch that
// serializes writers (spec.md §4.4.1: "at most one write transaction is
// active at a time").
type Manager struct {
	file *storage.File
	wal  *walog.WAL
	cch  *cache.Cache

	// writeMu is the engine write latch. Every transaction holds it from
	// Begin through Commit/Rollback; page reads are Txn methods too, so
	// read-only transactions are serialized with writers as well.
	writeMu sync.Mutex

	nextTxnID atomic.Uint64

	activeMu sync.RWMutex
	active   map[uint64]*Txn

	GroupCommitWindow time.Duration
}

// NewManager wires a Manager over an already-open file, cache and WAL,
// then runs crash recovery (spec.md §4.4.5) if the log holds any
// records left over from an unclean shutdown. The cache is sized to
// defaultCacheCapacity; use NewManagerWithCacheCapacity to size it
// explicitly.
func NewManager(file *storage.File, wal *walog.WAL, groupCommitWindow time.Duration) (*Manager, error) {
	return NewManagerWithCacheCapacity(file, wal, groupCommitWindow, defaultCacheCapacity)
}

// NewManagerWithCacheCapacity is NewManager with an explicit page-cache
// capacity, the knob spec.md §5's configuration surface exposes.
func NewManagerWithCacheCapacity(file *storage.File, wal *walog.WAL, groupCommitWindow time.Duration, cacheCapacity int) (*Manager, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = defaultCacheCapacity
	}
	m := &Manager{
		file:              file,
		wal:               wal,
		active:            make(map[uint64]*Txn),
		GroupCommitWindow: groupCommitWindow,
	}
	m.nextTxnID.Store(1)
	m.cch = cache.New(cacheCapacity, m.flushToFile)

	if err := m.recover(); err != nil {
		return nil, err
	}
	return m, nil
}

const defaultCacheCapacity = 1024

// Cache exposes the manager's page cache, e.g. for stats reporting.
func (m *Manager) Cache() *cache.Cache { return m.cch }

// File exposes the underlying paged file, e.g. for PageSize()/CatalogRoot().
func (m *Manager) File() *storage.File { return m.file }

// flushToFile is the cache's FlushFunc: it persists a dirty victim page
// directly to the main file before eviction. This is the one path by
// which a dirty page can reach disk outside of a checkpoint — necessary
// because the cache is bounded and may need to evict dirty pages under
// memory pressure between checkpoints.
func (m *Manager) flushToFile(p *storage.Page) error {
	return m.file.WritePage(p)
}

// Begin blocks until the write latch is free, then starts a new active
// transaction holding it.
func (m *Manager) Begin() *Txn {
	m.writeMu.Lock()
	id := m.nextTxnID.Add(1) - 1
	tx := &Txn{mgr: m, id: id, state: StateActive}

	m.activeMu.Lock()
	m.active[id] = tx
	m.activeMu.Unlock()

	return tx
}

func (m *Manager) forget(tx *Txn) {
	m.activeMu.Lock()
	delete(m.active, tx.id)
	m.activeMu.Unlock()
	m.writeMu.Unlock()
}

// oldestActiveTxnID returns the lowest id among currently active
// transactions, or the next-to-be-issued id if none are active.
func (m *Manager) oldestActiveTxnID() uint64 {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	min := m.nextTxnID.Load()
	for id := range m.active {
		if id < min {
			min = id
		}
	}
	return min
}

// ReadPage returns a page, consulting the cache before the main file. The
// caller must Unpin it when finished.
func (tx *Txn) ReadPage(id uint32) (*storage.Page, error) {
	if err := tx.requireActive(); err != nil {
		return nil, err
	}
	if p, ok := tx.mgr.cch.Get(id); ok {
		return p, nil
	}
	p, err := tx.mgr.file.ReadPage(id)
	if err != nil {
		return nil, err
	}
	tx.mgr.cch.Put(p)
	return p, nil
}

// Unpin releases a page obtained from ReadPage/AllocatePage.
func (tx *Txn) Unpin(id uint32) { tx.mgr.cch.Unpin(id) }

// AllocatePage grows the file (or reuses a freed page) and caches the
// fresh page, pinned, on the transaction's behalf. The newly allocated
// page is durable on disk immediately as a zeroed placeholder; it is the
// transaction's subsequent writes to it (via MarkDirty) that are deferred
// to the WAL and the next checkpoint.
func (tx *Txn) AllocatePage(t storage.PageType) (*storage.Page, error) {
	if err := tx.requireActive(); err != nil {
		return nil, err
	}
	p, err := tx.mgr.file.AllocatePage(t)
	if err != nil {
		return nil, err
	}
	tx.mgr.cch.Put(p)
	tx.recordTouched(p.ID())
	return p, nil
}

// FreePage returns a page to the file's free list immediately. This is a
// structural metadata change, not a transactional content write, so it
// is not deferred through the WAL: spec.md's invariant is that a crash
// mid-transaction never corrupts the free list, which holds here because
// freelist pages only ever link to other already-allocated pages.
func (tx *Txn) FreePage(id uint32) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.mgr.file.FreePage(id); err != nil {
		return err
	}
	tx.mgr.cch.Remove(id)
	return nil
}

// MarkDirty records that the transaction has modified p's in-memory
// bytes and that it must be durably logged at commit.
func (tx *Txn) MarkDirty(p *storage.Page) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	tx.mgr.cch.MarkDirty(p.ID())
	tx.recordTouched(p.ID())
	return nil
}

var errCorruptCheckpoint = tderr.New(tderr.KindCorrupt, "checkpoint left the file shorter than its recorded page count")
