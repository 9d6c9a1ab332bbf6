// Package txn implements the transaction manager (C4): transaction
// lifecycle, the commit protocol, checkpointing, and crash recovery built
// on top of pkg/storage, pkg/cache and pkg/walog (spec.md §4.4).
//
// Grounded on the teacher's pkg/mvcc (TransactionManager + Transaction
// state machine), simplified from MVCC's per-key version chains to a
// single-writer page-image log the way spec.md §4.4 describes: one write
// transaction at a time, holding the engine's write latch for its whole
// lifetime, with every other writer blocking on Begin until it commits or
// rolls back.
package txn

import (
	"errors"
	"sync"
)

// State is a transaction's lifecycle stage (spec.md §4.4.1).
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateCommitted:
		return "Committed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotActive is returned when Commit/Rollback/a page operation is
	// attempted on a transaction that has already finished.
	ErrNotActive = errors.New("transaction is not active")
)

// Txn is a single write transaction. The zero value is not usable; obtain
// one from Manager.Begin.
type Txn struct {
	mgr *Manager
	id  uint64

	mu      sync.Mutex
	state   State
	touched []uint32 // page ids in first-touch order, spec.md §4.4.3 step 1
	seen    map[uint32]bool
}

// ID returns the transaction's id.
func (tx *Txn) ID() uint64 { return tx.id }

// State returns the transaction's current lifecycle state.
func (tx *Txn) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

func (tx *Txn) recordTouched(id uint32) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.seen == nil {
		tx.seen = make(map[uint32]bool)
	}
	if !tx.seen[id] {
		tx.seen[id] = true
		tx.touched = append(tx.touched, id)
	}
}

func (tx *Txn) touchedPages() []uint32 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]uint32, len(tx.touched))
	copy(out, tx.touched)
	return out
}

func (tx *Txn) requireActive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != StateActive {
		return ErrNotActive
	}
	return nil
}
