package txn

import (
	"tinydb/pkg/tderr"
	"tinydb/pkg/walog"
)

// Commit implements spec.md §4.4.3's five-step commit protocol:
//
//  1. write a PAGE_IMAGE record for every page the transaction touched,
//     in first-touch order;
//  2. append a COMMIT record;
//  3. group-commit fsync the log;
//  4. the touched pages stay cached and dirty — durable in the log and
//     visible to subsequent readers through the cache, but not yet
//     reflected in the main file;
//  5. leave the main file alone — it is brought up to date at the next
//     checkpoint, not here.
func (tx *Txn) Commit() error {
	if err := tx.requireActive(); err != nil {
		return err
	}

	pages := tx.touchedPages()

	beginLSN := tx.mgr.wal.NextLSN()
	if _, err := tx.mgr.wal.Append(&walog.Record{Type: walog.RecBegin, LSN: beginLSN, TxnID: tx.id}); err != nil {
		return err
	}

	for _, id := range pages {
		p, ok := tx.mgr.cch.Get(id)
		if !ok {
			// Evicted and already flushed to the file by the cache's
			// FlushFunc; nothing left to log for this page.
			continue
		}
		lsn := tx.mgr.wal.NextLSN()
		payload := walog.PageImagePayload(id, p.Data)
		_, err := tx.mgr.wal.Append(&walog.Record{Type: walog.RecPageImage, LSN: lsn, TxnID: tx.id, Payload: payload})
		tx.mgr.cch.Unpin(id)
		if err != nil {
			return err
		}
	}

	commitLSN := tx.mgr.wal.NextLSN()
	if _, err := tx.mgr.wal.Append(&walog.Record{Type: walog.RecCommit, LSN: commitLSN, TxnID: tx.id}); err != nil {
		return err
	}

	if err := tx.mgr.wal.GroupCommit(tx.mgr.GroupCommitWindow); err != nil {
		return tderr.Wrap(tderr.KindIO, "group commit", err)
	}

	tx.mu.Lock()
	tx.state = StateCommitted
	tx.mu.Unlock()

	tx.mgr.forget(tx)
	return nil
}

// Rollback discards the transaction's in-memory changes. Since no
// content write ever reached the main file or the log before Commit,
// rolling back is just dropping the touched pages from the cache so a
// later reader never observes them. Pages the transaction allocated are
// not returned to the free list, and nothing reclaims them later.
func (tx *Txn) Rollback() error {
	if err := tx.requireActive(); err != nil {
		return err
	}

	for _, id := range tx.touchedPages() {
		tx.mgr.cch.Remove(id)
	}

	tx.mu.Lock()
	tx.state = StateAborted
	tx.mu.Unlock()

	tx.mgr.forget(tx)
	return nil
}
