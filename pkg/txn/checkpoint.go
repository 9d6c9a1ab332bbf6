package txn

import (
	"tinydb/pkg/tderr"
	"tinydb/pkg/walog"
)

// Checkpoint implements spec.md §4.4.4's four-step checkpoint protocol:
//
//  1. append a CHECKPOINT_START record naming the oldest still-active
//     transaction, then fsync the log;
//  2. flush every dirty cache page through to the main file;
//  3. fsync the main file;
//  4. append a CHECKPOINT_END record (listing any page that somehow
//     remained dirty), fsync the log, then truncate it — everything
//     before this point is now durable in the main file and no longer
//     needed for recovery.
//
// Only one checkpoint runs at a time; callers (Engine.Flush and
// Engine.Close) serialize through the write latch like any other writer.
// Nothing runs a checkpoint on a timer or a dirty-page threshold.
func (m *Manager) Checkpoint() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	oldest := m.oldestActiveTxnID()
	startLSN := m.wal.NextLSN()
	if _, err := m.wal.Append(&walog.Record{
		Type:    walog.RecCheckpointStart,
		LSN:     startLSN,
		Payload: walog.CheckpointStartPayload(oldest),
	}); err != nil {
		return err
	}
	if err := m.wal.Sync(); err != nil {
		return err
	}

	dirty := m.cch.DirtyPageIDs()
	var stillDirty []uint32
	for _, id := range dirty {
		p, ok := m.cch.Get(id)
		if !ok {
			continue
		}
		err := m.file.WritePage(p)
		m.cch.Unpin(id)
		if err != nil {
			stillDirty = append(stillDirty, id)
			continue
		}
		m.cch.ClearDirty(id)
	}

	if err := m.file.Sync(); err != nil {
		return tderr.Wrap(tderr.KindIO, "fsync main file during checkpoint", err)
	}

	endLSN := m.wal.NextLSN()
	if _, err := m.wal.Append(&walog.Record{
		Type:    walog.RecCheckpointEnd,
		LSN:     endLSN,
		Payload: walog.CheckpointEndPayload(stillDirty),
	}); err != nil {
		return err
	}
	if err := m.wal.Sync(); err != nil {
		return err
	}

	if len(stillDirty) > 0 {
		// Some pages couldn't be flushed; keep the log around so
		// recovery can still reconstruct them from earlier PAGE_IMAGE
		// records instead of truncating it.
		return nil
	}

	return m.wal.Reset()
}
