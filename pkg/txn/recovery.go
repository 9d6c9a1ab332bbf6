package txn

import (
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/walog"
)

// recover implements spec.md §4.4.5. Checkpoints truncate the log (via
// wal.Reset), so whatever is left in the log file at startup postdates
// the last successful checkpoint — recovery never needs to search for a
// checkpoint boundary, it can simply replay from the start.
//
// Records are grouped by transaction id. A transaction whose COMMIT
// record is present has every one of its PAGE_IMAGE records replayed to
// the main file; a transaction that never reached COMMIT (the log ends
// mid-transaction, the usual signature of a crash) is discarded
// entirely, exactly like an explicit Rollback.
func (m *Manager) recover() error {
	type pending struct {
		images []walog.Record
	}
	byTxn := make(map[uint64]*pending)
	var committed []uint64

	err := m.wal.Scan(func(rec *walog.Record) error {
		switch rec.Type {
		case walog.RecBegin:
			byTxn[rec.TxnID] = &pending{}
		case walog.RecPageImage:
			p := byTxn[rec.TxnID]
			if p == nil {
				p = &pending{}
				byTxn[rec.TxnID] = p
			}
			p.images = append(p.images, *rec)
		case walog.RecCommit:
			committed = append(committed, rec.TxnID)
		case walog.RecCheckpointStart, walog.RecCheckpointEnd:
			// Tolerated defensively; Reset() normally removes these
			// before they could ever be seen again.
		}
		return nil
	})
	if err != nil {
		return tderr.Wrap(tderr.KindCorrupt, "recovery scan failed", err)
	}

	if len(byTxn) == 0 {
		return nil
	}

	pageCount, err := m.file.PageCount()
	if err != nil {
		return err
	}

	replayed := false
	for _, txnID := range committed {
		p, ok := byTxn[txnID]
		if !ok {
			continue
		}
		for _, rec := range p.images {
			pageID, image := walog.ParsePageImage(rec.Payload)
			if pageID >= pageCount {
				return errCorruptCheckpoint
			}
			page := &storage.Page{Data: append([]byte(nil), image...)}
			if err := m.file.WritePage(page); err != nil {
				return err
			}
			replayed = true
		}
	}

	if replayed {
		if err := m.file.Sync(); err != nil {
			return err
		}
	}
	return m.wal.Reset()
}
