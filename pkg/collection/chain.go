package collection

import (
	"tinydb/pkg/storage"
	"tinydb/pkg/txn"
)

// writeChain splits data across as many storage.PageTypeCollectionMeta
// pages as needed, chained by Next(), and returns the first page's id.
// Each page's EntryCount is repurposed to hold that page's chunk
// length, mirroring pkg/btree's whole-node-length reuse of the same
// field.
func writeChain(tx *txn.Txn, data []byte) (uint32, error) {
	return writeChainTyped(tx, data, storage.PageTypeCollectionMeta)
}

func writeChainTyped(tx *txn.Txn, data []byte, pageType storage.PageType) (uint32, error) {
	if len(data) == 0 {
		p, err := tx.AllocatePage(pageType)
		if err != nil {
			return 0, err
		}
		p.SetEntryCount(0)
		id := p.ID()
		if err := tx.MarkDirty(p); err != nil {
			tx.Unpin(id)
			return 0, err
		}
		tx.Unpin(id)
		return id, nil
	}

	var first uint32
	var prevID uint32
	for len(data) > 0 {
		p, err := tx.AllocatePage(pageType)
		if err != nil {
			return 0, err
		}
		cap := len(p.Payload())
		n := len(data)
		if n > cap {
			n = cap
		}
		copy(p.Payload(), data[:n])
		p.SetEntryCount(uint16(n))
		id := p.ID()
		if first == 0 {
			first = id
		}
		if err := tx.MarkDirty(p); err != nil {
			tx.Unpin(id)
			return 0, err
		}
		tx.Unpin(id)

		if prevID != 0 {
			prevP, err := tx.ReadPage(prevID)
			if err != nil {
				return 0, err
			}
			prevP.SetNext(id)
			if err := tx.MarkDirty(prevP); err != nil {
				tx.Unpin(prevID)
				return 0, err
			}
			tx.Unpin(prevID)
		}
		prevID = id
		data = data[n:]
	}
	return first, nil
}

// readChain reassembles the blob written by writeChain.
func readChain(tx *txn.Txn, firstPage uint32) ([]byte, error) {
	var out []byte
	pageID := firstPage
	for pageID != 0 {
		p, err := tx.ReadPage(pageID)
		if err != nil {
			return nil, err
		}
		n := int(p.EntryCount())
		out = append(out, p.Payload()[:n]...)
		next := p.Next()
		tx.Unpin(pageID)
		pageID = next
	}
	return out, nil
}

// freeChain returns every page in the chain to the free list.
func freeChain(tx *txn.Txn, firstPage uint32) error {
	pageID := firstPage
	for pageID != 0 {
		p, err := tx.ReadPage(pageID)
		if err != nil {
			return err
		}
		next := p.Next()
		tx.Unpin(pageID)
		if err := tx.FreePage(pageID); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}
