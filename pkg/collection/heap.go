// Package collection implements the collection & catalog layer (C6):
// the document heap, the named-collection/index catalog, the filter
// predicate tree, and the query planner of spec.md §4.6.
//
// Grounded on the teacher's pkg/dbfile (page-level record storage) and
// pkg/record (length-prefixed record bodies), generalized from fixed
// row tuples to whole encoded pkg/doc documents stored in slotted heap
// pages the way spec.md's "document records: length, id-value, encoded
// body, deleted flag" line describes.
package collection

import (
	"encoding/binary"

	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// RecordID packs a heap page id and in-page slot into the opaque
// 64-bit handle pkg/btree indexes point at: the high 32 bits are the
// page id, the low 32 bits the slot index (only the low 16 bits of
// that half are ever used, since a page holds far fewer than 2^16
// slots, but the wider field keeps the packing simple).
type RecordID uint64

func packRecordID(pageID uint32, slot uint32) RecordID {
	return RecordID(uint64(pageID)<<32 | uint64(slot))
}

func (r RecordID) PageID() uint32 { return uint32(r >> 32) }
func (r RecordID) Slot() uint32   { return uint32(r) }

// slotEntrySize is the size in bytes of one slot directory entry:
// [2B data offset within payload][2B data length, 0 = tombstoned].
const slotEntrySize = 4

// Heap is a chain of slotted pages holding one collection's documents.
// Each page's slot directory grows forward from the start of the
// payload; record bytes are appended backward from the end of the
// payload. storage.Page.EntryCount is the slot count, FreeOffset is the
// payload offset where the free region between directory and data ends
// (i.e. the lowest byte currently occupied by record data).
type Heap struct {
	tailPage uint32
}

// OpenHeap wraps an existing heap whose current tail (the page new
// inserts are tried against first) is tailPage.
func OpenHeap(tailPage uint32) *Heap { return &Heap{tailPage: tailPage} }

// CreateHeap allocates a heap's first page.
func CreateHeap(tx *txn.Txn) (*Heap, error) {
	p, err := tx.AllocatePage(storage.PageTypeHeap)
	if err != nil {
		return nil, err
	}
	p.SetFreeOffset(uint16(len(p.Payload())))
	id := p.ID()
	if err := tx.MarkDirty(p); err != nil {
		tx.Unpin(id)
		return nil, err
	}
	tx.Unpin(id)
	return &Heap{tailPage: id}, nil
}

// TailPage returns the current tail page id. Catalog metadata must be
// updated with this after any Insert that allocates a new page.
func (h *Heap) TailPage() uint32 { return h.tailPage }

func slotOffset(slot uint32) int { return int(slot) * slotEntrySize }

func readSlot(payload []byte, slot uint32) (dataOffset, length uint16) {
	off := slotOffset(slot)
	return binary.LittleEndian.Uint16(payload[off : off+2]),
		binary.LittleEndian.Uint16(payload[off+2 : off+4])
}

func writeSlot(payload []byte, slot uint32, dataOffset, length uint16) {
	off := slotOffset(slot)
	binary.LittleEndian.PutUint16(payload[off:off+2], dataOffset)
	binary.LittleEndian.PutUint16(payload[off+2:off+4], length)
}

// freeSpace returns how many contiguous bytes are free between the end
// of the slot directory and the start of the lowest-allocated record.
func freeSpace(p *storage.Page) int {
	dirEnd := int(p.EntryCount()) * slotEntrySize
	return int(p.FreeOffset()) - dirEnd
}

// Insert appends body (the caller's already-encoded document, with
// its leading deleted-flag byte) to the heap, allocating a fresh tail
// page if the current one has no room. Returns the record's id.
func (h *Heap) Insert(tx *txn.Txn, body []byte) (RecordID, error) {
	p, err := tx.ReadPage(h.tailPage)
	if err != nil {
		return 0, err
	}
	needed := len(body) + slotEntrySize
	if freeSpace(p) < needed {
		tx.Unpin(h.tailPage)
		newPage, err := tx.AllocatePage(storage.PageTypeHeap)
		if err != nil {
			return 0, err
		}
		newPage.SetFreeOffset(uint16(len(newPage.Payload())))
		newPage.SetPrev(h.tailPage)

		oldTail, err := tx.ReadPage(h.tailPage)
		if err != nil {
			tx.Unpin(newPage.ID())
			return 0, err
		}
		oldTail.SetNext(newPage.ID())
		if err := tx.MarkDirty(oldTail); err != nil {
			tx.Unpin(h.tailPage)
			tx.Unpin(newPage.ID())
			return 0, err
		}
		tx.Unpin(h.tailPage)

		h.tailPage = newPage.ID()
		p = newPage
	}

	if len(body) > freeSpace(p) {
		tx.Unpin(p.ID())
		return 0, tderr.New(tderr.KindIO, "document too large for an empty heap page")
	}

	payload := p.Payload()
	newDataOffset := int(p.FreeOffset()) - len(body)
	copy(payload[newDataOffset:], body)

	slot := uint32(p.EntryCount())
	writeSlot(payload, slot, uint16(newDataOffset), uint16(len(body)))
	p.SetEntryCount(uint16(slot + 1))
	p.SetFreeOffset(uint16(newDataOffset))

	id := packRecordID(p.ID(), slot)
	if err := tx.MarkDirty(p); err != nil {
		tx.Unpin(p.ID())
		return 0, err
	}
	tx.Unpin(p.ID())
	return id, nil
}

// Read returns the raw body stored at id, or tderr.KindNotFound if the
// slot is out of range or tombstoned.
func (h *Heap) Read(tx *txn.Txn, id RecordID) ([]byte, error) {
	p, err := tx.ReadPage(id.PageID())
	if err != nil {
		return nil, err
	}
	defer tx.Unpin(id.PageID())

	if id.Slot() >= uint32(p.EntryCount()) {
		return nil, tderr.New(tderr.KindNotFound, "heap slot out of range")
	}
	off, length := readSlot(p.Payload(), id.Slot())
	if length == 0 {
		return nil, tderr.New(tderr.KindNotFound, "heap record deleted")
	}
	out := make([]byte, length)
	copy(out, p.Payload()[off:int(off)+int(length)])
	return out, nil
}

// Update overwrites the slot at id with newData in place, when newData
// fits within the slot's currently reserved length (it may be shorter;
// the leftover bytes just go unused, the same slack Delete leaves
// behind). Reports false, with no error, if newData is too big for the
// slot — the caller must then relocate the record via Delete+Insert.
func (h *Heap) Update(tx *txn.Txn, id RecordID, newData []byte) (bool, error) {
	p, err := tx.ReadPage(id.PageID())
	if err != nil {
		return false, err
	}
	defer tx.Unpin(id.PageID())

	if id.Slot() >= uint32(p.EntryCount()) {
		return false, tderr.New(tderr.KindNotFound, "heap slot out of range")
	}
	off, length := readSlot(p.Payload(), id.Slot())
	if length == 0 {
		return false, tderr.New(tderr.KindNotFound, "heap record already deleted")
	}
	if uint16(len(newData)) > length {
		return false, nil
	}

	payload := p.Payload()
	copy(payload[off:int(off)+len(newData)], newData)
	writeSlot(payload, id.Slot(), off, uint16(len(newData)))
	if err := tx.MarkDirty(p); err != nil {
		return false, err
	}
	return true, nil
}

// Delete tombstones the slot at id by zeroing its length. The bytes it
// occupied are never reclaimed: Insert only takes space from the page's
// free region, and pages are never compacted.
// This is a deliberate simplification, recorded in DESIGN.md.
func (h *Heap) Delete(tx *txn.Txn, id RecordID) error {
	p, err := tx.ReadPage(id.PageID())
	if err != nil {
		return err
	}
	defer tx.Unpin(id.PageID())

	if id.Slot() >= uint32(p.EntryCount()) {
		return tderr.New(tderr.KindNotFound, "heap slot out of range")
	}
	off, length := readSlot(p.Payload(), id.Slot())
	if length == 0 {
		return tderr.New(tderr.KindNotFound, "heap record already deleted")
	}
	writeSlot(p.Payload(), id.Slot(), off, 0)
	return tx.MarkDirty(p)
}

// ScanFrom walks the heap's page chain starting at firstPage, visiting
// every live record. The catalog tracks each collection's first heap
// page separately from the tail, since Heap itself only remembers
// where to append next.
func ScanFrom(tx *txn.Txn, firstPage uint32, fn func(id RecordID, body []byte) error) error {
	pageID := firstPage
	for pageID != 0 {
		p, err := tx.ReadPage(pageID)
		if err != nil {
			return err
		}
		count := p.EntryCount()
		payload := p.Payload()
		for slot := uint32(0); slot < uint32(count); slot++ {
			off, length := readSlot(payload, slot)
			if length == 0 {
				continue
			}
			body := make([]byte, length)
			copy(body, payload[off:int(off)+int(length)])
			if err := fn(packRecordID(pageID, slot), body); err != nil {
				tx.Unpin(pageID)
				return err
			}
		}
		next := p.Next()
		tx.Unpin(pageID)
		pageID = next
	}
	return nil
}

// recordHeaderSize is the leading [deleted][overflow] byte pair every
// heap record body carries, ahead of either its inline encoded document
// or (if overflow is set) a 4-byte overflow chain root page id.
const recordHeaderSize = 2

// encodeInlineRecord wraps an already-encoded document's bytes with the
// deleted/overflow header for direct heap storage.
func encodeInlineRecord(body []byte) []byte {
	out := make([]byte, recordHeaderSize+len(body))
	copy(out[recordHeaderSize:], body)
	return out
}

// encodeOverflowRecord builds the small stub record left in the heap
// when a document's encoded form didn't fit inline: just the header
// plus the overflow chain's root page id.
func encodeOverflowRecord(overflowRoot uint32) []byte {
	out := make([]byte, recordHeaderSize+4)
	out[1] = 1
	out[2] = byte(overflowRoot)
	out[3] = byte(overflowRoot >> 8)
	out[4] = byte(overflowRoot >> 16)
	out[5] = byte(overflowRoot >> 24)
	return out
}

// decodeRecordHeader reports whether raw is a tombstone, whether it
// points at an overflow chain rather than carrying its document inline,
// and (for inline records) the document bytes, or (for overflow
// records) the overflow chain's root page id.
func decodeRecordHeader(raw []byte) (deleted, overflow bool, payload []byte, overflowRoot uint32, err error) {
	if len(raw) < recordHeaderSize {
		return false, false, nil, 0, tderr.New(tderr.KindCorrupt, "heap record truncated")
	}
	deleted = raw[0] != 0
	overflow = raw[1] != 0
	if overflow {
		if len(raw) < recordHeaderSize+4 {
			return false, false, nil, 0, tderr.New(tderr.KindCorrupt, "heap overflow stub truncated")
		}
		overflowRoot = uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[5])<<24
		return deleted, overflow, nil, overflowRoot, nil
	}
	return deleted, overflow, raw[recordHeaderSize:], 0, nil
}
