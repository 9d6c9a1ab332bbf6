// Package storage implements the paged file store (C2): fixed-size page
// I/O over a single file, free-page management, and CRC-protected
// single-page writes (spec.md §3.4, §4.2).
//
// Grounded on the teacher's pkg/pager (page cache + mmap file) and
// pkg/dbfile (header layout, validation), generalized from mmap'd pages
// to explicit page-aligned ReadAt/WriteAt so every page can carry and
// verify its own CRC32C trailer the way spec.md requires.
package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// PageType identifies what a page holds. Values are stable on disk.
type PageType uint32

const (
	PageTypeFree          PageType = 0
	PageTypeHeap          PageType = 1
	PageTypeBTreeInternal PageType = 2
	PageTypeBTreeLeaf     PageType = 3
	PageTypeWALMeta       PageType = 4
	PageTypeCollectionMeta PageType = 5
	PageTypeOverflow      PageType = 6
)

// Page header layout (spec.md §3.4, with both sibling pointers retained so
// the B+tree leaf chain invariant in §3.4 — "doubly-linked list ordered by
// minimum key" — has somewhere to live):
//
//	0:4   page type tag
//	4:8   page id (self-reference)
//	8:12  next sibling / freelist-next
//	12:16 prev sibling (unused on freelist pages)
//	16:18 entry count
//	18:20 free-space offset
//	20:N  payload
//	N:N+4 CRC32C over bytes [0:N] (the trailing 4 bytes are excluded)
const (
	HeaderSize  = 20
	TrailerSize = 4
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Page is a page-sized buffer with typed accessors over its header. It
// owns its backing []byte; callers that want it persisted pass it to
// File.WritePage.
type Page struct {
	Data []byte
}

// NewPage allocates a zeroed page of the given size and stamps its type
// and id.
func NewPage(size int, id uint32, t PageType) *Page {
	p := &Page{Data: make([]byte, size)}
	p.SetType(t)
	p.SetID(id)
	p.SetFreeOffset(HeaderSize)
	return p
}

func (p *Page) Type() PageType {
	return PageType(binary.LittleEndian.Uint32(p.Data[0:4]))
}

func (p *Page) SetType(t PageType) {
	binary.LittleEndian.PutUint32(p.Data[0:4], uint32(t))
}

func (p *Page) ID() uint32 { return binary.LittleEndian.Uint32(p.Data[4:8]) }

func (p *Page) SetID(id uint32) { binary.LittleEndian.PutUint32(p.Data[4:8], id) }

func (p *Page) Next() uint32 { return binary.LittleEndian.Uint32(p.Data[8:12]) }

func (p *Page) SetNext(v uint32) { binary.LittleEndian.PutUint32(p.Data[8:12], v) }

func (p *Page) Prev() uint32 { return binary.LittleEndian.Uint32(p.Data[12:16]) }

func (p *Page) SetPrev(v uint32) { binary.LittleEndian.PutUint32(p.Data[12:16], v) }

func (p *Page) EntryCount() uint16 { return binary.LittleEndian.Uint16(p.Data[16:18]) }

func (p *Page) SetEntryCount(v uint16) { binary.LittleEndian.PutUint16(p.Data[16:18], v) }

func (p *Page) FreeOffset() uint16 { return binary.LittleEndian.Uint16(p.Data[18:20]) }

func (p *Page) SetFreeOffset(v uint16) { binary.LittleEndian.PutUint16(p.Data[18:20], v) }

// Payload returns the page's writable region between the fixed header and
// the CRC trailer.
func (p *Page) Payload() []byte {
	return p.Data[HeaderSize : len(p.Data)-TrailerSize]
}

// stampCRC writes the CRC32C of everything but the trailer into the
// trailer. Called just before a page is written to disk.
func (p *Page) stampCRC() {
	n := len(p.Data) - TrailerSize
	sum := crc32.Checksum(p.Data[:n], crc32cTable)
	binary.LittleEndian.PutUint32(p.Data[n:], sum)
}

// verifyCRC reports whether the stored trailer matches the computed CRC32C.
func (p *Page) verifyCRC() bool {
	n := len(p.Data) - TrailerSize
	want := binary.LittleEndian.Uint32(p.Data[n:])
	got := crc32.Checksum(p.Data[:n], crc32cTable)
	return want == got
}
