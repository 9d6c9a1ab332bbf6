package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// Header is the fixed layout of page 0 (spec.md §6.1):
//
//	0:4   magic "TDBF"
//	4:6   format version (u16)
//	6:8   page size (u16; 0 stands for 65536)
//	8:12  free-list head page id
//	12:16 catalog root page id
//	16:24 generation counter (u64)
//	24:28 shadow header offset within the page
//	28:32 CRC32C over bytes [0:28]
const (
	Magic          = "TDBF"
	HeaderLayoutSize = 32
	headerCRCStart = 28
)

// Header mirrors the on-disk page-0 layout in memory.
type Header struct {
	Version       uint16
	PageSize      uint16
	FreelistHead  uint32
	CatalogRoot   uint32
	Generation    uint64
	ShadowOffset  uint32
}

func (h *Header) encode(pageSize int) []byte {
	buf := make([]byte, HeaderLayoutSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.PageSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.FreelistHead)
	binary.LittleEndian.PutUint32(buf[12:16], h.CatalogRoot)
	binary.LittleEndian.PutUint64(buf[16:24], h.Generation)
	binary.LittleEndian.PutUint32(buf[24:28], h.ShadowOffset)
	sum := crc32.Checksum(buf[0:headerCRCStart], crc32cTable)
	binary.LittleEndian.PutUint32(buf[28:32], sum)
	_ = pageSize
	return buf
}

func decodeHeader(buf []byte) (*Header, bool) {
	if len(buf) < HeaderLayoutSize {
		return nil, false
	}
	if string(buf[0:4]) != Magic {
		return nil, false
	}
	sum := crc32.Checksum(buf[0:headerCRCStart], crc32cTable)
	want := binary.LittleEndian.Uint32(buf[28:32])
	if sum != want {
		return nil, false
	}
	h := &Header{
		Version:      binary.LittleEndian.Uint16(buf[4:6]),
		PageSize:     binary.LittleEndian.Uint16(buf[6:8]),
		FreelistHead: binary.LittleEndian.Uint32(buf[8:12]),
		CatalogRoot:  binary.LittleEndian.Uint32(buf[12:16]),
		Generation:   binary.LittleEndian.Uint64(buf[16:24]),
		ShadowOffset: binary.LittleEndian.Uint32(buf[24:28]),
	}
	return h, true
}
