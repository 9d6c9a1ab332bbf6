// Package btree implements the B+tree index (C5): ordered key -> record-id
// list storage over pkg/storage pages, with split-on-overflow insertion
// and borrow/merge-on-underflow deletion (spec.md §3.3-§3.4).
//
// Grounded on the teacher's pkg/btree (SQLite-style cell-packed pages with
// a promoted-key split protocol) and pkg/cowbtree (copy-on-write variant),
// generalized from fixed byte-string keys to ordered doc.Value keys
// compared with pkg/doc's total order, and from single-value cells to
// leaf entries holding a duplicate-preserving list of RecordIDs so a
// non-unique index can map one key to many documents.
//
// Every tree mutation runs inside the single active write transaction
// that pkg/txn already serializes through its write latch, so unlike the
// teacher's mmap'd pages (read concurrently with no locking of their own)
// this package needs no per-node latch-crabbing: the "escalate to a
// structural lock before any split/merge-risking descent" discipline
// spec.md calls for is already provided, coarsely, by that single
// transaction latch. This is a deliberate simplification over true
// optimistic crabbing, recorded in DESIGN.md.
package btree

import (
	"encoding/binary"

	"tinydb/pkg/doc"
	"tinydb/pkg/tderr"
)

// RecordID identifies a stored document, opaque to the index itself.
// pkg/collection packs a heap page id and in-page slot into it.
type RecordID uint64

// MinMaxKeys is the smallest MaxKeys a tree may be configured with
// (spec.md's "minimum 3").
const MinMaxKeys = 3

// DefaultMaxKeys is used when a tree is created without an explicit
// fanout override.
const DefaultMaxKeys = 32

type nodeData struct {
	leaf bool
	keys []doc.Value

	// leaf-only: docIDs[i] is the duplicate-preserving list of records
	// stored under keys[i].
	docIDs [][]RecordID

	// internal-only: children has len(keys)+1 entries; children[i] holds
	// keys < keys[i], children[len(keys)] holds keys >= keys[len(keys)-1].
	children []uint32
}

func newLeaf() *nodeData {
	return &nodeData{leaf: true}
}

func newInternal() *nodeData {
	return &nodeData{leaf: false}
}

func (n *nodeData) keyCount() int { return len(n.keys) }

// find returns the index of key in n.keys (found=true), or the position a
// new entry would be inserted at (found=false).
func (n *nodeData) find(key doc.Value) (pos int, found bool) {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := doc.Compare(n.keys[mid], key)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.keys) && doc.Compare(n.keys[lo], key) == 0 {
		return lo, true
	}
	return lo, false
}

// childIndex returns which children[] slot key descends into for an
// internal node.
func (n *nodeData) childIndex(key doc.Value) int {
	for i, k := range n.keys {
		if doc.Compare(key, k) < 0 {
			return i
		}
	}
	return len(n.keys)
}

// encode/decode serialize the whole node as a unit into the page
// payload. This trades the teacher's incremental cell-slot packing for a
// much simpler implementation; a node is never allowed to grow past
// MaxKeys entries, so its encoded form always fits a page's payload for
// any reasonably small key.
func encodeNode(n *nodeData) []byte {
	buf := make([]byte, 0, 256)
	buf = appendBool(buf, n.leaf)
	buf = appendUvarint(buf, uint64(len(n.keys)))
	for _, k := range n.keys {
		kb := encodeKey(k)
		buf = appendUvarint(buf, uint64(len(kb)))
		buf = append(buf, kb...)
	}
	if n.leaf {
		for _, ids := range n.docIDs {
			buf = appendUvarint(buf, uint64(len(ids)))
			for _, id := range ids {
				buf = appendUvarint(buf, uint64(id))
			}
		}
	} else {
		buf = appendUvarint(buf, uint64(len(n.children)))
		for _, c := range n.children {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], c)
			buf = append(buf, b[:]...)
		}
	}
	return buf
}

func decodeNode(buf []byte) (*nodeData, error) {
	n := &nodeData{}
	off := 0
	if off >= len(buf) {
		return nil, tderr.New(tderr.KindCorrupt, "btree node truncated")
	}
	n.leaf = buf[off] != 0
	off++

	keyCount, off, err := readUvarint(buf, off)
	if err != nil {
		return nil, err
	}

	n.keys = make([]doc.Value, keyCount)
	for i := range n.keys {
		var klen uint64
		klen, off, err = readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		if off+int(klen) > len(buf) {
			return nil, tderr.New(tderr.KindCorrupt, "btree node key truncated")
		}
		k, derr := decodeKey(buf[off : off+int(klen)])
		if derr != nil {
			return nil, derr
		}
		n.keys[i] = k
		off += int(klen)
	}

	if n.leaf {
		n.docIDs = make([][]RecordID, keyCount)
		for i := range n.docIDs {
			var cnt uint64
			cnt, off, err = readUvarint(buf, off)
			if err != nil {
				return nil, err
			}
			ids := make([]RecordID, cnt)
			for j := range ids {
				var v uint64
				v, off, err = readUvarint(buf, off)
				if err != nil {
					return nil, err
				}
				ids[j] = RecordID(v)
			}
			n.docIDs[i] = ids
		}
	} else {
		var childCount uint64
		childCount, off, err = readUvarint(buf, off)
		if err != nil {
			return nil, err
		}
		n.children = make([]uint32, childCount)
		for i := range n.children {
			if off+4 > len(buf) {
				return nil, tderr.New(tderr.KindCorrupt, "btree node child pointer truncated")
			}
			n.children[i] = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}
	}

	return n, nil
}

func encodeKey(v doc.Value) []byte {
	d := doc.NewDoc(doc.Field{Name: "k", Value: v})
	b, err := doc.Encode(d)
	if err != nil {
		// A value that made it into the tree must always re-encode.
		panic(err)
	}
	return b
}

func decodeKey(b []byte) (doc.Value, error) {
	d, err := doc.Decode(b)
	if err != nil {
		return doc.Value{}, err
	}
	v, _ := d.Get("k")
	return v, nil
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte, off int) (uint64, int, error) {
	v, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, 0, tderr.New(tderr.KindCorrupt, "btree node varint truncated")
	}
	return v, off + n, nil
}
