package btree

import (
	"tinydb/pkg/doc"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// Entry is one key and its (possibly multi-valued) record list, returned
// by range scans and full-tree iteration.
type Entry struct {
	Key     doc.Value
	Records []RecordID
}

// BTree is an index rooted at a page. All mutating and reading methods
// take the active transaction they run under.
type BTree struct {
	rootPage uint32
	maxKeys  int
	unique   bool
}

// Create allocates a fresh, empty tree (a single empty leaf root).
func Create(tx *txn.Txn, maxKeys int, unique bool) (*BTree, error) {
	if maxKeys < MinMaxKeys {
		maxKeys = DefaultMaxKeys
	}
	p, err := tx.AllocatePage(storage.PageTypeBTreeLeaf)
	if err != nil {
		return nil, err
	}
	if err := writeNode(tx, p, newLeaf()); err != nil {
		return nil, err
	}
	root := p.ID()
	tx.Unpin(root)
	return &BTree{rootPage: root, maxKeys: maxKeys, unique: unique}, nil
}

// Open wraps an existing tree whose root page is already on disk.
func Open(rootPage uint32, maxKeys int, unique bool) *BTree {
	if maxKeys < MinMaxKeys {
		maxKeys = DefaultMaxKeys
	}
	return &BTree{rootPage: rootPage, maxKeys: maxKeys, unique: unique}
}

// RootPage returns the current root page id. A caller that persists index
// metadata must re-read this after every Insert/Delete, since splits and
// root collapses can change it.
func (bt *BTree) RootPage() uint32 { return bt.rootPage }

func readNode(tx *txn.Txn, id uint32) (*storage.Page, *nodeData, error) {
	p, err := tx.ReadPage(id)
	if err != nil {
		return nil, nil, err
	}
	n, err := decodeNode(p.Payload()[:int(p.EntryCount())])
	if err != nil {
		tx.Unpin(id)
		return nil, nil, err
	}
	return p, n, nil
}

// writeNode serializes n into p's payload and marks p dirty. EntryCount
// is repurposed here to record the encoded node's byte length (not a
// literal "entry" count, but the page header has no other free field to
// carry a variable payload length in).
func writeNode(tx *txn.Txn, p *storage.Page, n *nodeData) error {
	buf := encodeNode(n)
	if len(buf) > len(p.Payload()) {
		return tderr.New(tderr.KindIO, "btree node exceeds page payload capacity")
	}
	copy(p.Payload(), buf)
	p.SetEntryCount(uint16(len(buf)))
	if n.leaf {
		p.SetType(storage.PageTypeBTreeLeaf)
	} else {
		p.SetType(storage.PageTypeBTreeInternal)
	}
	return tx.MarkDirty(p)
}

// Find returns the record list stored under key, or (nil, false) if key
// is absent.
func (bt *BTree) Find(tx *txn.Txn, key doc.Value) ([]RecordID, bool, error) {
	pageID := bt.rootPage
	for {
		p, n, err := readNode(tx, pageID)
		if err != nil {
			return nil, false, err
		}
		if n.leaf {
			pos, found := n.find(key)
			tx.Unpin(pageID)
			if !found {
				return nil, false, nil
			}
			out := make([]RecordID, len(n.docIDs[pos]))
			copy(out, n.docIDs[pos])
			return out, true, nil
		}
		idx := n.childIndex(key)
		next := n.children[idx]
		tx.Unpin(pageID)
		pageID = next
	}
}

// Insert adds id under key. For a unique tree, inserting a second id
// under a key already present returns tderr.KindUniqueViolation; for a
// non-unique tree the id is appended to that key's record list.
func (bt *BTree) Insert(tx *txn.Txn, key doc.Value, id RecordID) error {
	promoted, newRight, err := bt.insert(tx, bt.rootPage, key, id)
	if err != nil {
		return err
	}
	if newRight != 0 {
		// The root split; build a fresh internal root over both halves.
		p, err := tx.AllocatePage(storage.PageTypeBTreeInternal)
		if err != nil {
			return err
		}
		root := newInternal()
		root.keys = []doc.Value{*promoted}
		root.children = []uint32{bt.rootPage, newRight}
		if err := writeNode(tx, p, root); err != nil {
			return err
		}
		bt.rootPage = p.ID()
		tx.Unpin(bt.rootPage)
	}
	return nil
}

// insert descends to the right leaf and inserts, splitting any node that
// overflows MaxKeys and reporting the promoted separator key and new
// right-sibling page id one level up (both zero/nil when no split
// occurred at this level).
func (bt *BTree) insert(tx *txn.Txn, pageID uint32, key doc.Value, id RecordID) (*doc.Value, uint32, error) {
	p, n, err := readNode(tx, pageID)
	if err != nil {
		return nil, 0, err
	}

	if n.leaf {
		pos, found := n.find(key)
		if found {
			if bt.unique {
				tx.Unpin(pageID)
				return nil, 0, tderr.New(tderr.KindUniqueViolation, "duplicate key in unique index")
			}
			n.docIDs[pos] = append(n.docIDs[pos], id)
		} else {
			n.keys = append(n.keys, doc.Value{})
			copy(n.keys[pos+1:], n.keys[pos:])
			n.keys[pos] = key

			n.docIDs = append(n.docIDs, nil)
			copy(n.docIDs[pos+1:], n.docIDs[pos:])
			n.docIDs[pos] = []RecordID{id}
		}

		if n.keyCount() <= bt.maxKeys {
			err := writeNode(tx, p, n)
			tx.Unpin(pageID)
			return nil, 0, err
		}
		return bt.splitLeaf(tx, p, n)
	}

	idx := n.childIndex(key)
	childID := n.children[idx]
	promoted, newRight, err := bt.insert(tx, childID, key, id)
	if err != nil {
		tx.Unpin(pageID)
		return nil, 0, err
	}
	if newRight == 0 {
		tx.Unpin(pageID)
		return nil, 0, nil
	}

	// Insert the promoted separator at idx, with the new right child
	// immediately after the original child it split from.
	n.keys = append(n.keys, doc.Value{})
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = *promoted

	n.children = append(n.children, 0)
	copy(n.children[idx+2:], n.children[idx+1:])
	n.children[idx+1] = newRight

	if n.keyCount() <= bt.maxKeys {
		err := writeNode(tx, p, n)
		tx.Unpin(pageID)
		return nil, 0, err
	}
	return bt.splitInternal(tx, p, n)
}

// splitLeaf splits an overflowing leaf at its median, linking the new
// right sibling into the leaf chain (spec.md §3.4's doubly-linked leaf
// invariant).
func (bt *BTree) splitLeaf(tx *txn.Txn, p *storage.Page, n *nodeData) (*doc.Value, uint32, error) {
	mid := (n.keyCount() + 1) / 2 // ceil((MaxKeys+1)/2)

	left := &nodeData{leaf: true, keys: n.keys[:mid], docIDs: n.docIDs[:mid]}
	right := &nodeData{leaf: true, keys: n.keys[mid:], docIDs: n.docIDs[mid:]}

	rp, err := tx.AllocatePage(storage.PageTypeBTreeLeaf)
	if err != nil {
		tx.Unpin(p.ID())
		return nil, 0, err
	}

	oldNext := p.Next()
	rp.SetNext(oldNext)
	rp.SetPrev(p.ID())
	p.SetNext(rp.ID())

	if err := writeNode(tx, rp, right); err != nil {
		return nil, 0, err
	}
	if err := writeNode(tx, p, left); err != nil {
		return nil, 0, err
	}

	if oldNext != 0 {
		nextP, err := tx.ReadPage(oldNext)
		if err != nil {
			return nil, 0, err
		}
		nextP.SetPrev(rp.ID())
		if err := tx.MarkDirty(nextP); err != nil {
			return nil, 0, err
		}
		tx.Unpin(oldNext)
	}

	promoted := right.keys[0]
	rightID := rp.ID()
	tx.Unpin(p.ID())
	tx.Unpin(rightID)
	return &promoted, rightID, nil
}

// splitInternal splits an overflowing internal node at its median key,
// which is promoted to the parent rather than kept in either half.
func (bt *BTree) splitInternal(tx *txn.Txn, p *storage.Page, n *nodeData) (*doc.Value, uint32, error) {
	mid := n.keyCount() / 2
	promoted := n.keys[mid]

	left := &nodeData{leaf: false, keys: n.keys[:mid], children: n.children[:mid+1]}
	right := &nodeData{leaf: false, keys: n.keys[mid+1:], children: n.children[mid+1:]}

	rp, err := tx.AllocatePage(storage.PageTypeBTreeInternal)
	if err != nil {
		tx.Unpin(p.ID())
		return nil, 0, err
	}
	if err := writeNode(tx, rp, right); err != nil {
		return nil, 0, err
	}
	if err := writeNode(tx, p, left); err != nil {
		return nil, 0, err
	}

	rightID := rp.ID()
	tx.Unpin(p.ID())
	tx.Unpin(rightID)
	return &promoted, rightID, nil
}
