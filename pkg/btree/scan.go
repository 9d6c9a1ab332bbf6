package btree

import (
	"tinydb/pkg/doc"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// All returns every entry in key order.
func (bt *BTree) All(tx *txn.Txn) ([]Entry, error) {
	return bt.FindRange(tx, nil, true, nil, true, false)
}

// FindRange returns entries with low <= key <= high (bounds honoring
// their Inclusive flags; a nil bound is unbounded on that side), in
// ascending order unless reverse is true.
func (bt *BTree) FindRange(tx *txn.Txn, low *doc.Value, lowInclusive bool, high *doc.Value, highInclusive bool, reverse bool) ([]Entry, error) {
	var leafID uint32
	var err error
	if reverse {
		if high != nil {
			leafID, err = bt.descendTo(tx, *high)
		} else {
			leafID, err = bt.rightmostLeaf(tx)
		}
	} else {
		if low != nil {
			leafID, err = bt.descendTo(tx, *low)
		} else {
			leafID, err = bt.leftmostLeaf(tx)
		}
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for leafID != 0 {
		p, n, err := readNode(tx, leafID)
		if err != nil {
			return nil, err
		}

		indices := make([]int, n.keyCount())
		for i := range indices {
			indices[i] = i
		}
		if reverse {
			for i, j := 0, len(indices)-1; i < j; i, j = i+1, j-1 {
				indices[i], indices[j] = indices[j], indices[i]
			}
		}

		stop := false
		for _, i := range indices {
			k := n.keys[i]
			if low != nil {
				c := doc.Compare(k, *low)
				if c < 0 || (c == 0 && !lowInclusive) {
					if reverse {
						stop = true
						break
					}
					continue
				}
			}
			if high != nil {
				c := doc.Compare(k, *high)
				if c > 0 || (c == 0 && !highInclusive) {
					if !reverse {
						stop = true
						break
					}
					continue
				}
			}
			ids := make([]RecordID, len(n.docIDs[i]))
			copy(ids, n.docIDs[i])
			out = append(out, Entry{Key: k, Records: ids})
		}

		next := p.Next()
		prev := p.Prev()
		tx.Unpin(leafID)
		if stop {
			break
		}
		if reverse {
			leafID = prev
		} else {
			leafID = next
		}
	}
	return out, nil
}

func (bt *BTree) leftmostLeaf(tx *txn.Txn) (uint32, error) {
	pageID := bt.rootPage
	for {
		_, n, err := readNode(tx, pageID)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			tx.Unpin(pageID)
			return pageID, nil
		}
		next := n.children[0]
		tx.Unpin(pageID)
		pageID = next
	}
}

func (bt *BTree) rightmostLeaf(tx *txn.Txn) (uint32, error) {
	pageID := bt.rootPage
	for {
		_, n, err := readNode(tx, pageID)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			tx.Unpin(pageID)
			return pageID, nil
		}
		next := n.children[len(n.children)-1]
		tx.Unpin(pageID)
		pageID = next
	}
}

func (bt *BTree) descendTo(tx *txn.Txn, key doc.Value) (uint32, error) {
	pageID := bt.rootPage
	for {
		_, n, err := readNode(tx, pageID)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			tx.Unpin(pageID)
			return pageID, nil
		}
		next := n.children[n.childIndex(key)]
		tx.Unpin(pageID)
		pageID = next
	}
}

// Validate walks the whole tree checking spec.md §3.4's structural
// invariants: strict key ordering within and across nodes, subtree range
// containment, uniform leaf depth, minimum occupancy (except the root),
// and a consistent doubly-linked leaf chain.
func (bt *BTree) Validate(tx *txn.Txn) error {
	_, leaves, err := bt.validate(tx, bt.rootPage, nil, nil, true, 0)
	if err != nil {
		return err
	}
	return bt.validateLeafChain(tx, leaves)
}

func (bt *BTree) validate(tx *txn.Txn, pageID uint32, lowBound, highBound *doc.Value, isRoot bool, level int) (leafDepth int, leaves []uint32, err error) {
	_, n, err := readNode(tx, pageID)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Unpin(pageID)

	if !isRoot && n.keyCount() < minKeys(bt.maxKeys) {
		return 0, nil, tderr.New(tderr.KindCorrupt, "btree node below minimum occupancy")
	}
	if n.keyCount() > bt.maxKeys {
		return 0, nil, tderr.New(tderr.KindCorrupt, "btree node exceeds max fanout")
	}

	for i := 1; i < n.keyCount(); i++ {
		if doc.Compare(n.keys[i-1], n.keys[i]) >= 0 {
			return 0, nil, tderr.New(tderr.KindCorrupt, "btree keys out of order")
		}
	}
	for _, k := range n.keys {
		if lowBound != nil && doc.Compare(k, *lowBound) < 0 {
			return 0, nil, tderr.New(tderr.KindCorrupt, "btree key outside subtree lower bound")
		}
		if highBound != nil && doc.Compare(k, *highBound) >= 0 {
			return 0, nil, tderr.New(tderr.KindCorrupt, "btree key outside subtree upper bound")
		}
	}

	if n.leaf {
		return level, []uint32{pageID}, nil
	}

	var depth int
	var leftToRight []uint32
	for i, childID := range n.children {
		childLow, childHigh := lowBound, highBound
		if i > 0 {
			childLow = &n.keys[i-1]
		}
		if i < len(n.keys) {
			childHigh = &n.keys[i]
		}
		d, childLeaves, err := bt.validate(tx, childID, childLow, childHigh, false, level+1)
		if err != nil {
			return 0, nil, err
		}
		if i == 0 {
			depth = d
		} else if d != depth {
			return 0, nil, tderr.New(tderr.KindCorrupt, "btree leaves at uneven depth")
		}
		leftToRight = append(leftToRight, childLeaves...)
	}
	return depth, leftToRight, nil
}

// validateLeafChain walks the leaf level's Next-linked chain starting
// from leaves[0] and checks it visits exactly leaves, in order, with
// every step's Prev pointer mirroring the Next pointer that reached it
// — the check spec.md §3.4's "consistent doubly-linked leaf chain"
// invariant calls for, which the structural key/bound checks above
// never touch (a swapped or dangling Next/Prev doesn't disturb key
// ordering).
func (bt *BTree) validateLeafChain(tx *txn.Txn, leaves []uint32) error {
	if len(leaves) == 0 {
		return nil
	}

	prevID := uint32(0)
	for i, wantID := range leaves {
		p, err := tx.ReadPage(wantID)
		if err != nil {
			return err
		}
		gotPrev := p.Prev()
		gotNext := p.Next()
		tx.Unpin(wantID)

		if gotPrev != prevID {
			return tderr.New(tderr.KindCorrupt, "btree leaf chain Prev pointer inconsistent with traversal order")
		}
		if i == len(leaves)-1 {
			if gotNext != 0 {
				return tderr.New(tderr.KindCorrupt, "btree leaf chain does not terminate at the rightmost leaf")
			}
		} else if gotNext != leaves[i+1] {
			return tderr.New(tderr.KindCorrupt, "btree leaf chain Next pointer does not match in-order traversal")
		}
		prevID = wantID
	}
	return nil
}
