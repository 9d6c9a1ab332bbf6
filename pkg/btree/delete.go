package btree

import (
	"tinydb/pkg/doc"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// minKeys is the minimum occupancy for a non-root node, ceil(MaxKeys/2)
// per spec.md §3.4.
func minKeys(maxKeys int) int { return (maxKeys + 1) / 2 }

// Delete removes id from under key. If the key's record list becomes
// empty the key itself is removed. Returns tderr.KindNotFound if key (or
// id under key) isn't present.
func (bt *BTree) Delete(tx *txn.Txn, key doc.Value, id RecordID) error {
	_, err := bt.delete(tx, bt.rootPage, key, id, true)
	if err != nil {
		return err
	}
	return bt.collapseRoot(tx)
}

// collapseRoot shrinks the tree's height when the root is an internal
// node left with a single child after merges cascade all the way up.
func (bt *BTree) collapseRoot(tx *txn.Txn) error {
	for {
		_, n, err := readNode(tx, bt.rootPage)
		if err != nil {
			return err
		}
		if n.leaf || n.keyCount() > 0 {
			tx.Unpin(bt.rootPage)
			return nil
		}
		// Internal root with zero keys has exactly one child; adopt it
		// as the new root and free the old one.
		newRoot := n.children[0]
		oldRoot := bt.rootPage
		tx.Unpin(oldRoot)
		if err := tx.FreePage(oldRoot); err != nil {
			return err
		}
		bt.rootPage = newRoot
	}
}

func (bt *BTree) delete(tx *txn.Txn, pageID uint32, key doc.Value, id RecordID, isRoot bool) (underflow bool, err error) {
	p, n, err := readNode(tx, pageID)
	if err != nil {
		return false, err
	}

	if n.leaf {
		pos, found := n.find(key)
		if !found {
			tx.Unpin(pageID)
			return false, tderr.New(tderr.KindNotFound, "key not present in index")
		}
		ids := n.docIDs[pos]
		kept := ids[:0]
		removed := false
		for _, existing := range ids {
			if !removed && existing == id {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		if !removed {
			tx.Unpin(pageID)
			return false, tderr.New(tderr.KindNotFound, "record id not present under key")
		}
		if len(kept) == 0 {
			n.keys = append(n.keys[:pos], n.keys[pos+1:]...)
			n.docIDs = append(n.docIDs[:pos], n.docIDs[pos+1:]...)
		} else {
			n.docIDs[pos] = kept
		}
		if err := writeNode(tx, p, n); err != nil {
			tx.Unpin(pageID)
			return false, err
		}
		tx.Unpin(pageID)
		return !isRoot && n.keyCount() < minKeys(bt.maxKeys), nil
	}

	idx := n.childIndex(key)
	childID := n.children[idx]
	childUnderflow, err := bt.delete(tx, childID, key, id, false)
	if err != nil {
		tx.Unpin(pageID)
		return false, err
	}

	if childUnderflow {
		if err := bt.rebalance(tx, n, idx); err != nil {
			tx.Unpin(pageID)
			return false, err
		}
	}

	if err := writeNode(tx, p, n); err != nil {
		tx.Unpin(pageID)
		return false, err
	}
	tx.Unpin(pageID)
	return !isRoot && n.keyCount() < minKeys(bt.maxKeys), nil
}

// rebalance fixes up parent n after its child at idx underflowed:
// borrowing a single entry from a sibling with room to spare, or merging
// with a sibling otherwise. Left-sibling borrow/merge is preferred over
// right, matching spec.md's stated tie-break.
func (bt *BTree) rebalance(tx *txn.Txn, parent *nodeData, idx int) error {
	childID := parent.children[idx]
	childPage, child, err := readNode(tx, childID)
	if err != nil {
		return err
	}

	if idx > 0 {
		leftID := parent.children[idx-1]
		leftPage, left, err := readNode(tx, leftID)
		if err != nil {
			tx.Unpin(childID)
			return err
		}
		if left.keyCount() > minKeys(bt.maxKeys) {
			err := bt.borrowFromLeft(tx, parent, idx-1, leftPage, left, childPage, child)
			tx.Unpin(leftID)
			tx.Unpin(childID)
			return err
		}
		tx.Unpin(leftID)
	}

	if idx < len(parent.children)-1 {
		rightID := parent.children[idx+1]
		rightPage, right, err := readNode(tx, rightID)
		if err != nil {
			tx.Unpin(childID)
			return err
		}
		if right.keyCount() > minKeys(bt.maxKeys) {
			err := bt.borrowFromRight(tx, parent, idx, childPage, child, rightPage, right)
			tx.Unpin(rightID)
			tx.Unpin(childID)
			return err
		}
		tx.Unpin(rightID)
	}

	if idx > 0 {
		leftID := parent.children[idx-1]
		leftPage, left, err := readNode(tx, leftID)
		if err != nil {
			tx.Unpin(childID)
			return err
		}
		err = bt.mergeInto(tx, parent, idx-1, leftPage, left, childPage, child)
		tx.Unpin(childID)
		tx.Unpin(leftID)
		return err
	}

	rightID := parent.children[idx+1]
	rightPage, right, err := readNode(tx, rightID)
	if err != nil {
		tx.Unpin(childID)
		return err
	}
	err = bt.mergeInto(tx, parent, idx, childPage, child, rightPage, right)
	tx.Unpin(rightID)
	tx.Unpin(childID)
	return err
}

func (bt *BTree) borrowFromLeft(tx *txn.Txn, parent *nodeData, sepIdx int, leftPage *storage.Page, left *nodeData, childPage *storage.Page, child *nodeData) error {
	if child.leaf {
		n := left.keyCount()
		k := left.keys[n-1]
		v := left.docIDs[n-1]
		left.keys = left.keys[:n-1]
		left.docIDs = left.docIDs[:n-1]

		child.keys = append([]doc.Value{k}, child.keys...)
		child.docIDs = append([][]RecordID{v}, child.docIDs...)
		parent.keys[sepIdx] = child.keys[0]
	} else {
		n := left.keyCount()
		borrowedKey := left.keys[n-1]
		borrowedChild := left.children[len(left.children)-1]
		left.keys = left.keys[:n-1]
		left.children = left.children[:len(left.children)-1]

		child.keys = append([]doc.Value{parent.keys[sepIdx]}, child.keys...)
		child.children = append([]uint32{borrowedChild}, child.children...)
		parent.keys[sepIdx] = borrowedKey
	}
	if err := writeNode(tx, leftPage, left); err != nil {
		return err
	}
	return writeNode(tx, childPage, child)
}

func (bt *BTree) borrowFromRight(tx *txn.Txn, parent *nodeData, sepIdx int, childPage *storage.Page, child *nodeData, rightPage *storage.Page, right *nodeData) error {
	if child.leaf {
		k := right.keys[0]
		v := right.docIDs[0]
		right.keys = right.keys[1:]
		right.docIDs = right.docIDs[1:]

		child.keys = append(child.keys, k)
		child.docIDs = append(child.docIDs, v)
		parent.keys[sepIdx] = right.keys[0]
	} else {
		borrowedKey := right.keys[0]
		borrowedChild := right.children[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]

		child.keys = append(child.keys, parent.keys[sepIdx])
		child.children = append(child.children, borrowedChild)
		parent.keys[sepIdx] = borrowedKey
	}
	if err := writeNode(tx, rightPage, right); err != nil {
		return err
	}
	return writeNode(tx, childPage, child)
}

// mergeInto absorbs the right node into the left node (both currently
// children of parent, separated by parent.keys[sepIdx]), frees the right
// page, and removes the separator from parent.
func (bt *BTree) mergeInto(tx *txn.Txn, parent *nodeData, sepIdx int, leftPage *storage.Page, left *nodeData, rightPage *storage.Page, right *nodeData) error {
	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.docIDs = append(left.docIDs, right.docIDs...)
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	if left.leaf {
		newNext := rightPage.Next()
		leftPage.SetNext(newNext)
		if newNext != 0 {
			nextP, err := tx.ReadPage(newNext)
			if err != nil {
				return err
			}
			nextP.SetPrev(leftPage.ID())
			if err := tx.MarkDirty(nextP); err != nil {
				return err
			}
			tx.Unpin(newNext)
		}
	}

	if err := writeNode(tx, leftPage, left); err != nil {
		return err
	}

	rightID := rightPage.ID()
	if err := tx.FreePage(rightID); err != nil {
		return err
	}

	parent.keys = append(parent.keys[:sepIdx], parent.keys[sepIdx+1:]...)
	parent.children = append(parent.children[:sepIdx+1], parent.children[sepIdx+2:]...)
	return nil
}
