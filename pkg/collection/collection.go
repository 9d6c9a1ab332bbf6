package collection

import (
	"tinydb/pkg/btree"
	"tinydb/pkg/doc"
	"tinydb/pkg/idgen"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// idField is the document field every collection indexes uniquely and
// by which findById looks records up, the one fixed index every
// collection carries regardless of what createIndex adds.
const idField = "_id"
const idIndexName = "_id"

// Collection is a named set of documents: a heap plus a registry of
// B+tree secondary indexes (including the always-present unique index
// on idField), bound to the catalog entry that persists their layout.
type Collection struct {
	file *storage.File
	cat  *Catalog
	meta *collMeta
}

// Open wraps the catalog entry for name, creating it (with its id
// index) if this is the first reference to it, per spec.md §4.6's
// "strategy set at first insert if not pre-declared".
func Open(tx *txn.Txn, file *storage.File, cat *Catalog, name string, idStrategy idgen.Strategy) (*Collection, error) {
	fresh := false
	meta, ok := cat.collections[name]
	if !ok {
		var err error
		meta, err = cat.EnsureCollection(tx, name)
		if err != nil {
			return nil, err
		}
		meta.IDStrategy = idStrategy
		fresh = true
	}
	c := &Collection{file: file, cat: cat, meta: meta}
	if fresh {
		if err := meta.createIndex(tx, idIndexName, idField, true, 0, btree.DefaultMaxKeys); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collection) idIndex(tx *txn.Txn) (*indexMeta, *btree.BTree) {
	im, _ := c.meta.index(idIndexName)
	return im, btree.Open(im.Root, int(im.MaxKeys), im.Unique)
}

// storeBody encodes d, spilling to an overflow chain if it doesn't fit
// a heap page inline.
func (c *Collection) storeBody(tx *txn.Txn, d *doc.Document) ([]byte, error) {
	encoded, err := doc.Encode(d)
	if err != nil {
		return nil, err
	}
	if len(encoded) <= inlineBudget(c.file) {
		return encodeInlineRecord(encoded), nil
	}
	root, err := writeOverflow(tx, encoded)
	if err != nil {
		return nil, err
	}
	return encodeOverflowRecord(root), nil
}

// loadBody resolves a stored heap record back into its document,
// following the overflow chain if the slot held only a stub.
func (c *Collection) loadBody(tx *txn.Txn, raw []byte) (*doc.Document, error) {
	_, overflow, payload, root, err := decodeRecordHeader(raw)
	if err != nil {
		return nil, err
	}
	if overflow {
		payload, err = readOverflow(tx, root)
		if err != nil {
			return nil, err
		}
	}
	return doc.Decode(payload)
}

// Insert assigns an id (via the collection's configured strategy, if
// the document doesn't already carry idField), appends the document to
// the heap, and updates every index, including the id index. Returns
// the id value used.
func (c *Collection) Insert(tx *txn.Txn, d *doc.Document) (doc.Value, error) {
	idVal, hasID := d.Get(idField)
	if !hasID {
		if c.meta.IDStrategy == idgen.None {
			return doc.Value{}, tderr.New(tderr.KindFormat, "document has no id and collection uses the None id strategy")
		}
		v, err := idgen.Generate(c.meta.IDStrategy, c.cat, c.meta.Name)
		if err != nil {
			return doc.Value{}, err
		}
		idVal = v
		d.Set(idField, idVal)
	}

	body, err := c.storeBody(tx, d)
	if err != nil {
		return doc.Value{}, err
	}
	h := OpenHeap(c.meta.HeapTail)
	rid, err := h.Insert(tx, body)
	if err != nil {
		return doc.Value{}, err
	}
	c.meta.HeapTail = h.TailPage()

	if err := c.indexAll(tx, d, btree.RecordID(rid)); err != nil {
		return doc.Value{}, err
	}
	return idVal, nil
}

func (c *Collection) indexAll(tx *txn.Txn, d *doc.Document, rid btree.RecordID) error {
	for i := range c.meta.Indexes {
		im := &c.meta.Indexes[i]
		v, ok := d.Get(im.Path)
		if !ok {
			continue
		}
		bt := btree.Open(im.Root, int(im.MaxKeys), im.Unique)
		if err := bt.Insert(tx, v, rid); err != nil {
			return err
		}
		im.Root = bt.RootPage()
	}
	return nil
}

func (c *Collection) unindexAll(tx *txn.Txn, d *doc.Document, rid btree.RecordID) error {
	for i := range c.meta.Indexes {
		im := &c.meta.Indexes[i]
		v, ok := d.Get(im.Path)
		if !ok {
			continue
		}
		bt := btree.Open(im.Root, int(im.MaxKeys), im.Unique)
		if err := bt.Delete(tx, v, rid); err != nil {
			return err
		}
		im.Root = bt.RootPage()
	}
	return nil
}

// FindById returns the document whose idField equals id, or
// tderr.KindNotFound.
func (c *Collection) FindById(tx *txn.Txn, id doc.Value) (*doc.Document, error) {
	_, idx := c.idIndex(tx)
	rids, found, err := idx.Find(tx, id)
	if err != nil {
		return nil, err
	}
	if !found || len(rids) == 0 {
		return nil, tderr.New(tderr.KindNotFound, "no document with that id")
	}
	h := OpenHeap(c.meta.HeapTail)
	raw, err := h.Read(tx, RecordID(rids[0]))
	if err != nil {
		return nil, err
	}
	return c.loadBody(tx, raw)
}

// Delete removes the document with the given id from the heap and
// every index.
func (c *Collection) Delete(tx *txn.Txn, id doc.Value) error {
	_, idx := c.idIndex(tx)
	rids, found, err := idx.Find(tx, id)
	if err != nil {
		return err
	}
	if !found || len(rids) == 0 {
		return tderr.New(tderr.KindNotFound, "no document with that id")
	}
	rid := RecordID(rids[0])
	h := OpenHeap(c.meta.HeapTail)
	raw, err := h.Read(tx, rid)
	if err != nil {
		return err
	}
	d, err := c.loadBody(tx, raw)
	if err != nil {
		return err
	}
	if err := c.unindexAll(tx, d, btree.RecordID(rid)); err != nil {
		return err
	}
	return h.Delete(tx, rid)
}

// Update replaces the document with the given id with updated,
// re-indexing it. updated must already carry the same idField value.
// Per spec.md §3.5, the new encoding is written into the existing heap
// slot in place when it fits; only when it has grown past the slot's
// reserved length is the old record tombstoned and a fresh one
// inserted elsewhere.
func (c *Collection) Update(tx *txn.Txn, id doc.Value, updated *doc.Document) error {
	_, idx := c.idIndex(tx)
	rids, found, err := idx.Find(tx, id)
	if err != nil {
		return err
	}
	if !found || len(rids) == 0 {
		return tderr.New(tderr.KindNotFound, "no document with that id")
	}
	rid := RecordID(rids[0])
	h := OpenHeap(c.meta.HeapTail)
	raw, err := h.Read(tx, rid)
	if err != nil {
		return err
	}
	old, err := c.loadBody(tx, raw)
	if err != nil {
		return err
	}
	if err := c.unindexAll(tx, old, btree.RecordID(rid)); err != nil {
		return err
	}

	body, err := c.storeBody(tx, updated)
	if err != nil {
		return err
	}

	fitted, err := h.Update(tx, rid, body)
	if err != nil {
		return err
	}
	if fitted {
		return c.indexAll(tx, updated, btree.RecordID(rid))
	}

	if err := h.Delete(tx, rid); err != nil {
		return err
	}
	newRid, err := h.Insert(tx, body)
	if err != nil {
		return err
	}
	c.meta.HeapTail = h.TailPage()
	return c.indexAll(tx, updated, btree.RecordID(newRid))
}

// Count returns the number of live documents via a full heap scan.
func (c *Collection) Count(tx *txn.Txn) (int, error) {
	n := 0
	err := ScanFrom(tx, c.meta.HeapFirst, func(id RecordID, body []byte) error {
		n++
		return nil
	})
	return n, err
}

// FindAll returns every live document in heap order.
func (c *Collection) FindAll(tx *txn.Txn) ([]*doc.Document, error) {
	var out []*doc.Document
	err := ScanFrom(tx, c.meta.HeapFirst, func(id RecordID, body []byte) error {
		d, err := c.loadBody(tx, body)
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// Find evaluates filter, using the query planning rule of spec.md §4.6:
// an indexable top-level conjunct drives an index probe, with any
// remaining conjuncts applied as a post-filter; absent one, it falls
// back to a full heap scan with filter applied directly.
func (c *Collection) Find(tx *txn.Txn, filter Filter) ([]*doc.Document, error) {
	chosen, ok := choosePlan(filter, c.meta.Indexes)
	if !ok {
		var out []*doc.Document
		err := ScanFrom(tx, c.meta.HeapFirst, func(id RecordID, body []byte) error {
			d, err := c.loadBody(tx, body)
			if err != nil {
				return err
			}
			if filter.Matches(d) {
				out = append(out, d)
			}
			return nil
		})
		return out, err
	}

	bt := btree.Open(chosen.index.Root, int(chosen.index.MaxKeys), chosen.index.Unique)
	rids, err := probeIndex(tx, bt, chosen.conjunct)
	if err != nil {
		return nil, err
	}

	rest := remainingFilter(filter, chosen.conjunct)
	h := OpenHeap(c.meta.HeapTail)
	var out []*doc.Document
	for _, rid := range rids {
		raw, err := h.Read(tx, RecordID(rid))
		if err != nil {
			if kind, ok := tderr.Of(err); ok && kind == tderr.KindNotFound {
				continue
			}
			return nil, err
		}
		d, err := c.loadBody(tx, raw)
		if err != nil {
			return nil, err
		}
		if rest == nil || rest.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func probeIndex(tx *txn.Txn, bt *btree.BTree, c Filter) ([]btree.RecordID, error) {
	switch c.Op {
	case OpEq:
		ids, _, err := bt.Find(tx, c.Value)
		return ids, err
	case OpIn:
		var all []btree.RecordID
		for _, v := range c.Values {
			ids, found, err := bt.Find(tx, v)
			if err != nil {
				return nil, err
			}
			if found {
				all = append(all, ids...)
			}
		}
		return all, nil
	case OpLt:
		entries, err := bt.FindRange(tx, nil, true, &c.Value, false, false)
		return flattenRecordIDs(entries), err
	case OpLe:
		entries, err := bt.FindRange(tx, nil, true, &c.Value, true, false)
		return flattenRecordIDs(entries), err
	case OpGt:
		entries, err := bt.FindRange(tx, &c.Value, false, nil, true, false)
		return flattenRecordIDs(entries), err
	case OpGe:
		entries, err := bt.FindRange(tx, &c.Value, true, nil, true, false)
		return flattenRecordIDs(entries), err
	default:
		return nil, nil
	}
}

func flattenRecordIDs(entries []btree.Entry) []btree.RecordID {
	var out []btree.RecordID
	for _, e := range entries {
		out = append(out, e.Records...)
	}
	return out
}

// CreateIndex builds a new secondary B+tree index over path, scanning
// the heap so that documents already in the collection are indexed too.
func (c *Collection) CreateIndex(tx *txn.Txn, name, path string, unique bool, priority int) error {
	if err := c.meta.createIndex(tx, name, path, unique, priority, btree.DefaultMaxKeys); err != nil {
		return err
	}
	im, _ := c.meta.index(name)
	bt := btree.Open(im.Root, int(im.MaxKeys), im.Unique)
	err := ScanFrom(tx, c.meta.HeapFirst, func(id RecordID, body []byte) error {
		d, err := c.loadBody(tx, body)
		if err != nil {
			return err
		}
		v, ok := d.Get(path)
		if !ok {
			return nil
		}
		return bt.Insert(tx, v, btree.RecordID(id))
	})
	im.Root = bt.RootPage()
	return err
}

// DropIndex removes a secondary index. Its backing pages are not
// reclaimed; freeing an arbitrary B+tree's full page set needs a
// structural walk this layer doesn't perform, the same simplification
// DropCollection documents for heap pages.
func (c *Collection) DropIndex(name string) error {
	if name == idIndexName {
		return tderr.New(tderr.KindFormat, "cannot drop the id index")
	}
	return c.meta.dropIndex(name)
}
