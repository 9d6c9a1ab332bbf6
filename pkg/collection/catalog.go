package collection

import (
	"tinydb/pkg/btree"
	"tinydb/pkg/doc"
	"tinydb/pkg/idgen"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
)

// indexMeta is one secondary index's persisted definition.
type indexMeta struct {
	Name     string
	Path     string
	Unique   bool
	Priority int32
	Root     uint32
	MaxKeys  int32
}

// collMeta is one collection's persisted definition: its heap location,
// id strategy and counter, and its index registry.
type collMeta struct {
	Name       string
	HeapFirst  uint32
	HeapTail   uint32
	IDStrategy idgen.Strategy
	Counter    int64
	Indexes    []indexMeta
}

// Catalog is the single root metadata structure: every collection name
// and its indexes, persisted as one small document chained across
// storage.PageTypeCollectionMeta pages and anchored at
// storage.File.CatalogRoot(). Catalog-scale data is small enough that
// every structural change (create collection/index, counter bump)
// simply re-encodes and rewrites the whole thing, trading a little
// write amplification for a much simpler implementation than an
// incrementally-updated structure would need.
type Catalog struct {
	file        *storage.File
	collections map[string]*collMeta
}

// LoadCatalog reads the catalog from disk, or returns an empty one if
// the file has never had one written (a fresh database).
func LoadCatalog(tx *txn.Txn, file *storage.File) (*Catalog, error) {
	c := &Catalog{file: file, collections: map[string]*collMeta{}}
	root := file.CatalogRoot()
	if root == 0 {
		return c, nil
	}
	raw, err := readChain(tx, root)
	if err != nil {
		return nil, err
	}
	d, err := doc.Decode(raw)
	if err != nil {
		return nil, err
	}
	colsVal, ok := d.Get("collections")
	if !ok {
		return c, nil
	}
	for _, cv := range colsVal.Array() {
		cd := cv.Document()
		cm := &collMeta{}
		if v, ok := cd.Get("name"); ok {
			cm.Name = v.String()
		}
		if v, ok := cd.Get("heapFirst"); ok {
			cm.HeapFirst = uint32(v.Int64())
		}
		if v, ok := cd.Get("heapTail"); ok {
			cm.HeapTail = uint32(v.Int64())
		}
		if v, ok := cd.Get("idStrategy"); ok {
			cm.IDStrategy = idgen.Strategy(v.Int32())
		}
		if v, ok := cd.Get("counter"); ok {
			cm.Counter = v.Int64()
		}
		if iv, ok := cd.Get("indexes"); ok {
			for _, ixv := range iv.Array() {
				ixd := ixv.Document()
				im := indexMeta{}
				if v, ok := ixd.Get("name"); ok {
					im.Name = v.String()
				}
				if v, ok := ixd.Get("path"); ok {
					im.Path = v.String()
				}
				if v, ok := ixd.Get("unique"); ok {
					im.Unique = v.Bool()
				}
				if v, ok := ixd.Get("priority"); ok {
					im.Priority = v.Int32()
				}
				if v, ok := ixd.Get("root"); ok {
					im.Root = uint32(v.Int64())
				}
				if v, ok := ixd.Get("maxKeys"); ok {
					im.MaxKeys = v.Int32()
				}
				cm.Indexes = append(cm.Indexes, im)
			}
		}
		c.collections[cm.Name] = cm
	}
	return c, nil
}

// Save re-encodes the whole catalog and rewrites its page chain,
// freeing the previous chain first.
func (c *Catalog) Save(tx *txn.Txn) error {
	var colDocs []doc.Value
	for _, cm := range c.collections {
		var ixDocs []doc.Value
		for _, im := range cm.Indexes {
			ixDocs = append(ixDocs, doc.NewDocument(doc.NewDoc(
				doc.Field{Name: "name", Value: doc.NewString(im.Name)},
				doc.Field{Name: "path", Value: doc.NewString(im.Path)},
				doc.Field{Name: "unique", Value: doc.NewBool(im.Unique)},
				doc.Field{Name: "priority", Value: doc.NewInt32(im.Priority)},
				doc.Field{Name: "root", Value: doc.NewInt64(int64(im.Root))},
				doc.Field{Name: "maxKeys", Value: doc.NewInt32(im.MaxKeys)},
			)))
		}
		colDocs = append(colDocs, doc.NewDocument(doc.NewDoc(
			doc.Field{Name: "name", Value: doc.NewString(cm.Name)},
			doc.Field{Name: "heapFirst", Value: doc.NewInt64(int64(cm.HeapFirst))},
			doc.Field{Name: "heapTail", Value: doc.NewInt64(int64(cm.HeapTail))},
			doc.Field{Name: "idStrategy", Value: doc.NewInt32(int32(cm.IDStrategy))},
			doc.Field{Name: "counter", Value: doc.NewInt64(cm.Counter)},
			doc.Field{Name: "indexes", Value: doc.NewArray(ixDocs)},
		)))
	}
	root := doc.NewDoc(doc.Field{Name: "collections", Value: doc.NewArray(colDocs)})
	raw, err := doc.Encode(root)
	if err != nil {
		return err
	}

	if old := c.file.CatalogRoot(); old != 0 {
		if err := freeChain(tx, old); err != nil {
			return err
		}
	}
	newRoot, err := writeChain(tx, raw)
	if err != nil {
		return err
	}
	return c.file.SetCatalogRoot(newRoot)
}

// CollectionNames lists every collection currently in the catalog.
func (c *Catalog) CollectionNames() []string {
	names := make([]string, 0, len(c.collections))
	for n := range c.collections {
		names = append(names, n)
	}
	return names
}

// EnsureCollection returns the named collection's metadata, creating
// a fresh empty one (with a new heap) if it doesn't exist yet.
func (c *Catalog) EnsureCollection(tx *txn.Txn, name string) (*collMeta, error) {
	if cm, ok := c.collections[name]; ok {
		return cm, nil
	}
	h, err := CreateHeap(tx)
	if err != nil {
		return nil, err
	}
	cm := &collMeta{Name: name, HeapFirst: h.TailPage(), HeapTail: h.TailPage()}
	c.collections[name] = cm
	return cm, nil
}

// Collection looks up existing metadata, or tderr.KindNotFound.
func (c *Catalog) Collection(name string) (*collMeta, error) {
	cm, ok := c.collections[name]
	if !ok {
		return nil, tderr.New(tderr.KindNotFound, "no such collection")
	}
	return cm, nil
}

// DropCollection removes a collection's catalog entry. It does not
// reclaim the heap/index pages it owned; that would need a structural
// scan to free every page in both chains, not attempted by this layer.
func (c *Catalog) DropCollection(name string) error {
	if _, ok := c.collections[name]; !ok {
		return tderr.New(tderr.KindNotFound, "no such collection")
	}
	delete(c.collections, name)
	return nil
}

// Next implements idgen.Counters: bumps and returns the collection's
// persisted identity counter. The caller is responsible for calling
// Save afterward so the increment survives.
func (c *Catalog) Next(name string) (int64, error) {
	cm, ok := c.collections[name]
	if !ok {
		return 0, tderr.New(tderr.KindNotFound, "no such collection")
	}
	cm.Counter++
	return cm.Counter, nil
}

// createIndex registers a new secondary index over path and builds its
// (initially empty) backing B+tree.
func (cm *collMeta) createIndex(tx *txn.Txn, name, path string, unique bool, priority int, maxKeys int) error {
	for _, im := range cm.Indexes {
		if im.Name == name {
			return tderr.New(tderr.KindUniqueViolation, "index name already registered")
		}
	}
	bt, err := btree.Create(tx, maxKeys, unique)
	if err != nil {
		return err
	}
	cm.Indexes = append(cm.Indexes, indexMeta{
		Name: name, Path: path, Unique: unique,
		Priority: int32(priority), Root: bt.RootPage(), MaxKeys: int32(maxKeys),
	})
	return nil
}

func (cm *collMeta) dropIndex(name string) error {
	for i, im := range cm.Indexes {
		if im.Name == name {
			cm.Indexes = append(cm.Indexes[:i], cm.Indexes[i+1:]...)
			return nil
		}
	}
	return tderr.New(tderr.KindNotFound, "no such index")
}

func (cm *collMeta) index(name string) (*indexMeta, int) {
	for i := range cm.Indexes {
		if cm.Indexes[i].Name == name {
			return &cm.Indexes[i], i
		}
	}
	return nil, -1
}
