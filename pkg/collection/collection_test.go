package collection

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"tinydb/pkg/doc"
	"tinydb/pkg/idgen"
	"tinydb/pkg/storage"
	"tinydb/pkg/txn"
	"tinydb/pkg/walog"
)

func openTestEnv(t *testing.T) (*txn.Manager, *storage.File) {
	t.Helper()
	dir := t.TempDir()
	sf, err := storage.Open(filepath.Join(dir, "data.tdb"), storage.DefaultPageSize)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	w, err := walog.Open(filepath.Join(dir, "data.wal"), "", 0)
	if err != nil {
		t.Fatalf("walog.Open: %v", err)
	}
	m, err := txn.NewManager(sf, w, 0)
	if err != nil {
		t.Fatalf("txn.NewManager: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		sf.Close()
	})
	return m, sf
}

func TestInsertAndFindById(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	d := doc.NewDoc(doc.Field{Name: "name", Value: doc.NewString("ada")})
	id, err := coll.Insert(tx, d)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id.Tag() != doc.TagInt64 {
		t.Fatalf("expected generated int64 id, got tag %v", id.Tag())
	}

	got, err := coll.FindById(tx, id)
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	name, _ := got.Get("name")
	if name.String() != "ada" {
		t.Fatalf("expected name=ada, got %v", name.String())
	}

	if err := cat.Save(tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCatalogSurvivesReload(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "widgets", idgen.Int32Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := coll.CreateIndex(tx, "by-color", "color", false, 1); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i := 0; i < 5; i++ {
		d := doc.NewDoc(doc.Field{Name: "color", Value: doc.NewString("red")})
		if _, err := coll.Insert(tx, d); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if err := cat.Save(tx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := m.Begin()
	cat2, err := LoadCatalog(tx2, sf)
	if err != nil {
		t.Fatalf("reload LoadCatalog: %v", err)
	}
	names := cat2.CollectionNames()
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("expected [widgets], got %v", names)
	}
	meta, err := cat2.Collection("widgets")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	if len(meta.Indexes) != 2 {
		t.Fatalf("expected 2 indexes (id + by-color), got %d", len(meta.Indexes))
	}
	tx2.Rollback()
}

func TestFindWithIndexableFilter(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "items", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := coll.CreateIndex(tx, "by-qty", "qty", false, 1); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	for i := 0; i < 20; i++ {
		d := doc.NewDoc(
			doc.Field{Name: "qty", Value: doc.NewInt64(int64(i % 5))},
			doc.Field{Name: "label", Value: doc.NewString(fmt.Sprintf("item-%d", i))},
		)
		if _, err := coll.Insert(tx, d); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	results, err := coll.Find(tx, Eq("qty", doc.NewInt64(2)))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 matches for qty=2, got %d", len(results))
	}
	for _, d := range results {
		qty, _ := d.Get("qty")
		if qty.Int64() != 2 {
			t.Fatalf("unexpected qty %d in results", qty.Int64())
		}
	}
}

func TestFindFallsBackToHeapScanWithoutIndex(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "notes", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 10; i++ {
		d := doc.NewDoc(doc.Field{Name: "body", Value: doc.NewString(fmt.Sprintf("note %d", i))})
		if _, err := coll.Insert(tx, d); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	results, err := coll.Find(tx, Eq("body", doc.NewString("note 7")))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "accounts", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	d := doc.NewDoc(doc.Field{Name: "balance", Value: doc.NewInt64(100)})
	id, err := coll.Insert(tx, d)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	updated := doc.NewDoc(
		doc.Field{Name: idField, Value: id},
		doc.Field{Name: "balance", Value: doc.NewInt64(50)},
	)
	if err := coll.Update(tx, id, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := coll.FindById(tx, id)
	if err != nil {
		t.Fatalf("FindById after update: %v", err)
	}
	bal, _ := got.Get("balance")
	if bal.Int64() != 50 {
		t.Fatalf("expected updated balance 50, got %d", bal.Int64())
	}

	if err := coll.Delete(tx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := coll.FindById(tx, id); err == nil {
		t.Fatalf("expected FindById to fail after delete")
	}
}

func TestUpdateInPlaceKeepsSameHeapSlot(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "accounts", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	d := doc.NewDoc(
		doc.Field{Name: "name", Value: doc.NewString("ada lovelace")},
		doc.Field{Name: "balance", Value: doc.NewInt64(100)},
	)
	id, err := coll.Insert(tx, d)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	_, idx := coll.idIndex(tx)
	ridsBefore, found, err := idx.Find(tx, id)
	if err != nil || !found {
		t.Fatalf("Find before update: found=%v err=%v", found, err)
	}

	// Same field, a shorter string: the new encoding can only be
	// smaller, so it must fit the existing slot and update in place.
	updated := doc.NewDoc(
		doc.Field{Name: idField, Value: id},
		doc.Field{Name: "name", Value: doc.NewString("ada")},
		doc.Field{Name: "balance", Value: doc.NewInt64(75)},
	)
	if err := coll.Update(tx, id, updated); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ridsAfter, found, err := idx.Find(tx, id)
	if err != nil || !found {
		t.Fatalf("Find after update: found=%v err=%v", found, err)
	}
	if len(ridsBefore) != 1 || len(ridsAfter) != 1 || ridsBefore[0] != ridsAfter[0] {
		t.Fatalf("expected update to stay on the same heap record, got %v -> %v", ridsBefore, ridsAfter)
	}

	got, err := coll.FindById(tx, id)
	if err != nil {
		t.Fatalf("FindById after update: %v", err)
	}
	name, _ := got.Get("name")
	if name.String() != "ada" {
		t.Fatalf("expected updated name ada, got %v", name.String())
	}
	bal, _ := got.Get("balance")
	if bal.Int64() != 75 {
		t.Fatalf("expected updated balance 75, got %d", bal.Int64())
	}
}

func TestOversizedDocumentUsesOverflow(t *testing.T) {
	m, sf := openTestEnv(t)
	tx := m.Begin()

	cat, err := LoadCatalog(tx, sf)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	coll, err := Open(tx, sf, cat, "blobs", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	big := strings.Repeat("x", sf.PageSize()*2)
	d := doc.NewDoc(doc.Field{Name: "payload", Value: doc.NewString(big)})
	id, err := coll.Insert(tx, d)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := coll.FindById(tx, id)
	if err != nil {
		t.Fatalf("FindById: %v", err)
	}
	p, _ := got.Get("payload")
	if p.String() != big {
		t.Fatalf("overflowed payload did not round-trip")
	}
}
