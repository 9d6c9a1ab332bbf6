// Package tests exercises the engine end to end: open, insert into a
// collection, unique and range index probes, delete and count.
package tests

import (
	"fmt"
	"path/filepath"
	"testing"

	"tinydb/pkg/collection"
	"tinydb/pkg/doc"
	"tinydb/pkg/engine"
	"tinydb/pkg/idgen"
)

func TestFullFeatureSet(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.tdb")

	e, err := engine.Open(dbPath, engine.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	t.Log("=== collections and documents ===")
	tx := e.BeginTransaction()
	users, err := e.GetCollection(tx, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("GetCollection users: %v", err)
	}
	if err := users.CreateIndex(tx, "by-email", "email", true, 0); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	ids := make([]doc.Value, 0, 20)
	for i := 0; i < 20; i++ {
		d := doc.NewDoc(
			doc.Field{Name: "name", Value: doc.NewString(fmt.Sprintf("user-%d", i))},
			doc.Field{Name: "email", Value: doc.NewString(fmt.Sprintf("user-%d@example.com", i))},
			doc.Field{Name: "age", Value: doc.NewInt64(int64(20 + i))},
		)
		id, err := users.Insert(tx, d)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if err := e.SaveCatalog(tx); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	t.Log("=== find by unique secondary index ===")
	tx2 := e.BeginTransaction()
	users2, err := e.GetCollection(tx2, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("reopen users: %v", err)
	}
	results, err := users2.Find(tx2, collection.Eq("email", doc.NewString("user-7@example.com")))
	if err != nil {
		t.Fatalf("Find by email: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	name, _ := results[0].Get("name")
	if name.String() != "user-7" {
		t.Fatalf("expected user-7, got %v", name.String())
	}

	t.Log("=== range query over age ===")
	tx2.Rollback()

	tx3 := e.BeginTransaction()
	users3, err := e.GetCollection(tx3, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("reopen users again: %v", err)
	}
	if err := users3.CreateIndex(tx3, "by-age", "age", false, 1); err != nil {
		t.Fatalf("CreateIndex by-age: %v", err)
	}
	if err := e.SaveCatalog(tx3); err != nil {
		t.Fatalf("SaveCatalog: %v", err)
	}
	if err := tx3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx4 := e.BeginTransaction()
	users4, err := e.GetCollection(tx4, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("reopen users for range query: %v", err)
	}
	older := collection.Ge("age", doc.NewInt64(30))
	matches, err := users4.Find(tx4, older)
	if err != nil {
		t.Fatalf("range Find: %v", err)
	}
	if len(matches) != 10 {
		t.Fatalf("expected 10 users aged >= 30, got %d", len(matches))
	}
	tx4.Rollback()

	t.Log("=== delete and recount ===")
	tx5 := e.BeginTransaction()
	users5, err := e.GetCollection(tx5, "users", idgen.Int64Identity)
	if err != nil {
		t.Fatalf("reopen users for delete: %v", err)
	}
	if err := users5.Delete(tx5, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	count, err := users5.Count(tx5)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 19 {
		t.Fatalf("expected 19 remaining users, got %d", count)
	}
	if err := tx5.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
