package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"tinydb/pkg/doc"
	"tinydb/pkg/storage"
	"tinydb/pkg/tderr"
	"tinydb/pkg/txn"
	"tinydb/pkg/walog"
)

func openTestTxn(t *testing.T) (*txn.Manager, *txn.Txn) {
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
	return m, m.Begin()
}

func TestInsertFindRoundTrip(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := map[string]RecordID{
		"apple":  1,
		"banana": 2,
		"cherry": 3,
	}
	for k, id := range want {
		if err := bt.Insert(tx, doc.NewString(k), id); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}

	for k, id := range want {
		ids, found, err := bt.Find(tx, doc.NewString(k))
		if err != nil {
			t.Fatalf("Find(%s): %v", k, err)
		}
		if !found {
			t.Fatalf("Find(%s): expected found", k)
		}
		if len(ids) != 1 || ids[0] != id {
			t.Fatalf("Find(%s): got %v, want [%d]", k, ids, id)
		}
	}

	if _, found, err := bt.Find(tx, doc.NewString("missing")); err != nil || found {
		t.Fatalf("Find(missing): found=%v err=%v", found, err)
	}
}

func TestInsertUniqueViolation(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := bt.Insert(tx, doc.NewInt64(1), 100); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err = bt.Insert(tx, doc.NewInt64(1), 200)
	if err == nil {
		t.Fatalf("expected unique violation error")
	}
	if kind, ok := tderr.Of(err); !ok || kind != tderr.KindUniqueViolation {
		t.Fatalf("expected KindUniqueViolation, got %v", err)
	}
}

func TestInsertNonUniqueAppendsDuplicates(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	key := doc.NewString("shared")
	for i := RecordID(1); i <= 3; i++ {
		if err := bt.Insert(tx, key, i); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	ids, found, err := bt.Find(tx, key)
	if err != nil || !found {
		t.Fatalf("Find: found=%v err=%v", found, err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 record ids, got %v", ids)
	}
}

func TestInsertManyCausesSplitsAndStaysValid(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		k := doc.NewString(fmt.Sprintf("key-%04d", i))
		if err := bt.Insert(tx, k, RecordID(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if err := bt.Validate(tx); err != nil {
		t.Fatalf("Validate after inserts: %v", err)
	}

	all, err := bt.All(tx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d entries, got %d", n, len(all))
	}
	for i := 1; i < len(all); i++ {
		if doc.Compare(all[i-1].Key, all[i].Key) >= 0 {
			t.Fatalf("All() not strictly ascending at index %d", i)
		}
	}
}

func TestDeleteRemovesKeyAndKeepsValid(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		if err := bt.Insert(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	// Delete every third key, forcing borrows and merges.
	for i := 0; i < n; i += 3 {
		if err := bt.Delete(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
	}

	if err := bt.Validate(tx); err != nil {
		t.Fatalf("Validate after deletes: %v", err)
	}

	for i := 0; i < n; i++ {
		_, found, err := bt.Find(tx, doc.NewInt64(int64(i)))
		if err != nil {
			t.Fatalf("Find %d: %v", i, err)
		}
		wantFound := i%3 != 0
		if found != wantFound {
			t.Fatalf("Find %d: found=%v want=%v", i, found, wantFound)
		}
	}
}

func TestDeleteAllCollapsesRoot(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if err := bt.Insert(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		if err := bt.Delete(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
	}

	if err := bt.Validate(tx); err != nil {
		t.Fatalf("Validate after full delete: %v", err)
	}

	all, err := bt.All(tx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty tree, got %d entries", len(all))
	}
}

func TestDeleteMissingKeyIsNotFound(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = bt.Delete(tx, doc.NewInt64(1), 1)
	if kind, ok := tderr.Of(err); !ok || kind != tderr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestFindRangeBounds(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := bt.Insert(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	low := doc.NewInt64(10)
	high := doc.NewInt64(20)
	entries, err := bt.FindRange(tx, &low, true, &high, false, false)
	if err != nil {
		t.Fatalf("FindRange: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries in [10,20), got %d", len(entries))
	}
	for i, e := range entries {
		want := int64(10 + i)
		got := e.Key.Int64()
		if got != want {
			t.Fatalf("entry %d: got %d want %d", i, got, want)
		}
	}
}

func TestFindRangeReverse(t *testing.T) {
	_, tx := openTestTxn(t)
	bt, err := Create(tx, MinMaxKeys, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 15; i++ {
		if err := bt.Insert(tx, doc.NewInt64(int64(i)), RecordID(i)); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	entries, err := bt.FindRange(tx, nil, true, nil, true, true)
	if err != nil {
		t.Fatalf("FindRange reverse: %v", err)
	}
	if len(entries) != 15 {
		t.Fatalf("expected 15 entries, got %d", len(entries))
	}
	for i, e := range entries {
		want := int64(14 - i)
		if e.Key.Int64() != want {
			t.Fatalf("entry %d: got %d want %d", i, e.Key.Int64(), want)
		}
	}
}
