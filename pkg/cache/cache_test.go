package cache

import (
	"testing"

	"tinydb/pkg/storage"
)

func TestPutGetUnpin(t *testing.T) {
	c := New(4, func(p *storage.Page) error { return nil })
	p := storage.NewPage(4096, 1, storage.PageTypeHeap)
	c.Put(p)

	got, ok := c.Get(1)
	if !ok || got.ID() != 1 {
		t.Fatalf("expected cached page 1, got ok=%v", ok)
	}
	c.Unpin(1)
	c.Unpin(1)

	if _, ok := c.Get(2); ok {
		t.Fatalf("expected miss for page 2")
	}
}

func TestMarkDirtyAndClearDirty(t *testing.T) {
	c := New(4, func(p *storage.Page) error { return nil })
	p := storage.NewPage(4096, 1, storage.PageTypeHeap)
	c.Put(p)
	c.Unpin(1)

	if c.IsDirty(1) {
		t.Fatalf("fresh page should not be dirty")
	}
	c.MarkDirty(1)
	if !c.IsDirty(1) {
		t.Fatalf("expected page to be dirty")
	}
	c.ClearDirty(1)
	if c.IsDirty(1) {
		t.Fatalf("expected page to be clean after ClearDirty")
	}
}

func TestEvictionRespectsCapacityAndPins(t *testing.T) {
	flushed := make(map[uint32]bool)
	c := New(2, func(p *storage.Page) error {
		flushed[p.ID()] = true
		return nil
	})

	for i := uint32(1); i <= 3; i++ {
		p := storage.NewPage(4096, i, storage.PageTypeHeap)
		c.Put(p)
		c.Unpin(i)
	}

	if c.Len() > 2 {
		t.Fatalf("expected cache to stay within capacity, got %d entries", c.Len())
	}
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected page 1 to have been evicted as least recently used")
	}
}

func TestPinnedPageIsNotEvicted(t *testing.T) {
	c := New(1, func(p *storage.Page) error { return nil })

	p1 := storage.NewPage(4096, 1, storage.PageTypeHeap)
	c.Put(p1) // pinned, never unpinned

	p2 := storage.NewPage(4096, 2, storage.PageTypeHeap)
	c.Put(p2)
	c.Unpin(2)

	if _, ok := c.Get(1); !ok {
		t.Fatalf("pinned page 1 should not have been evicted")
	}
	c.Unpin(1)
}

func TestDirtyPageFlushedBeforeEviction(t *testing.T) {
	flushed := make(map[uint32]bool)
	c := New(1, func(p *storage.Page) error {
		flushed[p.ID()] = true
		return nil
	})

	p1 := storage.NewPage(4096, 1, storage.PageTypeHeap)
	c.Put(p1)
	c.MarkDirty(1)
	c.Unpin(1)

	p2 := storage.NewPage(4096, 2, storage.PageTypeHeap)
	c.Put(p2)
	c.Unpin(2)

	if !flushed[1] {
		t.Fatalf("expected dirty victim page to be flushed before eviction")
	}
}

func TestDirtyPageIDs(t *testing.T) {
	c := New(4, func(p *storage.Page) error { return nil })
	for i := uint32(1); i <= 2; i++ {
		c.Put(storage.NewPage(4096, i, storage.PageTypeHeap))
		c.Unpin(i)
	}
	c.MarkDirty(2)

	ids := c.DirtyPageIDs()
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("expected [2], got %v", ids)
	}
}
