package storage

// Freelist is a singly-linked list of freed pages rooted in the header
// page (spec.md §3.4, §4.2). Freed pages are pushed to the head;
// allocation pops from the head, so recently-freed pages are reused
// first (LIFO), keeping hot pages close together on disk.
//
// The link is stored in the freed page's own Next field — a freed page
// still has a valid page header and CRC, it is simply of PageTypeFree
// and its Next points at the previous freelist head (or 0 if it is the
// tail).
type Freelist struct {
	sf *File
}

func newFreelist(sf *File) *Freelist {
	return &Freelist{sf: sf}
}

// loadFromHeader is a no-op placeholder: the freelist's only persisted
// state is the head pointer already loaded into sf.header.FreelistHead;
// the chain itself is read lazily by walking Next pointers on pop.
func (fl *Freelist) loadFromHeader() {}

func (fl *Freelist) push(id uint32) error {
	p := NewPage(fl.sf.pageSize, id, PageTypeFree)
	p.SetNext(fl.sf.header.FreelistHead)
	if err := fl.sf.writePageLocked(p); err != nil {
		return err
	}
	fl.sf.header.FreelistHead = id
	return fl.sf.writeHeaderLocked()
}

func (fl *Freelist) pop() (uint32, bool) {
	head := fl.sf.header.FreelistHead
	if head == 0 {
		return 0, false
	}
	p, err := fl.sf.readPageLocked(head)
	if err != nil {
		return 0, false
	}
	fl.sf.header.FreelistHead = p.Next()
	if err := fl.sf.writeHeaderLocked(); err != nil {
		return 0, false
	}
	return head, true
}

// Count walks the freelist chain to report how many pages are currently
// free. O(free pages); used only by diagnostics and tests, not the hot
// allocate/free path.
func (fl *Freelist) Count() int {
	n := 0
	id := fl.sf.header.FreelistHead
	for id != 0 {
		p, err := fl.sf.readPageLocked(id)
		if err != nil {
			break
		}
		n++
		id = p.Next()
	}
	return n
}

// FreeCount exposes Freelist.Count through File.
func (sf *File) FreeCount() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.freelist.Count()
}
