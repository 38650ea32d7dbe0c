package pageio

import "encoding/binary"

// Free-list pages — a singly-linked chain of pages, each holding an
// array of reclaimed page numbers available for reuse. This backs the
// disk manager's allocate_page(fd) → page_no contract (spec.md §6): a
// deallocated B+tree node or record-file page is pushed here instead of
// leaking the page number forever.
//
//	[0:16]   Common PageHeader (Type=FreeList)
//	[16:20]  NextFreeList  (uint32 LE) — next free-list page, InvalidPageID = end
//	[20:24]  EntryCount    (uint32 LE)
//	[24:24+4*EntryCount]   PageID entries (uint32 LE each)
const (
	flNextOff  = PageHeaderSize // 16
	flCountOff = flNextOff + 4  // 20
	flDataOff  = flCountOff + 4 // 24
	flEntryLen = 4
)

// FreeListCapacity returns how many page numbers fit in one free-list page.
func FreeListCapacity(pageSize int) int {
	return (pageSize - flDataOff) / flEntryLen
}

// FreeListPage wraps a page buffer as a free-list page.
type FreeListPage struct {
	buf []byte
}

func WrapFreeListPage(buf []byte) *FreeListPage { return &FreeListPage{buf: buf} }

func InitFreeListPage(buf []byte, id PageID) *FreeListPage {
	h := &PageHeader{Type: PageTypeFreeList, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[flNextOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[flCountOff:], 0)
	return &FreeListPage{buf: buf}
}

func (fl *FreeListPage) NextFreeList() PageID {
	return PageID(binary.LittleEndian.Uint32(fl.buf[flNextOff:]))
}

func (fl *FreeListPage) SetNextFreeList(pid PageID) {
	binary.LittleEndian.PutUint32(fl.buf[flNextOff:], uint32(pid))
}

func (fl *FreeListPage) EntryCount() int {
	return int(binary.LittleEndian.Uint32(fl.buf[flCountOff:]))
}

func (fl *FreeListPage) GetEntry(i int) PageID {
	off := flDataOff + i*flEntryLen
	return PageID(binary.LittleEndian.Uint32(fl.buf[off:]))
}

// AddEntry appends a free page number; returns false if the page is full.
func (fl *FreeListPage) AddEntry(pid PageID) bool {
	n := fl.EntryCount()
	if n >= FreeListCapacity(len(fl.buf)) {
		return false
	}
	off := flDataOff + n*flEntryLen
	binary.LittleEndian.PutUint32(fl.buf[off:], uint32(pid))
	binary.LittleEndian.PutUint32(fl.buf[flCountOff:], uint32(n+1))
	return true
}

func (fl *FreeListPage) AllEntries() []PageID {
	n := fl.EntryCount()
	ids := make([]PageID, n)
	for i := 0; i < n; i++ {
		ids[i] = fl.GetEntry(i)
	}
	return ids
}

func (fl *FreeListPage) Bytes() []byte { return fl.buf }

// PageAllocator tracks free page numbers using an in-memory set backed
// by the free-list page chain on disk. The Pager consults it on every
// NewPage/DeletePage call.
type PageAllocator struct {
	free map[PageID]struct{}
	head PageID
}

func NewPageAllocator() *PageAllocator {
	return &PageAllocator{free: map[PageID]struct{}{}, head: InvalidPageID}
}

// LoadFromDisk walks the on-disk free-list chain starting at head,
// populating the in-memory set. readPage reads a page by number.
func (pa *PageAllocator) LoadFromDisk(head PageID, readPage func(PageID) ([]byte, error)) error {
	pa.head = head
	pid := head
	for pid != InvalidPageID {
		buf, err := readPage(pid)
		if err != nil {
			return err
		}
		fl := WrapFreeListPage(buf)
		for _, id := range fl.AllEntries() {
			pa.free[id] = struct{}{}
		}
		pid = fl.NextFreeList()
	}
	return nil
}

// Alloc pops an arbitrary free page number, or InvalidPageID if none.
func (pa *PageAllocator) Alloc() PageID {
	for pid := range pa.free {
		delete(pa.free, pid)
		return pid
	}
	return InvalidPageID
}

// Free marks pid as available for reuse.
func (pa *PageAllocator) Free(pid PageID) {
	pa.free[pid] = struct{}{}
}

func (pa *PageAllocator) Count() int { return len(pa.free) }

func (pa *PageAllocator) AllFree() []PageID {
	ids := make([]PageID, 0, len(pa.free))
	for pid := range pa.free {
		ids = append(ids, pid)
	}
	return ids
}

// FlushToDisk writes the in-memory free set into a chain of free-list
// pages, returning the new chain head and the page buffers to persist.
// allocPage returns a fresh zeroed page buffer with its own page number.
func (pa *PageAllocator) FlushToDisk(pageSize int, allocPage func() (PageID, []byte)) (PageID, [][]byte) {
	ids := pa.AllFree()
	if len(ids) == 0 {
		return InvalidPageID, nil
	}
	capacity := FreeListCapacity(pageSize)
	var pages [][]byte
	var head PageID = InvalidPageID
	var prev *FreeListPage

	for i := 0; i < len(ids); i += capacity {
		end := i + capacity
		if end > len(ids) {
			end = len(ids)
		}
		pid, buf := allocPage()
		fl := InitFreeListPage(buf, pid)
		for _, id := range ids[i:end] {
			fl.AddEntry(id)
		}
		SetPageCRC(buf)
		pages = append(pages, buf)
		if prev != nil {
			prev.SetNextFreeList(pid)
			SetPageCRC(prev.Bytes())
		} else {
			head = pid
		}
		prev = fl
	}
	pa.head = head
	return head, pages
}
