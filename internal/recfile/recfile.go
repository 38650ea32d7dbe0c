// Package recfile implements the paged, slotted fixed-size record heap
// (spec components C3's consumer and C4): one disk file per table, a
// bitmap of occupied slots per page, and a singly-linked free-page list
// threaded through next_free_page_no. Locking is the caller's
// responsibility — recfile mutates bytes; the DML glue in catalog
// acquires record/table locks around these calls.
package recfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/deltadb/txcore/internal/bitmap"
	"github.com/deltadb/txcore/internal/pageio"
)

// Rid identifies a record within a file: (page_no, slot_no). Rids are
// stable — never recycled until the slot is reused by a later insert.
type Rid struct {
	PageNo pageio.PageID
	SlotNo int
}

func (r Rid) String() string { return fmt.Sprintf("(%d,%d)", r.PageNo, r.SlotNo) }

var (
	// ErrPageNotExist is returned when a page_no lies beyond the file.
	ErrPageNotExist = errors.New("recfile: page does not exist")
	// ErrRecordNotFound is returned when a slot's occupancy bit is clear.
	ErrRecordNotFound = errors.New("recfile: record not found")
)

// record-page header, immediately after the common pageio.PageHeader:
//
//	[0:4]  NextFreePageNo  (uint32 LE, pageio.InvalidPageID = end of list)
//	[4:8]  NumRecords      (uint32 LE)
//	[8: ]  Bitmap (BitmapSize bytes)
//	[ : ]  N fixed-size record slots
const (
	rpNextFreeOff   = pageio.PageHeaderSize
	rpNumRecordsOff = rpNextFreeOff + 4
	rpBitmapOff     = rpNumRecordsOff + 4
)

// FileHeader mirrors spec.md §3's record-file FileHdr: {record_size,
// num_records_per_page, first_free_page_no, num_pages, bitmap_size}.
type FileHeader struct {
	RecordSize        int
	NumRecordsPerPage int
	FirstFreePageNo   pageio.PageID
	NumPages          int
	BitmapSize        int
}

// computeLayout derives num_records_per_page and bitmap_size from page
// size and record size, the way spec.md says table-create time does.
func computeLayout(pageSize, recordSize int) (numRecords, bitmapSize int) {
	// Solve for the largest N such that:
	//   rpBitmapOff + ceil(N/8) + N*recordSize <= pageSize
	for n := (pageSize - rpBitmapOff) / recordSize; n > 0; n-- {
		bsz := bitmap.ByteSize(n)
		if rpBitmapOff+bsz+n*recordSize <= pageSize {
			return n, bsz
		}
	}
	return 0, 0
}

// File is an open record file: a Pager plus the derived page layout.
type File struct {
	pager *pageio.Pager
	hdr   FileHeader
}

// Create initializes a brand-new record file for a table with the given
// fixed record size.
func Create(pager *pageio.Pager, recordSize int) (*File, error) {
	numRecords, bsz := computeLayout(pager.PageSize(), recordSize)
	if numRecords <= 0 {
		return nil, fmt.Errorf("recfile: record size %d too large for page size %d", recordSize, pager.PageSize())
	}
	f := &File{
		pager: pager,
		hdr: FileHeader{
			RecordSize:        recordSize,
			NumRecordsPerPage: numRecords,
			FirstFreePageNo:   pageio.InvalidPageID,
			NumPages:          0,
			BitmapSize:        bsz,
		},
	}
	pager.UpdateSuperblock(func(sb *pageio.Superblock) {
		sb.FirstFreePage = pageio.InvalidPageID
	})
	return f, nil
}

// Open reconstructs a File's in-memory header from an already-open
// Pager whose superblock was previously persisted by Create/Flush.
func Open(pager *pageio.Pager, recordSize int) (*File, error) {
	numRecords, bsz := computeLayout(pager.PageSize(), recordSize)
	if numRecords <= 0 {
		return nil, fmt.Errorf("recfile: record size %d too large for page size %d", recordSize, pager.PageSize())
	}
	sb := pager.Superblock()
	return &File{
		pager: pager,
		hdr: FileHeader{
			RecordSize:        recordSize,
			NumRecordsPerPage: numRecords,
			FirstFreePageNo:   sb.FirstFreePage,
			NumPages:          int(sb.PageCount) - 1, // minus superblock
			BitmapSize:        bsz,
		},
	}, nil
}

func (f *File) Header() FileHeader { return f.hdr }

func (f *File) slotOffset(slot int) int {
	return rpBitmapOff + f.hdr.BitmapSize + slot*f.hdr.RecordSize
}

func (f *File) wrapBitmap(buf []byte) *bitmap.Bitmap {
	return bitmap.Wrap(buf[rpBitmapOff:rpBitmapOff+f.hdr.BitmapSize], f.hdr.NumRecordsPerPage)
}

func nextFreeOf(buf []byte) pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint32(buf[rpNextFreeOff:]))
}

func setNextFreeOf(buf []byte, id pageio.PageID) {
	binary.LittleEndian.PutUint32(buf[rpNextFreeOff:], uint32(id))
}

func numRecordsOf(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[rpNumRecordsOff:]))
}

func setNumRecordsOf(buf []byte, n int) {
	binary.LittleEndian.PutUint32(buf[rpNumRecordsOff:], uint32(n))
}

func initRecordPage(buf []byte, id pageio.PageID, nextFree pageio.PageID) {
	h := &pageio.PageHeader{Type: pageio.PageTypeRecord, ID: id}
	pageio.MarshalHeader(h, buf)
	setNextFreeOf(buf, nextFree)
	setNumRecordsOf(buf, 0)
}

// allocPageWithFreeSpace returns a page guaranteed to have at least one
// free slot, creating one and pushing it onto the free list if needed.
func (f *File) allocPageWithFreeSpace() (pageio.PageID, []byte, error) {
	if f.hdr.FirstFreePageNo != pageio.InvalidPageID {
		pid := f.hdr.FirstFreePageNo
		buf, err := f.pager.FetchPage(pid)
		if err != nil {
			return pageio.InvalidPageID, nil, err
		}
		return pid, buf, nil
	}
	pid, buf, err := f.pager.NewPage()
	if err != nil {
		return pageio.InvalidPageID, nil, err
	}
	initRecordPage(buf, pid, pageio.InvalidPageID)
	f.hdr.FirstFreePageNo = pid
	f.hdr.NumPages++
	f.persistSuperblock()
	return pid, buf, nil
}

func (f *File) persistSuperblock() {
	f.pager.UpdateSuperblock(func(sb *pageio.Superblock) {
		sb.FirstFreePage = f.hdr.FirstFreePageNo
	})
}

// InsertRecord writes buf into the first page with free space, setting
// the slot's occupancy bit. It does not acquire locks (spec.md §4.1):
// the caller is expected to hold table IX and take record X on the
// returned Rid immediately after allocation.
func (f *File) InsertRecord(buf []byte) (Rid, error) {
	if len(buf) != f.hdr.RecordSize {
		return Rid{}, fmt.Errorf("recfile: record size mismatch: got %d want %d", len(buf), f.hdr.RecordSize)
	}
	pid, page, err := f.allocPageWithFreeSpace()
	if err != nil {
		return Rid{}, err
	}
	bm := f.wrapBitmap(page)
	slot := bm.FirstUnset()
	if slot < 0 {
		f.pager.UnpinPage(pid, false)
		return Rid{}, fmt.Errorf("recfile: page %d on free list but has no free slot", pid)
	}
	copy(page[f.slotOffset(slot):f.slotOffset(slot)+f.hdr.RecordSize], buf)
	bm.Set(slot)
	setNumRecordsOf(page, numRecordsOf(page)+1)

	if bm.All() {
		// Page became full: unlink it from the free list.
		next := nextFreeOf(page)
		f.hdr.FirstFreePageNo = next
		f.persistSuperblock()
	}
	f.pager.UnpinPage(pid, true)
	return Rid{PageNo: pid, SlotNo: slot}, nil
}

// InsertRecordAt is the rollback-only insert from spec.md §4.1: it
// places a record at an exact Rid (restoring a previously deleted
// record during abort) without touching the free list or the bitmap
// scan — it simply re-sets the bit.
func (f *File) InsertRecordAt(rid Rid, buf []byte) error {
	if len(buf) != f.hdr.RecordSize {
		return fmt.Errorf("recfile: record size mismatch: got %d want %d", len(buf), f.hdr.RecordSize)
	}
	page, err := f.fetchExisting(rid.PageNo)
	if err != nil {
		return err
	}
	bm := f.wrapBitmap(page)
	copy(page[f.slotOffset(rid.SlotNo):f.slotOffset(rid.SlotNo)+f.hdr.RecordSize], buf)
	bm.Set(rid.SlotNo)
	setNumRecordsOf(page, numRecordsOf(page)+1)
	f.pager.UnpinPage(rid.PageNo, true)
	return nil
}

func (f *File) fetchExisting(pid pageio.PageID) ([]byte, error) {
	if int(pid) >= f.hdr.NumPages+1 { // +1 for superblock occupying page 0
		return nil, ErrPageNotExist
	}
	buf, err := f.pager.FetchPage(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageNotExist, err)
	}
	return buf, nil
}

// GetRecord returns a copy of the record at rid. Locking is the
// caller's responsibility.
func (f *File) GetRecord(rid Rid) ([]byte, error) {
	page, err := f.fetchExisting(rid.PageNo)
	if err != nil {
		return nil, err
	}
	defer f.pager.UnpinPage(rid.PageNo, false)

	bm := f.wrapBitmap(page)
	if rid.SlotNo < 0 || rid.SlotNo >= f.hdr.NumRecordsPerPage || !bm.Get(rid.SlotNo) {
		return nil, ErrRecordNotFound
	}
	off := f.slotOffset(rid.SlotNo)
	out := make([]byte, f.hdr.RecordSize)
	copy(out, page[off:off+f.hdr.RecordSize])
	return out, nil
}

// UpdateRecord overwrites the slot bytes at rid in place. Does not
// touch indexes (the catalog's DML glue handles that).
func (f *File) UpdateRecord(rid Rid, buf []byte) error {
	if len(buf) != f.hdr.RecordSize {
		return fmt.Errorf("recfile: record size mismatch: got %d want %d", len(buf), f.hdr.RecordSize)
	}
	page, err := f.fetchExisting(rid.PageNo)
	if err != nil {
		return err
	}
	bm := f.wrapBitmap(page)
	if rid.SlotNo < 0 || rid.SlotNo >= f.hdr.NumRecordsPerPage || !bm.Get(rid.SlotNo) {
		f.pager.UnpinPage(rid.PageNo, false)
		return ErrRecordNotFound
	}
	off := f.slotOffset(rid.SlotNo)
	copy(page[off:off+f.hdr.RecordSize], buf)
	f.pager.UnpinPage(rid.PageNo, true)
	return nil
}

// DeleteRecord clears the occupancy bit at rid. If the page transitions
// from full to non-full it is pushed back onto the free list.
func (f *File) DeleteRecord(rid Rid) error {
	page, err := f.fetchExisting(rid.PageNo)
	if err != nil {
		return err
	}
	bm := f.wrapBitmap(page)
	if rid.SlotNo < 0 || rid.SlotNo >= f.hdr.NumRecordsPerPage || !bm.Get(rid.SlotNo) {
		f.pager.UnpinPage(rid.PageNo, false)
		return ErrRecordNotFound
	}
	wasFull := bm.All()
	bm.Clear(rid.SlotNo)
	setNumRecordsOf(page, numRecordsOf(page)-1)
	if wasFull {
		setNextFreeOf(page, f.hdr.FirstFreePageNo)
		f.hdr.FirstFreePageNo = rid.PageNo
		f.persistSuperblock()
	}
	f.pager.UnpinPage(rid.PageNo, true)
	return nil
}

// Cursor is a single-pass, forward-only scan over all live records, in
// (page_no, slot_no) order (spec.md §4.1).
type Cursor struct {
	f       *File
	pageNo  pageio.PageID
	slot    int
	curPage []byte
	curBm   *bitmap.Bitmap
}

// NewCursor returns a fresh scan cursor starting at the first page.
func (f *File) NewCursor() *Cursor {
	return &Cursor{f: f, pageNo: 1, slot: -1}
}

// Next advances the cursor and reports whether another record was
// found. ok is false once num_pages is exhausted.
func (c *Cursor) Next() (Rid, []byte, bool, error) {
	for {
		if c.curPage == nil {
			if int(c.pageNo) >= c.f.hdr.NumPages+1 {
				return Rid{}, nil, false, nil
			}
			buf, err := c.f.pager.FetchPage(c.pageNo)
			if err != nil {
				return Rid{}, nil, false, err
			}
			c.curPage = buf
			c.curBm = c.f.wrapBitmap(buf)
			c.slot = -1
		}
		next := c.curBm.NextSet(c.slot + 1)
		if next < 0 {
			c.f.pager.UnpinPage(c.pageNo, false)
			c.curPage = nil
			c.pageNo++
			continue
		}
		c.slot = next
		off := c.f.slotOffset(next)
		out := make([]byte, c.f.hdr.RecordSize)
		copy(out, c.curPage[off:off+c.f.hdr.RecordSize])
		return Rid{PageNo: c.pageNo, SlotNo: next}, out, true, nil
	}
}

// Close releases any pinned page held by an in-progress scan.
func (c *Cursor) Close() {
	if c.curPage != nil {
		c.f.pager.UnpinPage(c.pageNo, false)
		c.curPage = nil
	}
}

// ForEach runs fn over every live record in (page_no, slot_no) order,
// stopping early if fn returns false.
func (f *File) ForEach(fn func(Rid, []byte) bool) error {
	cur := f.NewCursor()
	defer cur.Close()
	for {
		rid, rec, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(rid, rec) {
			return nil
		}
	}
}
