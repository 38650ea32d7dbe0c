package pageio

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer pool (C2's concrete realization)
// ───────────────────────────────────────────────────────────────────────────

// PageFrame is an in-memory cached page (spec.md's "page ... pin count,
// dirty flag").
type PageFrame struct {
	id     PageID
	buf    []byte
	dirty  bool
	pinned int
	prev   *PageFrame
	next   *PageFrame
}

// bufferPool is a pin-aware LRU page cache. The replacer policy here is
// intentionally simple — spec.md scopes the buffer pool's replacer
// internals out, treating the pool only through its FetchPage/NewPage/
// UnpinPage/DeletePage contract. There is no WAL (spec.md §1 non-goal),
// so a dirty frame's only copy lives in the frame itself until it is
// written back: evicting it without flushing would lose the write.
// writeBack gives the pool a way to flush a frame before dropping it.
type bufferPool struct {
	mu        sync.Mutex
	maxPages  int
	pages     map[PageID]*PageFrame
	head      *PageFrame // most recently used
	tail      *PageFrame // least recently used
	writeBack func(id PageID, buf []byte) error
}

func newBufferPool(maxPages int, writeBack func(PageID, []byte) error) *bufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &bufferPool{
		maxPages:  maxPages,
		pages:     make(map[PageID]*PageFrame, maxPages),
		writeBack: writeBack,
	}
}

func (bp *bufferPool) get(id PageID) (*PageFrame, bool) {
	f, ok := bp.pages[id]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *bufferPool) put(f *PageFrame) error {
	if _, exists := bp.pages[f.id]; exists {
		bp.moveToFront(f)
		return nil
	}
	for len(bp.pages) >= bp.maxPages {
		evicted, err := bp.evictOne()
		if err != nil {
			return err
		}
		if !evicted {
			break // every frame pinned — cannot evict, pool grows
		}
	}
	bp.pages[f.id] = f
	bp.pushFront(f)
	return nil
}

func (bp *bufferPool) remove(id PageID) {
	f, ok := bp.pages[id]
	if !ok {
		return
	}
	bp.unlink(f)
	delete(bp.pages, id)
}

// evictOne drops the least-recently-used unpinned frame, flushing it to
// disk first if it is dirty: with no WAL there is nowhere else its
// write would survive.
func (bp *bufferPool) evictOne() (bool, error) {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 {
			if f.dirty && bp.writeBack != nil {
				if err := bp.writeBack(f.id, f.buf); err != nil {
					return false, fmt.Errorf("pageio: evict page %d: %w", f.id, err)
				}
			}
			bp.unlink(f)
			delete(bp.pages, f.id)
			return true, nil
		}
	}
	return false, nil
}

func (bp *bufferPool) dirtyPages() []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.pages {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *bufferPool) pushFront(f *PageFrame) {
	f.prev, f.next = nil, bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *bufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (bp *bufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager — FetchPage / NewPage / UnpinPage / DeletePage (spec.md §6)
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	Path          string
	PageSize      int
	MaxCachePages int           // 0 = default 1024
	FlushInterval time.Duration // 0 disables the background flush schedule
	Disk          DiskManager   // nil = open Path with the default os.File backend

	// NewDisk tells OpenPager whether Disk is freshly created and needs a
	// superblock written rather than read. Only consulted when Disk is
	// non-nil: callers that already opened the backend (O_DIRECT, memfile)
	// have already touched the filesystem, so OpenPager can no longer
	// infer newness from a Path stat.
	NewDisk bool
}

// Pager is the per-file buffer pool + disk manager pair backing one
// record file or one index file. It implements spec.md §6's
// FetchPage/NewPage/UnpinPage/DeletePage contract.
type Pager struct {
	mu       sync.RWMutex
	disk     DiskManager
	pool     *bufferPool
	sb       *Superblock
	alloc    *PageAllocator
	pageSize int
	path     string
	closed   bool

	flusher *cron.Cron
}

// OpenPager opens or creates a page file.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("pageio: invalid page size %d", ps)
	}

	disk := cfg.Disk
	isNew := cfg.NewDisk
	if disk == nil {
		isNew = true
		if cfg.Path != "" {
			if _, err := statSize(cfg.Path); err == nil {
				isNew = false
			}
		}
		d, err := OpenOSFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		disk = d
	}

	p := &Pager{
		disk:     disk,
		pageSize: ps,
		path:     cfg.Path,
		alloc:    NewPageAllocator(),
	}
	p.pool = newBufferPool(cfg.MaxCachePages, p.writePageRaw)

	if isNew {
		sb := NewSuperblock(uint32(ps))
		buf := MarshalSuperblock(sb, ps)
		if err := p.disk.WriteAt(0, buf); err != nil {
			disk.Close()
			return nil, fmt.Errorf("pageio: write superblock: %w", err)
		}
		if err := p.disk.Sync(); err != nil {
			disk.Close()
			return nil, err
		}
		p.sb = sb
	} else {
		sb, err := p.readSuperblock()
		if err != nil {
			disk.Close()
			return nil, err
		}
		p.sb = sb
		p.pageSize = int(sb.PageSize)
		if sb.FreeListRoot != InvalidPageID {
			if err := p.alloc.LoadFromDisk(sb.FreeListRoot, p.readPageRaw); err != nil {
				disk.Close()
				return nil, fmt.Errorf("pageio: load free-list: %w", err)
			}
		}
	}

	if cfg.FlushInterval > 0 {
		p.startBackgroundFlush(cfg.FlushInterval)
	}

	return p, nil
}

func statSize(path string) (int64, error) {
	fi, err := osStat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// startBackgroundFlush schedules a periodic dirty-page flush. Spec.md
// delegates page durability to "the buffer pool's background flush" —
// this is that flush, scheduled with robfig/cron.
func (p *Pager) startBackgroundFlush(interval time.Duration) {
	p.flusher = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", interval)
	_, _ = p.flusher.AddFunc(spec, func() {
		_ = p.FlushDirty()
	})
	p.flusher.Start()
}

func (p *Pager) readSuperblock() (*Superblock, error) {
	buf := make([]byte, p.pageSize)
	if err := p.disk.ReadAt(0, buf); err != nil {
		return nil, fmt.Errorf("pageio: read superblock: %w", err)
	}
	return UnmarshalSuperblock(buf)
}

func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if err := p.disk.ReadAt(off, buf); err != nil {
		return nil, fmt.Errorf("pageio: read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	SetPageCRC(buf)
	off := int64(id) * int64(p.pageSize)
	if err := p.disk.WriteAt(off, buf); err != nil {
		return fmt.Errorf("pageio: write page %d: %w", id, err)
	}
	return nil
}

// FetchPage returns the page buffer for id, pinning it in the buffer
// pool. Every FetchPage must be paired with UnpinPage.
func (p *Pager) FetchPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	err = p.pool.put(f)
	p.pool.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// NewPage allocates a fresh page (reusing a free-listed page number when
// available), pins it, and returns its id and zeroed buffer. Caching the
// new frame can trigger eviction of another dirty frame, which can fail
// to write back — that failure is returned here rather than swallowed.
func (p *Pager) NewPage() (PageID, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.alloc.Alloc()
	if pid == InvalidPageID {
		pid = PageID(p.sb.PageCount)
		p.sb.PageCount++
	}
	buf := make([]byte, p.pageSize)
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	err := p.pool.put(f)
	p.pool.mu.Unlock()
	if err != nil {
		return InvalidPageID, nil, err
	}
	return pid, buf, nil
}

// UnpinPage decrements the pin count for id. dirty marks the page as
// having been modified while pinned — the dirty bit is a hint that
// makes the page eligible for background flush, not an explicit write.
func (p *Pager) UnpinPage(id PageID, dirty bool) bool {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	f, ok := p.pool.get(id)
	if !ok {
		return false
	}
	if dirty {
		f.dirty = true
	}
	if f.pinned > 0 {
		f.pinned--
	}
	return true
}

// DeletePage removes a page from the buffer pool and returns its page
// number to the free list for reuse.
func (p *Pager) DeletePage(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alloc.Free(id)
	p.pool.mu.Lock()
	p.pool.remove(id)
	p.pool.mu.Unlock()
}

// FlushDirty writes every dirty page back to disk. Called by the
// background flush schedule and by Close; never by commit/abort, which
// release locks only (spec.md §1 non-goal: no WAL, no crash recovery).
func (p *Pager) FlushDirty() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	p.pool.mu.Unlock()

	for _, f := range dirty {
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			return fmt.Errorf("pageio: flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}

	flHead, flPages := p.alloc.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := PageID(p.sb.PageCount)
		p.sb.PageCount++
		return pid, make([]byte, p.pageSize)
	})
	for i, buf := range flPages {
		if err := p.writePageRaw(flHead+PageID(i), buf); err != nil {
			return fmt.Errorf("pageio: flush free-list: %w", err)
		}
	}
	p.sb.FreeListRoot = flHead
	sbBuf := MarshalSuperblock(p.sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return fmt.Errorf("pageio: flush superblock: %w", err)
	}
	return p.disk.Sync()
}

// Superblock returns a copy of the current in-memory superblock.
func (p *Pager) Superblock() Superblock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.sb
}

// UpdateSuperblock mutates the in-memory superblock; call FlushDirty (or
// Close) to persist it.
func (p *Pager) UpdateSuperblock(fn func(sb *Superblock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sb)
}

func (p *Pager) PageSize() int { return p.pageSize }
func (p *Pager) Path() string  { return p.path }

// Close flushes all dirty pages and closes the underlying disk manager.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.flusher != nil {
		p.flusher.Stop()
	}
	if err := p.FlushDirty(); err != nil {
		_ = p.disk.Close()
		return err
	}
	return p.disk.Close()
}
