package pageio

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPageHeader_MarshalRoundTrip(t *testing.T) {
	h := PageHeader{Type: PageTypeBTreeLeaf, Flags: 0x7, ID: PageID(99), CRC: 0xDEADBEEF}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(&h, buf)
	h2 := UnmarshalHeader(buf)
	if h2.Type != h.Type || h2.Flags != h.Flags || h2.ID != h.ID || h2.CRC != h.CRC {
		t.Fatalf("header roundtrip mismatch: %+v vs %+v", h, h2)
	}
}

func TestCRC_DetectsCorruption(t *testing.T) {
	buf := NewPageBuf(DefaultPageSize, PageTypeRecord, 1)
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("valid CRC failed: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC error after corruption")
	}
}

func openTestPager(t *testing.T) *Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dat")
	p, err := OpenPager(PagerConfig{Path: path, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPager_NewFetchUnpinRoundTrip(t *testing.T) {
	p := openTestPager(t)

	id, buf, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(buf[PageHeaderSize:], []byte("hello pager"))
	if !p.UnpinPage(id, true) {
		t.Fatal("unpin of freshly pinned page should succeed")
	}

	got, err := p.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+11]) != "hello pager" {
		t.Fatalf("page contents did not survive fetch: %q", got[PageHeaderSize:PageHeaderSize+11])
	}
	p.UnpinPage(id, false)
}

func TestPager_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dat")
	p, err := OpenPager(PagerConfig{Path: path, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	id, buf, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(buf[PageHeaderSize:], []byte("durable"))
	p.UnpinPage(id, true)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenPager(PagerConfig{Path: path, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	got, err := p2.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage after reopen: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+7]) != "durable" {
		t.Fatalf("page did not survive reopen: %q", got[PageHeaderSize:PageHeaderSize+7])
	}
}

func TestPager_DeletePageReleasesSlot(t *testing.T) {
	p := openTestPager(t)
	id, _, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p.UnpinPage(id, true)
	p.DeletePage(id)
	if _, err := p.FetchPage(id); err == nil {
		t.Fatal("expected error fetching a deleted page")
	}
}

func TestPager_SmallCacheForcesEviction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dat")
	p, err := OpenPager(PagerConfig{Path: path, PageSize: DefaultPageSize, MaxCachePages: 2})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	defer p.Close()

	var ids []PageID
	for i := 0; i < 5; i++ {
		id, buf, err := p.NewPage()
		if err != nil {
			t.Fatalf("NewPage(%d): %v", i, err)
		}
		copy(buf[PageHeaderSize:], []byte{byte(i)})
		p.UnpinPage(id, true)
		ids = append(ids, id)
	}
	for i, id := range ids {
		got, err := p.FetchPage(id)
		if err != nil {
			t.Fatalf("FetchPage(%d): %v", id, err)
		}
		if got[PageHeaderSize] != byte(i) {
			t.Fatalf("page %d lost its contents across eviction", id)
		}
		p.UnpinPage(id, false)
	}
}

// TestPager_MemFileBackend exercises the in-memory DiskManager: no Path
// is ever touched, so this pager is only ever backed by memfile.File.
func TestPager_MemFileBackend(t *testing.T) {
	p, err := OpenPager(PagerConfig{Disk: OpenMemFile(), NewDisk: true, PageSize: DefaultPageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	defer p.Close()

	id, buf, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(buf[PageHeaderSize:], []byte("in memory"))
	p.UnpinPage(id, true)

	got, err := p.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if string(got[PageHeaderSize:PageHeaderSize+9]) != "in memory" {
		t.Fatalf("page contents did not survive fetch on the memfile backend: %q", got[PageHeaderSize:PageHeaderSize+9])
	}
}

// TestPager_BackgroundFlushWritesDirtyPages exercises the cron-scheduled
// flush path: a dirty page must reach disk on its own, without an
// explicit FlushDirty or Close.
func TestPager_BackgroundFlushWritesDirtyPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dat")
	p, err := OpenPager(PagerConfig{Path: path, PageSize: DefaultPageSize, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	defer p.Close()

	id, buf, err := p.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(buf[PageHeaderSize:], []byte("flushed"))
	p.UnpinPage(id, true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		raw, err := p.readPageRaw(id)
		if err == nil && string(raw[PageHeaderSize:PageHeaderSize+7]) == "flushed" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background flush did not write the dirty page to disk within the deadline")
}
