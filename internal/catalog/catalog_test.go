package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deltadb/txcore/internal/bptree"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db1")
	cat, err := Create(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	return cat
}

func intRow(id, v int32) []byte {
	row := make([]byte, 8)
	copy(row[0:4], bptree.EncodeInt32(id))
	copy(row[4:8], bptree.EncodeInt32(v))
	return row
}

func testCols() []ColMeta {
	return []ColMeta{
		{Name: "id", Type: TypeInt, Len: 4, Indexed: true},
		{Name: "v", Type: TypeInt, Len: 4},
	}
}

func TestCatalog_CreateTableThenInsertLookup(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(1, 10))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()

	gotRid, ok, err := cat.Lookup("t", "id", bptree.EncodeInt32(1))
	if err != nil || !ok {
		t.Fatalf("Lookup: %v, ok=%v", err, ok)
	}
	if gotRid != rid {
		t.Fatalf("Lookup rid = %v, want %v", gotRid, rid)
	}

	s2 := cat.NewSession()
	row, err := cat.GetRow(s2, "t", rid)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if !bytes.Equal(row, intRow(1, 10)) {
		t.Fatalf("GetRow = %x, want %x", row, intRow(1, 10))
	}
	s2.Commit()
}

func TestCatalog_RangeScan(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	s := cat.NewSession()
	for i := int32(0); i < 5; i++ {
		if _, err := cat.InsertRow(s, "t", intRow(i, i*10)); err != nil {
			t.Fatalf("InsertRow(%d): %v", i, err)
		}
	}
	s.Commit()

	rids, err := cat.RangeScan("t", "id", bptree.EncodeInt32(1), bptree.EncodeInt32(4))
	if err != nil {
		t.Fatalf("RangeScan: %v", err)
	}
	if len(rids) != 3 {
		t.Fatalf("RangeScan [1,4) returned %d rids, want 3", len(rids))
	}
}

func TestCatalog_AbortRollsBackInsert(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(1, 10))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if _, ok, err := cat.Lookup("t", "id", bptree.EncodeInt32(1)); err != nil || ok {
		t.Fatalf("expected no index entry after abort, found=%v err=%v", ok, err)
	}
	s2 := cat.NewSession()
	if _, err := cat.GetRow(s2, "t", rid); err == nil {
		t.Fatal("expected the inserted record to be gone after abort")
	}
}

func TestCatalog_AbortRollsBackUpdate(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(1, 10))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()

	s2 := cat.NewSession()
	if err := cat.UpdateRow(s2, "t", rid, intRow(1, 99)); err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if err := s2.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	s3 := cat.NewSession()
	row, err := cat.GetRow(s3, "t", rid)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if !bytes.Equal(row, intRow(1, 10)) {
		t.Fatalf("row after aborted update = %x, want original %x", row, intRow(1, 10))
	}
	s3.Commit()
}

func TestCatalog_AbortRollsBackDelete(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(1, 10))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()

	s2 := cat.NewSession()
	if err := cat.DeleteRow(s2, "t", rid); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if err := s2.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	_, ok, err := cat.Lookup("t", "id", bptree.EncodeInt32(1))
	if err != nil || !ok {
		t.Fatalf("expected index entry to be restored after abort, found=%v err=%v", ok, err)
	}
}

func TestCatalog_CreateTableRejectsDuplicateName(t *testing.T) {
	cat := openTestCatalog(t)
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := cat.CreateTable("t", testCols()); err == nil {
		t.Fatal("expected an error creating a table with a name already in use")
	}
}

func TestCatalog_InMemoryBackendStoresAndRetrievesRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "memdb")
	cat, err := Create(Config{Dir: dir, InMemory: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer cat.Close()

	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(1, 10))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()

	s2 := cat.NewSession()
	row, err := cat.GetRow(s2, "t", rid)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if !bytes.Equal(row, intRow(1, 10)) {
		t.Fatalf("GetRow = %x, want %x", row, intRow(1, 10))
	}
	s2.Commit()
}

func TestCatalog_InMemoryAndDirectIORejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "baddb")
	if _, err := Create(Config{Dir: dir, InMemory: true, DirectIO: true}); err == nil {
		t.Fatal("expected Create to reject InMemory combined with DirectIO")
	}
}

func TestCatalog_FlushIntervalBackgroundPersistsData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flushdb")
	cat, err := Create(Config{Dir: dir, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer cat.Close()

	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	s := cat.NewSession()
	if _, err := cat.InsertRow(s, "t", intRow(1, 10)); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()

	// The row must reach the table's file through the background schedule
	// alone, before Close flushes anything.
	want := intRow(1, 10)
	deadline := time.Now().Add(3 * time.Second)
	for {
		raw, err := os.ReadFile(filepath.Join(dir, "t"))
		if err == nil && bytes.Contains(raw, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background flush did not write the inserted row to the table file within the deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCatalog_ReopenPersistsSchemaAndData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db1")
	cat, err := Create(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := cat.CreateTable("t", testCols()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	s := cat.NewSession()
	rid, err := cat.InsertRow(s, "t", intRow(7, 70))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	s.Commit()
	if err := cat.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	s2 := reopened.NewSession()
	row, err := reopened.GetRow(s2, "t", rid)
	if err != nil {
		t.Fatalf("GetRow after reopen: %v", err)
	}
	if !bytes.Equal(row, intRow(7, 70)) {
		t.Fatalf("row after reopen = %x, want %x", row, intRow(7, 70))
	}
	s2.Commit()
}
