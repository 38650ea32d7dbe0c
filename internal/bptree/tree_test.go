package bptree

import (
	"path/filepath"
	"testing"

	"github.com/deltadb/txcore/internal/pageio"
	"github.com/deltadb/txcore/internal/recfile"
)

func openTestTree(t *testing.T, pageSize int) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	pager, err := pageio.OpenPager(pageio.PagerConfig{Path: path, PageSize: pageSize})
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { pager.Close() })
	tree, err := Create(pager, KeySpec{Type: ColInt32, Len: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tree
}

func TestTree_InsertGetValue(t *testing.T) {
	tree := openTestTree(t, pageio.MinPageSize)
	rid := recfile.Rid{PageNo: 1, SlotNo: 0}
	ok, err := tree.InsertEntry(EncodeInt32(42), rid)
	if err != nil || !ok {
		t.Fatalf("InsertEntry = %v, %v", ok, err)
	}
	got, found, err := tree.GetValue(EncodeInt32(42))
	if err != nil || !found || got != rid {
		t.Fatalf("GetValue = %v, %v, %v, want %v", got, found, err, rid)
	}
	if _, found, _ := tree.GetValue(EncodeInt32(7)); found {
		t.Fatal("GetValue found a key that was never inserted")
	}
}

func TestTree_RejectsDuplicateKey(t *testing.T) {
	tree := openTestTree(t, pageio.MinPageSize)
	rid1 := recfile.Rid{PageNo: 1, SlotNo: 0}
	rid2 := recfile.Rid{PageNo: 2, SlotNo: 0}
	if ok, err := tree.InsertEntry(EncodeInt32(1), rid1); err != nil || !ok {
		t.Fatalf("first insert: %v, %v", ok, err)
	}
	if ok, err := tree.InsertEntry(EncodeInt32(1), rid2); err != nil || ok {
		t.Fatalf("duplicate insert should be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestTree_SplitsAcrossManyKeys(t *testing.T) {
	tree := openTestTree(t, pageio.MinPageSize)
	const n = 500
	for i := 0; i < n; i++ {
		rid := recfile.Rid{PageNo: pageio.PageID(i + 1), SlotNo: i % 7}
		ok, err := tree.InsertEntry(EncodeInt32(int32(i)), rid)
		if err != nil || !ok {
			t.Fatalf("InsertEntry(%d): %v, %v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		rid, found, err := tree.GetValue(EncodeInt32(int32(i)))
		if err != nil || !found {
			t.Fatalf("GetValue(%d): %v, %v", i, found, err)
		}
		want := recfile.Rid{PageNo: pageio.PageID(i + 1), SlotNo: i % 7}
		if rid != want {
			t.Fatalf("GetValue(%d) = %v, want %v", i, rid, want)
		}
	}
}

func TestTree_DeleteThenMissing(t *testing.T) {
	tree := openTestTree(t, pageio.MinPageSize)
	const n = 200
	for i := 0; i < n; i++ {
		if _, err := tree.InsertEntry(EncodeInt32(int32(i)), recfile.Rid{PageNo: pageio.PageID(i + 1)}); err != nil {
			t.Fatalf("InsertEntry(%d): %v", i, err)
		}
	}
	for i := 0; i < n; i += 2 {
		ok, err := tree.DeleteEntry(EncodeInt32(int32(i)))
		if err != nil || !ok {
			t.Fatalf("DeleteEntry(%d): %v, %v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		_, found, err := tree.GetValue(EncodeInt32(int32(i)))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", i, err)
		}
		wantFound := i%2 != 0
		if found != wantFound {
			t.Fatalf("GetValue(%d) found=%v, want %v", i, found, wantFound)
		}
	}
}

func TestTree_RangeScanOrdered(t *testing.T) {
	tree := openTestTree(t, pageio.MinPageSize)
	const n = 100
	for i := 0; i < n; i++ {
		if _, err := tree.InsertEntry(EncodeInt32(int32(i)), recfile.Rid{PageNo: pageio.PageID(i + 1)}); err != nil {
			t.Fatalf("InsertEntry(%d): %v", i, err)
		}
	}
	start, err := tree.LowerBound(EncodeInt32(10))
	if err != nil {
		t.Fatalf("LowerBound: %v", err)
	}
	end, err := tree.LowerBound(EncodeInt32(20))
	if err != nil {
		t.Fatalf("LowerBound: %v", err)
	}
	it := tree.NewIterator(start, end)
	var got []int32
	for {
		key, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Iterator.Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, DecodeInt32(key))
	}
	if len(got) != 10 {
		t.Fatalf("range [10,20) yielded %d keys, want 10: %v", len(got), got)
	}
	for i, v := range got {
		if v != int32(10+i) {
			t.Fatalf("range scan out of order at %d: got %d, want %d", i, v, 10+i)
		}
	}
}
