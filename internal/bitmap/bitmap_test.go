package bitmap

import "testing"

func TestBitmap_SetClearGet(t *testing.T) {
	buf := make([]byte, ByteSize(20))
	b := Wrap(buf, 20)
	if !b.None() {
		t.Fatal("fresh bitmap should be all-clear")
	}
	b.Set(3)
	b.Set(17)
	if !b.Get(3) || !b.Get(17) {
		t.Fatal("Set bits did not read back as set")
	}
	if b.Get(4) {
		t.Fatal("unset bit read back as set")
	}
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", b.Count())
	}
	b.Clear(3)
	if b.Get(3) || b.Count() != 1 {
		t.Fatalf("Clear did not take effect: Get=%v Count=%d", b.Get(3), b.Count())
	}
}

func TestBitmap_FirstUnset(t *testing.T) {
	buf := make([]byte, ByteSize(10))
	b := Wrap(buf, 10)
	for i := 0; i < 5; i++ {
		b.Set(i)
	}
	if got := b.FirstUnset(); got != 5 {
		t.Fatalf("FirstUnset() = %d, want 5", got)
	}
	for i := 5; i < 10; i++ {
		b.Set(i)
	}
	if got := b.FirstUnset(); got != -1 {
		t.Fatalf("FirstUnset() on full bitmap = %d, want -1", got)
	}
	if !b.All() {
		t.Fatal("All() should be true once every bit is set")
	}
}

func TestBitmap_NextSet(t *testing.T) {
	buf := make([]byte, ByteSize(16))
	b := Wrap(buf, 16)
	b.Set(2)
	b.Set(9)
	b.Set(15)
	var got []int
	for i := b.NextSet(0); i >= 0; i = b.NextSet(i + 1) {
		got = append(got, i)
	}
	want := []int{2, 9, 15}
	if len(got) != len(want) {
		t.Fatalf("NextSet walk = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NextSet walk = %v, want %v", got, want)
		}
	}
}

func TestBitmap_PanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range index")
		}
	}()
	buf := make([]byte, ByteSize(8))
	b := Wrap(buf, 8)
	b.Set(8)
}
