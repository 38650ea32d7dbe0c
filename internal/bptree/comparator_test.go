package bptree

import "testing"

func TestEncodeInt32_PreservesOrder(t *testing.T) {
	vals := []int32{-100, -1, 0, 1, 100, 1 << 20}
	for i := 0; i < len(vals)-1; i++ {
		a := EncodeInt32(vals[i])
		b := EncodeInt32(vals[i+1])
		if string(a) >= string(b) {
			t.Fatalf("EncodeInt32(%d) >= EncodeInt32(%d) byte-wise, order not preserved", vals[i], vals[i+1])
		}
	}
}

func TestEncodeInt32_RoundTrip(t *testing.T) {
	for _, v := range []int32{-1 << 30, -1, 0, 1, 1 << 30} {
		got := DecodeInt32(EncodeInt32(v))
		if got != v {
			t.Fatalf("DecodeInt32(EncodeInt32(%d)) = %d", v, got)
		}
	}
}

func TestEncodeInt64_RoundTrip(t *testing.T) {
	for _, v := range []int64{-1 << 40, -1, 0, 1, 1 << 40} {
		got := DecodeInt64(EncodeInt64(v))
		if got != v {
			t.Fatalf("DecodeInt64(EncodeInt64(%d)) = %d", v, got)
		}
	}
}

func TestComparator_Int32Ordering(t *testing.T) {
	cmp := NewComparator(KeySpec{Type: ColInt32, Len: 4})
	a := EncodeInt32(-5)
	b := EncodeInt32(5)
	if cmp.Compare(a, b) >= 0 {
		t.Fatal("expected -5 < 5")
	}
	if cmp.Compare(b, a) <= 0 {
		t.Fatal("expected 5 > -5")
	}
	if cmp.Compare(a, a) != 0 {
		t.Fatal("expected equal keys to compare equal")
	}
}

func TestComparator_CharIgnoresTrailingPadding(t *testing.T) {
	cmp := NewComparator(KeySpec{Type: ColChar, Len: 8})
	a := EncodeChar("bob", 8)
	b := EncodeChar("bob   ", 8)
	if cmp.Compare(a, b) != 0 {
		t.Fatal("expected trailing-space padding to compare equal")
	}
}

func TestComparator_Float64Ordering(t *testing.T) {
	cmp := NewComparator(KeySpec{Type: ColFloat64, Len: 8})
	a := EncodeFloat64(-1.5)
	b := EncodeFloat64(2.5)
	if cmp.Compare(a, b) >= 0 {
		t.Fatal("expected -1.5 < 2.5")
	}
}
