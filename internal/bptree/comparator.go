package bptree

import (
	"bytes"
	"encoding/binary"
	"math"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ColType identifies how a fixed-width key column is compared. Keys
// are fixed-width byte strings (spec.md §3): "compared by a typed
// comparator (col_type, col_len)".
type ColType uint8

const (
	ColInt32 ColType = iota
	ColInt64
	ColFloat64
	ColChar // fixed-width, space-padded text
)

// KeySpec describes one indexed column's type and width, the unit the
// comparator needs to interpret a raw key buffer.
type KeySpec struct {
	Type ColType
	Len  int // byte width of the key
}

// Comparator orders two fixed-width key buffers of the same KeySpec.
type Comparator struct {
	spec KeySpec
	coll *collate.Collator // only used for ColChar
}

// NewComparator builds a Comparator for spec. Character columns are
// ordered with golang.org/x/text/collate so that CHAR/VARCHAR keys
// follow locale-aware collation instead of a raw byte compare, while
// numeric columns compare as native integers/floats.
func NewComparator(spec KeySpec) *Comparator {
	c := &Comparator{spec: spec}
	if spec.Type == ColChar {
		c.coll = collate.New(language.Und)
	}
	return c
}

// Compare returns <0, 0, >0 as a<b, a==b, a>b, per the comparator's
// column type.
func (c *Comparator) Compare(a, b []byte) int {
	switch c.spec.Type {
	case ColInt32:
		return compareInt64(int64(DecodeInt32(a)), int64(DecodeInt32(b)))
	case ColInt64:
		return compareInt64(DecodeInt64(a), DecodeInt64(b))
	case ColFloat64:
		return compareFloat64(decodeFloat64(a), decodeFloat64(b))
	case ColChar:
		return c.coll.Compare(trimPad(a), trimPad(b))
	default:
		return bytes.Compare(a, b)
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// DecodeInt32 reverses EncodeInt32.
func DecodeInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b) ^ (1 << 31))
}

// DecodeInt64 reverses EncodeInt64.
func DecodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func decodeFloat64(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func trimPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return b[:i]
}

// EncodeInt32 produces a fixed 4-byte big-endian key with the sign bit
// flipped, so that unsigned byte-wise comparison (bytes.Compare) orders
// signed integers correctly.
func EncodeInt32(v int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v)^(1<<31))
	return buf
}

// EncodeInt64 is EncodeInt32's 8-byte counterpart.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// EncodeFloat64 produces an order-preserving 8-byte big-endian key.
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// EncodeChar pads or truncates s to width, space-padded on the right.
func EncodeChar(s string, width int) []byte {
	buf := make([]byte, width)
	for i := range buf {
		buf[i] = ' '
	}
	copy(buf, s)
	return buf
}
