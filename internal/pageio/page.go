// Package pageio implements the fixed-size page abstraction and the
// buffer-pool / disk-manager layer that every other component in this
// module is built on top of (spec components C1 and C2).
//
// The storage format is one file per table or index. Page 0 is always a
// superblock; every other page is typed (record, B+tree internal,
// B+tree leaf, free-list) and carries a small common header with type,
// page id, and a CRC32 integrity checksum. There is no write-ahead log
// here: durability is delegated to whatever flushes dirty pages back to
// the disk manager, matching the engine's documented non-goal of crash
// recovery — commit is "release the locks," nothing more.
package pageio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// DefaultPageSize is used when a caller does not specify one.
	DefaultPageSize = 8192

	MinPageSize = 4096
	MaxPageSize = 65536

	// PageHeaderSize is the size, in bytes, of the common page header.
	//   [0]     PageType  (1 byte)
	//   [1]     Flags     (1 byte)
	//   [2:4]   Reserved  (2 bytes)
	//   [4:8]   PageID    (4 bytes, uint32 LE)
	//   [8:12]  CRC32     (4 bytes, uint32 LE)
	//   [12:16] Reserved  (4 bytes)
	PageHeaderSize = 16
)

// PageID identifies a page within a single file. PageID 0 is always the
// superblock of that file.
type PageID uint32

// InvalidPageID is the sentinel for "no page" — spec.md's
// INVALID_PAGE_ID / IX_NO_PAGE.
const InvalidPageID PageID = 0xFFFFFFFF

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeSuperblock PageType = iota + 1
	PageTypeRecord
	PageTypeBTreeInternal
	PageTypeBTreeLeaf
	PageTypeFreeList
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeSuperblock:
		return "Superblock"
	case PageTypeRecord:
		return "Record"
	case PageTypeBTreeInternal:
		return "BTree-Internal"
	case PageTypeBTreeLeaf:
		return "BTree-Leaf"
	case PageTypeFreeList:
		return "FreeList"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageHeader is the fixed header present at the start of every page.
type PageHeader struct {
	Type  PageType
	Flags uint8
	ID    PageID
	CRC   uint32
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pageio: buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes
// of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.CRC = binary.LittleEndian.Uint32(buf[8:12])
	return h
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC
// field itself as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:8])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[12:])
	return h.Sum32()
}

// SetPageCRC computes and writes the CRC into the page header.
func SetPageCRC(page []byte) {
	binary.LittleEndian.PutUint32(page[8:12], ComputePageCRC(page))
}

// VerifyPageCRC checks the CRC32 checksum of a page.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[8:12])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(page[4:8]))
		return fmt.Errorf("pageio: CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)
	}
	return nil
}

// NewPageBuf allocates a zeroed page buffer of the given size and writes
// its header.
func NewPageBuf(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}
