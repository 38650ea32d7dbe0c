package pageio

import (
	"encoding/binary"
	"fmt"
)

// Superblock — page 0 of every file.
//
//	Offset  Size  Field
//	──────  ────  ───────────────────
//	0       16    Common PageHeader (Type=Superblock, ID=0)
//	16      8     Magic          [8]byte "TXCOREDB"
//	24      4     FormatVersion  uint32 LE
//	28      4     PageSize       uint32 LE
//	32      8     PageCount      uint64 LE (total pages in file)
//	40      4     RootPageID     uint32 LE (B+tree root; unused by record files)
//	44      4     FreeListRoot   uint32 LE (free-list chain head)
//	48      4     FirstFreePage  uint32 LE (record file: first_free_page_no, §3)
//	52      4     FirstLeaf      uint32 LE (B+tree: first_leaf)
//	56      4     LastLeaf       uint32 LE (B+tree: last_leaf)
//	60      rest  Reserved, zero-filled
//
// A single Superblock layout serves both record files and B+tree index
// files; each file type only interprets the fields it needs (spec.md §6:
// "File formats begin with the respective FileHdr / IxFileHdr struct").
const (
	SuperblockMagic      = "TXCOREDB"
	CurrentFormatVersion uint32 = 1

	sbMagicOff        = PageHeaderSize        // 16
	sbFormatVerOff    = sbMagicOff + 8        // 24
	sbPageSizeOff     = sbFormatVerOff + 4    // 28
	sbPageCountOff    = sbPageSizeOff + 4     // 32
	sbRootPageOff     = sbPageCountOff + 8    // 40
	sbFreeListRootOff = sbRootPageOff + 4     // 44
	sbFirstFreeOff    = sbFreeListRootOff + 4 // 48
	sbFirstLeafOff    = sbFirstFreeOff + 4    // 52
	sbLastLeafOff     = sbFirstLeafOff + 4    // 56
)

// Superblock holds the parsed contents of page 0 of a table/index file.
type Superblock struct {
	FormatVersion uint32
	PageSize      uint32
	PageCount     uint64
	RootPageID    PageID // B+tree root; unused by record files
	FreeListRoot  PageID
	FirstFreePage PageID // record file: first_free_page_no (spec.md §3)
	FirstLeaf     PageID // B+tree: first_leaf
	LastLeaf      PageID // B+tree: last_leaf
}

// MarshalSuperblock serializes sb into a full page buffer.
func MarshalSuperblock(sb *Superblock, pageSize int) []byte {
	buf := NewPageBuf(pageSize, PageTypeSuperblock, 0)
	copy(buf[sbMagicOff:sbMagicOff+8], SuperblockMagic)
	binary.LittleEndian.PutUint32(buf[sbFormatVerOff:], sb.FormatVersion)
	binary.LittleEndian.PutUint32(buf[sbPageSizeOff:], sb.PageSize)
	binary.LittleEndian.PutUint64(buf[sbPageCountOff:], sb.PageCount)
	binary.LittleEndian.PutUint32(buf[sbRootPageOff:], uint32(sb.RootPageID))
	binary.LittleEndian.PutUint32(buf[sbFreeListRootOff:], uint32(sb.FreeListRoot))
	binary.LittleEndian.PutUint32(buf[sbFirstFreeOff:], uint32(sb.FirstFreePage))
	binary.LittleEndian.PutUint32(buf[sbFirstLeafOff:], uint32(sb.FirstLeaf))
	binary.LittleEndian.PutUint32(buf[sbLastLeafOff:], uint32(sb.LastLeaf))
	SetPageCRC(buf)
	return buf
}

// UnmarshalSuperblock decodes page 0 from buf, validating magic, version,
// and CRC.
func UnmarshalSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("pageio: superblock too small: %d bytes", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("pageio: superblock CRC: %w", err)
	}
	magic := string(buf[sbMagicOff : sbMagicOff+8])
	if magic != SuperblockMagic {
		return nil, fmt.Errorf("pageio: bad magic %q, expected %q", magic, SuperblockMagic)
	}
	sb := &Superblock{
		FormatVersion: binary.LittleEndian.Uint32(buf[sbFormatVerOff:]),
		PageSize:      binary.LittleEndian.Uint32(buf[sbPageSizeOff:]),
		PageCount:     binary.LittleEndian.Uint64(buf[sbPageCountOff:]),
		RootPageID:    PageID(binary.LittleEndian.Uint32(buf[sbRootPageOff:])),
		FreeListRoot:  PageID(binary.LittleEndian.Uint32(buf[sbFreeListRootOff:])),
		FirstFreePage: PageID(binary.LittleEndian.Uint32(buf[sbFirstFreeOff:])),
		FirstLeaf:     PageID(binary.LittleEndian.Uint32(buf[sbFirstLeafOff:])),
		LastLeaf:      PageID(binary.LittleEndian.Uint32(buf[sbLastLeafOff:])),
	}
	if sb.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("pageio: unsupported format version %d (supports %d)", sb.FormatVersion, CurrentFormatVersion)
	}
	if sb.PageSize < MinPageSize || sb.PageSize > MaxPageSize || sb.PageSize&(sb.PageSize-1) != 0 {
		return nil, fmt.Errorf("pageio: invalid page size %d", sb.PageSize)
	}
	return sb, nil
}

// NewSuperblock creates a default Superblock for a freshly created file.
func NewSuperblock(pageSize uint32) *Superblock {
	return &Superblock{
		FormatVersion: CurrentFormatVersion,
		PageSize:      pageSize,
		PageCount:     1,
		RootPageID:    InvalidPageID,
		FreeListRoot:  InvalidPageID,
		FirstFreePage: InvalidPageID,
		FirstLeaf:     InvalidPageID,
		LastLeaf:      InvalidPageID,
	}
}
