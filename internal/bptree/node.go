package bptree

import (
	"encoding/binary"

	"github.com/deltadb/txcore/internal/pageio"
	"github.com/deltadb/txcore/internal/recfile"
)

// Node-page layout, immediately after the common pageio.PageHeader
// (spec.md §3: "header {is_leaf, num_keys, parent, prev_leaf,
// next_leaf, page_no} · N key-slots · N Rid-slots"):
//
//	[0:1]   IsLeaf    (uint8, 1=leaf)
//	[1:2]   reserved
//	[2:4]   NumKeys   (uint16 LE)
//	[4:8]   Parent    (uint32 LE PageID, pageio.InvalidPageID = none)
//	[8:12]  PrevLeaf  (uint32 LE PageID; leaves only)
//	[12:16] NextLeaf  (uint32 LE PageID; leaves only)
//	[16: ]  N key-slots, each keyLen bytes
//	[ : ]   N Rid-slots, each 8 bytes: PageNo(uint32 LE) SlotNo(uint32 LE)
//
// For internal nodes, Rid.PageNo is the child page number and Rid.SlotNo
// is unused (spec.md §3).
const (
	ndIsLeafOff   = pageio.PageHeaderSize
	ndNumKeysOff  = ndIsLeafOff + 2
	ndParentOff   = ndNumKeysOff + 2
	ndPrevLeafOff = ndParentOff + 4
	ndNextLeafOff = ndPrevLeafOff + 4
	ndDataOff     = ndNextLeafOff + 4
	ridSlotLen    = 8
)

// Node wraps a page buffer as a B+tree node.
type Node struct {
	buf    []byte
	keyLen int
}

// WrapNode interprets buf as a node with fixed key width keyLen.
func WrapNode(buf []byte, keyLen int) *Node {
	return &Node{buf: buf, keyLen: keyLen}
}

// InitNode initializes buf as a fresh, empty node.
func InitNode(buf []byte, id pageio.PageID, leaf bool, keyLen int) *Node {
	pt := pageio.PageTypeBTreeInternal
	if leaf {
		pt = pageio.PageTypeBTreeLeaf
	}
	h := &pageio.PageHeader{Type: pt, ID: id}
	pageio.MarshalHeader(h, buf)
	n := &Node{buf: buf, keyLen: keyLen}
	if leaf {
		buf[ndIsLeafOff] = 1
	} else {
		buf[ndIsLeafOff] = 0
	}
	n.setNumKeys(0)
	n.SetParent(pageio.InvalidPageID)
	n.SetPrevLeaf(pageio.InvalidPageID)
	n.SetNextLeaf(pageio.InvalidPageID)
	return n
}

// MaxEntries returns how many (key, Rid) pairs fit in one page of this
// size given keyLen.
func MaxEntries(pageSize, keyLen int) int {
	return (pageSize - ndDataOff) / (keyLen + ridSlotLen)
}

func (n *Node) PageID() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint32(n.buf[4:8]))
}

func (n *Node) IsLeaf() bool { return n.buf[ndIsLeafOff] == 1 }

func (n *Node) NumKeys() int {
	return int(binary.LittleEndian.Uint16(n.buf[ndNumKeysOff:]))
}

func (n *Node) setNumKeys(k int) {
	binary.LittleEndian.PutUint16(n.buf[ndNumKeysOff:], uint16(k))
}

func (n *Node) Parent() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint32(n.buf[ndParentOff:]))
}

func (n *Node) SetParent(pid pageio.PageID) {
	binary.LittleEndian.PutUint32(n.buf[ndParentOff:], uint32(pid))
}

func (n *Node) PrevLeaf() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint32(n.buf[ndPrevLeafOff:]))
}

func (n *Node) SetPrevLeaf(pid pageio.PageID) {
	binary.LittleEndian.PutUint32(n.buf[ndPrevLeafOff:], uint32(pid))
}

func (n *Node) NextLeaf() pageio.PageID {
	return pageio.PageID(binary.LittleEndian.Uint32(n.buf[ndNextLeafOff:]))
}

func (n *Node) SetNextLeaf(pid pageio.PageID) {
	binary.LittleEndian.PutUint32(n.buf[ndNextLeafOff:], uint32(pid))
}

func (n *Node) keyOff(i int) int {
	return ndDataOff + i*n.keyLen
}

func (n *Node) ridOff(i int) int {
	maxEntries := MaxEntries(len(n.buf), n.keyLen)
	return ndDataOff + maxEntries*n.keyLen + i*ridSlotLen
}

// Key returns the i-th key slot.
func (n *Node) Key(i int) []byte {
	off := n.keyOff(i)
	return n.buf[off : off+n.keyLen]
}

func (n *Node) setKey(i int, key []byte) {
	off := n.keyOff(i)
	copy(n.buf[off:off+n.keyLen], key)
}

// Rid returns the i-th Rid slot. For internal nodes, Rid.PageNo is the
// child page number.
func (n *Node) Rid(i int) recfile.Rid {
	off := n.ridOff(i)
	return recfile.Rid{
		PageNo: pageio.PageID(binary.LittleEndian.Uint32(n.buf[off:])),
		SlotNo: int(binary.LittleEndian.Uint32(n.buf[off+4:])),
	}
}

func (n *Node) setRid(i int, r recfile.Rid) {
	off := n.ridOff(i)
	binary.LittleEndian.PutUint32(n.buf[off:], uint32(r.PageNo))
	binary.LittleEndian.PutUint32(n.buf[off+4:], uint32(r.SlotNo))
}

// Child returns the i-th child page number (internal nodes only).
func (n *Node) Child(i int) pageio.PageID { return n.Rid(i).PageNo }

func (n *Node) setChild(i int, pid pageio.PageID) {
	n.setRid(i, recfile.Rid{PageNo: pid})
}

// InsertAt inserts (key, rid) at position pos, shifting entries right.
func (n *Node) InsertAt(pos int, key []byte, rid recfile.Rid) {
	nk := n.NumKeys()
	for i := nk; i > pos; i-- {
		n.setKey(i, n.Key(i-1))
		n.setRid(i, n.Rid(i-1))
	}
	n.setKey(pos, key)
	n.setRid(pos, rid)
	n.setNumKeys(nk + 1)
}

// RemoveAt deletes the entry at pos, shifting later entries left.
func (n *Node) RemoveAt(pos int) {
	nk := n.NumKeys()
	for i := pos; i < nk-1; i++ {
		n.setKey(i, n.Key(i+1))
		n.setRid(i, n.Rid(i+1))
	}
	n.setNumKeys(nk - 1)
}

// FirstKey returns key 0, the node's minimum key.
func (n *Node) FirstKey() []byte { return n.Key(0) }

func (n *Node) Bytes() []byte { return n.buf }
