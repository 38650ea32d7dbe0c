// Package bptree implements the disk-resident B+tree index (spec
// component C5): keyed point lookup, range scan, duplicate-rejecting
// insert, and delete with split/merge/redistribute rebalancing.
//
// Concurrency: this implementation uses a single tree-level read-write
// latch (sync.RWMutex) guarding the whole tree for the duration of each
// public operation, rather than page-level latch crabbing. It is the
// simpler of the two disciplines the design allows and is correct by
// construction; it trades descent-level concurrency for a latch whose
// hold time is always bounded by one Insert/Delete/lookup call and is
// never held across a page-fetch I/O wait longer than that.
package bptree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/deltadb/txcore/internal/pageio"
	"github.com/deltadb/txcore/internal/recfile"
)

var (
	// ErrKeyNotFound is returned by operations that require an existing key.
	ErrKeyNotFound = errors.New("bptree: key not found")
)

// opKind distinguishes descent intent, per FindLeaf(key, op) in the
// design: lookups never need to know the destination is "safe", but
// naming the intent keeps call sites self-documenting.
type opKind int

const (
	opLookup opKind = iota
	opInsert
	opDelete
)

// Tree is an open B+tree index file.
type Tree struct {
	pager   *pageio.Pager
	cmp     *Comparator
	keyLen  int
	maxSize int
	minSize int

	mu sync.RWMutex // tree-level latch; see package doc
}

// Create initializes a brand-new, empty index file for the given key spec.
func Create(pager *pageio.Pager, spec KeySpec) (*Tree, error) {
	maxSize := MaxEntries(pager.PageSize(), spec.Len)
	if maxSize < 3 {
		return nil, fmt.Errorf("bptree: key width %d leaves no room for entries in a %d-byte page", spec.Len, pager.PageSize())
	}
	minSize := (maxSize + 1) / 2
	t := &Tree{
		pager:   pager,
		cmp:     NewComparator(spec),
		keyLen:  spec.Len,
		maxSize: maxSize,
		minSize: minSize,
	}
	pager.UpdateSuperblock(func(sb *pageio.Superblock) {
		sb.RootPageID = pageio.InvalidPageID
		sb.FirstLeaf = pageio.InvalidPageID
		sb.LastLeaf = pageio.InvalidPageID
	})
	return t, nil
}

// Open reopens an existing index file.
func Open(pager *pageio.Pager, spec KeySpec) (*Tree, error) {
	maxSize := MaxEntries(pager.PageSize(), spec.Len)
	minSize := (maxSize + 1) / 2
	return &Tree{
		pager:   pager,
		cmp:     NewComparator(spec),
		keyLen:  spec.Len,
		maxSize: maxSize,
		minSize: minSize,
	}, nil
}

func (t *Tree) rootPage() pageio.PageID { return t.pager.Superblock().RootPageID }

func (t *Tree) setRootPage(pid pageio.PageID) {
	t.pager.UpdateSuperblock(func(sb *pageio.Superblock) { sb.RootPageID = pid })
}

func (t *Tree) firstLeaf() pageio.PageID { return t.pager.Superblock().FirstLeaf }
func (t *Tree) lastLeaf() pageio.PageID  { return t.pager.Superblock().LastLeaf }

func (t *Tree) setFirstLeaf(pid pageio.PageID) {
	t.pager.UpdateSuperblock(func(sb *pageio.Superblock) { sb.FirstLeaf = pid })
}
func (t *Tree) setLastLeaf(pid pageio.PageID) {
	t.pager.UpdateSuperblock(func(sb *pageio.Superblock) { sb.LastLeaf = pid })
}

func (t *Tree) fetch(pid pageio.PageID) (*Node, error) {
	buf, err := t.pager.FetchPage(pid)
	if err != nil {
		return nil, err
	}
	return WrapNode(buf, t.keyLen), nil
}

func (t *Tree) unpin(pid pageio.PageID, dirty bool) { t.pager.UnpinPage(pid, dirty) }

func (t *Tree) newNode(leaf bool) (pageio.PageID, *Node, error) {
	pid, buf, err := t.pager.NewPage()
	if err != nil {
		return pageio.InvalidPageID, nil, err
	}
	return pid, InitNode(buf, pid, leaf, t.keyLen), nil
}

// internalLookup returns the index p such that child p is the subtree
// containing key: the last child whose first key is <= key (spec.md
// §4.2 InternalLookup; index 0 routes everything smaller than key(1)).
func (t *Tree) internalLookup(n *Node, key []byte) int {
	nk := n.NumKeys()
	lo, hi := 0, nk
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp.Compare(n.Key(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// leafLookup performs binary search for an exact key match.
func (t *Tree) leafLookup(n *Node, key []byte) (int, bool) {
	nk := n.NumKeys()
	lo, hi := 0, nk
	for lo < hi {
		mid := (lo + hi) / 2
		c := t.cmp.Compare(n.Key(mid), key)
		if c < 0 {
			lo = mid + 1
		} else if c > 0 {
			hi = mid
		} else {
			return mid, true
		}
	}
	return lo, false
}

// findLeaf descends from root to the leaf that would contain key,
// unpinning every intermediate node; the final leaf is returned pinned.
func (t *Tree) findLeaf(key []byte, op opKind) (pageio.PageID, *Node, error) {
	pid := t.rootPage()
	if pid == pageio.InvalidPageID {
		return pageio.InvalidPageID, nil, nil
	}
	n, err := t.fetch(pid)
	if err != nil {
		return pageio.InvalidPageID, nil, err
	}
	for !n.IsLeaf() {
		idx := t.internalLookup(n, key)
		childPid := n.Child(idx)
		t.unpin(pid, false)
		pid = childPid
		n, err = t.fetch(pid)
		if err != nil {
			return pageio.InvalidPageID, nil, err
		}
	}
	return pid, n, nil
}

// GetValue performs a point lookup.
func (t *Tree) GetValue(key []byte) (recfile.Rid, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pid, leaf, err := t.findLeaf(key, opLookup)
	if err != nil {
		return recfile.Rid{}, false, err
	}
	if leaf == nil {
		return recfile.Rid{}, false, nil
	}
	defer t.unpin(pid, false)
	idx, ok := t.leafLookup(leaf, key)
	if !ok {
		return recfile.Rid{}, false, nil
	}
	return leaf.Rid(idx), true, nil
}

// InsertEntry inserts (key, rid). Returns false iff key is a duplicate.
func (t *Tree) InsertEntry(key []byte, rid recfile.Rid) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPage() == pageio.InvalidPageID {
		pid, n, err := t.newNode(true)
		if err != nil {
			return false, err
		}
		n.InsertAt(0, key, rid)
		t.setRootPage(pid)
		t.setFirstLeaf(pid)
		t.setLastLeaf(pid)
		t.unpin(pid, true)
		return true, nil
	}

	pid, leaf, err := t.findLeaf(key, opInsert)
	if err != nil {
		return false, err
	}
	if _, ok := t.leafLookup(leaf, key); ok {
		t.unpin(pid, false)
		return false, nil
	}
	pos, _ := t.leafLookup(leaf, key)
	leaf.InsertAt(pos, key, rid)
	t.maintainParent(pid, leaf)

	if leaf.NumKeys() >= t.maxSize {
		wasLast := leaf.NextLeaf() == pageio.InvalidPageID
		newPid, err := t.splitLeaf(pid, leaf)
		if err != nil {
			t.unpin(pid, true)
			return false, err
		}
		if wasLast {
			t.setLastLeaf(newPid)
		}
		newNode, err := t.fetch(newPid)
		if err != nil {
			t.unpin(pid, true)
			return false, err
		}
		firstKey := append([]byte(nil), newNode.FirstKey()...)
		t.unpin(newPid, true)
		if err := t.insertIntoParent(pid, firstKey, newPid); err != nil {
			t.unpin(pid, true)
			return false, err
		}
	}
	t.unpin(pid, true)
	return true, nil
}

// splitLeaf moves the upper half of leaf's entries into a new right
// sibling and splices it into the leaf chain.
func (t *Tree) splitLeaf(pid pageio.PageID, leaf *Node) (pageio.PageID, error) {
	newPid, newNode, err := t.newNode(true)
	if err != nil {
		return pageio.InvalidPageID, err
	}
	nk := leaf.NumKeys()
	mid := t.minSize
	for i := mid; i < nk; i++ {
		newNode.InsertAt(i-mid, leaf.Key(i), leaf.Rid(i))
	}
	for i := nk - 1; i >= mid; i-- {
		leaf.RemoveAt(i)
	}
	newNode.SetParent(leaf.Parent())
	newNode.SetPrevLeaf(pid)
	newNode.SetNextLeaf(leaf.NextLeaf())
	if leaf.NextLeaf() != pageio.InvalidPageID {
		rightPid := leaf.NextLeaf()
		right, err := t.fetch(rightPid)
		if err == nil {
			right.SetPrevLeaf(newPid)
			t.unpin(rightPid, true)
		}
	}
	leaf.SetNextLeaf(newPid)
	return newPid, nil
}

// splitInternal is Split for an internal node: moves the upper half of
// (key, child) pairs to a new node and reparents the moved children.
func (t *Tree) splitInternal(pid pageio.PageID, node *Node) (pageio.PageID, error) {
	newPid, newNode, err := t.newNode(false)
	if err != nil {
		return pageio.InvalidPageID, err
	}
	nk := node.NumKeys()
	mid := t.minSize
	for i := mid; i < nk; i++ {
		newNode.InsertAt(i-mid, node.Key(i), node.Rid(i))
	}
	for i := nk - 1; i >= mid; i-- {
		node.RemoveAt(i)
	}
	newNode.SetParent(node.Parent())
	for i := 0; i < newNode.NumKeys(); i++ {
		childPid := newNode.Child(i)
		child, err := t.fetch(childPid)
		if err != nil {
			return newPid, err
		}
		child.SetParent(newPid)
		t.unpin(childPid, true)
	}
	return newPid, nil
}

// insertIntoParent wires a freshly split node into its parent, creating
// a new root if old had none.
func (t *Tree) insertIntoParent(oldPid pageio.PageID, sepKey []byte, newPid pageio.PageID) error {
	old, err := t.fetch(oldPid)
	if err != nil {
		return err
	}
	parentPid := old.Parent()
	if parentPid == pageio.InvalidPageID {
		rootPid, root, err := t.newNode(false)
		if err != nil {
			return err
		}
		firstKey := append([]byte(nil), old.FirstKey()...)
		root.InsertAt(0, firstKey, recfile.Rid{PageNo: oldPid})
		root.InsertAt(1, sepKey, recfile.Rid{PageNo: newPid})
		old.SetParent(rootPid)
		newNode, err := t.fetch(newPid)
		if err != nil {
			t.unpin(oldPid, true)
			t.unpin(rootPid, true)
			return err
		}
		newNode.SetParent(rootPid)
		t.unpin(newPid, true)
		t.setRootPage(rootPid)
		t.unpin(rootPid, true)
		t.unpin(oldPid, true)
		return nil
	}
	t.unpin(oldPid, false)

	parent, err := t.fetch(parentPid)
	if err != nil {
		return err
	}
	pos := t.findChildPos(parent, oldPid) + 1
	parent.InsertAt(pos, sepKey, recfile.Rid{PageNo: newPid})
	newNode, err := t.fetch(newPid)
	if err != nil {
		t.unpin(parentPid, true)
		return err
	}
	newNode.SetParent(parentPid)
	t.unpin(newPid, true)

	if parent.NumKeys() >= t.maxSize {
		newParentPid, err := t.splitInternal(parentPid, parent)
		if err != nil {
			t.unpin(parentPid, true)
			return err
		}
		np, err := t.fetch(newParentPid)
		if err != nil {
			t.unpin(parentPid, true)
			return err
		}
		firstKey := append([]byte(nil), np.FirstKey()...)
		t.unpin(newParentPid, true)
		t.unpin(parentPid, true)
		return t.insertIntoParent(parentPid, firstKey, newParentPid)
	}
	t.unpin(parentPid, true)
	return nil
}

func (t *Tree) findChildPos(node *Node, childPid pageio.PageID) int {
	for i := 0; i < node.NumKeys(); i++ {
		if node.Child(i) == childPid {
			return i
		}
	}
	return -1
}

// maintainParent walks upward from node, rewriting each ancestor's
// separator key to node's current first key until it finds one that
// already matches (spec.md §4.2).
func (t *Tree) maintainParent(pid pageio.PageID, node *Node) {
	childPid := pid
	firstKey := append([]byte(nil), node.FirstKey()...)
	for {
		parentPid := node.Parent()
		if parentPid == pageio.InvalidPageID {
			return
		}
		parent, err := t.fetch(parentPid)
		if err != nil {
			return
		}
		pos := t.findChildPos(parent, childPid)
		if pos < 0 {
			t.unpin(parentPid, false)
			return
		}
		if t.cmp.Compare(parent.Key(pos), firstKey) == 0 {
			t.unpin(parentPid, false)
			return
		}
		copy(parent.Key(pos), firstKey)
		dirty := true
		nextFirstKey := append([]byte(nil), parent.FirstKey()...)
		nextChildPid := parentPid
		t.unpin(parentPid, dirty)
		if pos != 0 {
			// Only position 0 changing propagates node's first-key upward
			// further; an interior separator update stops here.
			return
		}
		childPid = nextChildPid
		firstKey = nextFirstKey
		node, err = t.fetch(childPid)
		if err != nil {
			return
		}
		t.unpin(childPid, false)
	}
}

// DeleteEntry removes key. Returns false iff the key is missing.
func (t *Tree) DeleteEntry(key []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPage() == pageio.InvalidPageID {
		return false, nil
	}
	pid, leaf, err := t.findLeaf(key, opDelete)
	if err != nil {
		return false, err
	}
	idx, ok := t.leafLookup(leaf, key)
	if !ok {
		t.unpin(pid, false)
		return false, nil
	}
	leaf.RemoveAt(idx)
	t.maintainParent(pid, leaf)

	if leaf.NumKeys() < t.minSize && pid != t.rootPage() {
		if err := t.coalesceOrRedistribute(pid, leaf); err != nil {
			t.unpin(pid, true)
			return false, err
		}
		return true, nil
	}
	if pid == t.rootPage() {
		if err := t.adjustRoot(pid, leaf); err != nil {
			t.unpin(pid, true)
			return false, err
		}
		return true, nil
	}
	t.unpin(pid, true)
	return true, nil
}

// adjustRoot implements spec.md §4.2 AdjustRoot.
func (t *Tree) adjustRoot(pid pageio.PageID, node *Node) error {
	if !node.IsLeaf() && node.NumKeys() == 1 {
		childPid := node.Child(0)
		child, err := t.fetch(childPid)
		if err != nil {
			t.unpin(pid, true)
			return err
		}
		child.SetParent(pageio.InvalidPageID)
		t.unpin(childPid, true)
		t.setRootPage(childPid)
		t.unpin(pid, true)
		t.pager.DeletePage(pid)
		return nil
	}
	if node.IsLeaf() && node.NumKeys() == 0 {
		t.unpin(pid, true)
		t.setRootPage(pageio.InvalidPageID)
		t.setFirstLeaf(pageio.InvalidPageID)
		t.setLastLeaf(pageio.InvalidPageID)
		t.pager.DeletePage(pid)
		return nil
	}
	t.unpin(pid, true)
	return nil
}

// coalesceOrRedistribute implements spec.md §4.2.
func (t *Tree) coalesceOrRedistribute(pid pageio.PageID, node *Node) error {
	parentPid := node.Parent()
	parent, err := t.fetch(parentPid)
	if err != nil {
		return err
	}
	pos := t.findChildPos(parent, pid)

	var siblingPid pageio.PageID
	var siblingIndexInParent int // index of sibling relative to node for Redistribute's "index" arg
	if pos > 0 {
		siblingPid = parent.Child(pos - 1)
		siblingIndexInParent = pos // index>0 ⇒ neighbor is left sibling
	} else {
		siblingPid = parent.Child(pos + 1)
		siblingIndexInParent = 0 // index==0 ⇒ neighbor is right sibling
	}
	sibling, err := t.fetch(siblingPid)
	if err != nil {
		t.unpin(parentPid, false)
		return err
	}

	if sibling.NumKeys() > t.minSize {
		t.redistribute(siblingPid, sibling, pid, node, parentPid, parent, siblingIndexInParent)
		t.unpin(parentPid, true)
		return nil
	}

	// Coalesce: ensure sibling (now "neighbor") is the left one.
	var leftPid, rightPid pageio.PageID
	var left, right *Node
	if siblingIndexInParent > 0 {
		leftPid, left = siblingPid, sibling
		rightPid, right = pid, node
	} else {
		leftPid, left = pid, node
		rightPid, right = siblingPid, sibling
	}
	t.coalesce(leftPid, left, rightPid, right, parentPid, parent)
	return nil
}

// redistribute moves one entry between neighbor and node per spec.md
// §4.2's Redistribute.
func (t *Tree) redistribute(neighborPid pageio.PageID, neighbor *Node, nodePid pageio.PageID, node *Node, parentPid pageio.PageID, parent *Node, index int) {
	if index == 0 {
		// neighbor is the right sibling: move its first entry to node's tail.
		key := append([]byte(nil), neighbor.Key(0)...)
		rid := neighbor.Rid(0)
		neighbor.RemoveAt(0)
		node.InsertAt(node.NumKeys(), key, rid)
		if !node.IsLeaf() {
			t.reparentChild(rid.PageNo, nodePid)
		}
		t.maintainParent(neighborPid, neighbor)
	} else {
		// neighbor is the left sibling: move its last entry to node's head.
		last := neighbor.NumKeys() - 1
		key := append([]byte(nil), neighbor.Key(last)...)
		rid := neighbor.Rid(last)
		neighbor.RemoveAt(last)
		node.InsertAt(0, key, rid)
		if !node.IsLeaf() {
			t.reparentChild(rid.PageNo, nodePid)
		}
		t.maintainParent(nodePid, node)
	}
	t.unpin(neighborPid, true)
	t.unpin(nodePid, true)
}

func (t *Tree) reparentChild(childPid, newParentPid pageio.PageID) {
	child, err := t.fetch(childPid)
	if err != nil {
		return
	}
	child.SetParent(newParentPid)
	t.unpin(childPid, true)
}

// coalesce merges right into left, frees right's page, and removes the
// separator from parent (spec.md §4.2's Coalesce).
func (t *Tree) coalesce(leftPid pageio.PageID, left *Node, rightPid pageio.PageID, right *Node, parentPid pageio.PageID, parent *Node) {
	base := left.NumKeys()
	for i := 0; i < right.NumKeys(); i++ {
		left.InsertAt(base+i, right.Key(i), right.Rid(i))
		if !left.IsLeaf() {
			t.reparentChild(right.Rid(i).PageNo, leftPid)
		}
	}
	if left.IsLeaf() {
		left.SetNextLeaf(right.NextLeaf())
		if right.NextLeaf() != pageio.InvalidPageID {
			nxt, err := t.fetch(right.NextLeaf())
			if err == nil {
				nxt.SetPrevLeaf(leftPid)
				t.unpin(right.NextLeaf(), true)
			}
		} else {
			t.setLastLeaf(leftPid)
		}
	}
	sepPos := t.findChildPos(parent, rightPid)
	if sepPos >= 0 {
		parent.RemoveAt(sepPos)
	}
	t.unpin(leftPid, true)
	t.unpin(rightPid, true)
	t.pager.DeletePage(rightPid)

	if parentPid == t.rootPage() {
		if err := t.adjustRoot(parentPid, parent); err != nil {
			t.unpin(parentPid, true)
		}
		return
	}
	if parent.NumKeys() < t.minSize {
		if err := t.coalesceOrRedistribute(parentPid, parent); err != nil {
			t.unpin(parentPid, true)
		}
		return
	}
	t.unpin(parentPid, true)
}

// Iid is an index cursor position — spec.md's (page_no, slot_no) into
// a B+tree leaf.
type Iid struct {
	PageNo pageio.PageID
	SlotNo int
}

// LowerBound returns the position of the first key >= key.
func (t *Tree) LowerBound(key []byte) (Iid, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootPage() == pageio.InvalidPageID {
		return t.leafEndLocked(), nil
	}
	pid, leaf, err := t.findLeaf(key, opLookup)
	if err != nil {
		return Iid{}, err
	}
	defer t.unpin(pid, false)
	pos, _ := t.leafLookup(leaf, key)
	if pos >= leaf.NumKeys() {
		if leaf.NextLeaf() == pageio.InvalidPageID {
			return t.leafEndLocked(), nil
		}
		return Iid{PageNo: leaf.NextLeaf(), SlotNo: 0}, nil
	}
	return Iid{PageNo: pid, SlotNo: pos}, nil
}

// UpperBound returns the position of the first key > key, or leaf_end.
func (t *Tree) UpperBound(key []byte) (Iid, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootPage() == pageio.InvalidPageID {
		return t.leafEndLocked(), nil
	}
	pid, leaf, err := t.findLeaf(key, opLookup)
	if err != nil {
		return Iid{}, err
	}
	defer t.unpin(pid, false)
	pos, found := t.leafLookup(leaf, key)
	if found {
		pos++
	}
	if pos >= leaf.NumKeys() {
		if leaf.NextLeaf() == pageio.InvalidPageID {
			return t.leafEndLocked(), nil
		}
		return Iid{PageNo: leaf.NextLeaf(), SlotNo: 0}, nil
	}
	return Iid{PageNo: pid, SlotNo: pos}, nil
}

// LeafBegin returns {first_leaf, 0}.
func (t *Tree) LeafBegin() Iid {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Iid{PageNo: t.firstLeaf(), SlotNo: 0}
}

// LeafEnd returns the sentinel {last_leaf, last_leaf.size}.
func (t *Tree) LeafEnd() (Iid, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leafEndLocked(), nil
}

func (t *Tree) leafEndLocked() Iid {
	last := t.lastLeaf()
	if last == pageio.InvalidPageID {
		return Iid{PageNo: pageio.InvalidPageID, SlotNo: 0}
	}
	n, err := t.fetch(last)
	if err != nil {
		return Iid{PageNo: last, SlotNo: 0}
	}
	size := n.NumKeys()
	t.unpin(last, false)
	return Iid{PageNo: last, SlotNo: size}
}

// Iterator walks (key, Rid) pairs starting at an Iid, jumping via
// next_leaf on slot overflow (spec.md §4.2's IxScan).
type Iterator struct {
	t    *Tree
	cur  Iid
	end  Iid
	done bool
}

// NewIterator returns an Iterator over [start, end).
func (t *Tree) NewIterator(start, end Iid) *Iterator {
	return &Iterator{t: t, cur: start, end: end}
}

// Next returns the next (key, Rid) pair, or ok=false at end.
func (it *Iterator) Next() (key []byte, rid recfile.Rid, ok bool, err error) {
	if it.done || it.cur.PageNo == pageio.InvalidPageID {
		return nil, recfile.Rid{}, false, nil
	}
	if it.cur.PageNo == it.end.PageNo && it.cur.SlotNo >= it.end.SlotNo {
		it.done = true
		return nil, recfile.Rid{}, false, nil
	}
	it.t.mu.RLock()
	n, err := it.t.fetch(it.cur.PageNo)
	if err != nil {
		it.t.mu.RUnlock()
		return nil, recfile.Rid{}, false, err
	}
	if it.cur.SlotNo >= n.NumKeys() {
		next := n.NextLeaf()
		it.t.unpin(it.cur.PageNo, false)
		it.t.mu.RUnlock()
		if next == pageio.InvalidPageID {
			it.done = true
			return nil, recfile.Rid{}, false, nil
		}
		it.cur = Iid{PageNo: next, SlotNo: 0}
		return it.Next()
	}
	key = append([]byte(nil), n.Key(it.cur.SlotNo)...)
	rid = n.Rid(it.cur.SlotNo)
	it.t.unpin(it.cur.PageNo, false)
	it.t.mu.RUnlock()
	it.cur.SlotNo++
	return key, rid, true, nil
}
