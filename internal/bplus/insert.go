package bplus

import (
	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/page"
	"txndb/internal/value"
)

// Insert adds (key, ptr) to the index, splitting and propagating up the
// tree as needed. Duplicate keys are permitted — non-unique secondary
// indexes rely on this, and are kept adjacent in sorted order — but
// inserting the exact same (key, ptr) pair twice is a no-op, matching
// spec's idempotence requirement.
//
// Grounded on the teacher's Insertion/insertIntoLeaf/insertIntoParent,
// generalized from a single []byte key to a composite value.Key and
// driven by findLeafPage's latch-crabbing descent instead of the
// teacher's tree-wide write lock.
func (t *Tree) Insert(key value.Key, ptr dbtypes.RowPointer) error {
	leaf, ancestors, err := t.findLeafPage(key, OpInsert)
	if err != nil {
		return err
	}

	n := leaf.node
	want := EncodeRowPointer(ptr)
	idx := leafInsertIndex(n, key)
	for i := idx; i < len(n.keys) && value.CompareKeys(n.keys[i], key) == 0; i++ {
		if string(n.values[i]) == string(want) {
			leaf.release(t.bufferPool)
			for _, a := range ancestors {
				a.release(t.bufferPool)
			}
			return nil
		}
	}
	n.keys = insertKeyAt(n.keys, idx, key)
	n.values = insertValueAt(n.values, idx, want)

	if len(n.keys) <= MaxKeys {
		err := t.writeNode(leaf.pg, n)
		leaf.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return err
	}

	sepKey, rightID, err := t.splitLeaf(leaf.pg, n)
	leaf.release(t.bufferPool)
	if err != nil {
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return err
	}
	return t.propagateSplit(ancestors, leaf.pg.ID, sepKey, rightID)
}

func leafInsertIndex(n *Node, key value.Key) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if value.CompareKeys(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertKeyAt(keys []value.Key, idx int, k value.Key) []value.Key {
	keys = append(keys, value.Key{})
	copy(keys[idx+1:], keys[idx:])
	keys[idx] = k
	return keys
}

func insertValueAt(values [][]byte, idx int, v []byte) [][]byte {
	values = append(values, nil)
	copy(values[idx+1:], values[idx:])
	values[idx] = v
	return values
}

func insertChildAt(children []int64, idx int, c int64) []int64 {
	children = append(children, 0)
	copy(children[idx+1:], children[idx:])
	children[idx] = c
	return children
}

// splitLeaf moves the upper half of n's entries into a freshly allocated
// leaf, relinks the leaf-chain pointers, and returns the separator key
// (the first key of the new right leaf, per the teacher's leaf split,
// which copies rather than promotes the middle key) and the new page's
// ID. Caller must still hold n's write latch; the new page is written
// and unpinned here.
func (t *Tree) splitLeaf(pg *page.Page, n *Node) (value.Key, int64, error) {
	mid := len(n.keys) / 2

	rightPage, right, err := t.newNode(NodeLeaf)
	if err != nil {
		return value.Key{}, 0, err
	}
	right.keys = append([]value.Key{}, n.keys[mid:]...)
	right.values = append([][]byte{}, n.values[mid:]...)
	right.next = n.next
	right.prev = n.pageID
	right.parent = n.parent

	succID := n.next
	n.keys = n.keys[:mid]
	n.values = n.values[:mid]
	n.next = rightPage.ID

	if err := t.writeNode(rightPage, right); err != nil {
		t.bufferPool.UnpinPage(rightPage.ID, false)
		return value.Key{}, 0, err
	}
	if err := t.bufferPool.UnpinPage(rightPage.ID, true); err != nil {
		return value.Key{}, 0, err
	}
	if err := t.linkSuccessorPrev(succID, rightPage.ID); err != nil {
		return value.Key{}, 0, err
	}
	if err := t.writeNode(pg, n); err != nil {
		return value.Key{}, 0, err
	}
	return right.keys[0], right.pageID, nil
}

// splitInternal moves the upper half of n's keys/children into a fresh
// internal node. The middle key is promoted (not copied) to the parent,
// per standard B+-tree internal-node splitting.
func (t *Tree) splitInternal(pg *page.Page, n *Node) (value.Key, int64, error) {
	mid := len(n.keys) / 2
	upKey := n.keys[mid]

	rightPage, right, err := t.newNode(NodeInternal)
	if err != nil {
		return value.Key{}, 0, err
	}
	right.keys = append([]value.Key{}, n.keys[mid+1:]...)
	right.children = append([]int64{}, n.children[mid+1:]...)
	right.parent = n.parent

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	if err := t.maintainChildren(right.children, right.pageID); err != nil {
		t.bufferPool.UnpinPage(rightPage.ID, false)
		return value.Key{}, 0, err
	}
	if err := t.writeNode(rightPage, right); err != nil {
		t.bufferPool.UnpinPage(rightPage.ID, false)
		return value.Key{}, 0, err
	}
	if err := t.bufferPool.UnpinPage(rightPage.ID, true); err != nil {
		return value.Key{}, 0, err
	}
	if err := t.writeNode(pg, n); err != nil {
		return value.Key{}, 0, err
	}
	return upKey, right.pageID, nil
}

func indexOfChild(n *Node, childID int64) int {
	for i, c := range n.children {
		if c == childID {
			return i
		}
	}
	return -1
}

// propagateSplit walks ancestors from the immediate parent upward,
// inserting the new separator at each level and splitting again if that
// overflows it. Every latch it touches is released before it returns.
// Grounded on insertIntoParent, but iterative over the already-held
// crabbing stack instead of re-fetching each ancestor by ID.
func (t *Tree) propagateSplit(ancestors []*heldLatch, leftID int64, sepKey value.Key, rightID int64) error {
	for i := len(ancestors) - 1; i >= 0; i-- {
		h := ancestors[i]
		parent := h.node

		idx := indexOfChild(parent, leftID)
		if idx < 0 {
			for j := i; j >= 0; j-- {
				ancestors[j].release(t.bufferPool)
			}
			return errors.New("bplus: split propagation lost its child pointer")
		}
		parent.keys = insertKeyAt(parent.keys, idx, sepKey)
		parent.children = insertChildAt(parent.children, idx+1, rightID)

		if len(parent.keys) <= MaxKeys {
			err := t.writeNode(h.pg, parent)
			for j := i; j >= 0; j-- {
				ancestors[j].release(t.bufferPool)
			}
			return err
		}

		newSepKey, newRightID, err := t.splitInternal(h.pg, parent)
		h.release(t.bufferPool)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				ancestors[j].release(t.bufferPool)
			}
			return err
		}
		leftID, sepKey, rightID = h.pg.ID, newSepKey, newRightID
	}

	return t.createNewRoot(leftID, sepKey, rightID)
}

// createNewRoot is reached when a split propagates past the current
// root: a fresh internal node with two children becomes the new root.
func (t *Tree) createNewRoot(leftID int64, sepKey value.Key, rightID int64) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	rootPage, root, err := t.newNode(NodeInternal)
	if err != nil {
		return err
	}
	root.keys = []value.Key{sepKey}
	root.children = []int64{leftID, rightID}
	root.parent = dbtypes.InvalidPageID

	if err := t.maintainChildren(root.children, rootPage.ID); err != nil {
		t.bufferPool.UnpinPage(rootPage.ID, false)
		return err
	}
	if err := t.writeNode(rootPage, root); err != nil {
		t.bufferPool.UnpinPage(rootPage.ID, false)
		return err
	}
	if err := t.bufferPool.UnpinPage(rootPage.ID, true); err != nil {
		return err
	}
	t.root = rootPage.ID
	return t.diskManager.WriteRootID(t.fileID, t.root)
}
