package bplus

import (
	"github.com/pkg/errors"

	"txndb/internal/page"
	"txndb/internal/value"
)

// Operation tags the caller's intent, mirroring the FIND/INSERT/DELETE
// enum find_leaf_page switches on in original_source's
// ix_index_handle.cpp — it decides both which latch mode to take at each
// level and when an ancestor is safe to release early.
type Operation int

const (
	OpFind Operation = iota
	OpInsert
	OpDelete
)

// heldLatch is one page held during a descent: pinned, latched (per op),
// and deserialized.
type heldLatch struct {
	pg    *page.Page
	node  *Node
	write bool
}

func (h *heldLatch) release(bp interface{ UnpinPage(int64, bool) error }) {
	if h.write {
		h.pg.Unlock()
	} else {
		h.pg.RUnlock()
	}
	bp.UnpinPage(h.pg.ID, false)
}

func latchFor(pg *page.Page, write bool) {
	if write {
		pg.Lock()
	} else {
		pg.RLock()
	}
}

// childIndex returns the index of the child pointer to descend into for
// key within an internal node's keys, per the standard
// keys[i-1] <= key < keys[i] partition (original_source's ix_index_handle
// binary search, upper_bound variant: the first key strictly greater
// than key).
func childIndex(n *Node, key value.Key) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if value.CompareKeys(key, n.keys[mid]) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// isSafe reports whether descending into child (for the given
// op) can never force a structural change back up to its parent:
//   - INSERT: child has room for one more key without overflowing.
//   - DELETE: child has more than the minimum, so it can never underflow
//     from losing one key.
//   - FIND: always safe — readers never modify structure.
func isSafe(n *Node, op Operation) bool {
	switch op {
	case OpInsert:
		return len(n.keys) < MaxKeys
	case OpDelete:
		return len(n.keys) > MinKeys
	default:
		return true
	}
}

// findLeafPage descends from the root to the leaf that would contain
// key, applying latch crabbing: ancestor latches are released as soon as
// the next child down is provably safe for op, and retained (in
// ancestor, root-to-parent order) otherwise so a split or merge can walk
// back up through exactly the pages it will need to modify.
//
// Grounded on find_leaf_page (original_source/src/index/ix_index_handle.cpp).
func (t *Tree) findLeafPage(key value.Key, op Operation) (leaf *heldLatch, ancestors []*heldLatch, err error) {
	write := op != OpFind

	t.rootMu.RLock()
	rootID := t.root
	t.rootMu.RUnlock()

	pg, err := t.bufferPool.FetchPage(rootID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "bplus: fetch root")
	}
	latchFor(pg, write)

	// The root may have changed between reading rootID and latching it
	// (a concurrent split grew the tree). Re-check and retry if so.
	t.rootMu.RLock()
	current := t.root
	t.rootMu.RUnlock()
	for current != pg.ID {
		if write {
			pg.Unlock()
		} else {
			pg.RUnlock()
		}
		t.bufferPool.UnpinPage(pg.ID, false)
		pg, err = t.bufferPool.FetchPage(current)
		if err != nil {
			return nil, nil, errors.Wrap(err, "bplus: fetch root (retry)")
		}
		latchFor(pg, write)
		t.rootMu.RLock()
		current = t.root
		t.rootMu.RUnlock()
	}

	n, err := t.decodeNode(pg)
	if err != nil {
		if write {
			pg.Unlock()
		} else {
			pg.RUnlock()
		}
		t.bufferPool.UnpinPage(pg.ID, false)
		return nil, nil, err
	}

	held := []*heldLatch{{pg: pg, node: n, write: write}}

	for n.nodeType == NodeInternal {
		idx := childIndex(n, key)
		childID := n.children[idx]

		childPage, err := t.bufferPool.FetchPage(childID)
		if err != nil {
			for _, h := range held {
				h.release(t.bufferPool)
			}
			return nil, nil, errors.Wrap(err, "bplus: fetch child")
		}
		latchFor(childPage, write)
		childNode, err := t.decodeNode(childPage)
		if err != nil {
			if write {
				childPage.Unlock()
			} else {
				childPage.RUnlock()
			}
			t.bufferPool.UnpinPage(childPage.ID, false)
			for _, h := range held {
				h.release(t.bufferPool)
			}
			return nil, nil, err
		}

		if isSafe(childNode, op) {
			for _, h := range held {
				h.release(t.bufferPool)
			}
			held = held[:0]
		}
		held = append(held, &heldLatch{pg: childPage, node: childNode, write: write})
		n = childNode
	}

	leaf = held[len(held)-1]
	ancestors = held[:len(held)-1]
	return leaf, ancestors, nil
}

// releaseAll unlatches and unpins every held latch, leaf included — used
// on the read path (Lookup/RangeScan) once the caller is done with the
// leaf, and on error paths.
func releaseAll(bp interface {
	UnpinPage(int64, bool) error
}, latches ...*heldLatch) {
	for _, h := range latches {
		h.release(bp)
	}
}
