package bplus

import (
	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/value"
)

// Iid is a leaf-level cursor position: a leaf page ID plus a slot offset
// within it. Grounded on original_source's Iid{page_no, slot_no}
// (ix_index_handle.h), used by lower_bound/upper_bound/leaf_begin/leaf_end
// and range_query to mark positions without re-descending from the root.
type Iid struct {
	PageID int64
	Slot   int
}

// Lookup returns every row pointer stored under key (supports non-unique
// secondary indexes, where several pointers share a key).
func (t *Tree) Lookup(key value.Key) ([]dbtypes.RowPointer, error) {
	leaf, ancestors, err := t.findLeafPage(key, OpFind)
	if err != nil {
		return nil, err
	}
	defer releaseAll(t.bufferPool, append(ancestors, leaf)...)

	var out []dbtypes.RowPointer
	for i, k := range leaf.node.keys {
		if value.CompareKeys(k, key) == 0 {
			out = append(out, DecodeRowPointer(leaf.node.values[i]))
		}
	}
	return out, nil
}

// LowerBound returns the cursor at the first entry with key >= key,
// grounded on original_source's IxIndexHandle::lower_bound.
func (t *Tree) LowerBound(key value.Key) (Iid, error) {
	leaf, ancestors, err := t.findLeafPage(key, OpFind)
	if err != nil {
		return Iid{}, err
	}
	defer releaseAll(t.bufferPool, append(ancestors, leaf)...)
	return Iid{PageID: leaf.pg.ID, Slot: leafInsertIndex(leaf.node, key)}, nil
}

// UpperBound returns the cursor at the first entry with key > key,
// grounded on original_source's IxIndexHandle::upper_bound.
func (t *Tree) UpperBound(key value.Key) (Iid, error) {
	leaf, ancestors, err := t.findLeafPage(key, OpFind)
	if err != nil {
		return Iid{}, err
	}
	defer releaseAll(t.bufferPool, append(ancestors, leaf)...)
	return Iid{PageID: leaf.pg.ID, Slot: childIndex(leaf.node, key)}, nil
}

// LeafBegin returns the cursor at the first entry of the leftmost leaf,
// grounded on original_source's IxIndexHandle::leaf_begin, which reads
// first_leaf_ off the file header — here, off the sentinel's next.
func (t *Tree) LeafBegin() (Iid, error) {
	first, err := t.firstLeafID()
	if err != nil {
		return Iid{}, err
	}
	return Iid{PageID: first, Slot: 0}, nil
}

// LeafEnd returns the cursor one past the last entry of the rightmost
// leaf — a sentinel position, never itself a valid entry, grounded on
// original_source's IxIndexHandle::leaf_end.
func (t *Tree) LeafEnd() (Iid, error) {
	last, err := t.lastLeafID()
	if err != nil {
		return Iid{}, err
	}
	pg, n, err := t.fetchNode(last)
	if err != nil {
		return Iid{}, err
	}
	size := len(n.keys)
	t.bufferPool.UnpinPage(pg.ID, false)
	return Iid{PageID: last, Slot: size}, nil
}

func (t *Tree) firstLeafID() (int64, error) {
	pg, n, err := t.fetchNode(t.sentinel)
	if err != nil {
		return 0, err
	}
	first := n.next
	t.bufferPool.UnpinPage(pg.ID, false)
	return first, nil
}

func (t *Tree) lastLeafID() (int64, error) {
	pg, n, err := t.fetchNode(t.sentinel)
	if err != nil {
		return 0, err
	}
	last := n.prev
	t.bufferPool.UnpinPage(pg.ID, false)
	return last, nil
}

// RangeScan walks the leaf chain between the cursors for (lk, incL) and
// (rk, incR), calling fn for every (key, ptr) pair from the lo cursor up
// to, but not including, the hi cursor, and stopping early if fn returns
// false.
//
// Bound inclusivity follows range_query (spec's §4.D):
// lo = incL ? lower_bound(lk) : upper_bound(lk);
// hi = incR ? upper_bound(rk) : lower_bound(rk).
//
// Grounded on the teacher's bplustree iterator, which also walks the
// leaf-level next pointers rather than re-descending from the root for
// each step.
func (t *Tree) RangeScan(lk, rk value.Key, incL, incR bool, fn func(value.Key, dbtypes.RowPointer) bool) error {
	var lo, hi Iid
	var err error
	if incL {
		lo, err = t.LowerBound(lk)
	} else {
		lo, err = t.UpperBound(lk)
	}
	if err != nil {
		return err
	}
	if incR {
		hi, err = t.UpperBound(rk)
	} else {
		hi, err = t.LowerBound(rk)
	}
	if err != nil {
		return err
	}

	pg, n, err := t.fetchNode(lo.PageID)
	if err != nil {
		return errors.Wrap(err, "bplus: fetch range start leaf")
	}
	slot := lo.Slot
	for {
		for slot < len(n.keys) {
			if pg.ID == hi.PageID && slot >= hi.Slot {
				t.bufferPool.UnpinPage(pg.ID, false)
				return nil
			}
			if !fn(n.keys[slot], DecodeRowPointer(n.values[slot])) {
				t.bufferPool.UnpinPage(pg.ID, false)
				return nil
			}
			slot++
		}
		if pg.ID == hi.PageID {
			t.bufferPool.UnpinPage(pg.ID, false)
			return nil
		}
		nextID := n.next
		t.bufferPool.UnpinPage(pg.ID, false)
		if nextID == t.sentinel || nextID == dbtypes.InvalidPageID {
			return nil
		}
		pg, n, err = t.fetchNode(nextID)
		if err != nil {
			return errors.Wrap(err, "bplus: fetch next leaf")
		}
		slot = 0
	}
}
