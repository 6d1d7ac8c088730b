package bplus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"txndb/internal/bufferpool"
	"txndb/internal/dbtypes"
	"txndb/internal/diskmgr"
	"txndb/internal/value"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	dm := diskmgr.New()
	bp := bufferpool.New(256, dm)
	path := filepath.Join(t.TempDir(), "idx.bpt")
	tree, err := Create(path, 1, []value.ColSpec{{Kind: value.KindInt32}}, bp, dm)
	require.NoError(t, err)
	return tree
}

func intKey(n int32) value.Key {
	return value.Key{Values: []value.Value{value.Int32(n)}}
}

func TestInsertAndLookup(t *testing.T) {
	tree := newTestTree(t)

	for i := int32(0); i < 10; i++ {
		ptr := dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(i), ptr))
	}

	got, err := tree.Lookup(intKey(5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint32(5), got[0].PageNo)
}

func TestInsertTriggersLeafSplit(t *testing.T) {
	tree := newTestTree(t)

	n := MaxKeys*2 + 5
	for i := int32(0); i < int32(n); i++ {
		ptr := dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(i), ptr))
	}
	// The root must have grown past a single leaf.
	require.NotEqual(t, int64(-1), tree.RootID())
	rootPg, root, err := tree.fetchNode(tree.RootID())
	require.NoError(t, err)
	require.Equal(t, NodeInternal, root.nodeType)
	tree.bufferPool.UnpinPage(rootPg.ID, false)

	for i := int32(0); i < int32(n); i++ {
		got, err := tree.Lookup(intKey(i))
		require.NoError(t, err)
		require.Len(t, got, 1, "key %d", i)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	tree := newTestTree(t)
	ptr := dbtypes.RowPointer{FileID: 1, PageNo: 7, SlotNo: 2}
	require.NoError(t, tree.Insert(intKey(7), ptr))

	require.NoError(t, tree.Delete(intKey(7), ptr))
	got, err := tree.Lookup(intKey(7))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteAcrossManySplitsAndMerges(t *testing.T) {
	tree := newTestTree(t)

	n := MaxKeys * 3
	ptrs := make([]dbtypes.RowPointer, n)
	for i := 0; i < n; i++ {
		ptrs[i] = dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(int32(i)), ptrs[i]))
	}

	for i := 0; i < n-1; i++ {
		require.NoError(t, tree.Delete(intKey(int32(i)), ptrs[i]))
	}

	got, err := tree.Lookup(intKey(int32(n - 1)))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRangeScan(t *testing.T) {
	tree := newTestTree(t)
	for i := int32(0); i < 50; i++ {
		ptr := dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(i), ptr))
	}

	var seen []int32
	err := tree.RangeScan(intKey(10), intKey(20), true, true, func(k value.Key, _ dbtypes.RowPointer) bool {
		seen = append(seen, k.Values[0].I32)
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 11)
	require.Equal(t, int32(10), seen[0])
	require.Equal(t, int32(20), seen[len(seen)-1])
}

func TestRangeScanExclusiveBounds(t *testing.T) {
	tree := newTestTree(t)
	for i := int32(0); i < 50; i++ {
		ptr := dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(i), ptr))
	}

	var seen []int32
	err := tree.RangeScan(intKey(10), intKey(20), false, false, func(k value.Key, _ dbtypes.RowPointer) bool {
		seen = append(seen, k.Values[0].I32)
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 9)
	require.Equal(t, int32(11), seen[0])
	require.Equal(t, int32(19), seen[len(seen)-1])
}

func TestInsertIsIdempotent(t *testing.T) {
	tree := newTestTree(t)
	ptr := dbtypes.RowPointer{FileID: 1, PageNo: 3, SlotNo: 0}

	require.NoError(t, tree.Insert(intKey(3), ptr))
	require.NoError(t, tree.Insert(intKey(3), ptr))

	got, err := tree.Lookup(intKey(3))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestInsertAllowsDuplicateKeyDistinctPointer(t *testing.T) {
	tree := newTestTree(t)
	ptr1 := dbtypes.RowPointer{FileID: 1, PageNo: 3, SlotNo: 0}
	ptr2 := dbtypes.RowPointer{FileID: 1, PageNo: 3, SlotNo: 1}

	require.NoError(t, tree.Insert(intKey(3), ptr1))
	require.NoError(t, tree.Insert(intKey(3), ptr2))

	got, err := tree.Lookup(intKey(3))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestLeafRingFormsCycleAcrossSplitsAndMerges(t *testing.T) {
	tree := newTestTree(t)
	n := MaxKeys * 3
	ptrs := make([]dbtypes.RowPointer, n)
	for i := 0; i < n; i++ {
		ptrs[i] = dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(int32(i)), ptrs[i]))
	}
	for i := 0; i < n/2; i++ {
		require.NoError(t, tree.Delete(intKey(int32(i)), ptrs[i]))
	}

	first, err := tree.firstLeafID()
	require.NoError(t, err)
	last, err := tree.lastLeafID()
	require.NoError(t, err)

	// Walking forward from the first leaf must reach the last leaf and,
	// from there, the sentinel — closing the ring.
	cur := first
	var visited int
	for cur != tree.sentinel {
		pg, node, err := tree.fetchNode(cur)
		require.NoError(t, err)
		visited++
		next := node.next
		tree.bufferPool.UnpinPage(pg.ID, false)
		if next == tree.sentinel {
			require.Equal(t, last, cur)
		}
		cur = next
		require.Less(t, visited, n+2, "leaf ring failed to close")
	}

	begin, err := tree.LeafBegin()
	require.NoError(t, err)
	require.Equal(t, first, begin.PageID)
	require.Equal(t, 0, begin.Slot)

	end, err := tree.LeafEnd()
	require.NoError(t, err)
	require.Equal(t, last, end.PageID)
}

func TestBoundCursors(t *testing.T) {
	tree := newTestTree(t)
	for i := int32(0); i < 30; i += 2 { // even keys only: 0,2,4,...,28
		ptr := dbtypes.RowPointer{FileID: 1, PageNo: uint32(i), SlotNo: 0}
		require.NoError(t, tree.Insert(intKey(i), ptr))
	}

	lo, err := tree.LowerBound(intKey(10))
	require.NoError(t, err)
	pg, node, err := tree.fetchNode(lo.PageID)
	require.NoError(t, err)
	require.Equal(t, int32(10), node.keys[lo.Slot].Values[0].I32)
	tree.bufferPool.UnpinPage(pg.ID, false)

	// 11 isn't present: lower_bound and upper_bound must agree on the
	// next key (12).
	loOdd, err := tree.LowerBound(intKey(11))
	require.NoError(t, err)
	upOdd, err := tree.UpperBound(intKey(11))
	require.NoError(t, err)
	require.Equal(t, loOdd, upOdd)

	// 10 is present: upper_bound must land one slot past lower_bound.
	up, err := tree.UpperBound(intKey(10))
	require.NoError(t, err)
	require.Equal(t, lo.PageID, up.PageID)
	require.Equal(t, lo.Slot+1, up.Slot)
}
