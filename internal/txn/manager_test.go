package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"txndb/internal/bplus"
	"txndb/internal/bufferpool"
	"txndb/internal/catalog"
	"txndb/internal/dbtypes"
	"txndb/internal/diskmgr"
	"txndb/internal/heap"
	"txndb/internal/lockmgr"
	"txndb/internal/value"
	"txndb/internal/wal"
)

type testRig struct {
	mgr     *Manager
	cat     *catalog.Manager
	heapMgr *heap.Manager
	idxMgr  *bplus.Manager
	heapF   *heap.File
	idxTree *bplus.Tree
	table   catalog.TabMeta
	idx     catalog.IndexMeta
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	dm := diskmgr.New()
	bp := bufferpool.New(64, dm)
	dir := t.TempDir()

	cat := catalog.New(dir)
	cat.SetCurrentDatabase("testdb")

	heapMgr := heap.NewManager(filepath.Join(dir, "heap"), bp, dm)
	idxMgr := bplus.NewManager(filepath.Join(dir, "idx"), bp, dm)

	tab, err := cat.RegisterTable("widgets", []catalog.ColMeta{
		{Name: "id", Kind: value.KindInt32},
	})
	require.NoError(t, err)

	idx, err := cat.RegisterIndex("widgets", "widgets_id_idx", []string{"id"}, true)
	require.NoError(t, err)
	tab.Indexes = []catalog.IndexMeta{idx}

	hf, err := heapMgr.CreateHeapFile(tab.HeapFileID, tab.RecordSize)
	require.NoError(t, err)

	tree, err := idxMgr.CreateIndex(idx.FileID, tab.ColSpecs(idx.Columns))
	require.NoError(t, err)

	locks := lockmgr.New()
	logMgr, err := wal.Open(filepath.Join(dir, "wal"))
	require.NoError(t, err)

	return &testRig{
		mgr:     NewManager(locks, logMgr, cat, heapMgr, idxMgr),
		cat:     cat,
		heapMgr: heapMgr,
		idxMgr:  idxMgr,
		heapF:   hf,
		idxTree: tree,
		table:   tab,
		idx:     idx,
	}
}

func rowOf(id int32) []byte {
	v, _ := value.EncodeFixed(value.Int32(id), 4)
	return v
}

func keyOf(id int32) value.Key {
	return value.Key{Values: []value.Value{value.Int32(id)}}
}

func TestBeginAssignsDistinctIDs(t *testing.T) {
	r := newTestRig(t)
	t1 := r.mgr.Begin()
	t2 := r.mgr.Begin()
	require.NotEqual(t, t1.ID, t2.ID)
	require.Equal(t, StateDefault, t1.State)
}

func TestCommitReleasesLocksAndKeepsWrites(t *testing.T) {
	r := newTestRig(t)
	txn := r.mgr.Begin()

	ptr, err := r.mgr.InsertRow(txn, "widgets", rowOf(1))
	require.NoError(t, err)
	require.Equal(t, StateGrowing, txn.State)
	require.NotEmpty(t, txn.LockSet)

	require.NoError(t, r.mgr.Commit(txn))
	require.Equal(t, StateCommitted, txn.State)
	require.Empty(t, txn.LockSet)

	got, err := r.heapF.Get(ptr)
	require.NoError(t, err)
	require.Equal(t, rowOf(1), got)
}

func TestAbortUndoesInsert(t *testing.T) {
	r := newTestRig(t)
	txn := r.mgr.Begin()

	ptr, err := r.mgr.InsertRow(txn, "widgets", rowOf(7))
	require.NoError(t, err)

	require.NoError(t, r.mgr.Abort(txn))
	require.Equal(t, StateAborted, txn.State)

	_, err = r.heapF.Get(ptr)
	require.Error(t, err)

	results, err := r.idxTree.Lookup(keyOf(7))
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestAbortUndoesDeleteByReinserting(t *testing.T) {
	r := newTestRig(t)

	setup := r.mgr.Begin()
	ptr, err := r.mgr.InsertRow(setup, "widgets", rowOf(3))
	require.NoError(t, err)
	require.NoError(t, r.mgr.Commit(setup))

	txn := r.mgr.Begin()
	require.NoError(t, r.mgr.DeleteRow(txn, "widgets", ptr))

	require.NoError(t, r.mgr.Abort(txn))

	got, err := r.heapF.Get(ptr)
	require.NoError(t, err)
	require.Equal(t, rowOf(3), got)

	results, err := r.idxTree.Lookup(keyOf(3))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ptr, results[0])
}

func TestAbortUndoesUpdateRestoringOldKey(t *testing.T) {
	r := newTestRig(t)

	setup := r.mgr.Begin()
	ptr, err := r.mgr.InsertRow(setup, "widgets", rowOf(10))
	require.NoError(t, err)
	require.NoError(t, r.mgr.Commit(setup))

	txn := r.mgr.Begin()
	require.NoError(t, r.mgr.UpdateRow(txn, "widgets", ptr, rowOf(20)))

	require.NoError(t, r.mgr.Abort(txn))

	got, err := r.heapF.Get(ptr)
	require.NoError(t, err)
	require.Equal(t, rowOf(10), got)

	newKeyResults, err := r.idxTree.Lookup(keyOf(20))
	require.NoError(t, err)
	require.Empty(t, newKeyResults)

	oldKeyResults, err := r.idxTree.Lookup(keyOf(10))
	require.NoError(t, err)
	require.Len(t, oldKeyResults, 1)
	require.Equal(t, ptr, oldKeyResults[0])
}

// TestConcurrentRowLockConflictAborts exercises spec's Scenario 4: a
// second transaction trying to exclusively lock a row already held
// exclusively by another must fail immediately (no-wait), not block.
func TestConcurrentRowLockConflictAborts(t *testing.T) {
	r := newTestRig(t)

	setup := r.mgr.Begin()
	ptr, err := r.mgr.InsertRow(setup, "widgets", rowOf(1))
	require.NoError(t, err)
	require.NoError(t, r.mgr.Commit(setup))

	t1 := r.mgr.Begin()
	require.NoError(t, r.mgr.UpdateRow(t1, "widgets", ptr, rowOf(2)))

	t2 := r.mgr.Begin()
	err = r.mgr.UpdateRow(t2, "widgets", ptr, rowOf(3))
	require.ErrorIs(t, err, ErrAbort)

	require.NoError(t, r.mgr.Abort(t2))
	require.NoError(t, r.mgr.Commit(t1))
}

// TestGapLockBlocksPhantomInsert exercises spec's Scenario 5: once a
// transaction has scanned a range and registered a gap lock over it, a
// concurrent insert of a key inside that range must be refused.
func TestGapLockBlocksPhantomInsert(t *testing.T) {
	r := newTestRig(t)

	setup := r.mgr.Begin()
	_, err := r.mgr.InsertRow(setup, "widgets", rowOf(1))
	require.NoError(t, err)
	_, err = r.mgr.InsertRow(setup, "widgets", rowOf(10))
	require.NoError(t, err)
	require.NoError(t, r.mgr.Commit(setup))

	scanner := r.mgr.Begin()
	var seen []int32
	err = r.mgr.ScanIndexRange(scanner, "widgets", "widgets_id_idx", keyOf(0), keyOf(10), true, true, func(ptr dbtypes.RowPointer) bool {
		seen = append(seen, 1)
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)

	inserter := r.mgr.Begin()
	_, err = r.mgr.InsertRow(inserter, "widgets", rowOf(5))
	require.ErrorIs(t, err, ErrAbort)
	require.NoError(t, r.mgr.Abort(inserter))

	require.NoError(t, r.mgr.Commit(scanner))
}
