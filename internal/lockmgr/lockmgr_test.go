package lockmgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"txndb/internal/dbtypes"
	"txndb/internal/value"
)

func TestTableIntentLocksNeverBlock(t *testing.T) {
	m := New()
	require.NoError(t, m.LockISOnTable(1, 10))
	require.NoError(t, m.LockIXOnTable(2, 10))
	require.NoError(t, m.LockIXOnTable(3, 10))
}

func TestSharedTableLockConflictsWithExclusive(t *testing.T) {
	m := New()
	require.NoError(t, m.LockExclusiveOnTable(1, 10))
	require.ErrorIs(t, m.LockSharedOnTable(2, 10), ErrLockConflict)
}

func TestSharedTableLocksCoexist(t *testing.T) {
	m := New()
	require.NoError(t, m.LockSharedOnTable(1, 10))
	require.NoError(t, m.LockSharedOnTable(2, 10))
}

func TestExclusiveTableLockRequiresEmptyTable(t *testing.T) {
	m := New()
	require.NoError(t, m.LockSharedOnTable(1, 10))
	require.ErrorIs(t, m.LockExclusiveOnTable(2, 10), ErrLockConflict)
}

func TestUnlockDemotesTableMode(t *testing.T) {
	m := New()
	require.NoError(t, m.LockExclusiveOnTable(1, 10))
	m.Unlock(1, TableLockID(10))
	require.NoError(t, m.LockSharedOnTable(2, 10))
}

func TestRowLockReentrant(t *testing.T) {
	m := New()
	rid := dbtypes.RowPointer{FileID: 1, PageNo: 3, SlotNo: 1}
	require.NoError(t, m.LockSharedOnRecord(1, 1, rid))
	require.NoError(t, m.LockSharedOnRecord(1, 1, rid))
}

func TestRowLockExclusiveConflict(t *testing.T) {
	m := New()
	rid := dbtypes.RowPointer{FileID: 1, PageNo: 3, SlotNo: 1}
	require.NoError(t, m.LockExclusiveOnRecord(1, 1, rid))
	require.ErrorIs(t, m.LockExclusiveOnRecord(2, 1, rid), ErrLockConflict)
	require.ErrorIs(t, m.LockSharedOnRecord(2, 1, rid), ErrLockConflict)
}

func TestGapLockConflictDetection(t *testing.T) {
	m := New()
	m.AcquireGapLock(1, 5, "col", EqRange(value.Int32(5)))

	require.True(t, m.CheckGapConflict(2, 5, "col", value.Int32(5)))
	require.False(t, m.CheckGapConflict(1, 5, "col", value.Int32(5))) // same txn
	require.False(t, m.CheckGapConflict(2, 5, "col", value.Int32(6)))
}

func TestReleaseGapLocksClearsTxn(t *testing.T) {
	m := New()
	m.AcquireGapLock(1, 5, "col", EqRange(value.Int32(5)))
	m.ReleaseGapLocks(1)
	require.False(t, m.CheckGapConflict(2, 5, "col", value.Int32(5)))
}
