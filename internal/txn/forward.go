package txn

import (
	"github.com/pkg/errors"

	"txndb/internal/catalog"
	"txndb/internal/dbtypes"
	"txndb/internal/lockmgr"
	"txndb/internal/value"
)

// ErrAbort wraps a lock or gap conflict surfaced on the forward path: per
// spec.md §4.E's no-wait policy, the caller must route this straight to
// Abort(t) rather than retry.
var ErrAbort = errors.New("txn: operation conflicts, transaction must abort")

// InsertRow inserts row into table under t, acquiring the table's IX
// intent lock and an exclusive row lock on the freshly allocated rid, and
// checking every index's gap-lock set for a phantom conflict on the new
// key before committing the heap/index writes. Grounded on spec.md §4.A's
// per-operation locking discipline, which the heap/index layers
// themselves (storage primitives, usable standalone in tests) never
// enforce on their own.
func (m *Manager) InsertRow(t *Transaction, table string, row []byte) (dbtypes.RowPointer, error) {
	tab, err := m.catalog.Table(table)
	if err != nil {
		return dbtypes.RowPointer{}, err
	}
	if err := m.locks.LockIXOnTable(t.ID, tab.HeapFileID); err != nil {
		return dbtypes.RowPointer{}, errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.TableLockID(tab.HeapFileID))

	for _, idx := range tab.Indexes {
		key, err := tab.ExtractKey(idx, row)
		if err != nil {
			return dbtypes.RowPointer{}, err
		}
		for i, col := range idx.Columns {
			if m.locks.CheckGapConflict(t.ID, idx.FileID, col, key.Values[i]) {
				return dbtypes.RowPointer{}, errors.Wrap(ErrAbort, "gap conflict on insert")
			}
		}
	}

	hf, err := m.heapMgr.File(tab.HeapFileID)
	if err != nil {
		return dbtypes.RowPointer{}, err
	}
	ptr, err := hf.Insert(row)
	if err != nil {
		return dbtypes.RowPointer{}, err
	}

	if err := m.locks.LockExclusiveOnRecord(t.ID, tab.HeapFileID, ptr); err != nil {
		return dbtypes.RowPointer{}, errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.RowLockID(tab.HeapFileID, ptr))

	if err := m.insertIntoIndexes(tab, row, ptr); err != nil {
		return dbtypes.RowPointer{}, err
	}
	t.RecordWrite(WriteRecord{Kind: InsertTuple, Table: table, Rid: ptr})
	return ptr, nil
}

// DeleteRow deletes the row at ptr from table under t, acquiring an
// exclusive row lock on ptr before touching it. Per spec.md §4.A.
func (m *Manager) DeleteRow(t *Transaction, table string, ptr dbtypes.RowPointer) error {
	tab, err := m.catalog.Table(table)
	if err != nil {
		return err
	}
	if err := m.locks.LockIXOnTable(t.ID, tab.HeapFileID); err != nil {
		return errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.TableLockID(tab.HeapFileID))
	if err := m.locks.LockExclusiveOnRecord(t.ID, tab.HeapFileID, ptr); err != nil {
		return errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.RowLockID(tab.HeapFileID, ptr))

	hf, err := m.heapMgr.File(tab.HeapFileID)
	if err != nil {
		return err
	}
	preImage, err := hf.GetForUndo(ptr)
	if err != nil {
		return errors.Wrap(err, "txn: read row for delete")
	}
	if err := m.deleteFromIndexes(tab, preImage, ptr); err != nil {
		return err
	}
	if err := hf.Delete(ptr); err != nil {
		return err
	}
	t.RecordWrite(WriteRecord{Kind: DeleteTuple, Table: table, Rid: ptr, PreImage: preImage})
	return nil
}

// UpdateRow overwrites the row at ptr with newRow under t, acquiring an
// exclusive row lock on ptr and checking newRow's indexed columns for gap
// conflicts before moving the index entries, per spec.md §4.A.
func (m *Manager) UpdateRow(t *Transaction, table string, ptr dbtypes.RowPointer, newRow []byte) error {
	tab, err := m.catalog.Table(table)
	if err != nil {
		return err
	}
	if err := m.locks.LockIXOnTable(t.ID, tab.HeapFileID); err != nil {
		return errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.TableLockID(tab.HeapFileID))
	if err := m.locks.LockExclusiveOnRecord(t.ID, tab.HeapFileID, ptr); err != nil {
		return errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.RowLockID(tab.HeapFileID, ptr))

	for _, idx := range tab.Indexes {
		key, err := tab.ExtractKey(idx, newRow)
		if err != nil {
			return err
		}
		for i, col := range idx.Columns {
			if m.locks.CheckGapConflict(t.ID, idx.FileID, col, key.Values[i]) {
				return errors.Wrap(ErrAbort, "gap conflict on update")
			}
		}
	}

	hf, err := m.heapMgr.File(tab.HeapFileID)
	if err != nil {
		return err
	}
	preImage, err := hf.GetForUndo(ptr)
	if err != nil {
		return errors.Wrap(err, "txn: read row for update")
	}
	if err := m.deleteFromIndexes(tab, preImage, ptr); err != nil {
		return err
	}
	if err := hf.Update(ptr, newRow); err != nil {
		return err
	}
	if err := m.insertIntoIndexes(tab, newRow, ptr); err != nil {
		return err
	}
	t.RecordWrite(WriteRecord{Kind: UpdateTuple, Table: table, Rid: ptr, PreImage: preImage})
	return nil
}

// GetRow reads the row at ptr under t, acquiring a shared row lock first.
func (m *Manager) GetRow(t *Transaction, table string, ptr dbtypes.RowPointer) ([]byte, error) {
	tab, err := m.catalog.Table(table)
	if err != nil {
		return nil, err
	}
	if err := m.locks.LockISOnTable(t.ID, tab.HeapFileID); err != nil {
		return nil, errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.TableLockID(tab.HeapFileID))
	if err := m.locks.LockSharedOnRecord(t.ID, tab.HeapFileID, ptr); err != nil {
		return nil, errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.RowLockID(tab.HeapFileID, ptr))

	hf, err := m.heapMgr.File(tab.HeapFileID)
	if err != nil {
		return nil, err
	}
	return hf.Get(ptr)
}

// ScanIndexRange walks idxName's [lk, rk] range under t, calling fn for
// every matching row pointer. It registers a predicate (gap) lock over
// the scan range on each key column first, so a concurrent insert landing
// inside it is caught by CheckGapConflict instead of slipping through as
// a phantom. Grounded on spec.md §4.E/§8 Scenario 1.
func (m *Manager) ScanIndexRange(t *Transaction, table, idxName string, lk, rk value.Key, incL, incR bool, fn func(dbtypes.RowPointer) bool) error {
	tab, idx, err := m.tableAndIndex(table, idxName)
	if err != nil {
		return err
	}
	if err := m.locks.LockISOnTable(t.ID, tab.HeapFileID); err != nil {
		return errors.Wrap(ErrAbort, err.Error())
	}
	t.AcquireLock(lockmgr.TableLockID(tab.HeapFileID))

	for i, col := range idx.Columns {
		m.locks.AcquireGapLock(t.ID, idx.FileID, col, lockmgr.Range{Lo: lk.Values[i], Hi: rk.Values[i]})
	}

	tree, err := m.idxMgr.Tree(idx.FileID)
	if err != nil {
		return err
	}
	return tree.RangeScan(lk, rk, incL, incR, func(_ value.Key, ptr dbtypes.RowPointer) bool {
		return fn(ptr)
	})
}

func (m *Manager) tableAndIndex(table, idxName string) (catalog.TabMeta, catalog.IndexMeta, error) {
	tab, err := m.catalog.Table(table)
	if err != nil {
		return catalog.TabMeta{}, catalog.IndexMeta{}, err
	}
	for _, idx := range tab.Indexes {
		if idx.Name == idxName {
			return tab, idx, nil
		}
	}
	return catalog.TabMeta{}, catalog.IndexMeta{}, errors.Errorf("txn: table %q has no index %q", table, idxName)
}
