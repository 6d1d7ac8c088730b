package txn

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"txndb/internal/bplus"
	"txndb/internal/catalog"
	"txndb/internal/dbtypes"
	"txndb/internal/heap"
	"txndb/internal/lockmgr"
	"txndb/internal/wal"
)

// Manager is the process-wide transaction table: begin/commit/abort,
// grounded on the teacher's TxnManager (atomic id counter, activeTxns
// map) fused with original_source's transaction_manager.cpp undo-replay
// logic for abort.
type Manager struct {
	nextID     atomic.Uint64
	activeTxns map[uint64]*Transaction
	mu         sync.RWMutex

	locks   *lockmgr.Manager
	log     *wal.Manager
	catalog *catalog.Manager
	heapMgr *heap.Manager
	idxMgr  *bplus.Manager
}

func NewManager(locks *lockmgr.Manager, log *wal.Manager, cat *catalog.Manager, heapMgr *heap.Manager, idxMgr *bplus.Manager) *Manager {
	m := &Manager{
		activeTxns: make(map[uint64]*Transaction),
		locks:      locks,
		log:        log,
		catalog:    cat,
		heapMgr:    heapMgr,
		idxMgr:     idxMgr,
	}
	m.nextID.Store(1)
	return m
}

// Begin allocates a new Transaction, assigns a monotonically increasing
// id, and registers it as active.
func (m *Manager) Begin() *Transaction {
	id := m.nextID.Add(1) - 1
	t := &Transaction{ID: id, State: StateDefault}

	m.mu.Lock()
	m.activeTxns[id] = t
	m.mu.Unlock()
	return t
}

func (m *Manager) GetTransaction(id uint64) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.activeTxns[id]
	return t, ok
}

// Commit drops the undo log (nothing to replay), releases every lock
// and gap lock the transaction holds, flushes the log, and marks the
// transaction COMMITTED. Per spec.md §4.G.
func (m *Manager) Commit(t *Transaction) error {
	for _, id := range t.LockSet {
		m.locks.Unlock(t.ID, id)
	}
	m.locks.ReleaseGapLocks(t.ID)
	t.LockSet = nil
	t.WriteRecords = nil

	if _, err := m.log.AppendRecord([]byte("COMMIT")); err != nil {
		return errors.Wrap(err, "txn: append commit record")
	}
	if err := m.log.Sync(); err != nil {
		return errors.Wrap(err, "txn: flush log on commit")
	}

	t.State = StateCommitted
	m.mu.Lock()
	delete(m.activeTxns, t.ID)
	m.mu.Unlock()
	return nil
}

// Abort replays t's write records in reverse order, undoing each one
// through the heap and its table's indexes, then releases locks and
// marks the transaction ABORTED. Per spec.md §4.G, with the corrected
// UPDATE_TUPLE contract: delete the NEW (post-image) key, restore the
// tuple, insert the OLD (pre-image) key — not the source's flagged
// double-delete.
func (m *Manager) Abort(t *Transaction) error {
	for i := len(t.WriteRecords) - 1; i >= 0; i-- {
		if err := m.undoOne(t.WriteRecords[i]); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"txn": t.ID, "table": t.WriteRecords[i].Table}).
				Error("txn: undo failed, continuing best-effort rollback")
		}
	}
	t.WriteRecords = nil

	for _, id := range t.LockSet {
		m.locks.Unlock(t.ID, id)
	}
	m.locks.ReleaseGapLocks(t.ID)

	if _, err := m.log.AppendRecord([]byte("ABORT")); err != nil {
		return errors.Wrap(err, "txn: append abort record")
	}
	if err := m.log.Sync(); err != nil {
		return errors.Wrap(err, "txn: flush log on abort")
	}

	t.State = StateAborted
	m.mu.Lock()
	delete(m.activeTxns, t.ID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) undoOne(rec WriteRecord) error {
	tab, err := m.catalog.Table(rec.Table)
	if err != nil {
		return err
	}
	hf, err := m.heapMgr.File(tab.HeapFileID)
	if err != nil {
		return err
	}

	switch rec.Kind {
	case InsertTuple:
		postImage, err := hf.GetForUndo(rec.Rid)
		if err != nil {
			return errors.Wrap(err, "txn: undo insert: read current row")
		}
		if err := m.deleteFromIndexes(tab, postImage, rec.Rid); err != nil {
			return err
		}
		return hf.Delete(rec.Rid)

	case DeleteTuple:
		if err := hf.InsertAt(rec.Rid, rec.PreImage); err != nil {
			return errors.Wrap(err, "txn: undo delete: reinsert pre-image")
		}
		return m.insertIntoIndexes(tab, rec.PreImage, rec.Rid)

	case UpdateTuple:
		postImage, err := hf.GetForUndo(rec.Rid)
		if err != nil {
			return errors.Wrap(err, "txn: undo update: read current row")
		}
		if err := m.deleteFromIndexes(tab, postImage, rec.Rid); err != nil {
			return err
		}
		if err := hf.Update(rec.Rid, rec.PreImage); err != nil {
			return errors.Wrap(err, "txn: undo update: restore pre-image")
		}
		return m.insertIntoIndexes(tab, rec.PreImage, rec.Rid)

	default:
		return errors.Errorf("txn: unknown write record kind %d", rec.Kind)
	}
}

func (m *Manager) deleteFromIndexes(tab catalog.TabMeta, row []byte, rid dbtypes.RowPointer) error {
	for _, idx := range tab.Indexes {
		tree, err := m.idxMgr.Tree(idx.FileID)
		if err != nil {
			return err
		}
		key, err := tab.ExtractKey(idx, row)
		if err != nil {
			return err
		}
		if err := tree.Delete(key, rid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) insertIntoIndexes(tab catalog.TabMeta, row []byte, rid dbtypes.RowPointer) error {
	for _, idx := range tab.Indexes {
		tree, err := m.idxMgr.Tree(idx.FileID)
		if err != nil {
			return err
		}
		key, err := tab.ExtractKey(idx, row)
		if err != nil {
			return err
		}
		if err := tree.Insert(key, rid); err != nil {
			return err
		}
	}
	return nil
}
