package lockmgr

import (
	"sync"

	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
)

// ErrLockConflict is returned by every acquisition call on failure. Per
// spec.md §4.E's no-wait policy, callers never retry within the core —
// the caller (the executor boundary) translates this into
// TransactionAbort{LOCK_ON_SHRINKING} and routes to abort(txn).
var ErrLockConflict = errors.New("lockmgr: lock conflict, no-wait policy")

type tableModeSet struct {
	counts [X + 1]int // number of txns currently holding each mode
	holds  map[uint64]TableLockMode
}

func newTableModeSet() *tableModeSet {
	return &tableModeSet{holds: make(map[uint64]TableLockMode)}
}

// strongest returns the highest-strength mode currently held by anyone,
// or NonLock if the table is unlocked.
func (s *tableModeSet) strongest() TableLockMode {
	for m := X; m >= NonLock; m-- {
		if s.counts[m] > 0 {
			return m
		}
	}
	return NonLock
}

type rowLock struct {
	mode    RowLockMode
	holders map[uint64]bool // txn ids; len>1 only possible for shared
}

// Manager is the process-wide lock table: one per running database,
// grounded on lock_table_/lock_mode_table_/tab_mode_table_
// (original_source/src/transaction/concurrency/lock_manager.h).
type Manager struct {
	mu sync.Mutex

	tables map[uint32]*tableModeSet
	rows   map[rowKey]*rowLock
	gaps   map[GapKey][]Range
}

type rowKey struct {
	fileID uint32
	pageNo uint32
	slotNo uint16
}

func New() *Manager {
	return &Manager{
		tables: make(map[uint32]*tableModeSet),
		rows:   make(map[rowKey]*rowLock),
		gaps:   make(map[GapKey][]Range),
	}
}

func (m *Manager) table(fileID uint32) *tableModeSet {
	t, ok := m.tables[fileID]
	if !ok {
		t = newTableModeSet()
		m.tables[fileID] = t
	}
	return t
}

// acquireIntent grants IS or IX unconditionally — intent locks never
// block per spec.md §4.E.
func (m *Manager) acquireIntent(txnID uint64, fileID uint32, mode TableLockMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(fileID)
	if cur, ok := t.holds[txnID]; ok {
		if cur >= mode {
			return nil
		}
		t.counts[cur]--
	}
	t.counts[mode]++
	t.holds[txnID] = mode
	return nil
}

func (m *Manager) LockISOnTable(txnID uint64, fileID uint32) error {
	return m.acquireIntent(txnID, fileID, IS)
}

func (m *Manager) LockIXOnTable(txnID uint64, fileID uint32) error {
	return m.acquireIntent(txnID, fileID, IX)
}

// LockSharedOnTable acquires S: succeeds iff the table's current
// strongest mode (excluding this txn's own prior hold) is compatible
// with S — i.e. NON_LOCK, IS, or S itself.
func (m *Manager) LockSharedOnTable(txnID uint64, fileID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(fileID)
	if cur, ok := t.holds[txnID]; ok && cur >= S {
		return nil
	}
	other := t.strongestExcluding(txnID)
	if other == IX || other == SIX || other == X {
		return ErrLockConflict
	}
	if prev, ok := t.holds[txnID]; ok {
		t.counts[prev]--
	}
	t.counts[S]++
	t.holds[txnID] = S
	return nil
}

// LockExclusiveOnTable acquires X: succeeds iff no other txn holds any
// mode on the table.
func (m *Manager) LockExclusiveOnTable(txnID uint64, fileID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(fileID)
	if cur, ok := t.holds[txnID]; ok && cur == X {
		return nil
	}
	if t.strongestExcluding(txnID) != NonLock {
		return ErrLockConflict
	}
	if prev, ok := t.holds[txnID]; ok {
		t.counts[prev]--
	}
	t.counts[X]++
	t.holds[txnID] = X
	return nil
}

func (s *tableModeSet) strongestExcluding(txnID uint64) TableLockMode {
	counts := s.counts
	if cur, ok := s.holds[txnID]; ok {
		counts[cur]--
	}
	for m := X; m >= NonLock; m-- {
		if counts[m] > 0 {
			return m
		}
	}
	return NonLock
}

// LockSharedOnRecord acquires a non-blocking shared latch on rid. Two
// shared holders may coexist; a single exclusive holder excludes
// everyone else. A requester that already holds any mode on rid
// succeeds re-entrantly.
func (m *Manager) LockSharedOnRecord(txnID uint64, fileID uint32, rid dbtypes.RowPointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{fileID: fileID, pageNo: rid.PageNo, slotNo: rid.SlotNo}
	rl, ok := m.rows[key]
	if !ok {
		m.rows[key] = &rowLock{mode: RowShared, holders: map[uint64]bool{txnID: true}}
		return nil
	}
	if rl.holders[txnID] {
		return nil
	}
	if rl.mode == RowExclusive {
		return ErrLockConflict
	}
	rl.holders[txnID] = true
	return nil
}

// LockExclusiveOnRecord acquires a non-blocking exclusive latch on rid.
func (m *Manager) LockExclusiveOnRecord(txnID uint64, fileID uint32, rid dbtypes.RowPointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey{fileID: fileID, pageNo: rid.PageNo, slotNo: rid.SlotNo}
	rl, ok := m.rows[key]
	if !ok {
		m.rows[key] = &rowLock{mode: RowExclusive, holders: map[uint64]bool{txnID: true}}
		return nil
	}
	if rl.holders[txnID] && len(rl.holders) == 1 {
		rl.mode = RowExclusive
		return nil
	}
	if rl.holders[txnID] {
		return ErrLockConflict // shared with other concurrent holders, cannot upgrade without waiting
	}
	return ErrLockConflict
}

// Unlock releases txnID's hold on lockDataId, demoting the table mode
// summary (or row lock) to whatever remains strongest.
func (m *Manager) Unlock(txnID uint64, id LockDataId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch id.Kind {
	case KindTable:
		t, ok := m.tables[id.FileID]
		if !ok {
			return
		}
		if mode, held := t.holds[txnID]; held {
			t.counts[mode]--
			delete(t.holds, txnID)
		}
	case KindRecord:
		key := rowKey{fileID: id.FileID, pageNo: id.Rid.PageNo, slotNo: id.Rid.SlotNo}
		rl, ok := m.rows[key]
		if !ok {
			return
		}
		delete(rl.holders, txnID)
		if len(rl.holders) == 0 {
			delete(m.rows, key)
		}
	}
}
