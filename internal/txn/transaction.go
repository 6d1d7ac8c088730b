// Package txn implements spec.md's Transaction (§4.F) and Transaction
// Manager (§4.G): the begin/commit/abort state machine, write-ahead undo
// logging via pre-image write records, and abort-time undo replay
// through the heap and index layers.
//
// Grounded on the teacher's storage_engine/transaction_manager (the
// TxnManager shape: atomic id counter, activeTxns map, state enum)
// fused with original_source's transaction_manager.cpp commit/abort
// logic, which the teacher's version only stubs ("In a full
// implementation, this would also roll back all writes").
package txn

import (
	"txndb/internal/dbtypes"
	"txndb/internal/lockmgr"
)

// State is the transaction state machine: DEFAULT -> GROWING ->
// (COMMITTED | ABORTED), per spec.md §4.F.
type State int

const (
	StateDefault State = iota
	StateGrowing
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateGrowing:
		return "GROWING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// WriteKind tags which undo action a WriteRecord represents.
type WriteKind int

const (
	InsertTuple WriteKind = iota
	UpdateTuple
	DeleteTuple
)

// WriteRecord is one entry in a transaction's undo log: enough to
// reverse a single heap mutation and its index side effects on abort.
type WriteRecord struct {
	Kind     WriteKind
	Table    string
	Rid      dbtypes.RowPointer
	PreImage []byte // nil for InsertTuple
}

// Transaction holds everything needed to undo or finalize one
// in-flight unit of work: its lock set (for release on commit/abort),
// its write-record undo log, and its lifecycle state.
type Transaction struct {
	ID      uint64
	State   State
	StartTS int64

	LockSet      []lockmgr.LockDataId
	WriteRecords []WriteRecord
}

// RecordWrite appends an undo entry and, implicitly, moves the
// transaction into GROWING on its first write — 2PL's growing phase
// begins at the first lock-acquiring statement, which is always
// accompanied by a write record or a read-only lock; callers that only
// read call AcquireLock directly without going through here.
func (t *Transaction) RecordWrite(rec WriteRecord) {
	if t.State == StateDefault {
		t.State = StateGrowing
	}
	t.WriteRecords = append(t.WriteRecords, rec)
}

// AcquireLock appends id to the transaction's lock set so commit/abort
// knows what to release. It does not itself call into the lock manager
// — Manager's forward-path operations (InsertRow, DeleteRow, UpdateRow,
// GetRow, ScanIndexRange) acquire first, then record here on success.
func (t *Transaction) AcquireLock(id lockmgr.LockDataId) {
	if t.State == StateDefault {
		t.State = StateGrowing
	}
	t.LockSet = append(t.LockSet, id)
}
