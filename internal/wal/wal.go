// Package wal is the write-ahead log TransactionManager.Commit and Abort
// append to and sync, after releasing the transaction's locks, to
// durably mark a transaction boundary (spec.md §4.G: "flushes the log"). It is write-only from this repo's
// perspective: spec.md's Non-goals explicitly exclude crash recovery
// beyond in-memory undo, so — unlike the teacher's fuller top-level
// wal_manager, which also replays segments to rebuild state on startup —
// this package keeps only AppendRecord/Sync/GetFlushedLSN and drops
// ReplayFromLSN and the startup recovery scan entirely. See DESIGN.md
// for why the fuller package was chosen as the grounding source over the
// abandoned storage_engine/wal_manager stub.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

const recordHeaderSize = 16 // LSN(8) + LEN(4) + CRC(4)

// Manager owns the active segment and the monotonic LSN counter.
type Manager struct {
	dir string

	mu         sync.Mutex
	currLSN    uint64
	current    *segment
	nextSegID  uint64
	flushedLSN atomic.Uint64
}

// Open creates (or opens, appending to) a fresh WAL directory. No replay
// runs — records from a prior run are left on disk unread, consistent
// with this module's write-only scope.
func Open(dir string) (*Manager, error) {
	m := &Manager{dir: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "wal: create directory")
	}
	seg := newSegment(0, dir)
	if err := seg.open(); err != nil {
		return nil, err
	}
	m.current = seg
	m.nextSegID = 1
	return m, nil
}

// AppendRecord appends data as a new record and returns its LSN. The
// record is durable only once Sync is subsequently called.
func (m *Manager) AppendRecord(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currLSN++
	lsn := m.currLSN

	buf := make([]byte, recordHeaderSize+len(data))
	binary.BigEndian.PutUint64(buf[0:8], lsn)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data)))
	binary.BigEndian.PutUint32(buf[12:16], checksumRecord(lsn, data))
	copy(buf[16:], data)

	if m.current.isFull() {
		seg := newSegment(m.nextSegID, m.dir)
		if err := seg.open(); err != nil {
			return 0, err
		}
		m.nextSegID++
		m.current = seg
	}
	if err := m.current.append(buf); err != nil {
		return 0, errors.Wrap(err, "wal: append record")
	}
	return lsn, nil
}

// Sync flushes the current segment to stable storage and advances the
// flushed-LSN watermark the buffer pool gates page eviction on.
func (m *Manager) Sync() error {
	m.mu.Lock()
	lsn := m.currLSN
	seg := m.current
	m.mu.Unlock()

	if err := seg.sync(); err != nil {
		return errors.Wrap(err, "wal: sync")
	}
	m.flushedLSN.Store(lsn)
	return nil
}

// GetFlushedLSN implements bufferpool.WALFlushedLSNGetter.
func (m *Manager) GetFlushedLSN() uint64 {
	return m.flushedLSN.Load()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.close()
}

func checksumRecord(lsn uint64, data []byte) uint32 {
	h := crc32.NewIEEE()
	lsnBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lsnBuf, lsn)
	h.Write(lsnBuf)
	h.Write(data)
	return h.Sum32()
}
