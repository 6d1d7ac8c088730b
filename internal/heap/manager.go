package heap

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"txndb/internal/bufferpool"
	"txndb/internal/diskmgr"
)

// Manager keeps every open heap File for a database, keyed by the
// catalog's heap file ID — grounded on the teacher's HeapFileManager,
// which plays the same role in storage_engine/access/heapfile_manager.
type Manager struct {
	baseDir string
	files   map[uint32]*File

	bp *bufferpool.Pool
	dm *diskmgr.Manager

	mu sync.RWMutex
}

func NewManager(baseDir string, bp *bufferpool.Pool, dm *diskmgr.Manager) *Manager {
	return &Manager{baseDir: baseDir, files: make(map[uint32]*File), bp: bp, dm: dm}
}

func (m *Manager) path(fileID uint32) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("heap_%d.db", fileID))
}

// CreateHeapFile allocates a new heap file on disk for a freshly
// registered table.
func (m *Manager) CreateHeapFile(fileID uint32, recordSize int) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hf, ok := m.files[fileID]; ok {
		return hf, nil
	}
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "heap manager: create base directory")
	}
	hf, err := Create(m.path(fileID), fileID, recordSize, m.dm, m.bp)
	if err != nil {
		return nil, errors.Wrapf(err, "heap manager: create file %d", fileID)
	}
	m.files[fileID] = hf
	return hf, nil
}

// OpenHeapFile reopens a previously created heap file, e.g. on database
// load.
func (m *Manager) OpenHeapFile(fileID uint32, recordSize int) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hf, ok := m.files[fileID]; ok {
		return hf, nil
	}
	hf, err := Open(m.path(fileID), fileID, recordSize, m.dm, m.bp)
	if err != nil {
		return nil, errors.Wrapf(err, "heap manager: open file %d", fileID)
	}
	m.files[fileID] = hf
	return hf, nil
}

func (m *Manager) File(fileID uint32) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hf, ok := m.files[fileID]
	if !ok {
		return nil, errors.Errorf("heap manager: file %d not open", fileID)
	}
	return hf, nil
}

func (m *Manager) Flush() error {
	return m.bp.FlushAllPages()
}
