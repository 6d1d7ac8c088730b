package bplus

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"txndb/internal/bufferpool"
	"txndb/internal/diskmgr"
	"txndb/internal/value"
)

// Manager keeps every open index Tree for a database, keyed by the
// catalog's index file ID — the bplus-package counterpart of
// internal/heap.Manager.
type Manager struct {
	baseDir string
	trees   map[uint32]*Tree

	bp *bufferpool.Pool
	dm *diskmgr.Manager

	mu sync.RWMutex
}

func NewManager(baseDir string, bp *bufferpool.Pool, dm *diskmgr.Manager) *Manager {
	return &Manager{baseDir: baseDir, trees: make(map[uint32]*Tree), bp: bp, dm: dm}
}

func (m *Manager) path(fileID uint32) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("index_%d.db", fileID))
}

func (m *Manager) CreateIndex(fileID uint32, keySpecs []value.ColSpec) (*Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trees[fileID]; ok {
		return t, nil
	}
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "bplus manager: create base directory")
	}
	t, err := Create(m.path(fileID), fileID, keySpecs, m.bp, m.dm)
	if err != nil {
		return nil, errors.Wrapf(err, "bplus manager: create index %d", fileID)
	}
	m.trees[fileID] = t
	return t, nil
}

func (m *Manager) OpenIndex(fileID uint32, keySpecs []value.ColSpec) (*Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.trees[fileID]; ok {
		return t, nil
	}
	t, err := Open(m.path(fileID), fileID, keySpecs, m.bp, m.dm)
	if err != nil {
		return nil, errors.Wrapf(err, "bplus manager: open index %d", fileID)
	}
	m.trees[fileID] = t
	return t, nil
}

func (m *Manager) Tree(fileID uint32) (*Tree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trees[fileID]
	if !ok {
		return nil, errors.Errorf("bplus manager: index %d not open", fileID)
	}
	return t, nil
}

func (m *Manager) Flush() error {
	return m.bp.FlushAllPages()
}
