// Package diskmgr owns OS file handles, raw page I/O, and the global page
// ID space that every other storage layer addresses pages by.
//
// Page ID encoding: globalPageID = int64(fileID)<<32 | localPageNum. This
// makes global IDs deterministic on every restart, regardless of the order
// files are reopened in — no persisted counter needed to reconstruct them.
//
// Grounded on the teacher's storage_engine/disk_manager, carried over
// essentially unchanged: this layer is external-collaborator plumbing the
// CORE spec assumes, not something the spec redesigns.
package diskmgr

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"txndb/internal/dbtypes"
	"txndb/internal/page"
)

func New() *Manager {
	return &Manager{
		files:         make(map[uint32]*FileDescriptor),
		globalPageMap: make(map[int64]uint32),
		localToGlobal: make(map[PageKey]int64),
		nextFileID:    1,
	}
}

func newPage(pageID int64, fileID uint32, pt dbtypes.PageType) *page.Page {
	return page.New(pageID, fileID, pt)
}

// OpenFileWithID opens or creates filePath under a catalog-assigned file
// ID. Heap files and index files always go through this path so their IDs
// stay stable across restarts.
func (dm *Manager) OpenFileWithID(filePath string, catalogFileID uint32) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, fd := range dm.files {
		if fd.FilePath == filePath {
			return id, nil
		}
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "open file %s", filePath)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, err
	}

	fd := &FileDescriptor{
		FileID:     catalogFileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: stat.Size() / int64(page.Size),
	}
	dm.files[catalogFileID] = fd
	if catalogFileID >= dm.nextFileID {
		dm.nextFileID = catalogFileID + 1
	}
	return catalogFileID, nil
}

// OpenFile opens or creates a session-scoped file (WAL segments) and
// assigns it the next counter-based ID.
func (dm *Manager) OpenFile(filePath string) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for id, fd := range dm.files {
		if fd.FilePath == filePath {
			return id, nil
		}
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "open file %s", filePath)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, errors.Wrap(err, "stat file")
	}

	fileID := dm.nextFileID
	dm.nextFileID++
	logrus.WithFields(logrus.Fields{"path": filePath, "fileID": fileID}).Debug("diskmgr: opened file")

	dm.files[fileID] = &FileDescriptor{
		FileID:     fileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: stat.Size() / int64(page.Size),
	}
	return fileID, nil
}

// ReadPage reads the frame for globalPageID off disk.
func (dm *Manager) ReadPage(globalPageID int64) (*page.Page, error) {
	dm.mu.RLock()
	fileID, exists := dm.globalPageMap[globalPageID]
	dm.mu.RUnlock()
	if !exists {
		return nil, errors.Errorf("diskmgr: page %d not registered", globalPageID)
	}

	dm.mu.RLock()
	fd, exists := dm.files[fileID]
	dm.mu.RUnlock()
	if !exists {
		return nil, errors.Errorf("diskmgr: file %d not open", fileID)
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.File == nil {
		return nil, errors.Errorf("diskmgr: file %d is closed", fileID)
	}

	localPageID := dm.localPageID(globalPageID)
	offset := localPageID * int64(page.Size)

	pg := newPage(globalPageID, fileID, dbtypes.PageTypeUnknown)
	n, err := fd.File.ReadAt(pg.Data, offset)
	if err != nil && n == 0 {
		return nil, errors.Wrapf(err, "read page %d of file %d", localPageID, fileID)
	}
	for i := n; i < page.Size; i++ {
		pg.Data[i] = 0
	}
	if len(pg.Data) > 8 {
		pg.PageType = dbtypes.PageType(pg.Data[8])
	}
	return pg, nil
}

// WritePage writes pg's current frame back to its page slot.
func (dm *Manager) WritePage(pg *page.Page) error {
	dm.mu.RLock()
	fd, exists := dm.files[pg.FileID]
	dm.mu.RUnlock()
	if !exists {
		return errors.Errorf("diskmgr: file %d not open", pg.FileID)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return errors.Errorf("diskmgr: file %d is closed", pg.FileID)
	}
	if len(pg.Data) != page.Size {
		return errors.Errorf("diskmgr: page %d has bad frame size %d", pg.ID, len(pg.Data))
	}

	pg.Data[8] = byte(pg.PageType)
	localPageID := dm.localPageID(pg.ID)
	offset := localPageID * int64(page.Size)

	if _, err := fd.File.WriteAt(pg.Data, offset); err != nil {
		return errors.Wrapf(err, "write page %d of file %d", localPageID, pg.FileID)
	}
	if localPageID >= fd.NextPageID {
		fd.NextPageID = localPageID + 1
	}
	pg.IsDirty = false
	return nil
}

// AllocatePage reserves the next local page number in fileID and returns
// its global ID. Nothing is written to disk — the BufferPool writes it
// out on first flush.
func (dm *Manager) AllocatePage(fileID uint32, pt dbtypes.PageType) (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return 0, errors.Errorf("diskmgr: file %d not open", fileID)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return 0, errors.Errorf("diskmgr: file %d is closed", fileID)
	}

	localPageNum := fd.NextPageID
	fd.NextPageID++

	globalPageID := int64(fileID)<<32 | localPageNum
	dm.globalPageMap[globalPageID] = fileID
	dm.localToGlobal[PageKey{FileID: fileID, LocalNum: localPageNum}] = globalPageID
	return globalPageID, nil
}

// ReserveLocalPages carves out the next n local page numbers in fileID as
// fixed-location pages (a heap/index header, a leaf-ring sentinel) without
// routing them through the normal AllocatePage counter-then-map dance —
// callers still address them afterward via GlobalPageID, so they are
// registered the same way RegisterPage would on reopen. Must be called
// immediately after OpenFileWithID, before any AllocatePage/NewPage call
// for the file, so real data/node pages never collide with a reserved
// page's on-disk slot.
func (dm *Manager) ReserveLocalPages(fileID uint32, n int64) error {
	dm.mu.Lock()
	fd, exists := dm.files[fileID]
	if !exists {
		dm.mu.Unlock()
		return errors.Errorf("diskmgr: file %d not open", fileID)
	}
	fd.mu.Lock()
	start := fd.NextPageID
	fd.NextPageID += n
	fd.mu.Unlock()
	dm.mu.Unlock()

	for i := int64(0); i < n; i++ {
		dm.RegisterPage(fileID, start+i)
	}
	return nil
}

func (dm *Manager) localPageID(globalPageID int64) int64 {
	return globalPageID & 0xFFFFFFFF
}

func (dm *Manager) GlobalPageID(fileID uint32, localPageNum int64) int64 {
	return int64(fileID)<<32 | localPageNum
}

func (dm *Manager) LocalPageID(globalPageID int64) int64 {
	return globalPageID & 0xFFFFFFFF
}

// RegisterPage records an existing on-disk page in the global map when
// reopening a file on database load — deterministic, no counter needed.
func (dm *Manager) RegisterPage(fileID uint32, localPageNum int64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	key := PageKey{FileID: fileID, LocalNum: localPageNum}
	if _, exists := dm.localToGlobal[key]; exists {
		return
	}
	globalPageID := int64(fileID)<<32 | localPageNum
	dm.globalPageMap[globalPageID] = fileID
	dm.localToGlobal[key] = globalPageID
}

func (dm *Manager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for _, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				fd.mu.Unlock()
				return errors.Wrapf(err, "sync file %d", fd.FileID)
			}
		}
		fd.mu.Unlock()
	}
	return nil
}

func (dm *Manager) CloseFile(fileID uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return errors.Errorf("diskmgr: file %d not open", fileID)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return nil
	}
	if err := fd.File.Sync(); err != nil {
		return err
	}
	if err := fd.File.Close(); err != nil {
		return err
	}
	fd.File = nil
	delete(dm.files, fileID)
	return nil
}

func (dm *Manager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for fileID, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				lastErr = err
			}
			if err := fd.File.Close(); err != nil {
				lastErr = err
			}
			fd.File = nil
		}
		fd.mu.Unlock()
		delete(dm.files, fileID)
	}
	return lastErr
}

func (dm *Manager) FileDescriptor(fileID uint32) (*FileDescriptor, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	fd, exists := dm.files[fileID]
	if !exists {
		return nil, errors.Errorf("diskmgr: file %d not open", fileID)
	}
	return fd, nil
}

// WriteMetadata writes fixed metadata (e.g. a B+-tree root pointer, or a
// heap file header) to page 0 of fileID, bypassing the buffer pool —
// metadata pages are fixed-location and not worth caching.
func (dm *Manager) WriteMetadata(fileID uint32, metadata []byte) error {
	dm.mu.RLock()
	fd, exists := dm.files[fileID]
	dm.mu.RUnlock()
	if !exists {
		return errors.Errorf("diskmgr: file %d not open", fileID)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return errors.Errorf("diskmgr: file %d is closed", fileID)
	}

	metaPage := make([]byte, page.Size)
	metaPage[8] = byte(dbtypes.PageTypeHeapMeta)
	copy(metaPage[9:], metadata)
	if _, err := fd.File.WriteAt(metaPage, 0); err != nil {
		return errors.Wrap(err, "write metadata")
	}
	return nil
}

func (dm *Manager) ReadMetadata(fileID uint32) ([]byte, error) {
	dm.mu.RLock()
	fd, exists := dm.files[fileID]
	dm.mu.RUnlock()
	if !exists {
		return nil, errors.Errorf("diskmgr: file %d not open", fileID)
	}
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.File == nil {
		return nil, errors.Errorf("diskmgr: file %d is closed", fileID)
	}

	metaPage := make([]byte, page.Size)
	if _, err := fd.File.ReadAt(metaPage, 0); err != nil {
		return nil, errors.Wrap(err, "read metadata")
	}
	return metaPage[9:], nil
}

func (dm *Manager) WriteRootID(fileID uint32, rootID int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(rootID))
	return dm.WriteMetadata(fileID, buf)
}

func (dm *Manager) ReadRootID(fileID uint32) (int64, error) {
	buf, err := dm.ReadMetadata(fileID)
	if err != nil {
		return 0, err
	}
	if len(buf) < 8 {
		return 0, errors.New("diskmgr: truncated root-id metadata")
	}
	return int64(binary.LittleEndian.Uint64(buf[:8])), nil
}

func (dm *Manager) TotalPages() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	var total int64
	for _, fd := range dm.files {
		total += fd.NextPageID
	}
	return total
}
