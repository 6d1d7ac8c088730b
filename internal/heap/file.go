// Package heap implements spec.md's Heap Store (§4.A) and Scan Cursor
// (§4.B): a clustered heap of fixed-size records addressed by
// (page number, bit position), with pages holding free capacity linked
// into a singly-linked free list so inserts never have to scan the whole
// file for room.
//
// Grounded on the teacher's storage_engine/access/heapfile_manager for
// the buffer-pool-mediated page lifecycle (findSuitablePage's
// allocate-or-reuse pattern, the external/internal locking split that
// avoids deadlock when update calls both insert and delete), and on
// original_source/src/record/rm_file_handle.cpp for the bitmap+free-list
// page format itself, which the teacher's offset/length tombstone slots
// did not implement.
package heap

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"txndb/internal/bufferpool"
	"txndb/internal/dbtypes"
	"txndb/internal/diskmgr"
	"txndb/internal/page"
)

// File is one table's heap file: a sequence of fixed-record-size data
// pages plus the free-list head used to pick an insertion target.
type File struct {
	fileID uint32
	layout layout

	firstFreePage int32 // local page no, -1 if none
	numPages      uint32

	dm *diskmgr.Manager
	bp *bufferpool.Pool

	mu sync.RWMutex
}

// Create opens a brand-new heap file for a table with the given fixed
// record size.
func Create(filePath string, fileID uint32, recordSize int, dm *diskmgr.Manager, bp *bufferpool.Pool) (*File, error) {
	l, err := computeLayout(recordSize)
	if err != nil {
		return nil, err
	}
	if _, err := dm.OpenFileWithID(filePath, fileID); err != nil {
		return nil, errors.Wrap(err, "heap: open file")
	}
	if err := dm.ReserveLocalPages(fileID, 1); err != nil { // page 0 = header
		return nil, errors.Wrap(err, "heap: reserve header page")
	}

	hf := &File{fileID: fileID, layout: l, firstFreePage: -1, dm: dm, bp: bp}
	if err := hf.persistHeader(); err != nil {
		return nil, err
	}
	return hf, nil
}

// Open reopens an existing heap file, restoring its free-list head and
// page count from the metadata page.
func Open(filePath string, fileID uint32, recordSize int, dm *diskmgr.Manager, bp *bufferpool.Pool) (*File, error) {
	l, err := computeLayout(recordSize)
	if err != nil {
		return nil, err
	}
	if _, err := dm.OpenFileWithID(filePath, fileID); err != nil {
		return nil, errors.Wrap(err, "heap: open file")
	}

	fd, err := dm.FileDescriptor(fileID)
	if err != nil {
		return nil, err
	}
	for localPage := int64(1); localPage < fd.NextPageID; localPage++ { // page 0 is metadata
		dm.RegisterPage(fileID, localPage)
	}

	hf := &File{fileID: fileID, layout: l, bp: bp, dm: dm}
	if err := hf.loadHeader(); err != nil {
		return nil, err
	}
	return hf, nil
}

func (hf *File) persistHeader() error {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], uint32(hf.firstFreePage))
	binary.LittleEndian.PutUint32(buf[4:], hf.numPages)
	binary.LittleEndian.PutUint32(buf[8:], uint32(hf.layout.recordSize))
	return hf.dm.WriteMetadata(hf.fileID, buf)
}

func (hf *File) loadHeader() error {
	buf, err := hf.dm.ReadMetadata(hf.fileID)
	if err != nil {
		return err
	}
	if len(buf) < 12 {
		return errors.New("heap: truncated file header")
	}
	hf.firstFreePage = int32(binary.LittleEndian.Uint32(buf[0:]))
	hf.numPages = binary.LittleEndian.Uint32(buf[4:])
	return nil
}

// allocatePage gets a fresh data page from the buffer pool, initializes
// its header, and returns it pinned — caller must unpin.
func (hf *File) allocatePage() (*page.Page, uint32, error) {
	pg, err := hf.bp.NewPage(hf.fileID, dbtypes.PageTypeHeapData)
	if err != nil {
		return nil, 0, errors.Wrap(err, "heap: allocate page")
	}
	localPageNo := uint32(hf.dm.LocalPageID(pg.ID))
	initPage(pg, localPageNo, hf.layout)
	hf.numPages++
	return pg, localPageNo, nil
}

func (hf *File) globalPageID(localPageNo uint32) int64 {
	return hf.dm.GlobalPageID(hf.fileID, int64(localPageNo))
}
