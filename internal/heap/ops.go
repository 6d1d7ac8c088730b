package heap

import (
	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/page"
)

// Insert writes data (must be exactly the file's fixed record size) into
// the page at the head of the free list, allocating a new page if the
// list is empty. If the page becomes full as a result, it is popped from
// the free list — the classic create_page_handle pattern
// (original_source/src/record/rm_file_handle.cpp).
func (hf *File) Insert(data []byte) (dbtypes.RowPointer, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if len(data) != hf.layout.recordSize {
		return dbtypes.RowPointer{}, errors.Errorf("heap: record size mismatch, want %d got %d", hf.layout.recordSize, len(data))
	}

	var pg *page.Page
	var localPageNo uint32

	if hf.firstFreePage < 0 {
		raw, pn, aerr := hf.allocatePage()
		if aerr != nil {
			return dbtypes.RowPointer{}, aerr
		}
		pg = raw
		localPageNo = pn
		// Newly allocated pages always start life at the free-list head.
		hf.firstFreePage = int32(localPageNo)
		if err := hf.persistHeader(); err != nil {
			hf.bp.UnpinPage(raw.ID, true)
			return dbtypes.RowPointer{}, err
		}
	} else {
		localPageNo = uint32(hf.firstFreePage)
		raw, ferr := hf.bp.FetchPage(hf.globalPageID(localPageNo))
		if ferr != nil {
			return dbtypes.RowPointer{}, errors.Wrap(ferr, "heap: fetch free-list head")
		}
		pg = raw
	}

	pg.Lock()
	slot, ok := insertAtFirstFree(pg, hf.layout, data)
	if !ok {
		pg.Unlock()
		hf.bp.UnpinPage(pg.ID, false)
		return dbtypes.RowPointer{}, errors.Errorf("heap: free-list head page %d reports no room", localPageNo)
	}
	becameFull := isFull(getNumRecords(pg), hf.layout)
	nextFree := getNextFreePage(pg)
	pg.Unlock()

	if becameFull {
		hf.firstFreePage = nextFree
		if err := hf.persistHeader(); err != nil {
			hf.bp.UnpinPage(pg.ID, true)
			return dbtypes.RowPointer{}, err
		}
	}

	if err := hf.bp.UnpinPage(pg.ID, true); err != nil {
		return dbtypes.RowPointer{}, err
	}

	return dbtypes.RowPointer{FileID: hf.fileID, PageNo: localPageNo, SlotNo: slot}, nil
}

// InsertAt reinserts data at a specific (page, slot) — the undo-path
// counterpart to Insert, used by the transaction manager to replay a
// DELETE_TUPLE write record on abort.
func (hf *File) InsertAt(ptr dbtypes.RowPointer, data []byte) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if ptr.FileID != hf.fileID {
		return errors.Errorf("heap: row pointer file %d does not match heap file %d", ptr.FileID, hf.fileID)
	}
	pg, err := hf.bp.FetchPage(hf.globalPageID(ptr.PageNo))
	if err != nil {
		return errors.Wrap(err, "heap: fetch page")
	}
	defer hf.bp.UnpinPage(pg.ID, true)

	pg.Lock()
	wasFull := isFull(getNumRecords(pg), hf.layout)
	err = insertAtSlot(pg, hf.layout, ptr.SlotNo, data)
	pg.Unlock()
	if err != nil {
		return err
	}

	if wasFull {
		pg.Lock()
		setNextFreePage(pg, hf.firstFreePage)
		pg.Unlock()
		hf.firstFreePage = int32(ptr.PageNo)
		return hf.persistHeader()
	}
	return nil
}

// Get returns a copy of the row at ptr.
func (hf *File) Get(ptr dbtypes.RowPointer) ([]byte, error) {
	return hf.getInternal(ptr)
}

// GetForUndo is identical to Get: the heap store never acquires a lock-
// manager lock itself (that discipline belongs to the transaction layer,
// per spec.md §4.F), so there is no separate unlocked code path here —
// this alias exists so callers that build a pre-image for rollback read
// it the same way Get does.
func (hf *File) GetForUndo(ptr dbtypes.RowPointer) ([]byte, error) {
	return hf.getInternal(ptr)
}

func (hf *File) getInternal(ptr dbtypes.RowPointer) ([]byte, error) {
	hf.mu.RLock()
	defer hf.mu.RUnlock()

	if ptr.FileID != hf.fileID {
		return nil, errors.Errorf("heap: row pointer file %d does not match heap file %d", ptr.FileID, hf.fileID)
	}
	pg, err := hf.bp.FetchPage(hf.globalPageID(ptr.PageNo))
	if err != nil {
		return nil, errors.Wrap(err, "heap: fetch page")
	}
	defer hf.bp.UnpinPage(pg.ID, false)

	pg.RLock()
	defer pg.RUnlock()
	return getRecord(pg, hf.layout, ptr.SlotNo)
}

// Delete removes the row at ptr. If the page transitions from full to
// non-full it is reattached at the head of the free list — the free list
// only ever holds pages known to have room, so a page that was popped on
// becoming full must be relinked once it has room again.
func (hf *File) Delete(ptr dbtypes.RowPointer) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if ptr.FileID != hf.fileID {
		return errors.Errorf("heap: row pointer file %d does not match heap file %d", ptr.FileID, hf.fileID)
	}
	pg, err := hf.bp.FetchPage(hf.globalPageID(ptr.PageNo))
	if err != nil {
		return errors.Wrap(err, "heap: fetch page")
	}
	defer hf.bp.UnpinPage(pg.ID, true)

	pg.Lock()
	wasFull := isFull(getNumRecords(pg), hf.layout)
	err = deleteRecord(pg, hf.layout, ptr.SlotNo)
	pg.Unlock()
	if err != nil {
		return err
	}

	if wasFull {
		pg.Lock()
		setNextFreePage(pg, hf.firstFreePage)
		pg.Unlock()
		hf.firstFreePage = int32(ptr.PageNo)
		if err := hf.persistHeader(); err != nil {
			return err
		}
	}
	return nil
}

// Update overwrites the row at ptr in place. Heap records are
// fixed-width, so — unlike the teacher's variable-length tombstone-and-
// reinsert UpdateRecord — an update never needs to move to a new page.
func (hf *File) Update(ptr dbtypes.RowPointer, data []byte) error {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if len(data) != hf.layout.recordSize {
		return errors.Errorf("heap: record size mismatch, want %d got %d", hf.layout.recordSize, len(data))
	}
	if ptr.FileID != hf.fileID {
		return errors.Errorf("heap: row pointer file %d does not match heap file %d", ptr.FileID, hf.fileID)
	}
	pg, err := hf.bp.FetchPage(hf.globalPageID(ptr.PageNo))
	if err != nil {
		return errors.Wrap(err, "heap: fetch page")
	}
	defer hf.bp.UnpinPage(pg.ID, true)

	pg.Lock()
	defer pg.Unlock()
	return updateRecordInPlace(pg, hf.layout, ptr.SlotNo, data)
}
