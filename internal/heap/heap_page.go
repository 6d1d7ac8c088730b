// Heap page binary layout (all values little-endian), grounded on the
// teacher's storage_engine/access/heapfile_manager/heap_page.go but
// redesigned from its offset/length tombstone-slot scheme to the
// bitmap-plus-free-list scheme spec.md's heap store requires: fixed-size
// records addressed by bit position, freed slots reclaimed immediately,
// and pages with free capacity linked into a singly-linked free list
// (original_source/src/record/rm_file_handle.cpp's create_page_handle /
// release_page_handle).
//
//	Offset  Size  Field
//	────────────────────────────────────────────────────────
//	0       8     LastAppliedLSN  uint64 — shared page-type convention
//	8       1     PageType        uint8  — stamped by diskmgr on write
//	9       4     PageNo          uint32
//	13      2     NumRecords      uint16 — live record count on this page
//	15      4     NextFreePage    int32  — next page in the file's free
//	                                       list, or -1
//	────────────────────────────────────────────────────────
//	19            pageHeaderSize
//	19            bitmapBytes(maxRecords) bytes of occupancy bitmap
//	19+bitmapBytes  maxRecords * recordSize bytes of fixed-size record slots
package heap

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/page"
)

const (
	offLSN          = 0
	offPageType     = 8
	offPageNo       = 9
	offNumRecords   = 13
	offNextFreePage = 15

	pageHeaderSize = 19
)

// layout describes how one file's fixed record size maps onto a 4KB page.
type layout struct {
	recordSize  int
	maxRecords  int
	bitmapBytes int
	dataOffset  int
}

// computeLayout mirrors rm_file_handle.cpp's file-header sizing: each
// record costs recordSize*8 data bits plus 1 occupancy bit, so
// maxRecords = floor(availableBits / (1 + recordSize*8)).
func computeLayout(recordSize int) (layout, error) {
	if recordSize <= 0 {
		return layout{}, errors.New("heap: record size must be positive")
	}
	available := (dbtypes.PageSize - pageHeaderSize) * 8
	maxRecords := available / (1 + recordSize*8)
	if maxRecords <= 0 {
		return layout{}, errors.Errorf("heap: record size %d too large for a %d-byte page", recordSize, dbtypes.PageSize)
	}
	bb := bitmapBytes(maxRecords)
	return layout{
		recordSize:  recordSize,
		maxRecords:  maxRecords,
		bitmapBytes: bb,
		dataOffset:  pageHeaderSize + bb,
	}, nil
}

func (l layout) bitmapOf(pg *page.Page) bitmap {
	return bitmap(pg.Data[pageHeaderSize : pageHeaderSize+l.bitmapBytes])
}

func (l layout) slot(pg *page.Page, i int) []byte {
	off := l.dataOffset + i*l.recordSize
	return pg.Data[off : off+l.recordSize]
}

func getPageNo(pg *page.Page) uint32    { return binary.LittleEndian.Uint32(pg.Data[offPageNo:]) }
func setPageNo(pg *page.Page, v uint32) { binary.LittleEndian.PutUint32(pg.Data[offPageNo:], v) }

func getNumRecords(pg *page.Page) uint16 {
	return binary.LittleEndian.Uint16(pg.Data[offNumRecords:])
}
func setNumRecords(pg *page.Page, v uint16) {
	binary.LittleEndian.PutUint16(pg.Data[offNumRecords:], v)
}

func getNextFreePage(pg *page.Page) int32 {
	return int32(binary.LittleEndian.Uint32(pg.Data[offNextFreePage:]))
}
func setNextFreePage(pg *page.Page, v int32) {
	binary.LittleEndian.PutUint32(pg.Data[offNextFreePage:], uint32(v))
}

// initPage stamps a fresh data page's header and zeroes its bitmap.
func initPage(pg *page.Page, pageNo uint32, l layout) {
	for i := 1; i < dbtypes.PageSize; i++ {
		pg.Data[i] = 0
	}
	binary.LittleEndian.PutUint64(pg.Data[offLSN:], 0)
	setPageNo(pg, pageNo)
	setNumRecords(pg, 0)
	setNextFreePage(pg, -1)
	pg.LSN = 0
	pg.IsDirty = true
	_ = l // bitmap region already zeroed above
}

// insertAtFirstFree finds the first unset bit, writes data there, marks
// it occupied, and returns the slot index. Returns ok=false if the page
// has no free slot.
func insertAtFirstFree(pg *page.Page, l layout, data []byte) (slot uint16, ok bool) {
	bm := l.bitmapOf(pg)
	i := bm.firstZero(l.maxRecords)
	if i < 0 {
		return 0, false
	}
	copy(l.slot(pg, i), data)
	bm.set(i)
	setNumRecords(pg, getNumRecords(pg)+1)
	pg.IsDirty = true
	return uint16(i), true
}

// insertAtSlot is the undo-path counterpart: reinsert a record at a
// specific slot index (used when rolling back a delete). It is a
// programming error to call it on an already-occupied slot.
func insertAtSlot(pg *page.Page, l layout, slot uint16, data []byte) error {
	bm := l.bitmapOf(pg)
	if int(slot) >= l.maxRecords {
		return errors.Errorf("heap: slot %d out of range (max %d)", slot, l.maxRecords)
	}
	if bm.isSet(int(slot)) {
		return errors.Errorf("heap: slot %d already occupied", slot)
	}
	copy(l.slot(pg, int(slot)), data)
	bm.set(int(slot))
	setNumRecords(pg, getNumRecords(pg)+1)
	pg.IsDirty = true
	return nil
}

func getRecord(pg *page.Page, l layout, slot uint16) ([]byte, error) {
	if int(slot) >= l.maxRecords {
		return nil, errors.Errorf("heap: slot %d out of range (max %d)", slot, l.maxRecords)
	}
	if !l.bitmapOf(pg).isSet(int(slot)) {
		return nil, errors.Errorf("heap: slot %d is empty", slot)
	}
	out := make([]byte, l.recordSize)
	copy(out, l.slot(pg, int(slot)))
	return out, nil
}

func deleteRecord(pg *page.Page, l layout, slot uint16) error {
	if int(slot) >= l.maxRecords {
		return errors.Errorf("heap: slot %d out of range (max %d)", slot, l.maxRecords)
	}
	bm := l.bitmapOf(pg)
	if !bm.isSet(int(slot)) {
		return errors.Errorf("heap: slot %d already empty", slot)
	}
	bm.clear(int(slot))
	setNumRecords(pg, getNumRecords(pg)-1)
	pg.IsDirty = true
	return nil
}

func updateRecordInPlace(pg *page.Page, l layout, slot uint16, data []byte) error {
	if int(slot) >= l.maxRecords {
		return errors.Errorf("heap: slot %d out of range (max %d)", slot, l.maxRecords)
	}
	if !l.bitmapOf(pg).isSet(int(slot)) {
		return errors.Errorf("heap: slot %d is empty", slot)
	}
	if len(data) != l.recordSize {
		return errors.Errorf("heap: record size mismatch, want %d got %d", l.recordSize, len(data))
	}
	copy(l.slot(pg, int(slot)), data)
	pg.IsDirty = true
	return nil
}

func isFull(numRecords uint16, l layout) bool {
	return int(numRecords) >= l.maxRecords
}
