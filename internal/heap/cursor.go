package heap

import (
	"txndb/internal/dbtypes"
)

// Cursor is a stateful forward scan over every live row in a heap file,
// implementing spec.md's Scan Cursor (§4.B): rid()/next()/is_end().
//
// Grounded on the teacher's GetAllRowPointers full-table bitmap walk,
// turned from a slice-building loop into a cursor that holds its
// position between calls — the shape original_source's rm_scan-style
// page-then-bitmap advance implies.
type Cursor struct {
	hf *File

	pageNo uint32
	slot   int // -1 before first Next()
	atEnd  bool
}

// NewCursor returns a cursor positioned before the first row.
func (hf *File) NewCursor() *Cursor {
	return &Cursor{hf: hf, pageNo: 1, slot: -1}
}

// Next advances the cursor to the next live row. Returns false once the
// cursor reaches the end of the file.
func (c *Cursor) Next() bool {
	if c.atEnd {
		return false
	}
	hf := c.hf
	hf.mu.RLock()
	numPages := hf.numPages
	hf.mu.RUnlock()

	for c.pageNo <= numPages {
		pg, err := hf.bp.FetchPage(hf.globalPageID(c.pageNo))
		if err != nil {
			c.atEnd = true
			return false
		}

		pg.RLock()
		bm := hf.layout.bitmapOf(pg)
		next := c.slot + 1
		for next < hf.layout.maxRecords && !bm.isSet(next) {
			next++
		}
		found := next < hf.layout.maxRecords
		pg.RUnlock()
		hf.bp.UnpinPage(pg.ID, false)

		if found {
			c.slot = next
			return true
		}
		c.pageNo++
		c.slot = -1
	}
	c.atEnd = true
	return false
}

// Rid returns the row pointer at the cursor's current position. Only
// valid after a Next() call returned true.
func (c *Cursor) Rid() dbtypes.RowPointer {
	return dbtypes.RowPointer{FileID: c.hf.fileID, PageNo: c.pageNo, SlotNo: uint16(c.slot)}
}

// Row returns a copy of the row at the cursor's current position.
func (c *Cursor) Row() ([]byte, error) {
	return c.hf.Get(c.Rid())
}

func (c *Cursor) IsEnd() bool {
	return c.atEnd
}
