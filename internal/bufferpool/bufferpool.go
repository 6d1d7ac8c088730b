// Package bufferpool implements the page-pinning cache spec.md's CORE
// modules treat as an external collaborator: fetch(page_id)->pinned page,
// new_page()->pinned page, unpin(page_id, dirty), delete(page_id).
//
// Grounded on the teacher's storage_engine/bufferpool, with its hand-rolled
// accessOrder LRU slice replaced by github.com/dgraph-io/ristretto/v2 (the
// teacher's own only third-party dependency) as the eviction policy for
// the pool of currently-unpinned pages — see DESIGN.md for the tradeoffs.
package bufferpool

import (
	"encoding/binary"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"txndb/internal/dbtypes"
	"txndb/internal/diskmgr"
	"txndb/internal/page"
)

func New(capacity int, dm *diskmgr.Manager) *Pool {
	bp := &Pool{
		pinned:      make(map[int64]*page.Page, capacity),
		capacity:    capacity,
		diskManager: dm,
	}

	cache, err := ristretto.NewCache(&ristretto.Config[int64, *page.Page]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
		OnEvict:     bp.onEvict,
		OnReject:    bp.onEvict,
	})
	if err != nil {
		// NumCounters/MaxCost are always positive here — ristretto only
		// rejects malformed config, which would be a programming error.
		panic(errors.Wrap(err, "bufferpool: ristretto init"))
	}
	bp.clean = cache
	return bp
}

func (bp *Pool) SetWALManager(wal WALFlushedLSNGetter) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.walManager = wal
}

// onEvict runs (asynchronously, per ristretto's contract) when a page is
// dropped from the clean cache. It flushes the page if dirty, respecting
// the WAL gating rule, and otherwise discards it silently — eviction of a
// clean page is not an error.
func (bp *Pool) onEvict(item *ristretto.Item[*page.Page]) {
	pg := item.Value
	if pg == nil {
		return
	}
	pg.Lock()
	defer pg.Unlock()
	if !pg.IsDirty {
		return
	}
	if bp.walManager != nil && pg.LSN > bp.walManager.GetFlushedLSN() {
		// Not yet covered by the WAL — re-admit instead of losing the
		// write. Re-inserting from inside OnEvict is safe: ristretto
		// only calls OnEvict after the eviction has already happened.
		bp.clean.Set(pg.ID, pg, 1)
		return
	}
	if err := bp.diskManager.WritePage(pg); err != nil {
		logrus.WithError(err).WithField("pageID", pg.ID).Error("bufferpool: eviction flush failed")
	}
}

// FetchPage returns pg for pageID, pinned, loading it from the clean
// cache or disk if necessary.
func (bp *Pool) FetchPage(pageID int64) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, ok := bp.pinned[pageID]; ok {
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		return pg, nil
	}

	if pg, ok := bp.clean.Get(pageID); ok {
		bp.clean.Del(pageID)
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		bp.pinned[pageID] = pg
		return pg, nil
	}

	if bp.diskManager == nil {
		return nil, errors.New("bufferpool: no disk manager configured")
	}
	pg, err := bp.diskManager.ReadPage(pageID)
	if err != nil {
		return nil, errors.Wrapf(err, "bufferpool: fetch page %d", pageID)
	}
	if pg.PageType == dbtypes.PageTypeHeapData || pg.PageType == dbtypes.PageTypeBPlusNode {
		if len(pg.Data) >= 8 {
			pg.LSN = binary.LittleEndian.Uint64(pg.Data[page.LSNOffset:])
		}
	}
	pg.PinCount++
	bp.pinned[pageID] = pg
	return pg, nil
}

// NewPage allocates a fresh page for fileID, pinned and dirty.
func (bp *Pool) NewPage(fileID uint32, pt dbtypes.PageType) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.diskManager == nil {
		return nil, errors.New("bufferpool: no disk manager configured")
	}
	pageID, err := bp.diskManager.AllocatePage(fileID, pt)
	if err != nil {
		return nil, errors.Wrap(err, "bufferpool: allocate page")
	}

	pg := page.New(pageID, fileID, pt)
	pg.IsDirty = true
	pg.PinCount = 1
	bp.pinned[pageID] = pg
	return pg, nil
}

// NewPageAt constructs a fresh pinned+dirty page at a global ID that was
// already carved out via diskmgr.ReserveLocalPages — used for
// fixed-location pages (file headers, the B+-tree leaf-ring sentinel)
// that must live at a specific local page number instead of wherever
// AllocatePage's counter next points.
func (bp *Pool) NewPageAt(pageID int64, fileID uint32, pt dbtypes.PageType) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg := page.New(pageID, fileID, pt)
	pg.IsDirty = true
	pg.PinCount = 1
	bp.pinned[pageID] = pg
	return pg
}

// UnpinPage releases one pin on pageID. Once the pin count reaches zero
// the page becomes eligible for ristretto's clean-page admission.
func (bp *Pool) UnpinPage(pageID int64, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, exists := bp.pinned[pageID]
	if !exists {
		return errors.Errorf("bufferpool: page %d not pinned", pageID)
	}

	pg.Lock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	if isDirty {
		pg.IsDirty = true
	}
	stillPinned := pg.PinCount > 0
	pg.Unlock()

	if !stillPinned {
		delete(bp.pinned, pageID)
		bp.clean.Set(pageID, pg, 1)
		bp.clean.Wait()
	}
	return nil
}

// FlushPage writes pageID to disk if dirty, wherever it currently lives.
func (bp *Pool) FlushPage(pageID int64) error {
	bp.mu.Lock()
	pg, ok := bp.pinned[pageID]
	if !ok {
		pg, ok = bp.clean.Get(pageID)
	}
	bp.mu.Unlock()
	if !ok {
		return errors.Errorf("bufferpool: page %d not in pool", pageID)
	}
	return bp.flushOne(pg)
}

func (bp *Pool) flushOne(pg *page.Page) error {
	pg.Lock()
	defer pg.Unlock()
	if !pg.IsDirty {
		return nil
	}
	if bp.walManager != nil && pg.LSN > bp.walManager.GetFlushedLSN() {
		return errors.Errorf("bufferpool: page %d LSN %d not yet covered by WAL", pg.ID, pg.LSN)
	}
	if err := bp.diskManager.WritePage(pg); err != nil {
		return errors.Wrapf(err, "bufferpool: flush page %d", pg.ID)
	}
	pg.IsDirty = false
	return nil
}

// FlushAllPages writes every dirty pinned page. It stops with an error at
// the first dirty page the WAL has not yet covered. Unpinned pages in the
// clean cache are not written here.
func (bp *Pool) FlushAllPages() error {
	bp.mu.Lock()
	pinned := make([]*page.Page, 0, len(bp.pinned))
	for _, pg := range bp.pinned {
		pinned = append(pinned, pg)
	}
	bp.mu.Unlock()

	for _, pg := range pinned {
		if err := bp.flushOne(pg); err != nil {
			return err
		}
	}
	// ristretto offers no iteration over its contents by design (it is a
	// probabilistic, sharded cache) — unpinned dirty pages are instead
	// flushed as they're evicted via onEvict. Forcing a full sweep here
	// would require tracking every clean key separately, duplicating the
	// bookkeeping ristretto already owns.
	return nil
}

func (bp *Pool) DeletePage(pageID int64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, ok := bp.pinned[pageID]; ok {
		pg.RLock()
		pinned := pg.PinCount > 0
		pg.RUnlock()
		if pinned {
			return errors.Errorf("bufferpool: cannot delete pinned page %d", pageID)
		}
		delete(bp.pinned, pageID)
	}
	bp.clean.Del(pageID)
	return nil
}

func (bp *Pool) GetStats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	s := Stats{Capacity: bp.capacity, PinnedPages: len(bp.pinned)}
	for _, pg := range bp.pinned {
		pg.RLock()
		if pg.IsDirty {
			s.DirtyPages++
		}
		pg.RUnlock()
	}
	s.CleanPages = int(bp.clean.Metrics.KeysAdded() - bp.clean.Metrics.KeysEvicted())
	return s
}

func (bp *Pool) Capacity() int { return bp.capacity }

// GetPage returns pageID only if it is currently pinned, without touching
// disk or the clean cache — used by callers that must not accidentally
// load or pin a page they don't already hold.
func (bp *Pool) GetPage(pageID int64) *page.Page {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pinned[pageID]
}

func (bp *Pool) MarkDirty(pageID int64) error {
	bp.mu.Lock()
	pg, ok := bp.pinned[pageID]
	bp.mu.Unlock()
	if !ok {
		return errors.Errorf("bufferpool: page %d not pinned", pageID)
	}
	pg.Lock()
	pg.IsDirty = true
	pg.Unlock()
	return nil
}
