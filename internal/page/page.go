// Package page defines the in-memory frame shared by every on-disk
// structure (heap pages and B+-tree nodes alike) and the short-term
// reader/writer latch each frame carries.
//
// A central struct is used instead of one-per-layer because both the heap
// store and the B+-tree index ultimately hand their frames to the same
// BufferPool; the binary layout of Data is owned by the layer that wrote
// it (heap in internal/heap/heap_page.go, index in
// internal/bplus/codec.go) — Page itself only frames the bytes.
package page

import (
	"sync"

	"txndb/internal/dbtypes"
)

const (
	Size = dbtypes.PageSize

	// LSNOffset is the first 8 bytes of every page, regardless of layer,
	// so the BufferPool can read pg.LSN without understanding the layout.
	LSNOffset = 0
)

// Page is a pinned, latchable 4KB frame. The latch (mu) is the primitive
// the B+-tree's latch-crabbing protocol holds ancestor-then-child during a
// descent, and the one the heap store takes for record-level mutation.
type Page struct {
	ID       int64
	FileID   uint32
	Data     []byte
	IsDirty  bool
	PinCount int32
	PageType dbtypes.PageType
	LSN      uint64

	mu sync.RWMutex
}

func New(id int64, fileID uint32, pt dbtypes.PageType) *Page {
	return &Page{
		ID:       id,
		FileID:   fileID,
		Data:     make([]byte, Size),
		PageType: pt,
	}
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }
