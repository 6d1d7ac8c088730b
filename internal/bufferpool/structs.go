package bufferpool

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"txndb/internal/diskmgr"
	"txndb/internal/page"
)

// WALFlushedLSNGetter is the small slice of the WAL manager the buffer
// pool needs: a page whose LSN exceeds the WAL's durable LSN may not be
// written back yet (write-ahead rule). Declared locally so this package
// doesn't have to import the whole wal package.
type WALFlushedLSNGetter interface {
	GetFlushedLSN() uint64
}

// Pool is a page-pinning cache in front of the disk manager.
//
// Pages with a nonzero pin count are "checked out" and live only in
// `pinned` — they are never visible to ristretto and can never be chosen
// for eviction, matching the teacher's evictLRU skipping pinned pages.
// A page is handed to the ristretto-backed `clean` cache only once its
// last pin is released; ristretto's sampled-LFU admission policy then
// decides which unpinned pages are worth keeping hot, evicting via the
// OnEvict callback (which flushes dirty pages, gated on the WAL's
// flushed LSN exactly as the teacher's evictLRU did).
type Pool struct {
	pinned      map[int64]*page.Page
	clean       *ristretto.Cache[int64, *page.Page]
	capacity    int
	diskManager *diskmgr.Manager
	walManager  WALFlushedLSNGetter

	mu sync.Mutex
}

type Stats struct {
	PinnedPages int
	CleanPages  int
	DirtyPages  int
	Capacity    int
}
