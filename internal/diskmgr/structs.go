package diskmgr

import (
	"os"
	"sync"
)

// PageKey identifies a page within a single file, before it has been
// folded into a global page ID.
type PageKey struct {
	FileID   uint32
	LocalNum int64
}

// FileDescriptor is one open OS file managed by the disk manager.
type FileDescriptor struct {
	FileID     uint32
	FilePath   string
	File       *os.File
	NextPageID int64 // next unallocated local page number in this file

	mu sync.RWMutex
}

// Manager owns OS file handles, raw ReadAt/WriteAt I/O, per-file page
// allocation counters, and the global-page-ID <-> (fileID, local page)
// mapping.
type Manager struct {
	files      map[uint32]*FileDescriptor
	nextFileID uint32 // used only by OpenFile (WAL segments); heap/index
	// files are always opened with a catalog-assigned ID via OpenFileWithID.

	globalPageMap map[int64]uint32  // globalPageID -> fileID
	localToGlobal map[PageKey]int64 // (fileID, localNum) -> globalPageID

	mu sync.RWMutex
}
