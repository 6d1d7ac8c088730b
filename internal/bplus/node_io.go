package bplus

import (
	"github.com/pkg/errors"

	"txndb/internal/bufferpool"
	"txndb/internal/dbtypes"
	"txndb/internal/diskmgr"
	"txndb/internal/page"
	"txndb/internal/value"
)

// Create initializes a brand-new, empty index file: page 0 holds the
// root page ID (written through diskmgr.WriteRootID), page 1 is the
// leaf-ring sentinel, and the root is a
// single empty leaf wired into the ring as its only member. Grounded on
// the teacher's NewBPlusTree bootstrap path, with the sentinel ring added
// per original_source's file_hdr_ first_leaf_/last_leaf_.
func Create(filePath string, fileID uint32, keySpecs []value.ColSpec, bp *bufferpool.Pool, dm *diskmgr.Manager) (*Tree, error) {
	if _, err := dm.OpenFileWithID(filePath, fileID); err != nil {
		return nil, errors.Wrap(err, "bplus: open file")
	}
	if err := dm.ReserveLocalPages(fileID, 2); err != nil { // page 0 = header, page 1 = sentinel
		return nil, errors.Wrap(err, "bplus: reserve header/sentinel pages")
	}

	t := &Tree{fileID: fileID, keySpecs: keySpecs, bufferPool: bp, diskManager: dm}
	t.sentinel = dm.GlobalPageID(fileID, 1)

	rootPage, err := bp.NewPage(fileID, dbtypes.PageTypeBPlusNode)
	if err != nil {
		return nil, errors.Wrap(err, "bplus: allocate root")
	}
	root := &Node{
		pageID:   rootPage.ID,
		nodeType: NodeLeaf,
		parent:   dbtypes.InvalidPageID,
		next:     t.sentinel,
		prev:     t.sentinel,
	}
	rootPage.Lock()
	err = t.encodeNode(rootPage, root)
	rootPage.Unlock()
	if err != nil {
		bp.UnpinPage(rootPage.ID, false)
		return nil, err
	}
	if err := bp.UnpinPage(rootPage.ID, true); err != nil {
		return nil, err
	}

	sentinelPage := bp.NewPageAt(t.sentinel, fileID, dbtypes.PageTypeBPlusNode)
	sentinel := &Node{pageID: t.sentinel, nodeType: NodeLeaf, parent: dbtypes.InvalidPageID, next: rootPage.ID, prev: rootPage.ID}
	sentinelPage.Lock()
	err = t.encodeNode(sentinelPage, sentinel)
	sentinelPage.Unlock()
	if err != nil {
		bp.UnpinPage(sentinelPage.ID, false)
		return nil, err
	}
	if err := bp.UnpinPage(sentinelPage.ID, true); err != nil {
		return nil, err
	}

	t.root = rootPage.ID
	if err := dm.WriteRootID(fileID, t.root); err != nil {
		return nil, err
	}
	return t, nil
}

// Open reopens an existing index file, restoring its root pointer from
// the metadata page and reattaching to the leaf-ring sentinel at local
// page 1.
func Open(filePath string, fileID uint32, keySpecs []value.ColSpec, bp *bufferpool.Pool, dm *diskmgr.Manager) (*Tree, error) {
	if _, err := dm.OpenFileWithID(filePath, fileID); err != nil {
		return nil, errors.Wrap(err, "bplus: open file")
	}
	rootID, err := dm.ReadRootID(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "bplus: read root id")
	}
	fd, err := dm.FileDescriptor(fileID)
	if err != nil {
		return nil, err
	}
	for localPage := int64(0); localPage < fd.NextPageID; localPage++ { // pages 0-1 are header/sentinel
		dm.RegisterPage(fileID, localPage)
	}
	return &Tree{
		fileID:      fileID,
		keySpecs:    keySpecs,
		bufferPool:  bp,
		diskManager: dm,
		root:        rootID,
		sentinel:    dm.GlobalPageID(fileID, 1),
	}, nil
}

// fetchNode pins pageID and returns both the raw frame (so the caller can
// latch and later re-serialize it) and its deserialized view.
func (t *Tree) fetchNode(pageID int64) (*page.Page, *Node, error) {
	pg, err := t.bufferPool.FetchPage(pageID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "bplus: fetch node %d", pageID)
	}
	pg.RLock()
	n, err := t.decodeNode(pg)
	pg.RUnlock()
	if err != nil {
		t.bufferPool.UnpinPage(pg.ID, false)
		return nil, nil, err
	}
	return pg, n, nil
}

// writeNode re-serializes n into pg's frame and marks the frame dirty.
// Caller must hold pg's write latch.
func (t *Tree) writeNode(pg *page.Page, n *Node) error {
	if err := t.encodeNode(pg, n); err != nil {
		return err
	}
	pg.IsDirty = true
	return nil
}

// newNode allocates a fresh, pinned page for a new node. The page is not
// latched.
func (t *Tree) newNode(nt NodeType) (*page.Page, *Node, error) {
	pg, err := t.bufferPool.NewPage(t.fileID, dbtypes.PageTypeBPlusNode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "bplus: allocate node")
	}
	n := &Node{pageID: pg.ID, nodeType: nt, parent: dbtypes.InvalidPageID, next: dbtypes.InvalidPageID}
	return pg, n, nil
}
