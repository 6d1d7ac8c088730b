package bplus

import (
	"github.com/pkg/errors"
)

// maintainChild rewrites child's stored parent pointer to newParent,
// fetching and write-latching it independently of the split/merge/borrow
// that relocated it. Grounded on original_source's maintain_child
// (ix_index_handle.cpp:793-802), which the teacher never implemented.
func (t *Tree) maintainChild(childID, newParent int64) error {
	pg, err := t.bufferPool.FetchPage(childID)
	if err != nil {
		return errors.Wrap(err, "bplus: fetch child for maintain_child")
	}
	pg.Lock()
	n, err := t.decodeNode(pg)
	if err != nil {
		pg.Unlock()
		t.bufferPool.UnpinPage(pg.ID, false)
		return err
	}
	n.parent = newParent
	err = t.writeNode(pg, n)
	pg.Unlock()
	if uerr := t.bufferPool.UnpinPage(pg.ID, true); err == nil {
		err = uerr
	}
	return err
}

func (t *Tree) maintainChildren(childIDs []int64, newParent int64) error {
	for _, id := range childIDs {
		if err := t.maintainChild(id, newParent); err != nil {
			return err
		}
	}
	return nil
}

// linkSuccessorPrev rewrites succID's prev leaf-ring pointer to newPrev.
// succID may be a real leaf or the ring sentinel — both decode through
// the same node codec, so no special-casing is needed. Called whenever a
// split or merge splices a node into or out of the leaf chain, to keep
// the doubly-linked ring's backward pointers consistent.
func (t *Tree) linkSuccessorPrev(succID, newPrev int64) error {
	pg, err := t.bufferPool.FetchPage(succID)
	if err != nil {
		return errors.Wrap(err, "bplus: fetch leaf-chain successor")
	}
	pg.Lock()
	n, err := t.decodeNode(pg)
	if err != nil {
		pg.Unlock()
		t.bufferPool.UnpinPage(pg.ID, false)
		return err
	}
	n.prev = newPrev
	err = t.writeNode(pg, n)
	pg.Unlock()
	if uerr := t.bufferPool.UnpinPage(pg.ID, true); err == nil {
		err = uerr
	}
	return err
}
