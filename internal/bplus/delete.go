package bplus

import (
	"github.com/pkg/errors"

	"txndb/internal/dbtypes"
	"txndb/internal/value"
)

// ErrNotFound is returned by Delete when (key, ptr) is not present.
var ErrNotFound = errors.New("bplus: entry not found")

// Delete removes the (key, ptr) entry, merging or borrowing from a
// sibling as needed to maintain the minimum occupancy invariant, and
// propagating the resulting separator change up the tree.
//
// Grounded on the teacher's Deletion/coalesce-or-redistribute logic,
// driven by findLeafPage's OpDelete descent (ancestors are retained
// exactly when a child could underflow) instead of a tree-wide lock.
func (t *Tree) Delete(key value.Key, ptr dbtypes.RowPointer) error {
	leaf, ancestors, err := t.findLeafPage(key, OpDelete)
	if err != nil {
		return err
	}

	n := leaf.node
	want := EncodeRowPointer(ptr)
	idx := -1
	for i, k := range n.keys {
		if value.CompareKeys(k, key) == 0 && string(n.values[i]) == string(want) {
			idx = i
			break
		}
	}
	if idx < 0 {
		leaf.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return ErrNotFound
	}
	n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
	n.values = append(n.values[:idx], n.values[idx+1:]...)

	if len(ancestors) == 0 {
		// No ancestor was retained: the leaf is the root, or it held more
		// than MinKeys before this removal, so it cannot underflow.
		err := t.writeNode(leaf.pg, n)
		leaf.release(t.bufferPool)
		return err
	}
	if len(n.keys) >= MinKeys {
		err := t.writeNode(leaf.pg, n)
		leaf.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return err
	}

	return t.rebalance(leaf, ancestors)
}

// rebalance resolves an underflowed node (leaf.node) by borrowing from a
// sibling or merging with one, consulting the immediate parent
// (ancestors[len-1]) for sibling identity and the separator key. A merge
// can underflow the parent in turn, in which case the same resolution is
// applied one level up using the rest of the ancestor stack.
func (t *Tree) rebalance(node *heldLatch, ancestors []*heldLatch) error {
	i := len(ancestors) - 1
	parentLatch := ancestors[i]
	parent := parentLatch.node

	childIdx := indexOfChild(parent, node.pg.ID)
	if childIdx < 0 {
		releaseAll(t.bufferPool, append([]*heldLatch{node}, ancestors...)...)
		return errors.New("bplus: rebalance lost its child pointer")
	}

	var siblingID int64
	siblingOnRight := childIdx == 0
	if siblingOnRight {
		siblingID = parent.children[childIdx+1]
	} else {
		siblingID = parent.children[childIdx-1]
	}
	siblingPage, err := t.bufferPool.FetchPage(siblingID)
	if err != nil {
		releaseAll(t.bufferPool, append([]*heldLatch{node}, ancestors...)...)
		return errors.Wrap(err, "bplus: fetch sibling")
	}
	siblingPage.Lock()
	sibling, derr := t.decodeNode(siblingPage)
	if derr != nil {
		siblingPage.Unlock()
		t.bufferPool.UnpinPage(siblingPage.ID, false)
		releaseAll(t.bufferPool, append([]*heldLatch{node}, ancestors...)...)
		return derr
	}

	if len(sibling.keys) > MinKeys {
		werr := t.borrow(node, sibling, parent, childIdx, siblingOnRight)
		if werr == nil {
			werr = t.writeNode(node.pg, node.node)
		}
		if werr == nil {
			werr = t.writeNode(siblingPage, sibling)
		}
		if werr == nil {
			werr = t.writeNode(parentLatch.pg, parent)
		}
		siblingPage.Unlock()
		t.bufferPool.UnpinPage(siblingPage.ID, true)
		node.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return werr
	}

	// Merge node into sibling (or sibling into node, normalized so the
	// left one absorbs the right), then remove the separator+child from
	// the parent.
	leftLatch, leftNode, rightLatch, rightNode := node.pg, node.node, siblingPage, sibling
	removeIdx := childIdx
	if siblingOnRight {
		removeIdx = childIdx
	} else {
		leftLatch, leftNode, rightLatch, rightNode = siblingPage, sibling, node.pg, node.node
		removeIdx = childIdx - 1
	}
	if leftNode.nodeType == NodeInternal {
		// The parent's separator for the pair moves down between left's
		// keys and right's keys, keeping children = keys+1.
		leftNode.keys = append(leftNode.keys, parent.keys[removeIdx])
	}
	if err := t.mergeNodes(leftNode, rightNode); err != nil {
		siblingPage.Unlock()
		t.bufferPool.UnpinPage(siblingPage.ID, false)
		node.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return err
	}
	if err := t.writeNode(leftLatch, leftNode); err != nil {
		siblingPage.Unlock()
		t.bufferPool.UnpinPage(siblingPage.ID, false)
		node.release(t.bufferPool)
		for _, a := range ancestors {
			a.release(t.bufferPool)
		}
		return err
	}
	siblingPage.Unlock()
	t.bufferPool.UnpinPage(siblingPage.ID, true)
	node.release(t.bufferPool)
	if err := t.bufferPool.DeletePage(rightLatch.ID); err != nil {
		return errors.Wrap(err, "bplus: delete merged page")
	}

	parent.keys = append(parent.keys[:removeIdx], parent.keys[removeIdx+1:]...)
	parent.children = append(parent.children[:removeIdx+1], parent.children[removeIdx+2:]...)

	if i == 0 {
		// parentLatch's parent is the root-boundary: if parent underflows
		// and it IS the root, shrink the tree by adopting leftNode as root.
		if len(parent.keys) == 0 && parent.nodeType == NodeInternal {
			return t.shrinkRoot(parentLatch, leftLatch.ID)
		}
		err := t.writeNode(parentLatch.pg, parent)
		parentLatch.release(t.bufferPool)
		return err
	}
	if len(parent.keys) >= MinKeys {
		err := t.writeNode(parentLatch.pg, parent)
		parentLatch.release(t.bufferPool)
		for _, a := range ancestors[:i] {
			a.release(t.bufferPool)
		}
		return err
	}
	return t.rebalance(parentLatch, ancestors[:i])
}

// borrow moves one entry from sibling into node and fixes up the
// separator key in parent, per the standard B+-tree redistribution step.
// When the moved entry is a child pointer (internal nodes), the child's
// own stored parent is updated to match via maintain_child.
func (t *Tree) borrow(node *heldLatch, sibling, parent *Node, childIdx int, siblingOnRight bool) error {
	n := node.node
	if siblingOnRight {
		if n.nodeType == NodeLeaf {
			n.keys = append(n.keys, sibling.keys[0])
			n.values = append(n.values, sibling.values[0])
			sibling.keys = sibling.keys[1:]
			sibling.values = sibling.values[1:]
			parent.keys[childIdx] = sibling.keys[0]
			return nil
		}
		movedChild := sibling.children[0]
		n.keys = append(n.keys, parent.keys[childIdx])
		n.children = append(n.children, movedChild)
		parent.keys[childIdx] = sibling.keys[0]
		sibling.keys = sibling.keys[1:]
		sibling.children = sibling.children[1:]
		return t.maintainChild(movedChild, n.pageID)
	}
	if n.nodeType == NodeLeaf {
		last := len(sibling.keys) - 1
		n.keys = insertKeyAt(n.keys, 0, sibling.keys[last])
		n.values = insertValueAt(n.values, 0, sibling.values[last])
		sibling.keys = sibling.keys[:last]
		sibling.values = sibling.values[:last]
		parent.keys[childIdx-1] = n.keys[0]
		return nil
	}
	last := len(sibling.keys) - 1
	movedChild := sibling.children[last+1]
	n.keys = insertKeyAt(n.keys, 0, parent.keys[childIdx-1])
	n.children = insertChildAt(n.children, 0, movedChild)
	parent.keys[childIdx-1] = sibling.keys[last]
	sibling.keys = sibling.keys[:last]
	sibling.children = sibling.children[:last+1]
	return t.maintainChild(movedChild, n.pageID)
}

// mergeNodes folds right's entries into left (left is the lower-keyed
// node of the pair). Leaf merges splice right out of the leaf ring,
// repointing right's former successor's prev back at left; internal
// merges expect the caller to have already appended the parent's
// separator to left.keys, and run maintain_child over right's relocated
// children.
func (t *Tree) mergeNodes(left, right *Node) error {
	if left.nodeType == NodeLeaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		succID := right.next
		left.next = right.next
		return t.linkSuccessorPrev(succID, left.pageID)
	}
	if err := t.maintainChildren(right.children, left.pageID); err != nil {
		return err
	}
	left.keys = append(left.keys, right.keys...)
	left.children = append(left.children, right.children...)
	return nil
}

// shrinkRoot is reached when the root internal node is left with zero
// keys after a merge: its sole remaining child becomes the new root, and
// no longer has a parent.
func (t *Tree) shrinkRoot(oldRoot *heldLatch, newRootID int64) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()
	if err := t.maintainChild(newRootID, dbtypes.InvalidPageID); err != nil {
		oldRoot.release(t.bufferPool)
		return err
	}
	t.root = newRootID
	err := t.diskManager.WriteRootID(t.fileID, t.root)
	oldRoot.release(t.bufferPool)
	return err
}
