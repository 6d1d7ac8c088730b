// Package bplus implements spec.md's B+-Tree Node (§4.C) and B+-Tree
// Index (§4.D): a disk-backed B+-tree keyed on composite column-major
// keys, with latch crabbing so concurrent readers and writers can
// traverse the same tree without a single tree-wide lock.
//
// Grounded on the teacher's
// storage_engine/access/indexfile_manager/bplustree package for node
// layout, split/merge arithmetic, and the buffer-pool-mediated node
// lifecycle — but the teacher's single t.mu sync.RWMutex serializing the
// whole tree is replaced with per-page latching driven by
// find_leaf_page's crabbing protocol
// (original_source/src/index/ix_index_handle.cpp), which the teacher
// never implemented.
package bplus

import (
	"sync"

	"txndb/internal/bufferpool"
	"txndb/internal/diskmgr"
	"txndb/internal/value"
)

type NodeType int

const (
	NodeInternal NodeType = iota
	NodeLeaf
)

const (
	MaxKeys = 32
	MinKeys = MaxKeys / 2
)

// Node is the deserialized, in-memory view of one B+-tree page. It never
// owns its own latch — callers latch the underlying *page.Page (via
// bufferPool.FetchPage) and Node is only ever touched while that latch is
// held, matching the protocol in original_source's find_leaf_page.
type Node struct {
	pageID   int64
	nodeType NodeType
	keys     []value.Key
	children []int64  // internal only
	values   [][]byte // leaf only, one per key
	next     int64    // leaf only: forward leaf-ring pointer
	prev     int64    // leaf only: backward leaf-ring pointer
	parent   int64
}

// Tree is a single composite-key B+-tree index, backed by one file in
// the shared buffer pool / disk manager.
type Tree struct {
	fileID      uint32
	keySpecs    []value.ColSpec
	bufferPool  *bufferpool.Pool
	diskManager *diskmgr.Manager

	rootMu sync.RWMutex // protects only the root pointer, not tree structure
	root   int64

	// sentinel is the leaf-ring anchor page (always local page 1, per
	// diskmgr.ReserveLocalPages): its next/prev fields hold the first and
	// last leaf page IDs, closing the doubly-linked leaf chain into a
	// ring, per original_source's file_hdr_ first_leaf_/last_leaf_.
	sentinel int64
}

func (t *Tree) cmp(a, b value.Key) int { return value.CompareKeys(a, b) }
