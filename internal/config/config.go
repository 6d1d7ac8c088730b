// Package config centralizes the tunables the teacher hard-codes as
// literals scattered across NewBufferPool call sites and page-size
// constants. This repo has no network/CLI surface (spec.md's Non-goals
// exclude both), so there is no file-format config loader to wire — a
// plain struct with the teacher's own literal defaults is what the
// ambient-stack expansion calls for here; see DESIGN.md for why no
// third-party config library (e.g. hashicorp/hcl, seen in the pack) has
// a component to attach to in this CORE-only scope.
package config

import "txndb/internal/dbtypes"

type Config struct {
	// BufferPoolCapacity is the number of 4KB frames the buffer pool may
	// hold pinned+clean at once before ristretto starts evicting clean
	// pages.
	BufferPoolCapacity int

	// HeapPageSize is the heap page size in bytes (default
	// dbtypes.PageSize). heap.computeLayout sizes pages from
	// dbtypes.PageSize and does not read this field.
	HeapPageSize int

	// WALSegmentSize is the size in bytes of one WAL segment file
	// (default 16 MiB, equal to wal.SegmentSize). wal.Manager rolls to the
	// next segment at its own SegmentSize constant and does not read this
	// field.
	WALSegmentSize int64
}

func Default() Config {
	return Config{
		BufferPoolCapacity: 256,
		HeapPageSize:       dbtypes.PageSize,
		WALSegmentSize:     16 << 20,
	}
}
