package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const SegmentSize = 16 * 1024 * 1024

// segment is one append-only WAL file, grounded on the teacher's
// wal_manager.WALSegment — carried over essentially unchanged, since
// durable append/sync is exactly the ambient concern this module keeps.
type segment struct {
	id       uint64
	filePath string
	file     *os.File
	size     int64
	mu       sync.Mutex
}

func newSegment(id uint64, dir string) *segment {
	return &segment{id: id, filePath: filepath.Join(dir, fmt.Sprintf("wal_%016x.log", id))}
}

func (s *segment) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "wal: open segment")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "wal: stat segment")
	}
	s.file = f
	s.size = stat.Size()
	return nil
}

func (s *segment) append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("wal: segment not opened")
	}
	n, err := s.file.Write(data)
	if err != nil {
		return errors.Wrap(err, "wal: append")
	}
	s.size += int64(n)
	return nil
}

func (s *segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("wal: segment not opened")
	}
	return s.file.Sync()
}

func (s *segment) isFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= SegmentSize
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
