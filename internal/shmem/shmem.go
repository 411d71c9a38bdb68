// Package shmem provides the shared memory window backing the inter-VM
// shared memory device. A Segment is a MAP_SHARED mapping of a regular file
// (visible to every process that maps the same file) or an anonymous mapping
// for single-process use. The driver imposes no structure on the window;
// its layout belongs entirely to the user-space protocol.
package shmem

import (
	"fmt"
	"os"
	"sync"
)

// MinSize is the smallest segment the interconnect will accept.
const MinSize = 0x1000

// Segment is a mapped shared memory window.
type Segment struct {
	mu     sync.Mutex
	file   *os.File // nil for anonymous segments
	mem    []byte
	path   string
	closed bool
}

// Open creates (or opens) the file at path, grows it to size and maps it
// shared. Size is rounded up to the page size.
func Open(path string, size int64) (*Segment, error) {
	if size < MinSize {
		return nil, fmt.Errorf("segment size %d below minimum %d", size, MinSize)
	}
	size = pageAlign(size)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("resize segment file: %w", err)
	}
	mem, err := mapFile(f, int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map segment: %w", err)
	}
	return &Segment{file: f, mem: mem, path: path}, nil
}

// OpenAnonymous maps an anonymous shared memory window. Size is rounded up
// to the page size.
func OpenAnonymous(size int64) (*Segment, error) {
	if size < MinSize {
		return nil, fmt.Errorf("segment size %d below minimum %d", size, MinSize)
	}
	size = pageAlign(size)

	mem, err := mapAnonymous(int(size))
	if err != nil {
		return nil, fmt.Errorf("map anonymous segment: %w", err)
	}
	return &Segment{mem: mem}, nil
}

// Bytes returns the mapped window. The slice aliases the mapping directly;
// writes are immediately visible to every other mapper.
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem
}

// Size returns the mapped window size in bytes.
func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.mem))
}

// Path returns the backing file path, or "" for anonymous segments.
func (s *Segment) Path() string { return s.path }

// Sync flushes the mapping to the backing file. No-op for anonymous
// segments.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.file == nil {
		return nil
	}
	return syncMapping(s.mem)
}

// Close unmaps the window and closes the backing file. Idempotent.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if s.mem != nil {
		if err := unmapMemory(s.mem); err != nil {
			firstErr = fmt.Errorf("unmap segment: %w", err)
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close segment file: %w", err)
		}
		s.file = nil
	}
	return firstErr
}

// PageSize returns the system page size used for alignment.
func PageSize() int64 {
	return int64(os.Getpagesize())
}

// PageAlign rounds n up to the next page boundary.
func PageAlign(n int64) int64 {
	return pageAlign(n)
}

func pageAlign(n int64) int64 {
	page := int64(os.Getpagesize())
	return (n + page - 1) &^ (page - 1)
}
