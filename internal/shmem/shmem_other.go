//go:build !linux && !darwin

package shmem

import (
	"fmt"
	"os"
)

// Heap-backed fallback. Anonymous segments work anywhere; file-backed
// cross-process sharing needs a real mmap and is unsupported here.

func mapFile(f *os.File, size int) ([]byte, error) {
	return nil, fmt.Errorf("file-backed segments unsupported on this platform")
}

func mapAnonymous(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory(mem []byte) error { return nil }

func syncMapping(mem []byte) error { return nil }
