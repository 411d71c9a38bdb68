//go:build linux || darwin

package shmem

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func mapAnonymous(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}

func syncMapping(mem []byte) error {
	return unix.Msync(mem, unix.MS_SYNC)
}
