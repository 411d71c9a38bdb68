package driver

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tinyrange/ivshm/internal/shmem"
)

// Minor is the single recognized device minor.
const Minor = 0

// Open returns a device file handle. Only the single recognized minor
// exists; anything else fails with ErrNoSuchDevice and mutates nothing.
func (d *Driver) Open(minor uint32) (*File, error) {
	if minor != Minor {
		return nil, fmt.Errorf("minor %d: %w", minor, ErrNoSuchDevice)
	}
	return &File{drv: d}, nil
}

// File is one open descriptor on the device. It carries its own offset;
// reads and writes move through the shared memory window with lengths
// silently clamped to the window end.
type File struct {
	drv *Driver

	mu  sync.Mutex
	pos int64
}

var (
	_ io.Reader   = (*File)(nil)
	_ io.Writer   = (*File)(nil)
	_ io.Seeker   = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
	_ io.WriterAt = (*File)(nil)
	_ io.Closer   = (*File)(nil)
)

// Read copies from the shared memory window at the current offset. A read
// starting at the window end returns io.EOF.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.drv.readAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// ReadAt implements io.ReaderAt against the shared memory window.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.drv.readAt(p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Write copies into the shared memory window at the current offset. Writes
// are clamped to the window; a fully clamped write is a successful
// zero-byte operation.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.drv.writeAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// WriteAt implements io.WriterAt against the shared memory window.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	return f.drv.writeAt(p, off)
}

// Seek repositions the descriptor. The resulting offset is clamped into
// [0, windowSize]; out-of-range requests are clamped silently rather than
// rejected.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	size := f.drv.windowSize()

	f.mu.Lock()
	defer f.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.pos + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return f.pos, fmt.Errorf("seek: whence %d: %w", whence, ErrInvalidArgument)
	}
	if next < 0 {
		next = 0
	}
	if next > size {
		next = size
	}
	f.pos = next
	return next, nil
}

// Mmap maps a span of the shared memory window. The offset must be page
// aligned and the page-aligned span must fit the window; the returned slice
// aliases the mapping directly, so writes are immediately visible to every
// other mapper, including peers.
func (f *File) Mmap(offset, length int64) ([]byte, error) {
	st := f.drv.state.Load()
	if st == nil || st.shared == nil {
		return nil, fmt.Errorf("mmap: shared memory window unmapped: %w", ErrNoSuchDevice)
	}
	if length <= 0 {
		return nil, fmt.Errorf("mmap: length %d: %w", length, ErrInvalidArgument)
	}
	page := shmem.PageSize()
	if offset < 0 || offset%page != 0 {
		return nil, fmt.Errorf("mmap: offset %#x not page aligned: %w", offset, ErrInvalidArgument)
	}

	span := shmem.PageAlign(length)
	window := shmem.PageAlign(int64(st.sharedSize))
	if offset+span > window {
		return nil, fmt.Errorf("mmap: span %#x at %#x exceeds window %#x: %w",
			span, offset, window, ErrInvalidArgument)
	}

	end := offset + length
	if end > int64(len(st.shared)) {
		end = int64(len(st.shared))
	}
	return st.shared[offset:end], nil
}

// Ioctl dispatches a device command through this descriptor.
func (f *File) Ioctl(ctx context.Context, cmd Command, arg uint32) (uint32, error) {
	return f.drv.Ioctl(ctx, cmd, arg)
}

// Close releases the descriptor. No per-open resources exist, so it always
// succeeds.
func (f *File) Close() error { return nil }

func (d *Driver) windowSize() int64 {
	st := d.state.Load()
	if st == nil {
		return 0
	}
	return int64(st.sharedSize)
}

func (d *Driver) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at offset %d: %w", off, ErrFault)
	}
	st := d.state.Load()
	if st == nil || st.shared == nil {
		d.logger.Error("read from unmapped shared memory window")
		return 0, io.EOF
	}
	remain := int64(len(st.shared)) - off
	if remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	return copy(p, st.shared[off:]), nil
}

func (d *Driver) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write at offset %d: %w", off, ErrFault)
	}
	st := d.state.Load()
	if st == nil || st.shared == nil {
		d.logger.Error("write to unmapped shared memory window")
		return 0, nil
	}
	remain := int64(len(st.shared)) - off
	if remain <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remain {
		p = p[:remain]
	}
	return copy(st.shared[off:], p), nil
}
