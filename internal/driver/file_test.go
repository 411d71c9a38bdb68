package driver

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tinyrange/ivshm/internal/shmem"
)

func TestOpenUnknownMinor(t *testing.T) {
	d := New()
	if _, err := d.Open(3); !errors.Is(err, ErrNoSuchDevice) {
		t.Fatalf("open minor 3 error = %v, want ErrNoSuchDevice", err)
	}
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)

	f, err := d.Open(Minor)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	payload := []byte("shared memory window payload")
	n, err := f.Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("write = (%d, %v), want (%d, nil)", n, err, len(payload))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestFileClampsAtWindowEnd(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)
	size := int64(d.State().SharedSize())

	f, _ := d.Open(Minor)
	defer f.Close()

	// A span straddling the end is silently shortened.
	if _, err := f.Seek(-4, io.SeekEnd); err != nil {
		t.Fatalf("seek: %v", err)
	}
	n, err := f.Write(make([]byte, 16))
	if err != nil || n != 4 {
		t.Fatalf("straddling write = (%d, %v), want (4, nil)", n, err)
	}

	// At the very end: reads hit EOF, writes succeed with zero bytes.
	if pos, _ := f.Seek(0, io.SeekEnd); pos != size {
		t.Fatalf("seek end = %d, want %d", pos, size)
	}
	if n, err := f.Read(make([]byte, 8)); n != 0 || err != io.EOF {
		t.Fatalf("read at end = (%d, %v), want (0, EOF)", n, err)
	}
	if n, err := f.Write(make([]byte, 8)); n != 0 || err != nil {
		t.Fatalf("write at end = (%d, %v), want (0, nil)", n, err)
	}
}

func TestFileSeekSemantics(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)
	size := int64(d.State().SharedSize())

	f, _ := d.Open(Minor)
	defer f.Close()

	if pos, err := f.Seek(-10, io.SeekStart); err != nil || pos != 0 {
		t.Errorf("seek(-10, start) = (%d, %v), want (0, nil)", pos, err)
	}
	if pos, err := f.Seek(size+100, io.SeekStart); err != nil || pos != size {
		t.Errorf("seek past end = (%d, %v), want (%d, nil)", pos, err, size)
	}
	if pos, err := f.Seek(-size, io.SeekCurrent); err != nil || pos != 0 {
		t.Errorf("seek(-size, current) = (%d, %v), want (0, nil)", pos, err)
	}
	if _, err := f.Seek(0, 42); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad whence error = %v, want ErrInvalidArgument", err)
	}
}

func TestFileNegativeOffsets(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)

	f, _ := d.Open(Minor)
	defer f.Close()

	if _, err := f.ReadAt(make([]byte, 4), -1); !errors.Is(err, ErrFault) {
		t.Errorf("ReadAt(-1) error = %v, want ErrFault", err)
	}
	if _, err := f.WriteAt(make([]byte, 4), -1); !errors.Is(err, ErrFault) {
		t.Errorf("WriteAt(-1) error = %v, want ErrFault", err)
	}
}

func TestFileMmapBounds(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)
	size := int64(d.State().SharedSize())
	page := shmem.PageSize()

	f, _ := d.Open(Minor)
	defer f.Close()

	if _, err := f.Mmap(0, size); err != nil {
		t.Fatalf("mmap whole window: %v", err)
	}
	if _, err := f.Mmap(1, page); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unaligned offset error = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.Mmap(0, size+1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized span error = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.Mmap(shmem.PageAlign(size), page); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("offset past window error = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.Mmap(0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero length error = %v, want ErrInvalidArgument", err)
	}
}

func TestFileMmapAliasesWindow(t *testing.T) {
	ic := newTestFabric(t)
	d, _ := newAttachedDriver(t, ic)

	f, _ := d.Open(Minor)
	defer f.Close()

	m, err := f.Mmap(0, 64)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	copy(m, "through the mapping")

	got := make([]byte, len("through the mapping"))
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "through the mapping" {
		t.Fatalf("read %q through file after mmap write", got)
	}
}

func TestFileBeforeAttach(t *testing.T) {
	d := New()
	f, err := d.Open(Minor)
	if err != nil {
		t.Fatalf("open before attach: %v", err)
	}

	if n, err := f.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Errorf("read = (%d, %v), want (0, EOF)", n, err)
	}
	if n, err := f.Write(make([]byte, 4)); n != 0 || err != nil {
		t.Errorf("write = (%d, %v), want (0, nil)", n, err)
	}
	if _, err := f.Mmap(0, 64); !errors.Is(err, ErrNoSuchDevice) {
		t.Errorf("mmap error = %v, want ErrNoSuchDevice", err)
	}
}
