// Package trace records doorbell traffic as fixed-width binary records.
// Writers append lock-free by atomically claiming file offsets, so the hot
// routing path never serializes on the trace; records therefore land in
// claim order, which matches wall-clock order closely but not exactly.
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Disposition says what the interconnect did with a doorbell.
type Disposition uint8

const (
	DispositionInvalid Disposition = iota
	// Delivered means the tag was latched and the peer's interrupt pulsed.
	Delivered
	// Suppressed means the peer's interrupt mask was zero.
	Suppressed
	// DroppedNoPeer means no function holds the addressed position.
	DroppedNoPeer
)

func (d Disposition) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Suppressed:
		return "suppressed"
	case DroppedNoPeer:
		return "dropped-no-peer"
	default:
		return fmt.Sprintf("disposition(%d)", uint8(d))
	}
}

// Record is one doorbell observation.
//
// The wire layout is 16 bytes, little endian:
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - 4 bytes sender position
//   - 1 byte addressed peer
//   - 1 byte command tag
//   - 1 byte disposition
//   - 1 byte reserved, must be zero
type Record struct {
	Time        time.Time
	From        uint32
	Peer        uint8
	Tag         uint8
	Disposition Disposition
}

const recordSize = 16

func (r Record) encode() [recordSize]byte {
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Time.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:12], r.From)
	buf[12] = r.Peer
	buf[13] = r.Tag
	buf[14] = uint8(r.Disposition)
	return buf
}

func decodeRecord(buf [recordSize]byte) Record {
	return Record{
		Time:        time.Unix(0, int64(binary.LittleEndian.Uint64(buf[0:8]))),
		From:        binary.LittleEndian.Uint32(buf[8:12]),
		Peer:        buf[12],
		Tag:         buf[13],
		Disposition: Disposition(buf[14]),
	}
}

// Log appends doorbell records to an io.WriterAt.
type Log struct {
	w      io.WriterAt
	closer io.Closer
	off    atomic.Uint64
}

// NewLog traces into an arbitrary WriterAt. The caller keeps ownership of
// the writer.
func NewLog(w io.WriterAt) *Log {
	return &Log{w: w}
}

// Create traces into a file, truncating any previous run's records.
func Create(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create trace log: %w", err)
	}
	return &Log{w: f, closer: f}, nil
}

// Add appends one record, stamping it with the current time when unset.
// Safe for concurrent use; never blocks on other writers.
func (l *Log) Add(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	buf := r.encode()
	off := l.off.Add(recordSize) - recordSize
	if _, err := l.w.WriteAt(buf[:], int64(off)); err != nil {
		return fmt.Errorf("trace write at %#x: %w", off, err)
	}
	return nil
}

// Size returns the number of bytes claimed so far.
func (l *Log) Size() int64 { return int64(l.off.Load()) }

// Close closes the underlying writer if the log owns it.
func (l *Log) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Buffer is an in-memory WriterAt for capturing a trace without a file.
// Concurrent writers land in a sparse map; Bytes assembles the contiguous
// image.
type Buffer struct {
	mu   sync.Mutex
	data map[int64][]byte
	size int64
}

// WriteAt implements io.WriterAt.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[int64][]byte)
	}
	b.data[off] = append([]byte{}, p...)
	if end := off + int64(len(p)); end > b.size {
		b.size = end
	}
	return len(p), nil
}

// Bytes assembles the written spans into one contiguous image.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.size)
	for off, span := range b.data {
		copy(out[off:], span)
	}
	return out
}

// Each decodes records from a raw trace image in the order they were
// claimed. A trailing partial record means a writer was cut off mid-append
// and is reported as an error.
func Each(image []byte, fn func(Record) error) error {
	if len(image)%recordSize != 0 {
		return fmt.Errorf("trace image of %d bytes is not record aligned", len(image))
	}
	var buf [recordSize]byte
	for off := 0; off < len(image); off += recordSize {
		copy(buf[:], image[off:])
		r := decodeRecord(buf)
		if r.Disposition == DispositionInvalid {
			return fmt.Errorf("invalid record at %#x", off)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// EachPeer is Each filtered to doorbells addressed to one peer.
func EachPeer(image []byte, peer uint8, fn func(Record) error) error {
	return Each(image, func(r Record) error {
		if r.Peer != peer {
			return nil
		}
		return fn(r)
	})
}

// Count tallies records per disposition.
func Count(image []byte) (map[Disposition]int, error) {
	counts := make(map[Disposition]int)
	err := Each(image, func(r Record) error {
		counts[r.Disposition]++
		return nil
	})
	return counts, err
}

// Load reads a trace file back into an image for Each/Count.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load trace log: %w", err)
	}
	return data, nil
}
