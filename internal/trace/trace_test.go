package trace

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTraceRoundTrip(t *testing.T) {
	var buf Buffer
	log := NewLog(&buf)

	rec := Record{From: 3, Peer: 1, Tag: 7, Disposition: Delivered}
	if err := log.Add(rec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var seen []Record
	if err := Each(buf.Bytes(), func(r Record) error {
		seen = append(seen, r)
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected 1 record, got %d", len(seen))
	}
	got := seen[0]
	if got.From != 3 || got.Peer != 1 || got.Tag != 7 || got.Disposition != Delivered {
		t.Fatalf("decoded %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("record not timestamped")
	}
}

func TestTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doorbells.trace")
	log, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := log.Add(Record{From: uint32(i), Peer: 0, Tag: 2, Disposition: Delivered}); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	image, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	counts, err := Count(image)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if counts[Delivered] != 5 {
		t.Fatalf("delivered count = %d, want 5", counts[Delivered])
	}
}

func TestTraceConcurrentWriters(t *testing.T) {
	var buf Buffer
	log := NewLog(&buf)

	const writers, perWriter = 4, 32
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				log.Add(Record{From: uint32(w), Peer: uint8(w), Tag: 7, Disposition: Delivered})
			}
		}(w)
	}
	wg.Wait()

	total := 0
	if err := Each(buf.Bytes(), func(r Record) error {
		total++
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if total != writers*perWriter {
		t.Fatalf("records = %d, want %d", total, writers*perWriter)
	}

	perPeer := 0
	if err := EachPeer(buf.Bytes(), 2, func(r Record) error {
		if r.From != 2 {
			t.Fatalf("peer 2 record from %d", r.From)
		}
		perPeer++
		return nil
	}); err != nil {
		t.Fatalf("EachPeer: %v", err)
	}
	if perPeer != perWriter {
		t.Fatalf("peer 2 records = %d, want %d", perPeer, perWriter)
	}
}

func TestTraceRejectsTornImage(t *testing.T) {
	var buf Buffer
	log := NewLog(&buf)
	log.Add(Record{From: 1, Peer: 0, Tag: 7, Disposition: Delivered, Time: time.Now()})

	torn := buf.Bytes()[:recordSize-3]
	if err := Each(torn, func(Record) error { return nil }); err == nil {
		t.Fatal("expected error for a torn trace image")
	}
}
