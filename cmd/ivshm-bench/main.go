// ivshm-bench drives a write/verify workload between two peers attached to
// the same shared memory fabric. The initiator writes a seeded payload and
// rings the responder's semaphore doorbell; the responder verifies the
// payload through its own mapping, writes the complement back, and rings
// the initiator's event doorbell. Throughput covers both directions.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	ivshm "github.com/tinyrange/ivshm"
	"github.com/tinyrange/ivshm/internal/config"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	segmentPath := flag.String("segment", "", "backing file for the shared segment (default anonymous)")
	segmentSize := flag.Int64("size", 0, "segment size in bytes")
	loops := flag.Int("loops", 0, "number of round trips")
	payload := flag.Int64("payload", 0, "payload bytes per round trip")
	tracePath := flag.String("trace", "", "record doorbells to a binary trace file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	if *segmentPath != "" {
		cfg.SegmentPath = *segmentPath
	}
	if *segmentSize > 0 {
		cfg.SegmentSize = *segmentSize
	}
	if *loops > 0 {
		cfg.Loops = *loops
	}
	if *payload > 0 {
		cfg.PayloadBytes = *payload
	}
	if *tracePath != "" {
		cfg.TracePath = *tracePath
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := []ivshm.FabricOption{}
	if cfg.SegmentPath != "" {
		opts = append(opts, ivshm.WithSegmentFile(cfg.SegmentPath))
	}
	if cfg.TracePath != "" {
		opts = append(opts, ivshm.WithTraceFile(cfg.TracePath))
	}
	fab, err := ivshm.NewFabric(cfg.SegmentSize, opts...)
	if err != nil {
		return err
	}
	defer fab.Close()

	initiator, err := fab.Attach()
	if err != nil {
		return fmt.Errorf("attach initiator: %w", err)
	}
	responder, err := fab.Attach()
	if err != nil {
		return fmt.Errorf("attach responder: %w", err)
	}

	ctx := context.Background()
	initPos, err := initiator.Ioctl(ctx, ivshm.CmdReadPosition, 0)
	if err != nil {
		return err
	}
	respPos, err := responder.Ioctl(ctx, ivshm.CmdReadPosition, 0)
	if err != nil {
		return err
	}
	slog.Info("fabric ready",
		"initiator", initPos, "responder", respPos,
		"segment", cfg.SegmentSize, "payload", cfg.PayloadBytes, "loops", cfg.Loops)

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(cfg.Loops), "round trips")
		defer bar.Close()
	}

	respErr := make(chan error, 1)
	go func() { respErr <- respond(ctx, responder, initPos, cfg) }()

	start := time.Now()
	if err := initiate(ctx, initiator, respPos, cfg, bar); err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	if err := <-respErr; err != nil {
		return fmt.Errorf("responder: %w", err)
	}
	elapsed := time.Since(start)

	if cfg.SegmentPath != "" {
		if err := fab.Segment().Sync(); err != nil {
			return fmt.Errorf("sync segment: %w", err)
		}
	}

	moved := int64(cfg.Loops) * cfg.PayloadBytes * 2
	fmt.Printf("%d round trips, %d bytes in %v (%.2f MB/s)\n",
		cfg.Loops, moved, elapsed.Round(time.Millisecond),
		float64(moved)/elapsed.Seconds()/(1<<20))
	return nil
}

// initiate runs the driving side: write the seeded payload, ring the
// responder, wait for the event ack, verify the complement.
func initiate(ctx context.Context, d *ivshm.Driver, peer uint32, cfg config.Config, bar *progressbar.ProgressBar) error {
	f, err := d.Open(ivshm.Minor)
	if err != nil {
		return err
	}
	defer f.Close()

	// The window size comes from the device file itself, not the config.
	window, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if window < cfg.PayloadBytes {
		return fmt.Errorf("payload %d exceeds the %d byte window", cfg.PayloadBytes, window)
	}

	out := make([]byte, cfg.PayloadBytes)
	in := make([]byte, cfg.PayloadBytes)
	for loop := 0; loop < cfg.Loops; loop++ {
		fillPayload(out, byte(loop))
		if _, err := f.WriteAt(out, 0); err != nil {
			return fmt.Errorf("loop %d write: %w", loop, err)
		}
		if _, err := d.Ioctl(ctx, ivshm.CmdSemaDoorbell, peer); err != nil {
			return fmt.Errorf("loop %d ring: %w", loop, err)
		}
		if _, err := d.Ioctl(ctx, ivshm.CmdWaitEvent, 0); err != nil {
			return fmt.Errorf("loop %d wait: %w", loop, err)
		}
		if _, err := f.ReadAt(in, 0); err != nil {
			return fmt.Errorf("loop %d read: %w", loop, err)
		}
		for i := range in {
			if in[i] != ^out[i] {
				return fmt.Errorf("loop %d: byte %d is %#x, want %#x", loop, i, in[i], ^out[i])
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return nil
}

// respond runs the echoing side through a direct mapping of the window:
// wait for the semaphore, verify the seeded payload, write the complement
// in place, ring the event doorbell back.
func respond(ctx context.Context, d *ivshm.Driver, peer uint32, cfg config.Config) error {
	f, err := d.Open(ivshm.Minor)
	if err != nil {
		return err
	}
	defer f.Close()

	window, err := f.Mmap(0, cfg.PayloadBytes)
	if err != nil {
		return err
	}
	want := make([]byte, cfg.PayloadBytes)
	for loop := 0; loop < cfg.Loops; loop++ {
		if _, err := d.Ioctl(ctx, ivshm.CmdDownSema, 0); err != nil {
			return fmt.Errorf("loop %d down: %w", loop, err)
		}
		fillPayload(want, byte(loop))
		for i := range window {
			if window[i] != want[i] {
				return fmt.Errorf("loop %d: byte %d is %#x, want %#x", loop, i, window[i], want[i])
			}
			window[i] = ^window[i]
		}
		if _, err := d.Ioctl(ctx, ivshm.CmdWaitEventDoorbell, peer); err != nil {
			return fmt.Errorf("loop %d ring: %w", loop, err)
		}
	}
	return nil
}

// fillPayload writes a position-and-seed dependent pattern so stale data
// from an earlier loop never verifies.
func fillPayload(p []byte, seed byte) {
	for i := range p {
		p[i] = byte(i)*3 + seed
	}
}
