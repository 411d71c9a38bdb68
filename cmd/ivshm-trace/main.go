// ivshm-trace inspects binary doorbell trace files recorded by the
// interconnect (the bench -trace flag, or WithTraceFile).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/ivshm/internal/trace"
)

func run() error {
	summary := flag.Bool("summary", false, "print per-disposition counts instead of entries")
	peer := flag.Int("peer", -1, "only show doorbells addressed to this peer")
	limit := flag.Int("limit", 100, "max entries to print (0 for unlimited)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ivshm-trace - inspect binary doorbell trace files

USAGE:
  ivshm-trace [flags] <filename>

FLAGS:
  -summary       Print counts per disposition (delivered/suppressed/dropped)
  -peer N        Only show doorbells addressed to peer N
  -limit N       Max entries to print (default: 100, 0 for unlimited)

OUTPUT FORMAT:
  Each entry is printed as: TIMESTAMP FROM->PEER tag=N DISPOSITION
  Timestamps are RFC3339Nano format.

EXAMPLES:
  ivshm-trace doorbells.trace           Show the first 100 doorbells
  ivshm-trace -summary doorbells.trace  Count doorbells per disposition
  ivshm-trace -peer 1 doorbells.trace   Doorbells addressed to peer 1
`)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one trace file")
	}
	image, err := trace.Load(flag.Arg(0))
	if err != nil {
		return err
	}

	if *summary {
		counts, err := trace.Count(image)
		if err != nil {
			return err
		}
		total := 0
		for disp, n := range counts {
			fmt.Printf("%-16s %d\n", disp, n)
			total += n
		}
		fmt.Printf("%-16s %d\n", "total", total)
		return nil
	}

	printed := 0
	each := func(r trace.Record) error {
		if *limit > 0 && printed >= *limit {
			return fmt.Errorf("more than %d entries, raise -limit or use -summary", *limit)
		}
		fmt.Printf("%s %d->%d tag=%d %s\n",
			r.Time.Format(time.RFC3339Nano), r.From, r.Peer, r.Tag, r.Disposition)
		printed++
		return nil
	}
	if *peer >= 0 {
		return trace.EachPeer(image, uint8(*peer), each)
	}
	return trace.Each(image, each)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
