// Package interconnect models the hypervisor side of the inter-VM shared
// memory device: a fabric that hands out PCI-like functions, assigns each a
// peer position, and routes doorbell writes from one function to another as
// interrupts. It is the in-process stand-in for the virtual hardware the
// driver attaches to.
package interconnect

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/ivshm/internal/regs"
	"github.com/tinyrange/ivshm/internal/shmem"
	"github.com/tinyrange/ivshm/internal/trace"
)

// Hardware identity of the inter-VM shared memory device.
const (
	VendorID uint16 = 0x1af4
	DeviceID uint16 = 0x1110
)

// BAR indices exposed by each function.
const (
	BARRegisters = 0 // register window
	BARShared    = 2 // shared memory window
)

const maxFunctions = 256 // peer IDs are 8 bits on the doorbell wire

var (
	ErrClosed    = errors.New("interconnect closed")
	ErrNoVectors = errors.New("no interrupt vectors available")
	ErrExhausted = errors.New("no free peer positions")
)

// Option configures an Interconnect.
type Option func(*Interconnect)

// WithVectorBudget sets how many dedicated interrupt vectors each function
// may allocate. Zero forces drivers onto the legacy shared line.
func WithVectorBudget(n int) Option {
	return func(ic *Interconnect) { ic.vectorBudget = n }
}

// WithLogger overrides the interconnect's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ic *Interconnect) {
		if logger != nil {
			ic.logger = logger
		}
	}
}

// WithTrace records every doorbell and its disposition to the log. The
// caller keeps ownership of the log.
func WithTrace(tr *trace.Log) Option {
	return func(ic *Interconnect) { ic.trace = tr }
}

// Interconnect owns the shared memory segment and the set of attached
// functions, and routes doorbells between them.
type Interconnect struct {
	seg          *shmem.Segment
	vectorBudget int
	logger       *slog.Logger
	trace        *trace.Log

	mu      sync.Mutex
	funcs   map[uint32]*Function
	nextPos uint32
	closed  bool
}

// New builds an interconnect over the supplied segment. The caller keeps
// ownership of the segment.
func New(seg *shmem.Segment, opts ...Option) *Interconnect {
	ic := &Interconnect{
		seg:          seg,
		vectorBudget: 1,
		logger:       slog.Default(),
		funcs:        make(map[uint32]*Function),
	}
	for _, opt := range opts {
		opt(ic)
	}
	return ic
}

// Attach creates a new function with the next free peer position and the
// inter-VM shared memory identity.
func (ic *Interconnect) Attach() (*Function, error) {
	return ic.AttachWithIdentity(VendorID, DeviceID)
}

// AttachWithIdentity creates a function carrying an arbitrary vendor/device
// pair. Drivers reject anything but the shared memory identity; this exists
// so that rejection path can be exercised.
func (ic *Interconnect) AttachWithIdentity(vendor, device uint16) (*Function, error) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.closed {
		return nil, ErrClosed
	}
	if len(ic.funcs) >= maxFunctions {
		return nil, ErrExhausted
	}
	for ic.funcs[ic.nextPos] != nil {
		ic.nextPos = (ic.nextPos + 1) % maxFunctions
	}
	pos := ic.nextPos
	ic.nextPos = (ic.nextPos + 1) % maxFunctions

	fn := newFunction(ic, pos, vendor, device)
	ic.funcs[pos] = fn
	ic.logger.Debug("function attached",
		"position", pos, "vendor", fmt.Sprintf("%#04x", vendor), "device", fmt.Sprintf("%#04x", device))
	return fn, nil
}

// Detach removes the function from the fabric and stops its interrupt
// delivery. Safe to call more than once.
func (ic *Interconnect) Detach(fn *Function) {
	if fn == nil {
		return
	}
	ic.mu.Lock()
	if ic.funcs[fn.pos] == fn {
		delete(ic.funcs, fn.pos)
	}
	ic.mu.Unlock()
	fn.Disable()
}

// Close detaches every function. The segment is left for the owner to close.
func (ic *Interconnect) Close() error {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil
	}
	ic.closed = true
	funcs := make([]*Function, 0, len(ic.funcs))
	for _, fn := range ic.funcs {
		funcs = append(funcs, fn)
	}
	ic.funcs = make(map[uint32]*Function)
	ic.mu.Unlock()

	for _, fn := range funcs {
		fn.Disable()
	}
	return nil
}

// ring routes a doorbell write: the command tag lands in the target peer's
// status register and the target's interrupt line is pulsed. Unknown peers
// are dropped; a zero interrupt mask suppresses delivery.
func (ic *Interconnect) ring(from uint32, msg uint32) {
	peer, tag := regs.DecodeDoorbell(msg)

	ic.mu.Lock()
	target := ic.funcs[uint32(peer)]
	ic.mu.Unlock()

	if target == nil {
		ic.traceDoorbell(from, peer, tag, trace.DroppedNoPeer)
		ic.logger.Debug("doorbell to unknown peer dropped",
			"from", from, "peer", peer, "tag", tag)
		return
	}
	if target.regs.Mask() == 0 {
		ic.traceDoorbell(from, peer, tag, trace.Suppressed)
		ic.logger.Debug("doorbell suppressed by interrupt mask",
			"from", from, "peer", peer, "tag", tag)
		return
	}
	ic.traceDoorbell(from, peer, tag, trace.Delivered)
	target.regs.SetStatus(uint32(tag))
	target.irq.Pulse()
}

func (ic *Interconnect) traceDoorbell(from uint32, peer, tag uint8, disp trace.Disposition) {
	if ic.trace == nil {
		return
	}
	err := ic.trace.Add(trace.Record{From: from, Peer: peer, Tag: tag, Disposition: disp})
	if err != nil {
		ic.logger.Error("doorbell trace write failed", "err", err)
	}
}
