// Package driver implements the guest side of the inter-VM shared memory
// device: attach/detach sequencing, interrupt-to-primitive routing, the
// command dispatcher and the device-file semantics over the shared memory
// window.
//
// The driver couples three execution domains: the function's interrupt
// dispatch goroutine (non-blocking), process-context callers of
// Ioctl/Read/Write/Mmap (which may block), and the unsynchronized shared
// memory window visible to every peer. Register access uses no software
// lock; the register file is atomic on both sides.
package driver

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/ivshm/internal/interconnect"
	"github.com/tinyrange/ivshm/internal/regs"
)

// deviceName is the owner string used for region and interrupt requests.
const deviceName = "ivshm"

// DeviceState holds everything acquired during a successful attach. Exactly
// one instance exists per attached driver; it is owned by the lifecycle
// methods and read (never mutated) by the interrupt router and dispatcher.
type DeviceState struct {
	fn         *interconnect.Function
	regSize    uint64
	shared     []byte
	sharedSize uint64

	vectors    []*interconnect.Vector
	releaseIRQ func()
	irqMode    string

	enabled bool
}

// SharedSize returns the shared memory window span in bytes.
func (st *DeviceState) SharedSize() uint64 { return st.sharedSize }

// IRQMode reports which acquisition strategy won: "vector" or "legacy".
func (st *DeviceState) IRQMode() string { return st.irqMode }

// Driver is the inter-VM shared memory guest driver.
type Driver struct {
	logger *slog.Logger

	mu    sync.Mutex // serializes Attach/Detach
	state atomic.Pointer[DeviceState]

	sema  semaphore
	event eventFlag
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger overrides the driver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New returns an unattached driver.
func New(opts ...Option) *Driver {
	d := &Driver{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attached reports whether the driver currently holds a device.
func (d *Driver) Attached() bool {
	return d.state.Load() != nil
}

// State returns the current device state, or nil when unattached.
func (d *Driver) State() *DeviceState {
	return d.state.Load()
}

// Attach probes the function and brings the device up: enable, reserve
// regions, map both windows, reset the synchronization primitives, acquire
// an interrupt, unmask. Any failing step unwinds everything acquired before
// it; no partially attached state is ever observable.
func (d *Driver) Attach(fn *interconnect.Function) error {
	if fn == nil {
		return fmt.Errorf("attach: function is nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Load() != nil {
		return ErrBusy
	}
	if fn.VendorID() != interconnect.VendorID || fn.DeviceID() != interconnect.DeviceID {
		return fmt.Errorf("identity %04x:%04x not recognized: %w",
			fn.VendorID(), fn.DeviceID(), ErrNoSuchDevice)
	}

	var undo []func()
	fail := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}

	if err := fn.Enable(); err != nil {
		return fail(fmt.Errorf("enable function: %w", err))
	}
	undo = append(undo, fn.Disable)

	if err := fn.RequestRegions(deviceName); err != nil {
		return fail(fmt.Errorf("request regions: %v: %w", err, ErrResourceUnavailable))
	}
	undo = append(undo, fn.ReleaseRegions)

	regSize := fn.BARSize(interconnect.BARRegisters)
	if regSize == 0 {
		return fail(fmt.Errorf("map register window: %w", ErrResourceUnavailable))
	}
	shared := fn.SharedBytes()
	sharedSize := fn.BARSize(interconnect.BARShared)
	if shared == nil || sharedSize == 0 {
		return fail(fmt.Errorf("map shared memory window: %w", ErrResourceUnavailable))
	}

	d.sema.Reset(0)
	d.event.Clear()

	st := &DeviceState{
		fn:         fn,
		regSize:    regSize,
		shared:     shared,
		sharedSize: sharedSize,
	}

	// Publish the state before the interrupt can fire so the router sees
	// a device handle from its first invocation.
	d.state.Store(st)
	undo = append(undo, func() { d.state.Store(nil) })

	mode, vectors, release, err := d.acquireIRQ(fn)
	if err != nil {
		return fail(fmt.Errorf("acquire interrupt: %w", err))
	}
	st.vectors = vectors
	st.releaseIRQ = release
	st.irqMode = mode
	undo = append(undo, release)

	if err := fn.WriteRegister(regs.IntrMask, 0xffffffff); err != nil {
		return fail(fmt.Errorf("unmask interrupts: %w", err))
	}
	st.enabled = true

	d.logger.Info("device attached",
		"position", fn.Position(),
		"irq", mode,
		"registers", fmt.Sprintf("%#x", regSize),
		"shared", sharedSize)
	return nil
}

// Detach tears the device down in reverse order of attach: free interrupt
// resources, drop the window mappings, release regions, disable the
// function. No-op when already detached.
func (d *Driver) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.state.Load()
	if st == nil {
		return
	}
	d.state.Store(nil)

	if st.releaseIRQ != nil {
		st.releaseIRQ()
	}
	st.shared = nil
	st.fn.ReleaseRegions()
	st.fn.Disable()

	d.logger.Info("device detached", "position", st.fn.Position())
}

// irqStrategy is one way of acquiring an interrupt source. Strategies are
// tried in order; the first success wins.
type irqStrategy struct {
	name    string
	acquire func(fn *interconnect.Function) ([]*interconnect.Vector, func(), error)
}

func (d *Driver) irqStrategies() []irqStrategy {
	return []irqStrategy{
		{name: "vector", acquire: d.acquireVector},
		{name: "legacy", acquire: d.acquireLegacy},
	}
}

func (d *Driver) acquireIRQ(fn *interconnect.Function) (string, []*interconnect.Vector, func(), error) {
	var lastErr error
	for _, s := range d.irqStrategies() {
		vectors, release, err := s.acquire(fn)
		if err == nil {
			if lastErr != nil {
				d.logger.Info("interrupt fallback engaged", "mode", s.name, "cause", lastErr)
			}
			return s.name, vectors, release, nil
		}
		lastErr = err
		d.logger.Debug("interrupt strategy failed", "mode", s.name, "err", err)
	}
	return "", nil, nil, fmt.Errorf("%v: %w", lastErr, ErrNoSpace)
}

func (d *Driver) acquireVector(fn *interconnect.Function) ([]*interconnect.Vector, func(), error) {
	vectors, err := fn.AllocVectors(1)
	if err != nil {
		return nil, nil, err
	}
	if err := vectors[0].Request(deviceName, d.handleInterrupt); err != nil {
		vectors[0].Free()
		return nil, nil, err
	}
	return vectors, vectors[0].Free, nil
}

func (d *Driver) acquireLegacy(fn *interconnect.Function) ([]*interconnect.Vector, func(), error) {
	release, err := fn.RequestLegacyIRQ(deviceName, d.handleInterrupt)
	if err != nil {
		return nil, nil, err
	}
	return nil, release, nil
}
