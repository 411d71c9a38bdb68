package interconnect

import (
	"fmt"
	"sync"

	"github.com/tinyrange/ivshm/internal/regs"
)

// pulseQueueDepth bounds how many undelivered interrupt pulses a function
// buffers. A burst past this depth coalesces, which the device contract
// allows: the status register only holds the latest tag anyway.
const pulseQueueDepth = 256

// Handler services one hardware interrupt. It runs on the function's
// dispatch goroutine, must not block, and reports whether the interrupt was
// recognized.
type Handler func() bool

// Function is one PCI-like endpoint of the inter-VM shared memory device:
// a register window, a view of the shared segment, and interrupt delivery.
type Function struct {
	ic       *Interconnect
	pos      uint32
	vendorID uint16
	deviceID uint16
	regs     *regs.File
	irq      IRQLine

	mu          sync.Mutex
	enabled     bool
	regionOwner string
	vectorsLeft int
	handlers    []*irqBinding

	pulses chan struct{}
	quit   chan struct{}
	wg     sync.WaitGroup
}

type irqBinding struct {
	name    string
	handler Handler
}

func newFunction(ic *Interconnect, pos uint32, vendor, device uint16) *Function {
	fn := &Function{
		ic:          ic,
		pos:         pos,
		vendorID:    vendor,
		deviceID:    device,
		regs:        regs.NewFile(),
		vectorsLeft: ic.vectorBudget,
	}
	fn.irq = newEdgeIRQ(fn.raiseInterrupt)
	fn.regs.SetPosition(pos)
	return fn
}

// VendorID returns the function's PCI vendor identifier.
func (f *Function) VendorID() uint16 { return f.vendorID }

// DeviceID returns the function's PCI device identifier.
func (f *Function) DeviceID() uint16 { return f.deviceID }

// Position returns the peer/VM position assigned by the interconnect.
func (f *Function) Position() uint32 { return f.pos }

// Enable powers the function on and starts interrupt delivery. Idempotent.
func (f *Function) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled {
		return nil
	}
	f.enabled = true
	f.pulses = make(chan struct{}, pulseQueueDepth)
	f.quit = make(chan struct{})
	f.wg.Add(1)
	go f.dispatchLoop(f.pulses, f.quit)
	return nil
}

// Disable powers the function off and stops interrupt delivery, waiting for
// an in-flight handler to return. Idempotent.
func (f *Function) Disable() {
	f.mu.Lock()
	if !f.enabled {
		f.mu.Unlock()
		return
	}
	f.enabled = false
	quit := f.quit
	f.quit = nil
	f.pulses = nil
	f.mu.Unlock()

	close(quit)
	f.wg.Wait()
}

// Enabled reports whether the function is powered on.
func (f *Function) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// RequestRegions reserves the function's memory regions for the named
// owner. A second reservation fails until the first is released.
func (f *Function) RequestRegions(owner string) error {
	if owner == "" {
		return fmt.Errorf("region owner name is empty")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.regionOwner != "" {
		return fmt.Errorf("regions held by %q", f.regionOwner)
	}
	f.regionOwner = owner
	return nil
}

// ReleaseRegions drops the region reservation. Safe to call when unheld.
func (f *Function) ReleaseRegions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regionOwner = ""
}

// BARSize returns the span of the given BAR, or 0 for an unimplemented one.
func (f *Function) BARSize(index int) uint64 {
	switch index {
	case BARRegisters:
		return regs.WindowSize
	case BARShared:
		if f.ic.seg == nil {
			return 0
		}
		return uint64(f.ic.seg.Size())
	default:
		return 0
	}
}

// ReadRegister performs a 32-bit read from the register window.
func (f *Function) ReadRegister(off uint32) (uint32, error) {
	return f.regs.Read32(off)
}

// WriteRegister performs a 32-bit write to the register window. Writing the
// doorbell register routes a notification to the peer encoded in the value.
func (f *Function) WriteRegister(off, value uint32) error {
	if err := f.regs.Write32(off, value); err != nil {
		return err
	}
	if off == regs.Doorbell {
		f.ic.ring(f.pos, value)
	}
	return nil
}

// SharedBytes returns the shared memory window, or nil if the interconnect
// carries no segment.
func (f *Function) SharedBytes() []byte {
	if f.ic.seg == nil {
		return nil
	}
	return f.ic.seg.Bytes()
}

// Vector is a dedicated interrupt vector allocated from the function.
type Vector struct {
	fn    *Function
	index int
	bound *irqBinding
	freed bool
}

// AllocVectors allocates n dedicated interrupt vectors. Fails with
// ErrNoVectors once the function's budget is exhausted; callers are
// expected to fall back to the legacy shared line.
func (f *Function) AllocVectors(n int) ([]*Vector, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vector count %d must be positive", n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectorsLeft < n {
		return nil, fmt.Errorf("requested %d vectors, %d left: %w", n, f.vectorsLeft, ErrNoVectors)
	}
	f.vectorsLeft -= n
	vs := make([]*Vector, n)
	for i := range vs {
		vs[i] = &Vector{fn: f, index: f.ic.vectorBudget - f.vectorsLeft - n + i}
	}
	return vs, nil
}

// Request binds a handler to the vector.
func (v *Vector) Request(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("vector handler is nil")
	}
	v.fn.mu.Lock()
	defer v.fn.mu.Unlock()
	if v.freed {
		return fmt.Errorf("vector %d already freed", v.index)
	}
	if v.bound != nil {
		return fmt.Errorf("vector %d already bound to %q", v.index, v.bound.name)
	}
	v.bound = &irqBinding{name: name, handler: h}
	v.fn.handlers = append(v.fn.handlers, v.bound)
	return nil
}

// Free unbinds the handler and returns the vector to the function's budget.
// Safe to call more than once; only the first call returns the vector.
func (v *Vector) Free() {
	v.fn.mu.Lock()
	defer v.fn.mu.Unlock()
	if v.freed {
		return
	}
	v.freed = true
	if v.bound != nil {
		v.fn.removeBinding(v.bound)
		v.bound = nil
	}
	v.fn.vectorsLeft++
}

// RequestLegacyIRQ binds a handler to the shared legacy interrupt line and
// returns a release function.
func (f *Function) RequestLegacyIRQ(name string, h Handler) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("legacy IRQ handler is nil")
	}
	binding := &irqBinding{name: name, handler: h}
	f.mu.Lock()
	f.handlers = append(f.handlers, binding)
	f.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			f.removeBinding(binding)
			f.mu.Unlock()
		})
	}
	return release, nil
}

// Line returns the function's interrupt input. The interconnect pulses it
// when a doorbell is delivered; external level-driven sources share it.
func (f *Function) Line() IRQLine {
	return f.irq
}

func (f *Function) removeBinding(b *irqBinding) {
	for i, h := range f.handlers {
		if h == b {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			return
		}
	}
}

// raiseInterrupt pulses the function's interrupt. Delivery is asynchronous
// on the dispatch goroutine; a full queue coalesces with pending pulses.
func (f *Function) raiseInterrupt() {
	f.mu.Lock()
	pulses := f.pulses
	enabled := f.enabled
	f.mu.Unlock()
	if !enabled || pulses == nil {
		return
	}
	select {
	case pulses <- struct{}{}:
	default:
		f.ic.logger.Debug("interrupt pulse coalesced", "position", f.pos)
	}
}

// dispatchLoop is the function's interrupt context: handlers run here one
// at a time and must not block.
func (f *Function) dispatchLoop(pulses chan struct{}, quit chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-pulses:
			f.dispatch()
		}
	}
}

func (f *Function) dispatch() {
	f.mu.Lock()
	handlers := make([]*irqBinding, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	for _, b := range handlers {
		if b.handler() {
			return
		}
	}
	f.ic.logger.Debug("interrupt not claimed by any handler", "position", f.pos)
}
