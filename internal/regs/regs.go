// Package regs models the fixed-layout register window of the inter-VM
// shared memory device. The window is pure state: the access rules for each
// register (write-only mask, read-only position, doorbell side effects) are
// enforced by the owning function, not here.
package regs

import (
	"fmt"
	"sync/atomic"
)

// Register offsets from the window base.
const (
	IntrMask   = 0x00 // interrupt mask (write)
	IntrStatus = 0x04 // interrupt status (read)
	IVPosition = 0x08 // peer/VM position (read-only)
	Doorbell   = 0x0c // doorbell (write, routed to a peer)

	// WindowSize is the span of the register BAR. Only the first 16 bytes
	// are backed by registers; the rest reads as zero.
	WindowSize = 0x100
)

// StatusSpurious is the all-ones status a dead or absent function returns.
const StatusSpurious = 0xffffffff

// File is the register file for one function. All accessors are atomic so
// the interrupt dispatch goroutine and process-context callers share a
// defined memory-ordering contract without a software lock.
type File struct {
	intrMask   atomic.Uint32
	intrStatus atomic.Uint32
	ivPosition atomic.Uint32
	doorbell   atomic.Uint32
}

// NewFile returns a register file with every register cleared.
func NewFile() *File {
	return &File{}
}

// Read32 performs an offset-addressed 32-bit read. Write-only registers
// (mask, doorbell) read back as zero, matching the hardware contract.
func (f *File) Read32(off uint32) (uint32, error) {
	switch off {
	case IntrMask, Doorbell:
		return 0, nil
	case IntrStatus:
		return f.intrStatus.Load(), nil
	case IVPosition:
		return f.ivPosition.Load(), nil
	}
	if off%4 == 0 && off < WindowSize {
		return 0, nil
	}
	return 0, fmt.Errorf("register read at invalid offset %#x", off)
}

// Write32 performs an offset-addressed 32-bit write. Only the mask and
// doorbell registers are writable from the driver side.
func (f *File) Write32(off, value uint32) error {
	switch off {
	case IntrMask:
		f.intrMask.Store(value)
		return nil
	case Doorbell:
		f.doorbell.Store(value)
		return nil
	case IntrStatus, IVPosition:
		return fmt.Errorf("register at offset %#x is read-only", off)
	}
	if off%4 == 0 && off < WindowSize {
		return nil
	}
	return fmt.Errorf("register write at invalid offset %#x", off)
}

// Mask returns the interrupt mask register.
func (f *File) Mask() uint32 { return f.intrMask.Load() }

// Status returns the interrupt status register.
func (f *File) Status() uint32 { return f.intrStatus.Load() }

// SetStatus stores the interrupt status register. This is the hardware
// (interconnect) side: the driver never acknowledges status, a later
// doorbell simply overwrites it.
func (f *File) SetStatus(v uint32) { f.intrStatus.Store(v) }

// Position returns the peer/VM position register.
func (f *File) Position() uint32 { return f.ivPosition.Load() }

// SetPosition stores the peer/VM position register. Assigned once by the
// interconnect when the function attaches.
func (f *File) SetPosition(v uint32) { f.ivPosition.Store(v) }

// LastDoorbell returns the most recent doorbell write. Diagnostic only;
// real hardware never reads this back.
func (f *File) LastDoorbell() uint32 { return f.doorbell.Load() }

// ComposeDoorbell builds the 32-bit doorbell wire value from a peer
// identifier and a command tag: (peer & 0xFF) << 8 | (tag & 0xFF).
func ComposeDoorbell(peer, tag uint32) uint32 {
	return (peer&0xff)<<8 | (tag & 0xff)
}

// DecodeDoorbell splits a doorbell wire value into its peer identifier and
// command tag.
func DecodeDoorbell(msg uint32) (peer, tag uint8) {
	return uint8(msg >> 8), uint8(msg)
}
