// Package ivshm provides an in-process model of the inter-VM shared memory
// device: a Fabric stands in for the hypervisor interconnect, and each
// Attach yields a guest-side Driver bound to one peer position. Peers
// exchange data through a common shared memory window and synchronize with
// doorbell-driven semaphores and event flags, the way co-resident virtual
// machines would over the real device.
package ivshm

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/ivshm/internal/driver"
	"github.com/tinyrange/ivshm/internal/interconnect"
	"github.com/tinyrange/ivshm/internal/shmem"
	"github.com/tinyrange/ivshm/internal/trace"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Driver is the guest-side device driver bound to one peer position.
type Driver = driver.Driver

// File is an open descriptor on a driver's shared memory window.
type File = driver.File

// Command is a device command code.
type Command = driver.Command

// Function is one endpoint of the interconnect fabric.
type Function = interconnect.Function

// Segment is a shared memory segment backing a fabric.
type Segment = shmem.Segment

// Device command codes.
const (
	CmdSetSema           = driver.CmdSetSema
	CmdDownSema          = driver.CmdDownSema
	CmdRingDoorbell      = driver.CmdRingDoorbell
	CmdWaitEvent         = driver.CmdWaitEvent
	CmdWaitEventDoorbell = driver.CmdWaitEventDoorbell
	CmdReadPosition      = driver.CmdReadPosition
	CmdListPeers         = driver.CmdListPeers
	CmdSemaDoorbell      = driver.CmdSemaDoorbell
)

// Minor is the device minor number accepted by Driver.Open.
const Minor = driver.Minor

// Common sentinel errors.
var (
	ErrNoSuchDevice        = driver.ErrNoSuchDevice
	ErrResourceUnavailable = driver.ErrResourceUnavailable
	ErrFault               = driver.ErrFault
	ErrInvalidArgument     = driver.ErrInvalidArgument
	ErrNoSpace             = driver.ErrNoSpace
	ErrInterrupted         = driver.ErrInterrupted
	ErrBusy                = driver.ErrBusy
)

// -----------------------------------------------------------------------------
// Fabric
// -----------------------------------------------------------------------------

// Fabric bundles a shared memory segment with the interconnect routing
// doorbells between its peers. Closing the fabric detaches every peer and
// releases the segment.
type Fabric struct {
	seg    *shmem.Segment
	ic     *interconnect.Interconnect
	trace  *trace.Log
	logger *slog.Logger
}

// FabricOption configures a Fabric.
type FabricOption func(*fabricConfig)

type fabricConfig struct {
	path         string
	tracePath    string
	vectorBudget int
	logger       *slog.Logger
}

// WithSegmentFile backs the fabric's segment with a file so out-of-process
// mappers can share it.
func WithSegmentFile(path string) FabricOption {
	return func(c *fabricConfig) { c.path = path }
}

// WithVectorBudget sets how many dedicated interrupt vectors each peer may
// allocate. Zero forces every driver onto the legacy shared line.
func WithVectorBudget(n int) FabricOption {
	return func(c *fabricConfig) { c.vectorBudget = n }
}

// WithTraceFile records every doorbell and its disposition to a binary
// trace file, readable with the trace tooling. The fabric owns the file.
func WithTraceFile(path string) FabricOption {
	return func(c *fabricConfig) { c.tracePath = path }
}

// WithLogger sets the logger used by the fabric and the drivers it attaches.
func WithLogger(logger *slog.Logger) FabricOption {
	return func(c *fabricConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewFabric creates a fabric over a fresh shared memory segment of the
// given size.
func NewFabric(size int64, opts ...FabricOption) (*Fabric, error) {
	cfg := fabricConfig{vectorBudget: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		seg *shmem.Segment
		err error
	)
	if cfg.path != "" {
		seg, err = shmem.Open(cfg.path, size)
	} else {
		seg, err = shmem.OpenAnonymous(size)
	}
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	icOpts := []interconnect.Option{
		interconnect.WithVectorBudget(cfg.vectorBudget),
		interconnect.WithLogger(cfg.logger),
	}
	var tr *trace.Log
	if cfg.tracePath != "" {
		tr, err = trace.Create(cfg.tracePath)
		if err != nil {
			seg.Close()
			return nil, err
		}
		icOpts = append(icOpts, interconnect.WithTrace(tr))
	}

	ic := interconnect.New(seg, icOpts...)
	return &Fabric{seg: seg, ic: ic, trace: tr, logger: cfg.logger}, nil
}

// Attach brings up a new peer: a function on the fabric with its own
// position, and a driver attached to it. The returned driver is ready for
// Open and Ioctl.
func (f *Fabric) Attach() (*Driver, error) {
	fn, err := f.ic.Attach()
	if err != nil {
		return nil, fmt.Errorf("attach function: %w", err)
	}
	d := driver.New(driver.WithLogger(f.logger))
	if err := d.Attach(fn); err != nil {
		f.ic.Detach(fn)
		return nil, fmt.Errorf("attach driver: %w", err)
	}
	return d, nil
}

// Segment returns the fabric's shared memory segment.
func (f *Fabric) Segment() *Segment { return f.seg }

// Close detaches every peer and releases the segment and trace log.
func (f *Fabric) Close() error {
	if err := f.ic.Close(); err != nil {
		return err
	}
	if f.trace != nil {
		if err := f.trace.Close(); err != nil {
			return err
		}
	}
	return f.seg.Close()
}
