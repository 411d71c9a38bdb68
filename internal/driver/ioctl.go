package driver

import (
	"context"
	"fmt"

	"github.com/tinyrange/ivshm/internal/regs"
)

// Command is an ioctl command code. The numeric values double as the
// doorbell command tags the interrupt router matches against.
type Command uint32

const (
	// CmdSetSema (re)initializes the semaphore to the argument value.
	CmdSetSema Command = iota
	// CmdDownSema blocks until the semaphore count is positive, then
	// decrements it.
	CmdDownSema
	// CmdRingDoorbell writes a plain doorbell message addressed to the
	// 8-bit peer in the argument.
	CmdRingDoorbell
	// CmdWaitEvent blocks until the event flag is set, then clears it.
	CmdWaitEvent
	// CmdWaitEventDoorbell rings the peer's doorbell tagged for an
	// event-flag wake. It does not itself block.
	CmdWaitEventDoorbell
	// CmdReadPosition returns the peer/VM position register.
	CmdReadPosition
	// CmdListPeers is a reserved placeholder; it falls to the default arm.
	CmdListPeers
	// CmdSemaDoorbell rings the peer's doorbell tagged for a semaphore
	// release.
	CmdSemaDoorbell
)

func (c Command) String() string {
	switch c {
	case CmdSetSema:
		return "set-semaphore"
	case CmdDownSema:
		return "down-semaphore"
	case CmdRingDoorbell:
		return "ring-doorbell"
	case CmdWaitEvent:
		return "wait-event"
	case CmdWaitEventDoorbell:
		return "wait-event-doorbell"
	case CmdReadPosition:
		return "read-position"
	case CmdListPeers:
		return "list-peers"
	case CmdSemaDoorbell:
		return "sema-doorbell"
	default:
		return fmt.Sprintf("command(%d)", uint32(c))
	}
}

// Ioctl dispatches a device command. Unknown codes (and the reserved
// list-peers slot) are logged and produce a benign zero result rather than
// an error; that permissiveness is part of the device contract.
func (d *Driver) Ioctl(ctx context.Context, cmd Command, arg uint32) (uint32, error) {
	switch cmd {
	case CmdSetSema:
		d.sema.Reset(arg)
		return 0, nil

	case CmdDownSema:
		return 0, d.sema.Down(ctx)

	case CmdRingDoorbell, CmdWaitEventDoorbell, CmdSemaDoorbell:
		return 0, d.ringDoorbell(cmd, arg)

	case CmdWaitEvent:
		return 0, d.event.Wait(ctx)

	case CmdReadPosition:
		st := d.state.Load()
		if st == nil {
			return 0, fmt.Errorf("read position: %w", ErrNoSuchDevice)
		}
		pos, err := st.fn.ReadRegister(regs.IVPosition)
		if err != nil {
			return 0, fmt.Errorf("read position: %w", err)
		}
		return pos, nil

	default:
		d.logger.Debug("unknown ioctl command", "cmd", uint32(cmd), "arg", arg)
		return 0, nil
	}
}

func (d *Driver) ringDoorbell(cmd Command, arg uint32) error {
	st := d.state.Load()
	if st == nil {
		return fmt.Errorf("%s: %w", cmd, ErrNoSuchDevice)
	}
	msg := regs.ComposeDoorbell(arg, uint32(cmd))
	if err := st.fn.WriteRegister(regs.Doorbell, msg); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}
