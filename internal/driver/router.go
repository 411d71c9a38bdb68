package driver

import "github.com/tinyrange/ivshm/internal/regs"

// handleInterrupt is the interrupt router. It runs on the function's
// dispatch goroutine: it must not block and must return quickly, so it only
// reads the status register and releases a synchronization primitive.
//
// Reported as unhandled: no device state (should not occur post-attach),
// or a spurious status of zero or all-ones. An unmatched status is dropped
// after logging but still reported handled, since the interrupt belonged to
// this device.
func (d *Driver) handleInterrupt() bool {
	st := d.state.Load()
	if st == nil {
		return false
	}

	status, err := st.fn.ReadRegister(regs.IntrStatus)
	if err != nil {
		d.logger.Error("interrupt status read failed", "err", err)
		return false
	}
	if status == 0 || status == regs.StatusSpurious {
		return false
	}

	switch Command(status) {
	case CmdSemaDoorbell:
		d.sema.Up()
	case CmdWaitEventDoorbell:
		d.event.Set()
	default:
		d.logger.Debug("unmatched interrupt status dropped", "status", status)
	}
	return true
}
