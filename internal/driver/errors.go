package driver

import "errors"

var (
	// ErrNoSuchDevice is returned when opening an unrecognized minor or
	// attaching a function with the wrong hardware identity.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrResourceUnavailable covers attach-time region or mapping failures.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrFault marks a bad caller buffer or offset during a copy.
	ErrFault = errors.New("bad address")

	// ErrInvalidArgument is returned for mmap spans outside the window.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSpace is returned when every interrupt acquisition strategy
	// has been exhausted.
	ErrNoSpace = errors.New("no space for interrupt registration")

	// ErrInterrupted is returned when a blocking wait is cancelled.
	ErrInterrupted = errors.New("interrupted")

	// ErrBusy is returned for a second attach on an attached driver.
	ErrBusy = errors.New("device busy")
)
