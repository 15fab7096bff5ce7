package device

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when no device of the requested kind
	// can be selected.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrInvalidSize is returned for non-positive or mismatched dimensions.
	ErrInvalidSize = errors.New("invalid matrix size")

	// ErrOutOfMemory is returned when device buffers cannot be allocated.
	ErrOutOfMemory = errors.New("out of device memory")

	// ErrQueueClosed is returned when submitting to a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// DeviceExecutionError reports a failure to select a device, construct a
// queue, or execute submitted work on it.
type DeviceExecutionError struct {
	Device string // Device name, empty when selection failed
	Op     string // Operation that failed
	Err    error
}

func (e *DeviceExecutionError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceExecutionError) Unwrap() error {
	return e.Err
}

// AsExecutionError wraps err into a DeviceExecutionError unless it already is one.
func AsExecutionError(device, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceExecutionError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceExecutionError{Device: device, Op: op, Err: err}
}
