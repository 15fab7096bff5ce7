package device

import (
	"fmt"
	"sync"
)

// Event tracks completion of one submission.
type Event struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// CompletedEvent returns an Event that is already finished with err.
func CompletedEvent(err error) *Event {
	e := newEvent()
	e.complete(err)
	return e
}

func (e *Event) complete(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Done is closed when the submission finished, successfully or not.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the submission finished and returns its error.
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

// runGuarded executes fn and turns a panic into a DeviceExecutionError.
func runGuarded(device, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DeviceExecutionError{Device: device, Op: op, Err: fmt.Errorf("kernel panic: %v", r)}
		}
	}()
	return AsExecutionError(device, op, fn())
}
