package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState reports an operation that is illegal for the task's or
	// scheduler's current state, e.g. scheduling a task twice or scheduling
	// after shutdown.
	ErrInvalidState = errors.New("invalid state")

	// ErrGraphClosed reports an attempt to add a dependency edge after one of
	// the endpoints left the Created state.
	ErrGraphClosed = errors.New("task graph is closed")

	// ErrScheduleTimeout reports that draining all tasks exceeded the
	// configured shutdown bound.
	ErrScheduleTimeout = errors.New("schedule timeout")
)

// PayloadError latches a panic raised by a task payload. Errors returned by
// the payload itself are latched unwrapped.
type PayloadError struct {
	TaskID uint64
	Value  interface{}
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("task %d payload panicked: %v", e.TaskID, e.Value)
}
