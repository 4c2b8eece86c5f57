package veo

import (
	"errors"
	"fmt"
)

// ErrPollTimeout is returned when an operation is still running after the
// poll budget is spent. The job may still finish upstream later; this
// process abandons it.
var ErrPollTimeout = errors.New("video generation timed out while polling")

// OperationError carries the upstream's own failure message for a job that
// completed unsuccessfully. The job already consumed upstream quota, so it
// is never restarted.
type OperationError struct {
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("video generation failed upstream: %s", e.Message)
}
