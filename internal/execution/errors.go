package execution

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by PollStatus when the remote system does not
// recognize the order id. Surfaced, never retried automatically.
var ErrOrderNotFound = errors.New("order not found")

// ErrHoldDecision guards against submitting a Hold decision.
var ErrHoldDecision = errors.New("hold decision must not be submitted")

// RejectedError is a terminal business rejection from the broker. Not retried.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by broker (status %d): %s", e.Status, e.Reason)
}

// TransientError marks a timeout/connection/5xx-class failure eligible for
// retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient submit failure: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }
