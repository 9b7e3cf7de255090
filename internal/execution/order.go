// Package execution handles order lifecycle and interaction with the broker,
// including retry, idempotency, and reconciliation of ambiguous outcomes.
package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Side enumerates order directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Status tracks an order through its state machine:
// Pending -> Submitted -> {Filled | Rejected | Cancelled}, with Unknown
// reachable from Submitted when a remote outcome cannot be determined.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusUnknown   Status = "UNKNOWN"
)

// Terminal reports whether no further transition is expected. Unknown is
// terminal-ambiguous: the caller must reconcile before acting on the symbol
// again.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusUnknown:
		return true
	}
	return false
}

// Order is owned exclusively by the coordinator until it reaches a terminal
// status, then handed to the caller for bookkeeping.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      int
	LimitPrice    *float64
	Status        Status
	AttemptCount  int
	SubmittedAt   time.Time
}

// OrderRequest is the wire-facing submission payload handed to a Broker.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      int
	LimitPrice    *float64
	ClientOrderID string
}

// OrderAck is the broker's acknowledgment of a placement.
type OrderAck struct {
	OrderID string
	Status  Status
}

// IdempotencyKey derives a deterministic client order id so retried
// submissions of the same logical order are deduplicated by the receiver.
func IdempotencyKey(symbol string, side Side, quantity int, cycle time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", symbol, side, quantity, cycle.UnixNano())))
	return hex.EncodeToString(sum[:])[:24]
}
