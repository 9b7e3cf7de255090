package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/nickollio28/algorithmic-trading-bot/internal/metrics"
	"github.com/nickollio28/algorithmic-trading-bot/internal/strategy"
)

// Broker is the downstream order endpoint. Real traffic goes through the
// broker package; tests substitute recording fakes.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	OrderStatus(ctx context.Context, orderID string) (Status, error)
}

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
)

// Coordinator carries orders from decision to terminal status with bounded
// retries and a stable idempotency key per logical submission.
type Coordinator struct {
	broker      Broker
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         zerolog.Logger
}

// Option configures Coordinator construction parameters.
type Option func(*Coordinator)

// WithMaxAttempts bounds the submission retry loop.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first retry delay; each retry doubles it.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// NewCoordinator wires a broker and retry tuning into a coordinator.
func NewCoordinator(b Broker, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		broker:      b,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit places an order for the decision. The same clientOrderID accompanies
// every attempt so retried submissions deduplicate on the receiving side.
// After exhausting retries the order is left in Unknown, never Rejected: it
// may have reached the broker, and the caller must reconcile via PollStatus
// before resubmitting.
func (c *Coordinator) Submit(ctx context.Context, decision strategy.Decision, symbol string, quantity int, clientOrderID string) (*Order, error) {
	if decision.Action == strategy.Hold {
		return nil, ErrHoldDecision
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("submit %s: non-positive quantity %d", symbol, quantity)
	}
	side := Buy
	if decision.Action == strategy.Sell {
		side = Sell
	}

	order := &Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Status:        StatusPending,
	}
	req := OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		LimitPrice:    order.LimitPrice,
		ClientOrderID: clientOrderID,
	}

	delay := &backoff.Backoff{Min: c.baseDelay, Max: c.maxDelay, Factor: 2}
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Never start a new submission after cancellation. The order has
			// not left this process unless an earlier attempt already did.
			if attempt > 1 {
				order.Status = StatusUnknown
			}
			return order, ctx.Err()
		}
		order.AttemptCount++

		ack, err := c.broker.PlaceOrder(ctx, req)
		if err == nil {
			order.ID = ack.OrderID
			order.Status = StatusSubmitted
			if ack.Status.Terminal() {
				order.Status = ack.Status
			}
			order.SubmittedAt = time.Now().UTC()
			metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
			c.log.Info().Str("symbol", symbol).Str("side", string(side)).Int("qty", quantity).
				Str("order_id", order.ID).Str("client_order_id", clientOrderID).
				Int("attempt", order.AttemptCount).Msg("order submitted")
			return order, nil
		}

		var rejected *RejectedError
		if errors.As(err, &rejected) {
			order.Status = StatusRejected
			c.log.Warn().Str("symbol", symbol).Err(err).Msg("order rejected by broker")
			return order, err
		}

		// Timeout/connection/5xx class: retried with the same idempotency key.
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		metrics.SubmitRetriesTotal.WithLabelValues(symbol).Inc()
		c.log.Warn().Str("symbol", symbol).Int("attempt", attempt).Err(err).Msg("transient submit failure, retrying")
		select {
		case <-time.After(delay.Duration()):
		case <-ctx.Done():
			order.Status = StatusUnknown
			return order, ctx.Err()
		}
	}

	order.Status = StatusUnknown
	metrics.OrdersUnknownTotal.WithLabelValues(symbol).Inc()
	c.log.Error().Str("symbol", symbol).Str("client_order_id", clientOrderID).
		Int("attempts", order.AttemptCount).Err(lastErr).
		Msg("submission retries exhausted, order outcome unknown")
	return order, fmt.Errorf("submit %s: retries exhausted after %d attempts: %w", symbol, order.AttemptCount, lastErr)
}

// PollStatus fetches the remote status for an order id. OrderNotFound is
// surfaced to the caller, not retried.
func (c *Coordinator) PollStatus(ctx context.Context, orderID string) (Status, error) {
	status, err := c.broker.OrderStatus(ctx, orderID)
	if err != nil {
		return StatusUnknown, err
	}
	return status, nil
}

// AwaitTerminal polls until the order reaches a terminal status or the poll
// budget is spent. The order's status is updated in place; a still-open order
// after exhaustion stays Submitted for later reconciliation.
func (c *Coordinator) AwaitTerminal(ctx context.Context, order *Order, interval time.Duration, maxPolls int) error {
	if order.ID == "" {
		return fmt.Errorf("await %s: order has no broker id", order.Symbol)
	}
	for i := 0; i < maxPolls; i++ {
		status, err := c.PollStatus(ctx, order.ID)
		if err != nil {
			return err
		}
		if status.Terminal() {
			order.Status = status
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
