// Package broker implements the HTTP order endpoints the execution
// coordinator submits to.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickollio28/algorithmic-trading-bot/internal/execution"
)

// Client talks to the brokerage order API. It maps HTTP response classes onto
// the execution error taxonomy: 2xx acknowledges, 4xx rejects terminally,
// timeouts/connection errors/5xx are transient. The http.Client is injected so
// the process owns pooling and lifecycle.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// New builds a broker client for the given API base URL.
func New(baseURL, apiKey string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey, http: httpClient, log: log}
}

type orderPayload struct {
	Action        string   `json:"action"`
	Symbol        string   `json:"symbol"`
	Quantity      int      `json:"quantity"`
	Price         *float64 `json:"price,omitempty"`
	ClientOrderID string   `json:"client_order_id"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// PlaceOrder submits the order. The client order id rides in the payload so
// the broker can deduplicate retried submissions.
func (c *Client) PlaceOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderAck, error) {
	payload := orderPayload{
		Action:        strings.ToLower(string(req.Side)),
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Price:         req.LimitPrice,
		ClientOrderID: req.ClientOrderID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return execution.OrderAck{}, fmt.Errorf("encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return execution.OrderAck{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return execution.OrderAck{}, &execution.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return execution.OrderAck{}, &execution.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return execution.OrderAck{}, &execution.RejectedError{Status: resp.StatusCode, Reason: readReason(resp.Body)}
	}

	var ack orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		// The order may have been accepted; do not claim rejection.
		return execution.OrderAck{}, &execution.TransientError{Err: fmt.Errorf("decode ack: %w", err)}
	}
	return execution.OrderAck{OrderID: ack.OrderID, Status: parseStatus(ack.Status)}, nil
}

// OrderStatus fetches the remote view of an order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (execution.Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return execution.StatusUnknown, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return execution.StatusUnknown, &execution.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return execution.StatusUnknown, fmt.Errorf("order %s: %w", orderID, execution.ErrOrderNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return execution.StatusUnknown, &execution.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return execution.StatusUnknown, fmt.Errorf("order status %s: unexpected status %d", orderID, resp.StatusCode)
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return execution.StatusUnknown, &execution.TransientError{Err: fmt.Errorf("decode status: %w", err)}
	}
	return parseStatus(out.Status), nil
}

func readReason(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(body))
}

func parseStatus(raw string) execution.Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "NEW", "ACCEPTED":
		return execution.StatusPending
	case "SUBMITTED", "OPEN", "WORKING":
		return execution.StatusSubmitted
	case "FILLED":
		return execution.StatusFilled
	case "REJECTED":
		return execution.StatusRejected
	case "CANCELLED", "CANCELED":
		return execution.StatusCancelled
	default:
		return execution.StatusUnknown
	}
}
