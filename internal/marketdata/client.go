package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Typed fetch failures. The upstream provider applies its own retry policy, so
// callers treat all of these as skip-this-cycle conditions.
var (
	// ErrRateLimited signals the provider throttled the request.
	ErrRateLimited = errors.New("market data rate limited")
	// ErrUnavailable signals a transient provider outage or incomplete payload.
	ErrUnavailable = errors.New("market data unavailable")
)

// ClientError reports a request-side failure (bad symbol, bad auth). Not
// retryable.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("market data client error: status %d: %s", e.Status, e.Body)
}

// Client fetches historical candles over HTTP. The http.Client is injected so
// the process owns connection pooling and lifecycle.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a candle client against the provider base URL.
func NewClient(baseURL, apiKey string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient, log: log}
}

// candlePayload mirrors the provider's column-oriented candle response.
type candlePayload struct {
	Close  []float64 `json:"c"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Open   []float64 `json:"o"`
	Volume []float64 `json:"v"`
	Ts     []int64   `json:"t"`
	Status string    `json:"s"`
}

// Fetch retrieves candles for symbol between from and to at the given
// resolution and validates them into a PriceSeries.
func (c *Client) Fetch(ctx context.Context, symbol, resolution string, from, to time.Time) (PriceSeries, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	q.Set("token", c.apiKey)
	endpoint := c.baseURL + "/stock/candle?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PriceSeries{}, ErrRateLimited
	case resp.StatusCode >= 500:
		return PriceSeries{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var body [256]byte
		n, _ := resp.Body.Read(body[:])
		return PriceSeries{}, &ClientError{Status: resp.StatusCode, Body: string(body[:n])}
	}

	var payload candlePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceSeries{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if payload.Status != "ok" {
		return PriceSeries{}, fmt.Errorf("%w: provider status %q", ErrUnavailable, payload.Status)
	}
	n := len(payload.Ts)
	if len(payload.Close) != n || len(payload.High) != n || len(payload.Low) != n ||
		len(payload.Open) != n || len(payload.Volume) != n {
		return PriceSeries{}, fmt.Errorf("%w: ragged candle columns", ErrUnavailable)
	}

	bars := make([]Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = Bar{
			Ts:     time.Unix(payload.Ts[i], 0).UTC(),
			Open:   payload.Open[i],
			High:   payload.High[i],
			Low:    payload.Low[i],
			Close:  payload.Close[i],
			Volume: payload.Volume[i],
		}
	}
	series, err := NewSeries(bars)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.log.Debug().Str("symbol", symbol).Int("bars", series.Len()).Msg("fetched candles")
	return series, nil
}
