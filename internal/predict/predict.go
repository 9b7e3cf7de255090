// Package predict wraps the external price prediction collaborator. The model
// is an opaque black box; the core only validates its output shape.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable signals no prediction could be produced this cycle. Strategy
// rules that do not need a prediction still apply.
var ErrUnavailable = errors.New("prediction unavailable")

// Prediction is the external model output. Confidence is optional.
type Prediction struct {
	Price      float64  `json:"predicted_price"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Predictor produces a price prediction from a feature vector.
type Predictor interface {
	Predict(ctx context.Context, symbol string, features map[string]float64) (*Prediction, error)
}

// HTTPPredictor calls a model-serving endpoint. The http.Client is injected so
// the process owns its lifecycle.
type HTTPPredictor struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewHTTPPredictor builds a predictor client against the serving base URL.
func NewHTTPPredictor(baseURL string, httpClient *http.Client, log zerolog.Logger) *HTTPPredictor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPredictor{baseURL: baseURL, http: httpClient, log: log}
}

type predictRequest struct {
	Symbol   string             `json:"symbol"`
	Features map[string]float64 `json:"features"`
}

// Predict posts the feature vector and validates the returned prediction.
func (p *HTTPPredictor) Predict(ctx context.Context, symbol string, features map[string]float64) (*Prediction, error) {
	body, err := json.Marshal(predictRequest{Symbol: symbol, Features: features})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if pred.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive predicted price %.4f", ErrUnavailable, pred.Price)
	}
	p.log.Debug().Str("symbol", symbol).Float64("predicted", pred.Price).Msg("prediction fetched")
	return &pred, nil
}
