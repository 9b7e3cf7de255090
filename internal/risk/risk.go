// Package risk encodes the sizing rules, stop-loss math, and shared capital
// guard-rails the executor must obey.
package risk

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Parameters are the runtime risk knobs. They are read by value as a snapshot;
// updates swap in a complete replacement so readers never observe a partial
// write.
type Parameters struct {
	MaxTradeLimit       float64 `yaml:"max_trade_limit"`
	StopLossThreshold   float64 `yaml:"stop_loss_threshold"`
	VolatilityThreshold float64 `yaml:"volatility_threshold"`
	ProfitTarget        float64 `yaml:"profit_target"`
	VolumeThreshold     float64 `yaml:"volume_threshold"`
}

// Validate checks every field. Used on construction and on updates.
func (p Parameters) Validate() error {
	if p.MaxTradeLimit <= 0 {
		return &ValidationError{Field: "max_trade_limit", Value: p.MaxTradeLimit, Reason: "must be > 0"}
	}
	if p.StopLossThreshold <= 0 || p.StopLossThreshold >= 1 {
		return &ValidationError{Field: "stop_loss_threshold", Value: p.StopLossThreshold, Reason: "must be in (0,1)"}
	}
	if p.VolatilityThreshold <= 0 {
		return &ValidationError{Field: "volatility_threshold", Value: p.VolatilityThreshold, Reason: "must be > 0"}
	}
	if p.ProfitTarget <= 0 {
		return &ValidationError{Field: "profit_target", Value: p.ProfitTarget, Reason: "must be > 0"}
	}
	if p.VolumeThreshold < 0 {
		return &ValidationError{Field: "volume_threshold", Value: p.VolumeThreshold, Reason: "must be >= 0"}
	}
	return nil
}

// ParameterUpdate carries a partial update; nil fields keep their current
// values. Applied all-or-nothing.
type ParameterUpdate struct {
	MaxTradeLimit       *float64
	StopLossThreshold   *float64
	VolatilityThreshold *float64
	ProfitTarget        *float64
	VolumeThreshold     *float64
}

// ValidationError names the field that failed an update or construction.
type ValidationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid risk parameter %s=%.4f: %s", e.Field, e.Value, e.Reason)
}

// InvalidInputError reports a caller error on a risk calculation. Never
// retried.
type InvalidInputError struct {
	Op     string
	Detail string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input to %s: %s", e.Op, e.Detail)
}

// Manager exposes the risk calculations against an atomically swappable
// parameter set.
type Manager struct {
	params atomic.Pointer[Parameters]
	log    zerolog.Logger
}

// NewManager validates the initial parameters and returns a manager.
func NewManager(initial Parameters, log zerolog.Logger) (*Manager, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{log: log}
	m.params.Store(&initial)
	return m, nil
}

// Snapshot returns a point-in-time copy of the parameters. Cheap; safe for
// concurrent use.
func (m *Manager) Snapshot() Parameters {
	return *m.params.Load()
}

// ShouldTrade reports whether current volatility is below the configured
// threshold.
func (m *Manager) ShouldTrade(currentVolatility float64) (bool, error) {
	if currentVolatility < 0 {
		return false, &InvalidInputError{Op: "ShouldTrade", Detail: fmt.Sprintf("negative volatility %.4f", currentVolatility)}
	}
	return currentVolatility < m.Snapshot().VolatilityThreshold, nil
}

// TradeSize returns the whole-share size bounded by both available capital and
// the per-trade limit. Zero is a valid result meaning no affordable size; the
// caller treats it as an implicit hold.
func (m *Manager) TradeSize(currentPrice, availableCapital float64) (int, error) {
	if currentPrice <= 0 {
		return 0, &InvalidInputError{Op: "TradeSize", Detail: fmt.Sprintf("non-positive price %.4f", currentPrice)}
	}
	if availableCapital <= 0 {
		return 0, &InvalidInputError{Op: "TradeSize", Detail: fmt.Sprintf("non-positive capital %.4f", availableCapital)}
	}
	limit := m.Snapshot().MaxTradeLimit
	capitalBound := int(math.Floor(availableCapital / currentPrice))
	limitBound := int(math.Floor(limit / currentPrice))
	if capitalBound < limitBound {
		return capitalBound, nil
	}
	return limitBound, nil
}

// StopLossPrice returns the exit trigger for an entry, widening the stop as
// volatility rises.
func (m *Manager) StopLossPrice(entryPrice, marketVolatility float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, &InvalidInputError{Op: "StopLossPrice", Detail: fmt.Sprintf("non-positive entry price %.4f", entryPrice)}
	}
	if marketVolatility < 0 {
		return 0, &InvalidInputError{Op: "StopLossPrice", Detail: fmt.Sprintf("negative volatility %.4f", marketVolatility)}
	}
	p := m.Snapshot()
	return entryPrice * (1 - (p.StopLossThreshold + marketVolatility/10)), nil
}

// UpdateParameters applies the supplied fields atomically. On any validation
// failure the previous parameters are retained unchanged.
func (m *Manager) UpdateParameters(update ParameterUpdate) error {
	next := m.Snapshot()
	if update.MaxTradeLimit != nil {
		next.MaxTradeLimit = *update.MaxTradeLimit
	}
	if update.StopLossThreshold != nil {
		next.StopLossThreshold = *update.StopLossThreshold
	}
	if update.VolatilityThreshold != nil {
		next.VolatilityThreshold = *update.VolatilityThreshold
	}
	if update.ProfitTarget != nil {
		next.ProfitTarget = *update.ProfitTarget
	}
	if update.VolumeThreshold != nil {
		next.VolumeThreshold = *update.VolumeThreshold
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.params.Store(&next)
	m.log.Info().
		Float64("max_trade_limit", next.MaxTradeLimit).
		Float64("stop_loss_threshold", next.StopLossThreshold).
		Float64("volatility_threshold", next.VolatilityThreshold).
		Msg("risk parameters updated")
	return nil
}
