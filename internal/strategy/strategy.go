// Package strategy maps indicators and an optional external prediction onto a
// trading action through a priority-ordered rule chain.
package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/nickollio28/algorithmic-trading-bot/internal/indicator"
	"github.com/nickollio28/algorithmic-trading-bot/internal/predict"
	"github.com/nickollio28/algorithmic-trading-bot/internal/risk"
)

// Action is the outcome of a decision cycle.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Rule identifiers recorded in the decision rationale, in precedence order.
const (
	RuleBollinger      = "bollinger_breakout"
	RuleRSI            = "rsi_extreme"
	RuleCrossover      = "ma_crossover"
	RulePrediction     = "prediction_edge"
	RuleHold           = "default_hold"
	RuleVolatilityGate = "volatility_gate"
)

// MarketSnapshot is the per-cycle reference view of the market.
type MarketSnapshot struct {
	Symbol     string
	Price      float64
	Volume     float64
	Volatility float64
	Ts         time.Time
}

// RuleTrace records one evaluated rule for auditability.
type RuleTrace struct {
	Rule   string
	Fired  bool
	Detail string
}

// Decision is the immutable result of one evaluation cycle.
type Decision struct {
	Action         Action
	ReferencePrice float64
	Rationale      []RuleTrace
}

// MissingFieldError reports a malformed market snapshot or indicator set. The
// cycle is skipped; never retried.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing or invalid field %q in market snapshot", e.Field)
}

var requiredIndicators = []string{
	indicator.BollUpper,
	indicator.BollLower,
	indicator.RSI14,
	indicator.SMA20,
	indicator.SMA50,
}

// Decide walks the rule chain and returns the first matching action. Buy
// decisions are downgraded to Hold when volatility breaches the threshold;
// exits are always permitted. The rationale lists every rule evaluated.
func Decide(set indicator.Set, snap MarketSnapshot, pred *predict.Prediction, params risk.Parameters) (Decision, error) {
	if snap.Price <= 0 || math.IsNaN(snap.Price) {
		return Decision{}, &MissingFieldError{Field: "current_price"}
	}
	if snap.Volume < 0 || math.IsNaN(snap.Volume) {
		return Decision{}, &MissingFieldError{Field: "volume"}
	}
	for _, key := range requiredIndicators {
		if _, ok := set.Values[key]; !ok {
			return Decision{}, &MissingFieldError{Field: key}
		}
	}

	action, reference, rationale := walkRules(set, snap, pred, params)

	if action == Buy && snap.Volatility >= params.VolatilityThreshold {
		rationale = append(rationale, RuleTrace{
			Rule:   RuleVolatilityGate,
			Fired:  true,
			Detail: fmt.Sprintf("volatility %.4f >= threshold %.4f, buy downgraded to hold", snap.Volatility, params.VolatilityThreshold),
		})
		action = Hold
		reference = snap.Price
	}

	return Decision{Action: action, ReferencePrice: reference, Rationale: rationale}, nil
}

func walkRules(set indicator.Set, snap MarketSnapshot, pred *predict.Prediction, params risk.Parameters) (Action, float64, []RuleTrace) {
	rationale := make([]RuleTrace, 0, 5)
	upper := set.Values[indicator.BollUpper]
	lower := set.Values[indicator.BollLower]
	rsi := set.Values[indicator.RSI14]
	smaFast := set.Values[indicator.SMA20]
	smaSlow := set.Values[indicator.SMA50]

	// Rule 1: Bollinger breakout.
	switch {
	case snap.Price > upper:
		rationale = append(rationale, RuleTrace{Rule: RuleBollinger, Fired: true,
			Detail: fmt.Sprintf("price %.2f above upper band %.2f", snap.Price, upper)})
		return Sell, snap.Price, rationale
	case snap.Price < lower:
		rationale = append(rationale, RuleTrace{Rule: RuleBollinger, Fired: true,
			Detail: fmt.Sprintf("price %.2f below lower band %.2f", snap.Price, lower)})
		return Buy, snap.Price, rationale
	default:
		rationale = append(rationale, RuleTrace{Rule: RuleBollinger,
			Detail: fmt.Sprintf("price %.2f within bands [%.2f, %.2f]", snap.Price, lower, upper)})
	}

	// Rule 2: RSI extremes.
	switch {
	case rsi > 70:
		rationale = append(rationale, RuleTrace{Rule: RuleRSI, Fired: true,
			Detail: fmt.Sprintf("rsi %.1f overbought", rsi)})
		return Sell, snap.Price, rationale
	case rsi < 30:
		rationale = append(rationale, RuleTrace{Rule: RuleRSI, Fired: true,
			Detail: fmt.Sprintf("rsi %.1f oversold", rsi)})
		return Buy, snap.Price, rationale
	default:
		rationale = append(rationale, RuleTrace{Rule: RuleRSI, Detail: fmt.Sprintf("rsi %.1f neutral", rsi)})
	}

	// Rule 3: moving-average crossover.
	switch {
	case smaFast > smaSlow:
		rationale = append(rationale, RuleTrace{Rule: RuleCrossover, Fired: true,
			Detail: fmt.Sprintf("sma20 %.2f above sma50 %.2f", smaFast, smaSlow)})
		return Buy, snap.Price, rationale
	case smaFast < smaSlow:
		rationale = append(rationale, RuleTrace{Rule: RuleCrossover, Fired: true,
			Detail: fmt.Sprintf("sma20 %.2f below sma50 %.2f", smaFast, smaSlow)})
		return Sell, snap.Price, rationale
	default:
		rationale = append(rationale, RuleTrace{Rule: RuleCrossover, Detail: "sma20 equals sma50"})
	}

	// Rule 4: prediction edge. Skipped when no usable prediction is supplied.
	if pred != nil && pred.Price > 0 {
		switch {
		case pred.Price > snap.Price*(1+params.ProfitTarget) && snap.Volume > params.VolumeThreshold:
			rationale = append(rationale, RuleTrace{Rule: RulePrediction, Fired: true,
				Detail: fmt.Sprintf("predicted %.2f clears profit target over %.2f with volume %.0f", pred.Price, snap.Price, snap.Volume)})
			return Buy, pred.Price, rationale
		case pred.Price < snap.Price*(1-params.StopLossThreshold):
			rationale = append(rationale, RuleTrace{Rule: RulePrediction, Fired: true,
				Detail: fmt.Sprintf("predicted %.2f breaches stop-loss band under %.2f", pred.Price, snap.Price)})
			return Sell, pred.Price, rationale
		default:
			rationale = append(rationale, RuleTrace{Rule: RulePrediction,
				Detail: fmt.Sprintf("predicted %.2f inside bands", pred.Price)})
		}
	} else {
		rationale = append(rationale, RuleTrace{Rule: RulePrediction, Detail: "no prediction supplied"})
	}

	rationale = append(rationale, RuleTrace{Rule: RuleHold, Fired: true, Detail: "no rule matched"})
	return Hold, snap.Price, rationale
}
