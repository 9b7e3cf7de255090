// Package indicator derives the normalized feature set used by the strategy
// layer from validated price history.
package indicator

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/nickollio28/algorithmic-trading-bot/internal/marketdata"
)

// Indicator keys. Normalized counterparts live in Set.Normalized under the
// same keys.
const (
	SMA20      = "SMA_20"
	SMA50      = "SMA_50"
	EMA20      = "EMA_20"
	EMA50      = "EMA_50"
	RSI14      = "RSI_14"
	BollUpper  = "BOLL_UPPER"
	BollMiddle = "BOLL_MIDDLE"
	BollLower  = "BOLL_LOWER"
)

// MinBars is the minimum history needed to compute the full set.
const MinBars = 50

const (
	bollWindow = 20
	bollWidth  = 2.0
	rsiPeriod  = 14
)

// Set holds raw indicator values at the latest bar plus their z-scored
// counterparts. Built fresh per cycle and never mutated afterwards.
type Set struct {
	Values     map[string]float64
	Normalized map[string]float64
}

// InsufficientDataError reports a series too short for the indicator set.
type InsufficientDataError struct {
	Required int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d bars, have %d", e.Required, e.Actual)
}

// Compute derives the indicator set from the series. Pure function; the series
// is borrowed read-only.
func Compute(series marketdata.PriceSeries) (Set, error) {
	if series.Len() < MinBars {
		return Set{}, &InsufficientDataError{Required: MinBars, Actual: series.Len()}
	}
	closes := series.Closes()

	smaHist20 := rollingSMA(closes, 20)
	smaHist50 := rollingSMA(closes, 50)
	emaHist20 := runningEMA(closes, 20)
	emaHist50 := runningEMA(closes, 50)
	upperHist, middleHist, lowerHist := rollingBollinger(closes, bollWindow, bollWidth)

	values := map[string]float64{
		SMA20:      last(smaHist20),
		SMA50:      last(smaHist50),
		EMA20:      last(emaHist20),
		EMA50:      last(emaHist50),
		RSI14:      rsi(closes, rsiPeriod),
		BollUpper:  last(upperHist),
		BollMiddle: last(middleHist),
		BollLower:  last(lowerHist),
	}

	// RSI is already bounded [0,100] and is carried through unscaled.
	normalized := map[string]float64{RSI14: values[RSI14]}
	histories := map[string][]float64{
		SMA20:      smaHist20,
		SMA50:      smaHist50,
		EMA20:      emaHist20,
		EMA50:      emaHist50,
		BollUpper:  upperHist,
		BollMiddle: middleHist,
		BollLower:  lowerHist,
	}
	for key, hist := range histories {
		normalized[key] = zscore(values[key], hist)
	}

	return Set{Values: values, Normalized: normalized}, nil
}

// rollingSMA returns the simple moving average at every index with a full
// window, oldest first.
func rollingSMA(closes []float64, window int) []float64 {
	out := make([]float64, 0, len(closes)-window+1)
	sum := lo.Sum(closes[:window])
	out = append(out, sum/float64(window))
	for i := window; i < len(closes); i++ {
		sum += closes[i] - closes[i-window]
		out = append(out, sum/float64(window))
	}
	return out
}

// runningEMA seeds with the first close of the series and iterates forward.
// Values before the span warms up are discarded so the history aligns with the
// SMA of the same span.
func runningEMA(closes []float64, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	ema := closes[0]
	out := make([]float64, 0, len(closes)-span+1)
	for i := 1; i < len(closes); i++ {
		ema = alpha*closes[i] + (1-alpha)*ema
		if i >= span-1 {
			out = append(out, ema)
		}
	}
	if len(out) == 0 {
		out = append(out, ema)
	}
	return out
}

// rsi computes the relative strength index over the trailing period deltas.
// When average loss is exactly zero, RSI is defined as 100.
func rsi(closes []float64, period int) float64 {
	deltas := closes[len(closes)-period-1:]
	var gain, loss float64
	for i := 1; i < len(deltas); i++ {
		d := deltas[i] - deltas[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// rollingBollinger returns the upper/middle/lower band histories using the
// population standard deviation of each window.
func rollingBollinger(closes []float64, window int, width float64) (upper, middle, lower []float64) {
	middle = rollingSMA(closes, window)
	upper = make([]float64, len(middle))
	lower = make([]float64, len(middle))
	for i := range middle {
		sd := populationStddev(closes[i:i+window], middle[i])
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
	}
	return upper, middle, lower
}

func populationStddev(window []float64, mean float64) float64 {
	var sq float64
	for _, v := range window {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(window)))
}

// zscore normalizes value against the history's own mean and population
// standard deviation. Zero-variance histories normalize to 0, never infinity.
func zscore(value float64, hist []float64) float64 {
	mean := lo.Sum(hist) / float64(len(hist))
	sd := populationStddev(hist, mean)
	if sd == 0 {
		return 0
	}
	return (value - mean) / sd
}

func last(vs []float64) float64 { return vs[len(vs)-1] }
