// Package marketdata defines the validated price history types consumed by the
// indicator and strategy layers, plus the collaborators that produce them.
package marketdata

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
)

// Bar is a single OHLCV observation for a fixed interval.
type Bar struct {
	Ts     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceSeries is a time-ascending, gap-tolerant but duplicate-free sequence of
// bars. Construct it through NewSeries so malformed payloads never reach the
// numeric core.
type PriceSeries struct {
	bars []Bar
}

// NewSeries validates raw bars into a PriceSeries. Bars must be strictly
// time-ascending and free of NaN/Inf fields.
func NewSeries(bars []Bar) (PriceSeries, error) {
	for i, b := range bars {
		if hasBadValue(b) {
			return PriceSeries{}, fmt.Errorf("bar %d at %s: non-finite field", i, b.Ts.Format(time.RFC3339))
		}
		if i > 0 && !bars[i-1].Ts.Before(b.Ts) {
			return PriceSeries{}, fmt.Errorf("bar %d at %s: timestamp not after previous bar", i, b.Ts.Format(time.RFC3339))
		}
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return PriceSeries{bars: out}, nil
}

func hasBadValue(b Bar) bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Len returns the number of bars.
func (s PriceSeries) Len() int { return len(s.bars) }

// Bar returns the bar at index i.
func (s PriceSeries) Bar(i int) Bar { return s.bars[i] }

// Last returns the most recent bar. Callers must check Len first.
func (s PriceSeries) Last() Bar { return s.bars[len(s.bars)-1] }

// Closes returns the close column, oldest first.
func (s PriceSeries) Closes() []float64 {
	return lo.Map(s.bars, func(b Bar, _ int) float64 { return b.Close })
}

// RealizedVolatility estimates volatility as the population standard deviation
// of close-to-close returns over the trailing window. It returns 0 when fewer
// than two bars fall inside the window.
func (s PriceSeries) RealizedVolatility(window int) float64 {
	closes := s.Closes()
	if window+1 < len(closes) {
		closes = closes[len(closes)-window-1:]
	}
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	mean := lo.Sum(returns) / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(returns)))
}
