package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nickollio28/algorithmic-trading-bot/internal/marketdata"
)

func seriesFromCloses(t *testing.T, closes []float64) marketdata.PriceSeries {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{Ts: base.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	series, err := marketdata.NewSeries(bars)
	if err != nil {
		t.Fatalf("NewSeries returned error: %v", err)
	}
	return series
}

func ascending(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestComputeShortSeries(t *testing.T) {
	for _, n := range []int{0, 1, 10, 49} {
		_, err := Compute(seriesFromCloses(t, ascending(n)))
		var insufficient *InsufficientDataError
		if !errors.As(err, &insufficient) {
			t.Fatalf("n=%d: expected InsufficientDataError, got %v", n, err)
		}
		if insufficient.Required != MinBars || insufficient.Actual != n {
			t.Fatalf("n=%d: unexpected lengths in error: %+v", n, insufficient)
		}
	}
}

func TestComputeMovingAverages(t *testing.T) {
	set, err := Compute(seriesFromCloses(t, ascending(50)))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	// Last 20 closes are 31..50, last 50 are 1..50.
	if got := set.Values[SMA20]; math.Abs(got-40.5) > 1e-9 {
		t.Fatalf("unexpected SMA_20: %.4f", got)
	}
	if got := set.Values[SMA50]; math.Abs(got-25.5) > 1e-9 {
		t.Fatalf("unexpected SMA_50: %.4f", got)
	}
}

func TestComputeBollingerBands(t *testing.T) {
	set, err := Compute(seriesFromCloses(t, ascending(50)))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	middle := set.Values[BollMiddle]
	if math.Abs(middle-set.Values[SMA20]) > 1e-9 {
		t.Fatalf("middle band %.4f should equal SMA_20 %.4f", middle, set.Values[SMA20])
	}
	// Population variance of 20 consecutive integers is (20^2-1)/12.
	sd := math.Sqrt(399.0 / 12.0)
	if got := set.Values[BollUpper]; math.Abs(got-(middle+2*sd)) > 1e-9 {
		t.Fatalf("unexpected upper band: %.4f", got)
	}
	if got := set.Values[BollLower]; math.Abs(got-(middle-2*sd)) > 1e-9 {
		t.Fatalf("unexpected lower band: %.4f", got)
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	set, err := Compute(seriesFromCloses(t, ascending(50)))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got := set.Values[RSI14]; got != 100 {
		t.Fatalf("expected RSI 100 for monotone gains, got %.4f", got)
	}
}

func TestRSIWithinBounds(t *testing.T) {
	closes := make([]float64, 60)
	px := 100.0
	for i := range closes {
		if i%3 == 0 {
			px -= 1.5
		} else {
			px += 1.0
		}
		closes[i] = px
	}
	set, err := Compute(seriesFromCloses(t, closes))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	rsi := set.Values[RSI14]
	if rsi < 0 || rsi > 100 {
		t.Fatalf("RSI out of bounds: %.4f", rsi)
	}
}

func TestRSIAllLossesNearZero(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	set, err := Compute(seriesFromCloses(t, closes))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got := set.Values[RSI14]; got != 0 {
		t.Fatalf("expected RSI 0 for monotone losses, got %.4f", got)
	}
}

func TestConstantSeriesNormalizesToZero(t *testing.T) {
	set, err := Compute(seriesFromCloses(t, constant(60, 42)))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	for _, key := range []string{SMA20, SMA50, EMA20, EMA50, BollUpper, BollMiddle, BollLower} {
		if got := set.Normalized[key]; got != 0 {
			t.Fatalf("expected zero-variance %s to normalize to 0, got %.4f", key, got)
		}
	}
	// No deltas at all means average loss is exactly zero.
	if got := set.Values[RSI14]; got != 100 {
		t.Fatalf("expected RSI 100 for flat series, got %.4f", got)
	}
	if got := set.Values[EMA20]; got != 42 {
		t.Fatalf("expected EMA to equal constant close, got %.4f", got)
	}
}

func TestRSINormalizedPassthrough(t *testing.T) {
	set, err := Compute(seriesFromCloses(t, ascending(50)))
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if set.Normalized[RSI14] != set.Values[RSI14] {
		t.Fatalf("RSI should pass through normalization unscaled")
	}
}
