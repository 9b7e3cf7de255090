package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nickollio28/algorithmic-trading-bot/internal/execution"
	"github.com/nickollio28/algorithmic-trading-bot/internal/marketdata"
	"github.com/nickollio28/algorithmic-trading-bot/internal/risk"
)

// stubMarket serves canned series (or errors) per symbol.
type stubMarket struct {
	series map[string]marketdata.PriceSeries
	errs   map[string]error
}

func (s *stubMarket) Fetch(ctx context.Context, symbol, resolution string, from, to time.Time) (marketdata.PriceSeries, error) {
	if err, ok := s.errs[symbol]; ok {
		return marketdata.PriceSeries{}, err
	}
	return s.series[symbol], nil
}

// fakeBroker fills every order it has seen; ids it never accepted report
// not-found. statusFor overrides the reported status per id.
type fakeBroker struct {
	mu        sync.Mutex
	placed    int
	known     map[string]bool
	statusFor map[string]execution.Status
	failPlace bool
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPlace {
		return execution.OrderAck{}, &execution.TransientError{Err: errors.New("timeout")}
	}
	f.placed++
	id := fmt.Sprintf("ord-%d", f.placed)
	if f.known == nil {
		f.known = make(map[string]bool)
	}
	f.known[id] = true
	return execution.OrderAck{OrderID: id, Status: execution.StatusSubmitted}, nil
}

func (f *fakeBroker) OrderStatus(ctx context.Context, orderID string) (execution.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statusFor[orderID]; ok {
		return status, nil
	}
	if !f.known[orderID] {
		return execution.StatusUnknown, fmt.Errorf("order %s: %w", orderID, execution.ErrOrderNotFound)
	}
	return execution.StatusFilled, nil
}

func (f *fakeBroker) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed
}

// seriesWithLastClose builds 50 flat bars at 100 ending with the given close,
// enough history for every indicator.
func seriesWithLastClose(t *testing.T, last float64) marketdata.PriceSeries {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]marketdata.Bar, 50)
	for i := range bars {
		close := 100.0
		if i == 49 {
			close = last
		}
		bars[i] = marketdata.Bar{
			Ts:     base.Add(time.Duration(i) * 24 * time.Hour),
			Open:   close,
			High:   close + 1,
			Low:    close - 1,
			Close:  close,
			Volume: 5000,
		}
	}
	series, err := marketdata.NewSeries(bars)
	if err != nil {
		t.Fatalf("build series: %v", err)
	}
	return series
}

func testRiskParams() risk.Parameters {
	return risk.Parameters{
		MaxTradeLimit:       10000,
		StopLossThreshold:   0.05,
		VolatilityThreshold: 0.5,
		ProfitTarget:        0.1,
		VolumeThreshold:     1000,
	}
}

func newTestEngine(t *testing.T, market MarketData, broker execution.Broker, capital float64) (*Engine, *risk.Ledger) {
	t.Helper()
	mgr, err := risk.NewManager(testRiskParams(), zerolog.Nop())
	if err != nil {
		t.Fatalf("risk manager: %v", err)
	}
	ledger := risk.NewLedger(capital)
	coord := execution.NewCoordinator(broker, zerolog.Nop(),
		execution.WithMaxAttempts(2), execution.WithBaseDelay(time.Millisecond))
	params := Params{
		Symbols:          []string{"AAPL"},
		Resolution:       "D",
		LookbackBars:     60,
		VolatilityWindow: 20,
		PollInterval:     time.Millisecond,
		MaxPolls:         3,
	}
	return New(params, market, nil, mgr, ledger, coord, zerolog.Nop()), ledger
}

func TestEvaluateSymbolBuyFlow(t *testing.T) {
	// A close far below the lower band fires the mean-reversion buy.
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 50),
	}}
	broker := &fakeBroker{}
	eng, ledger := newTestEngine(t, market, broker, 10000)

	if err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC()); err != nil {
		t.Fatalf("evaluateSymbol returned error: %v", err)
	}

	pos := eng.Book().Position("AAPL")
	if pos.Side != Long || pos.Size != 200 {
		t.Fatalf("expected long 200 at $50, got %+v", pos)
	}
	if pos.EntryPrice != 50 {
		t.Fatalf("expected entry 50, got %.2f", pos.EntryPrice)
	}
	if got := ledger.Available(); got != 0 {
		t.Fatalf("fill must consume the reservation, %v still available", got)
	}
	if broker.placedCount() != 1 {
		t.Fatalf("expected one order, got %d", broker.placedCount())
	}
}

func TestEvaluateSymbolSellWhileFlatSkips(t *testing.T) {
	// A close far above the upper band fires the sell rule, but there is no
	// position to exit.
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 150),
	}}
	broker := &fakeBroker{}
	eng, ledger := newTestEngine(t, market, broker, 10000)

	if err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC()); err != nil {
		t.Fatalf("evaluateSymbol returned error: %v", err)
	}
	if broker.placedCount() != 0 {
		t.Fatalf("flat sell must not reach the broker, got %d orders", broker.placedCount())
	}
	if got := ledger.Available(); got != 10000 {
		t.Fatalf("no capital should move, available %v", got)
	}
}

func TestEvaluateSymbolSellClosesPosition(t *testing.T) {
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 150),
	}}
	broker := &fakeBroker{}
	eng, ledger := newTestEngine(t, market, broker, 10000)
	eng.Book().ApplyFill("AAPL", execution.Buy, 40, 100)

	if err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC()); err != nil {
		t.Fatalf("evaluateSymbol returned error: %v", err)
	}
	pos := eng.Book().Position("AAPL")
	if pos.Side != Flat {
		t.Fatalf("expected flat after exit, got %+v", pos)
	}
	// Proceeds of 40 shares at the reference price land back in the ledger.
	if got := ledger.Available(); got != 10000+40*150 {
		t.Fatalf("expected sale proceeds deposited, available %v", got)
	}
}

func TestCycleIsolatesSymbolFailures(t *testing.T) {
	market := &stubMarket{
		series: map[string]marketdata.PriceSeries{
			"MSFT": seriesWithLastClose(t, 50),
		},
		errs: map[string]error{
			"AAPL": marketdata.ErrUnavailable,
		},
	}
	broker := &fakeBroker{}
	eng, _ := newTestEngine(t, market, broker, 10000)
	eng.params.Symbols = []string{"AAPL", "MSFT"}

	eng.runCycle(context.Background())

	if eng.Book().Position("MSFT").Size == 0 {
		t.Fatalf("healthy symbol must trade despite the other failing")
	}
	if eng.Book().Position("AAPL").Size != 0 {
		t.Fatalf("failed symbol must not trade")
	}
}

func TestUnknownOrderBlocksThenReconciles(t *testing.T) {
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 50),
	}}
	broker := &fakeBroker{failPlace: true}
	eng, ledger := newTestEngine(t, market, broker, 10000)

	// Every attempt times out: the order ends Unknown and the symbol blocks
	// with its capital still earmarked.
	err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC())
	if err == nil {
		t.Fatalf("expected submit error")
	}
	if pending := eng.PendingOrders(); len(pending) != 1 || pending[0] != "AAPL" {
		t.Fatalf("expected AAPL pending, got %v", pending)
	}
	if got := ledger.Available(); got != 0 {
		t.Fatalf("unknown order must keep its reservation, available %v", got)
	}

	// Next cycle: the broker has no record of the phantom order, so the
	// capital is released and the symbol trades again.
	broker.mu.Lock()
	broker.failPlace = false
	broker.mu.Unlock()

	if err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC()); err != nil {
		t.Fatalf("evaluateSymbol after reconcile returned error: %v", err)
	}
	if len(eng.PendingOrders()) != 0 {
		t.Fatalf("pending should be cleared after reconciliation")
	}
	if eng.Book().Position("AAPL").Size != 200 {
		t.Fatalf("expected the retried cycle to fill, got %+v", eng.Book().Position("AAPL"))
	}
}

func TestAmbiguousStatusKeepsSymbolBlocked(t *testing.T) {
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 50),
	}}
	// The venue reports a status we cannot map; it resolves nothing.
	broker := &fakeBroker{statusFor: map[string]execution.Status{"ord-x": execution.StatusUnknown}}
	eng, ledger := newTestEngine(t, market, broker, 10000)

	res, ok := ledger.Reserve(5000)
	if !ok {
		t.Fatalf("seed reservation failed")
	}
	eng.setPending("AAPL", &pendingOrder{
		order: &execution.Order{
			ID:            "ord-x",
			ClientOrderID: "key-x",
			Symbol:        "AAPL",
			Side:          execution.Buy,
			Quantity:      100,
			Status:        execution.StatusUnknown,
		},
		reservation: res,
		refPrice:    50,
	})

	if err := eng.evaluateSymbol(context.Background(), zerolog.Nop(), "AAPL", time.Now().UTC()); err != nil {
		t.Fatalf("evaluateSymbol returned error: %v", err)
	}
	if broker.placedCount() != 0 {
		t.Fatalf("blocked symbol must not submit a new order, got %d", broker.placedCount())
	}
	if pending := eng.PendingOrders(); len(pending) != 1 || pending[0] != "AAPL" {
		t.Fatalf("symbol must stay pending, got %v", pending)
	}
	if got := ledger.Available(); got != 5000 {
		t.Fatalf("unresolved order must keep its reservation, available %v", got)
	}
}

func TestPendingEntryNotDisplaced(t *testing.T) {
	market := &stubMarket{series: map[string]marketdata.PriceSeries{}}
	eng, _ := newTestEngine(t, market, &fakeBroker{}, 10000)

	first := &pendingOrder{order: &execution.Order{ClientOrderID: "first"}}
	second := &pendingOrder{order: &execution.Order{ClientOrderID: "second"}}
	eng.setPending("AAPL", first)
	eng.setPending("AAPL", second)

	got := eng.takePending("AAPL")
	if got == nil || got.order.ClientOrderID != "first" {
		t.Fatalf("existing pending entry must win, got %+v", got)
	}
	if eng.takePending("AAPL") != nil {
		t.Fatalf("second entry must not have been stored")
	}
}

func TestQuoteOverridesStaleBar(t *testing.T) {
	market := &stubMarket{series: map[string]marketdata.PriceSeries{
		"AAPL": seriesWithLastClose(t, 100),
	}}
	broker := &fakeBroker{}
	eng, _ := newTestEngine(t, market, broker, 10000)

	eng.ObserveQuote(marketdata.Quote{Symbol: "AAPL", Price: 101.5, Ts: time.Now().UTC()})
	snap := eng.marketSnapshot("AAPL", market.series["AAPL"], time.Now().UTC())
	if snap.Price != 101.5 {
		t.Fatalf("fresher quote must win, got %.2f", snap.Price)
	}

	// A quote older than the last bar is ignored.
	eng.ObserveQuote(marketdata.Quote{Symbol: "AAPL", Price: 55, Ts: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)})
	snap = eng.marketSnapshot("AAPL", market.series["AAPL"], time.Now().UTC())
	if snap.Price != 100 {
		t.Fatalf("stale quote must be ignored, got %.2f", snap.Price)
	}
}

func TestParamsDefaults(t *testing.T) {
	var p Params
	p.defaults()
	if p.CycleInterval != time.Minute || p.Resolution != "D" {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if p.LookbackBars < 50 {
		t.Fatalf("lookback must cover indicator history, got %d", p.LookbackBars)
	}
	if p.MaxConcurrency <= 0 || p.MaxPolls <= 0 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestResolutionDuration(t *testing.T) {
	if resolutionDuration("5") != 5*time.Minute {
		t.Fatalf("unexpected duration for 5m")
	}
	if resolutionDuration("D") != 24*time.Hour {
		t.Fatalf("unexpected duration for D")
	}
	if resolutionDuration("bogus") != 24*time.Hour {
		t.Fatalf("unknown resolutions default to daily")
	}
}
