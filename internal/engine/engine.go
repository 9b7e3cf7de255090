// Package engine schedules per-symbol evaluation cycles and carries each one
// from data fetch through order settlement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nickollio28/algorithmic-trading-bot/internal/execution"
	"github.com/nickollio28/algorithmic-trading-bot/internal/indicator"
	"github.com/nickollio28/algorithmic-trading-bot/internal/marketdata"
	"github.com/nickollio28/algorithmic-trading-bot/internal/metrics"
	"github.com/nickollio28/algorithmic-trading-bot/internal/predict"
	"github.com/nickollio28/algorithmic-trading-bot/internal/risk"
	"github.com/nickollio28/algorithmic-trading-bot/internal/strategy"
)

// MarketData is the upstream candle collaborator. It applies its own retry
// policy and returns either a complete series or a typed fetch error.
type MarketData interface {
	Fetch(ctx context.Context, symbol, resolution string, from, to time.Time) (marketdata.PriceSeries, error)
}

// Params tunes the evaluation scheduler.
type Params struct {
	Symbols          []string
	CycleInterval    time.Duration
	Resolution       string
	LookbackBars     int
	MaxConcurrency   int
	VolatilityWindow int
	PollInterval     time.Duration
	MaxPolls         int
}

func (p *Params) defaults() {
	if p.CycleInterval <= 0 {
		p.CycleInterval = time.Minute
	}
	if p.Resolution == "" {
		p.Resolution = "D"
	}
	if p.LookbackBars < indicator.MinBars {
		p.LookbackBars = 2 * indicator.MinBars
	}
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = 4
	}
	if p.VolatilityWindow <= 0 {
		p.VolatilityWindow = 20
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.MaxPolls <= 0 {
		p.MaxPolls = 10
	}
}

// pendingOrder is a submitted-but-unconfirmed order blocking further action on
// its symbol until reconciled.
type pendingOrder struct {
	order       *execution.Order
	reservation *risk.Reservation // nil for sells
	refPrice    float64
}

// Engine runs one logical task per symbol per cycle. Symbols share nothing but
// the risk parameters and the capital ledger.
type Engine struct {
	params    Params
	market    MarketData
	predictor predict.Predictor // may be nil
	riskMgr   *risk.Manager
	ledger    *risk.Ledger
	coord     *execution.Coordinator
	book      *Book
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOrder
	quotes  map[string]marketdata.Quote
}

// New wires the collaborators into an engine. predictor may be nil; strategy
// rules that need no prediction still apply.
func New(params Params, market MarketData, predictor predict.Predictor, riskMgr *risk.Manager, ledger *risk.Ledger, coord *execution.Coordinator, log zerolog.Logger) *Engine {
	params.defaults()
	return &Engine{
		params:    params,
		market:    market,
		predictor: predictor,
		riskMgr:   riskMgr,
		ledger:    ledger,
		coord:     coord,
		book:      NewBook(),
		log:       log,
		pending:   make(map[string]*pendingOrder),
		quotes:    make(map[string]marketdata.Quote),
	}
}

// Book exposes the position book for inspection.
func (e *Engine) Book() *Book { return e.book }

// ObserveQuote records a live quote used to mark the symbol between candle
// fetches.
func (e *Engine) ObserveQuote(q marketdata.Quote) {
	e.mu.Lock()
	e.quotes[q.Symbol] = q
	e.mu.Unlock()
}

// Run evaluates all symbols once per cycle interval until ctx is canceled,
// then performs a final reconciliation poll for any unconfirmed orders.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.params.CycleInterval)
	defer ticker.Stop()

	e.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdownReconcile()
			return ctx.Err()
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle fans out one task per symbol with bounded concurrency. A symbol's
// failure never aborts the others; workers log and count errors instead of
// returning them.
func (e *Engine) runCycle(ctx context.Context) {
	cycleTs := time.Now().UTC()
	cycleID := uuid.NewString()[:8]

	g := new(errgroup.Group)
	g.SetLimit(e.params.MaxConcurrency)
	for _, symbol := range e.params.Symbols {
		symbol := symbol
		g.Go(func() error {
			log := e.log.With().Str("cycle", cycleID).Str("symbol", symbol).Logger()
			if err := e.evaluateSymbol(ctx, log, symbol, cycleTs); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("cycle aborted for symbol")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) evaluateSymbol(ctx context.Context, log zerolog.Logger, symbol string, cycleTs time.Time) error {
	metrics.CyclesTotal.WithLabelValues(symbol).Inc()

	// An unreconciled order blocks any further action on the symbol.
	if p := e.takePending(symbol); p != nil {
		if !e.reconcile(ctx, log, symbol, p) {
			return nil
		}
	}

	barSpan := resolutionDuration(e.params.Resolution)
	from := cycleTs.Add(-time.Duration(e.params.LookbackBars) * barSpan)
	series, err := e.market.Fetch(ctx, symbol, e.params.Resolution, from, cycleTs)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues(symbol, "fetch").Inc()
		return fmt.Errorf("fetch: %w", err)
	}

	set, err := indicator.Compute(series)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues(symbol, "indicators").Inc()
		return fmt.Errorf("indicators: %w", err)
	}

	snap := e.marketSnapshot(symbol, series, cycleTs)
	params := e.riskMgr.Snapshot()

	var pred *predict.Prediction
	if e.predictor != nil {
		pred, err = e.predictor.Predict(ctx, symbol, set.Normalized)
		if err != nil {
			// Rules 1-3 still apply without a prediction.
			log.Debug().Err(err).Msg("no prediction this cycle")
			pred = nil
		}
	}

	decision, err := strategy.Decide(set, snap, pred, params)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues(symbol, "decide").Inc()
		return fmt.Errorf("decide: %w", err)
	}
	logDecision(log, decision)
	if decision.Action == strategy.Hold {
		return nil
	}

	qty, reservation, ok := e.sizeTrade(log, symbol, decision, snap)
	if !ok {
		return nil
	}

	side := execution.Buy
	if decision.Action == strategy.Sell {
		side = execution.Sell
	}
	key := execution.IdempotencyKey(symbol, side, qty, cycleTs)
	order, err := e.coord.Submit(ctx, decision, symbol, qty, key)
	if err != nil {
		metrics.CycleErrorsTotal.WithLabelValues(symbol, "submit").Inc()
		e.settleFailedSubmit(log, symbol, order, reservation, snap.Price)
		return fmt.Errorf("submit: %w", err)
	}

	if err := e.coord.AwaitTerminal(ctx, order, e.params.PollInterval, e.params.MaxPolls); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("status polling interrupted")
	}
	e.settle(log, symbol, order, reservation, snap)
	return nil
}

// marketSnapshot builds the reference view from the latest bar, preferring a
// fresher live quote when one has been observed.
func (e *Engine) marketSnapshot(symbol string, series marketdata.PriceSeries, cycleTs time.Time) strategy.MarketSnapshot {
	last := series.Last()
	snap := strategy.MarketSnapshot{
		Symbol:     symbol,
		Price:      last.Close,
		Volume:     last.Volume,
		Volatility: series.RealizedVolatility(e.params.VolatilityWindow),
		Ts:         cycleTs,
	}
	e.mu.Lock()
	quote, ok := e.quotes[symbol]
	e.mu.Unlock()
	if ok && quote.Ts.After(last.Ts) && quote.Price > 0 {
		snap.Price = quote.Price
	}
	return snap
}

// sizeTrade resolves the order quantity. For buys, sizing and capital
// reservation happen under a single ledger lock so concurrent symbols cannot
// over-commit. A zero size is an implicit hold.
func (e *Engine) sizeTrade(log zerolog.Logger, symbol string, decision strategy.Decision, snap strategy.MarketSnapshot) (int, *risk.Reservation, bool) {
	if decision.Action == strategy.Sell {
		pos := e.book.Position(symbol)
		if pos.Size <= 0 {
			log.Debug().Msg("sell decision with no open position, nothing to exit")
			return 0, nil, false
		}
		return pos.Size, nil, true
	}

	if ok, err := e.riskMgr.ShouldTrade(snap.Volatility); err != nil || !ok {
		if err != nil {
			log.Error().Err(err).Msg("volatility check failed")
		}
		return 0, nil, false
	}

	var qty int
	reservation, ok := e.ledger.ReserveWith(func(available float64) float64 {
		n, err := e.riskMgr.TradeSize(snap.Price, available)
		if err != nil || n <= 0 {
			return 0
		}
		qty = n
		return float64(n) * snap.Price
	})
	if !ok {
		log.Debug().Float64("price", snap.Price).Msg("no affordable size, implicit hold")
		return 0, nil, false
	}
	return qty, reservation, true
}

// settleFailedSubmit resolves the reservation after Submit returned an error.
// Unknown outcomes keep their capital earmarked until reconciliation; anything
// that never reached the broker releases it.
func (e *Engine) settleFailedSubmit(log zerolog.Logger, symbol string, order *execution.Order, reservation *risk.Reservation, refPrice float64) {
	if order == nil {
		if reservation != nil {
			reservation.Release()
		}
		return
	}
	switch order.Status {
	case execution.StatusUnknown, execution.StatusSubmitted:
		e.setPending(symbol, &pendingOrder{order: order, reservation: reservation, refPrice: refPrice})
		log.Warn().Str("client_order_id", order.ClientOrderID).Msg("order outcome unknown, symbol blocked until reconciled")
	default:
		if reservation != nil {
			reservation.Release()
		}
	}
}

// settle resolves a submitted order's terminal status against the position
// book and the ledger. Non-terminal orders become pending reconciliations.
func (e *Engine) settle(log zerolog.Logger, symbol string, order *execution.Order, reservation *risk.Reservation, snap strategy.MarketSnapshot) {
	switch order.Status {
	case execution.StatusFilled:
		e.applyFill(log, symbol, order, reservation, snap.Price, snap.Volatility)
	case execution.StatusRejected, execution.StatusCancelled:
		if reservation != nil {
			reservation.Release()
		}
		log.Info().Str("order_id", order.ID).Str("status", string(order.Status)).Msg("order closed without fill")
	default:
		e.setPending(symbol, &pendingOrder{order: order, reservation: reservation, refPrice: snap.Price})
		log.Warn().Str("order_id", order.ID).Str("status", string(order.Status)).Msg("order not terminal, deferred to reconciliation")
	}
}

func (e *Engine) applyFill(log zerolog.Logger, symbol string, order *execution.Order, reservation *risk.Reservation, price, volatility float64) {
	fillPrice := price
	if order.LimitPrice != nil {
		fillPrice = *order.LimitPrice
	}
	e.book.ApplyFill(symbol, order.Side, order.Quantity, fillPrice)
	if order.Side == execution.Buy {
		if reservation != nil {
			reservation.Commit()
		}
		if stop, err := e.riskMgr.StopLossPrice(fillPrice, volatility); err == nil {
			log.Info().Float64("entry", fillPrice).Float64("stop_loss", stop).Int("qty", order.Quantity).Msg("long position opened")
		}
		return
	}
	e.ledger.Deposit(float64(order.Quantity) * fillPrice)
	log.Info().Float64("exit", fillPrice).Int("qty", order.Quantity).Msg("position reduced")
}

// reconcile polls the true remote status of a pending order. Returns true when
// the symbol is clear for new activity.
func (e *Engine) reconcile(ctx context.Context, log zerolog.Logger, symbol string, p *pendingOrder) bool {
	ref := p.order.ID
	if ref == "" {
		// Never acknowledged; the broker indexes the idempotency key.
		ref = p.order.ClientOrderID
	}
	status, err := e.coord.PollStatus(ctx, ref)
	if err != nil {
		if errors.Is(err, execution.ErrOrderNotFound) {
			// The submission never reached the broker; safe to free capital
			// and trade again.
			if p.reservation != nil {
				p.reservation.Release()
			}
			log.Info().Str("ref", ref).Msg("pending order not found at broker, cleared")
			return true
		}
		e.setPending(symbol, p)
		log.Warn().Err(err).Str("ref", ref).Msg("reconciliation poll failed, symbol stays blocked")
		return false
	}
	if !status.Terminal() || status == execution.StatusUnknown {
		// An unrecognized remote status resolves nothing; the symbol stays
		// blocked with its capital still earmarked.
		e.setPending(symbol, p)
		log.Warn().Str("ref", ref).Str("status", string(status)).Msg("pending order still unresolved")
		return false
	}
	p.order.Status = status
	e.settle(log, symbol, p.order, p.reservation, strategy.MarketSnapshot{Price: p.refPrice})
	return true
}

// shutdownReconcile gives every unconfirmed order a final status poll before
// the process exits; a Submitted order is never silently abandoned.
func (e *Engine) shutdownReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingOrder)
	e.mu.Unlock()

	for symbol, p := range pending {
		log := e.log.With().Str("symbol", symbol).Logger()
		if !e.reconcile(ctx, log, symbol, p) {
			log.Error().Str("client_order_id", p.order.ClientOrderID).
				Msg("order still unconfirmed at shutdown, reconcile before restarting")
		}
	}
}

func (e *Engine) takePending(symbol string) *pendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[symbol]
	if !ok {
		return nil
	}
	delete(e.pending, symbol)
	return p
}

func (e *Engine) setPending(symbol string, p *pendingOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[symbol]; ok {
		// An unreconciled order is never displaced; the first entry wins.
		return
	}
	e.pending[symbol] = p
}

// PendingOrders reports the symbols currently blocked on reconciliation.
func (e *Engine) PendingOrders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for sym := range e.pending {
		out = append(out, sym)
	}
	return out
}

func logDecision(log zerolog.Logger, decision strategy.Decision) {
	fired := "none"
	for _, trace := range decision.Rationale {
		if trace.Fired {
			fired = trace.Rule
		}
	}
	log.Info().Str("action", string(decision.Action)).Str("rule", fired).
		Float64("reference", decision.ReferencePrice).Msg("decision")
}

func resolutionDuration(resolution string) time.Duration {
	switch resolution {
	case "1":
		return time.Minute
	case "5":
		return 5 * time.Minute
	case "15":
		return 15 * time.Minute
	case "30":
		return 30 * time.Minute
	case "60":
		return time.Hour
	case "W":
		return 7 * 24 * time.Hour
	default: // "D"
		return 24 * time.Hour
	}
}
