package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/nickollio28/algorithmic-trading-bot/internal/broker"
	"github.com/nickollio28/algorithmic-trading-bot/internal/config"
	"github.com/nickollio28/algorithmic-trading-bot/internal/engine"
	"github.com/nickollio28/algorithmic-trading-bot/internal/execution"
	"github.com/nickollio28/algorithmic-trading-bot/internal/marketdata"
	"github.com/nickollio28/algorithmic-trading-bot/internal/metrics"
	"github.com/nickollio28/algorithmic-trading-bot/internal/predict"
	"github.com/nickollio28/algorithmic-trading-bot/internal/risk"
	"github.com/nickollio28/algorithmic-trading-bot/internal/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info", "trader")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.Name)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One pooled HTTP client shared by all collaborators; lifecycle owned here.
	httpClient := &http.Client{Timeout: 10 * time.Second}

	market := marketdata.NewClient(cfg.Market.BaseURL, cfg.Market.APIKey, httpClient, log)
	brokerClient := broker.New(cfg.Broker.BaseURL, cfg.Broker.APIKey, httpClient, log)

	var predictor predict.Predictor
	if cfg.Predictor.Enabled {
		predictor = predict.NewHTTPPredictor(cfg.Predictor.BaseURL, httpClient, log)
	}

	riskMgr, err := risk.NewManager(cfg.Risk, log)
	if err != nil {
		log.Fatal().Err(err).Msg("risk parameters")
	}
	ledger := risk.NewLedger(cfg.Engine.StartingCapital)

	coord := execution.NewCoordinator(brokerClient, log,
		execution.WithMaxAttempts(cfg.Execution.MaxAttempts),
		execution.WithBaseDelay(time.Duration(cfg.Execution.BaseDelayMs)*time.Millisecond),
	)

	eng := engine.New(engine.Params{
		Symbols:          cfg.Engine.Symbols,
		CycleInterval:    time.Duration(cfg.Engine.CycleIntervalSecs) * time.Second,
		Resolution:       cfg.Market.Resolution,
		LookbackBars:     cfg.Market.LookbackBars,
		MaxConcurrency:   cfg.Engine.MaxConcurrency,
		VolatilityWindow: cfg.Engine.VolatilityWindow,
		PollInterval:     time.Duration(cfg.Execution.PollIntervalMs) * time.Millisecond,
		MaxPolls:         cfg.Execution.MaxPolls,
	}, market, predictor, riskMgr, ledger, coord, log)

	if cfg.Market.StreamURL != "" {
		stream := marketdata.NewQuoteStream(cfg.Market.StreamURL, cfg.Engine.Symbols, log)
		quotes := make(chan marketdata.Quote, 1024)
		go func() {
			defer close(quotes)
			if err := stream.Run(ctx, quotes); err != nil {
				log.Warn().Err(err).Msg("quote stream stopped")
			}
		}()
		go func() {
			for q := range quotes {
				eng.ObserveQuote(q)
			}
		}()
	}

	log.Info().Strs("symbols", cfg.Engine.Symbols).Float64("capital", cfg.Engine.StartingCapital).Msg("trading engine started")
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown complete")
}
