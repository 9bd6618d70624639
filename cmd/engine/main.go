package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fxbot-go/internal/alert"
	"fxbot-go/internal/config"
	"fxbot-go/internal/engine"
	"fxbot-go/internal/exchange"
	"fxbot-go/internal/execution"
	"fxbot-go/internal/filter"
	"fxbot-go/internal/metrics"
	"fxbot-go/internal/paper"
	"fxbot-go/internal/risk"
	"fxbot-go/internal/signal"
	"fxbot-go/internal/store"
	"fxbot-go/internal/strategy"
	"fxbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	boot := util.NewLogger("info", "console")
	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		boot.Warn().Str("path", *configPath).Msg("config not found, using defaults")
		cfg = config.Default()
	case err != nil:
		boot.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.ApplyEnv(); err != nil {
		boot.Fatal().Err(err).Msg("apply environment")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	alerts := alert.Multi{alert.LogSink{Log: log}}
	if cfg.Alerts.WebhookURL != "" {
		alerts = append(alerts, alert.NewWebhookSink(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookToken, cfg.Alerts.Timeout()))
	}

	ledger := paper.NewLedger(1000)
	trades := store.Multi{ledger}
	var repo *store.TradeRepository
	if cfg.Store.Driver != "" {
		db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open trade store")
		}
		defer db.Close()
		repo = store.NewTradeRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate trade store")
		}
		trades = append(trades, repo)
	}
	if cfg.Store.JSONLPath != "" {
		recorder, err := paper.NewJSONLRecorder(cfg.Store.JSONLPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Store.JSONLPath).Msg("open trade journal")
		}
		defer recorder.Close()
		trades = append(trades, recorder)
	}

	token := cfg.Execution.BrokerToken
	var bridge *execution.BridgeClient
	if cfg.Execution.BrokerURL != "" {
		bridge = execution.NewBridgeClient(cfg.Execution.BrokerURL, token, cfg.Execution.BrokerTimeout(), log)
	}

	cache := exchange.NewCache(cfg.Feed.MaxBars)
	feedOpts := []exchange.Option{
		exchange.WithInterval(cfg.Feed.BarInterval()),
		exchange.WithPollInterval(cfg.Feed.PollInterval()),
		exchange.WithBinanceURL(cfg.Feed.BinanceURL),
	}
	var market *execution.BridgeClient
	if cfg.Feed.BridgeURL != "" {
		market = execution.NewBridgeClient(cfg.Feed.BridgeURL, token, cfg.Execution.BrokerTimeout(), log)
		feedOpts = append(feedOpts, exchange.WithRatesSource(market))
	}
	feed := exchange.NewFeed(cfg.Feed.Provider, cfg.Feed.Instruments, log, feedOpts...)
	var quotes *exchange.QuotePoller
	if market != nil {
		quotes = exchange.NewQuotePoller(market, cache, feed.Symbols(), cfg.Feed.PollInterval(), log)
	}
	for _, inst := range feed.Symbols() {
		bars, err := feed.History(ctx, inst, cfg.Feed.HistoryLimit)
		if err != nil {
			log.Warn().Err(err).Str("instrument", inst).Msg("history unavailable, warming up from live bars")
			continue
		}
		if n := cache.Seed(inst, bars); n > 0 {
			log.Info().Str("instrument", inst).Int("bars", n).Msg("history loaded")
		}
	}

	generators, err := strategy.BuildSet(cfg.GeneratorParams())
	if err != nil {
		log.Fatal().Err(err).Msg("build signal generators")
	}
	combiner := strategy.NewCombiner(log, generators...)

	filt := filter.New(filter.Config{
		MinConfidence: cfg.Filter.MinConfidence,
		MinStrength:   cfg.Filter.MinStrength,
		Cooldown:      cfg.Filter.Cooldown(),
		HistorySize:   cfg.Filter.HistorySize,
	}, filter.WithLogger(log))

	riskCfg := risk.Config{
		DailyLossLimit:  decimal.NewFromFloat(cfg.Risk.DailyLossLimit),
		MaxOrderSize:    decimal.NewFromFloat(cfg.Risk.MaxOrderSize),
		DryRun:          cfg.Risk.DryRunMode,
		MinStrength:     cfg.Risk.ExecutionMinStrength,
		RiskFraction:    decimal.NewFromFloat(cfg.Risk.RiskFraction),
		FundingCurrency: cfg.Risk.FundingCurrency,
	}
	gateOpts := []risk.Option{risk.WithAlerts(alerts), risk.WithLogger(log)}
	execOpts := []execution.Option{execution.WithStore(trades), execution.WithAlerts(alerts)}

	var balances risk.BalanceSource
	var account *paper.Account
	if cfg.Risk.DryRunMode {
		account = paper.NewAccount(cfg.Risk.StartingBalance, cfg.Risk.MaxUnitsPerInstrument)
		balances = account
		gateOpts = append(gateOpts, risk.WithPositionCloser(account))
		execOpts = append(execOpts, execution.WithQuotes(cache), execution.WithAccount(account))
	} else {
		balances = bridge
		gateOpts = append(gateOpts, risk.WithPositionCloser(bridge))
		execOpts = append(execOpts, execution.WithBroker(bridge))
	}
	gate := risk.NewGate(riskCfg, gateOpts...)
	if repo != nil {
		restoreDay(ctx, log, repo, gate)
	}

	executor := execution.NewExecutor(log, execution.Config{
		DryRun:          cfg.Risk.DryRunMode,
		BrokerTimeout:   cfg.Execution.BrokerTimeout(),
		OrderType:       execution.OrderType(strings.ToUpper(cfg.Execution.OrderType)),
		FundingCurrency: cfg.Risk.FundingCurrency,
	}, append(execOpts, execution.WithRisk(gate))...)

	eng, err := engine.New(log, engine.Config{
		Instruments:  feed.Symbols(),
		TickInterval: cfg.Engine.TickInterval(),
		Lookback:     cfg.Feed.HistoryLimit,
	}, engine.Components{
		Bars:     cache,
		Combiner: combiner,
		Filter:   filt,
		Gate:     gate,
		Executor: executor,
		Balances: balances,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	log.Info().
		Bool("dry_run", cfg.Risk.DryRunMode).
		Str("feed", feed.Provider()).
		Int("generators", len(generators)).
		Msg("engine starting")

	updates := make(chan signal.BarUpdate, 1024)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := feed.Run(gctx, updates)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case u := <-updates:
				cache.Append(u)
			}
		}
	})
	if quotes != nil {
		g.Go(func() error { return quotes.Run(gctx) })
	}
	g.Go(func() error { return eng.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine stopped with error")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	status := gate.Status()
	summary := log.Info().
		Str("state", status.State.String()).
		Str("daily_pnl", status.DailyPnL.String()).
		Int("daily_trades", status.DailyTrades).
		Int("filled", ledger.Count(execution.StatusFilled)).
		Int("rejected", ledger.Count(execution.StatusRejected)).
		Int("failed", ledger.Count(execution.StatusFailed))
	if account != nil {
		snap := account.Snapshot(nil)
		summary = summary.Float64("cash", snap.Cash).Float64("realized_pnl", snap.RealizedPnL)
	}
	summary.Msg("shutdown complete")
}

// restoreDay reloads today's counters so a restart cannot reset the loss limit.
func restoreDay(ctx context.Context, log zerolog.Logger, repo *store.TradeRepository, gate *risk.Gate) {
	trades, pnl, err := repo.DailySummary(ctx, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("could not restore daily counters")
		return
	}
	gate.Restore(trades, pnl)
	log.Info().Int("trades", trades).Str("pnl", pnl.String()).Msg("daily counters restored")
}
