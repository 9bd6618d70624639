// Package engine runs the decision loop: bars -> generators -> combiner -> filter -> risk gate -> executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fxbot-go/internal/execution"
	"fxbot-go/internal/metrics"
	"fxbot-go/internal/risk"
	"fxbot-go/internal/signal"
	"fxbot-go/internal/strategy"
)

// Stage names the last pipeline stage an evaluation reached.
type Stage string

const (
	StageData      Stage = "data"
	StageSignal    Stage = "signal"
	StageFilter    Stage = "filter"
	StageRisk      Stage = "risk"
	StageExecution Stage = "execution"
	StageSkipped   Stage = "skipped"
)

// Reasons reported by the engine itself; filter and risk reasons pass through unchanged.
const (
	ReasonInsufficientData = "insufficient data"
	ReasonNoSignal         = "no signal"
	ReasonCanceled         = "evaluation canceled"
	ReasonInProgress       = "evaluation already in progress"
	ReasonInternal         = "internal error"
)

const (
	defaultTickInterval = time.Minute
	defaultFetchTimeout = 30 * time.Second
)

// BarSource yields the recent closed bars of an instrument, oldest first.
type BarSource interface {
	Recent(ctx context.Context, instrument string, limit int) ([]signal.Bar, error)
}

// SignalFilter suppresses weak or repeated signals.
type SignalFilter interface {
	Process(sig *signal.Signal) (*signal.Signal, string)
}

// RiskGate approves and sizes signals.
type RiskGate interface {
	Accept(ctx context.Context, sig signal.Signal, balances risk.BalanceSource) risk.Decision
}

// OrderExecutor runs an approved order to a terminal status.
type OrderExecutor interface {
	Submit(ctx context.Context, sig signal.Signal, qty decimal.Decimal) execution.Order
}

// Decision is the outcome of one evaluation. Exactly one of Reason (nothing traded),
// Order (an order reached a terminal status) or Err (the evaluation could not run) explains it.
type Decision struct {
	Instrument string
	Stage      Stage
	Signal     *signal.Signal
	Reason     string
	Order      *execution.Order
	Err        error
}

// Traded reports whether an order was submitted.
func (d Decision) Traded() bool { return d.Order != nil }

// Config tunes the loop.
type Config struct {
	Instruments  []string
	TickInterval time.Duration
	// Lookback is the number of bars fetched per evaluation; it never drops below
	// what the slowest generator needs.
	Lookback     int
	FetchTimeout time.Duration
}

// Components are the collaborators every evaluation goes through.
type Components struct {
	Bars     BarSource
	Combiner *strategy.Combiner
	Filter   SignalFilter
	Gate     RiskGate
	Executor OrderExecutor
	Balances risk.BalanceSource
}

// Engine evaluates every configured instrument on each tick.
type Engine struct {
	log      zerolog.Logger
	cfg      Config
	c        Components
	now      func() time.Time
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
	wg       sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source stamped on combined signals.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New validates the collaborators and builds an engine.
func New(log zerolog.Logger, cfg Config, c Components, opts ...Option) (*Engine, error) {
	var missing []error
	if c.Bars == nil {
		missing = append(missing, errors.New("bar source"))
	}
	if c.Combiner == nil {
		missing = append(missing, errors.New("combiner"))
	}
	if c.Filter == nil {
		missing = append(missing, errors.New("filter"))
	}
	if c.Gate == nil {
		missing = append(missing, errors.New("risk gate"))
	}
	if c.Executor == nil {
		missing = append(missing, errors.New("executor"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("engine: missing %w", errors.Join(missing...))
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	cfg.Lookback = max(cfg.Lookback, c.Combiner.RequiredPeriods())
	e := &Engine{
		log:      log,
		cfg:      cfg,
		c:        c,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]*sync.Mutex, len(cfg.Instruments)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Instruments returns the evaluated instruments.
func (e *Engine) Instruments() []string { return append([]string(nil), e.cfg.Instruments...) }

// Run ticks until ctx is canceled. A tick that is still running for an instrument when the
// next one fires makes the newer evaluation of that instrument skip.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer e.wg.Wait()

	e.log.Info().Strs("instruments", e.cfg.Instruments).Dur("interval", e.cfg.TickInterval).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.Tick(ctx)
			}()
		}
	}
}

// Tick evaluates all instruments concurrently and returns one decision per instrument,
// in configuration order.
func (e *Engine) Tick(ctx context.Context) []Decision {
	out := make([]Decision, len(e.cfg.Instruments))
	var g errgroup.Group
	for i, inst := range e.cfg.Instruments {
		i, inst := i, inst
		g.Go(func() error {
			lock := e.lock(inst)
			if !lock.TryLock() {
				e.log.Warn().Str("instrument", inst).Msg("previous evaluation still running, skipping tick")
				out[i] = Decision{Instrument: inst, Stage: StageSkipped, Reason: ReasonInProgress}
				return nil
			}
			defer lock.Unlock()
			out[i] = e.Evaluate(ctx, inst)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Evaluate runs the pipeline once for instrument. Cancellation is honored between stages;
// once an order is handed to the executor the evaluation waits for its terminal status.
func (e *Engine) Evaluate(ctx context.Context, instrument string) (d Decision) {
	start := time.Now()
	d = Decision{Instrument: instrument, Stage: StageData}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("instrument", instrument).Interface("panic", r).Msg("evaluation panicked")
			d.Reason = ReasonInternal
			d.Err = fmt.Errorf("evaluate %s: panic: %v", instrument, r)
		}
		metrics.ObserveEvaluation(instrument, start)
	}()

	if canceled(ctx, &d) {
		return d
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	bars, err := e.c.Bars.Recent(fetchCtx, instrument, e.cfg.Lookback)
	cancel()
	if err != nil {
		if canceled(ctx, &d) {
			return d
		}
		e.log.Warn().Err(err).Str("instrument", instrument).Msg("bar fetch failed")
		d.Err = fmt.Errorf("fetch bars %s: %w", instrument, err)
		return d
	}
	if len(bars) == 0 {
		d.Reason = ReasonInsufficientData
		return d
	}

	d.Stage = StageSignal
	series := signal.SeriesFrom(instrument, bars)
	sig := e.c.Combiner.Combine(instrument, series, e.now())
	if sig == nil {
		d.Reason = ReasonNoSignal
		return d
	}
	d.Signal = sig

	if canceled(ctx, &d) {
		return d
	}
	d.Stage = StageFilter
	accepted, reason := e.c.Filter.Process(sig)
	if accepted == nil {
		d.Reason = reason
		e.count(sig, "filtered")
		return d
	}

	if canceled(ctx, &d) {
		return d
	}
	d.Stage = StageRisk
	decision := e.c.Gate.Accept(ctx, *accepted, e.c.Balances)
	if !decision.Approved {
		d.Reason = decision.Reason
		e.count(sig, "risk_rejected")
		e.log.Info().
			Str("instrument", instrument).
			Str("action", string(sig.Action)).
			Str("reason", decision.Reason).
			Msg("signal not executed")
		return d
	}

	if canceled(ctx, &d) {
		return d
	}
	d.Stage = StageExecution
	e.count(sig, "executed")
	order := e.c.Executor.Submit(ctx, *accepted, decision.Quantity)
	d.Order = &order
	d.Reason = order.Reason
	return d
}

func (e *Engine) count(sig *signal.Signal, outcome string) {
	metrics.SignalsTotal.WithLabelValues(sig.Instrument, string(sig.Action), outcome).Inc()
}

func (e *Engine) lock(instrument string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.inflight[instrument]
	if !ok {
		l = &sync.Mutex{}
		e.inflight[instrument] = l
	}
	return l
}

func canceled(ctx context.Context, d *Decision) bool {
	if err := ctx.Err(); err != nil {
		d.Reason = ReasonCanceled
		d.Err = err
		return true
	}
	return false
}
