// Package risk owns the trading state machine, daily limits, and position sizing.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/alert"
	"fxbot-go/internal/metrics"
	"fxbot-go/internal/signal"
)

// State is the coarse trading state derived from the enabled and emergency flags.
type State int

const (
	Enabled State = iota
	Disabled
	EmergencyStopped
)

func (s State) String() string {
	switch s {
	case Enabled:
		return "ENABLED"
	case Disabled:
		return "DISABLED"
	case EmergencyStopped:
		return "EMERGENCY_STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Rejection reasons returned in Decision.Reason.
const (
	ReasonTradingDisabled = "trading disabled or emergency stop active"
	ReasonDailyLimits     = "daily limits exceeded"
	ReasonWeakSignal      = "signal strength too weak"
	ReasonSizingFailed    = "position size calculation failed"
)

var (
	ErrEmergencyStop = errors.New("emergency stop is active, clear it first")
	ErrDailyLimits   = errors.New("daily limits exceeded")
)

// Config holds the limits the gate enforces.
type Config struct {
	DailyLossLimit  decimal.Decimal
	MaxOrderSize    decimal.Decimal
	DryRun          bool
	MinStrength     float64
	RiskFraction    decimal.Decimal
	FundingCurrency string
}

func DefaultConfig() Config {
	return Config{
		DailyLossLimit:  decimal.NewFromInt(1000),
		MaxOrderSize:    decimal.NewFromInt(10000),
		DryRun:          true,
		MinStrength:     0.7,
		RiskFraction:    decimal.NewFromFloat(0.01),
		FundingCurrency: "USD",
	}
}

// BalanceSource reports the account balance used for sizing.
type BalanceSource interface {
	AccountBalance(ctx context.Context) (decimal.Decimal, error)
}

// PositionCloser flattens open exposure when the emergency stop fires.
type PositionCloser interface {
	CloseAllPositions(ctx context.Context) error
}

// Decision is the gate's verdict on one signal.
type Decision struct {
	Approved bool
	Reason   string
	Quantity decimal.Decimal
}

// Status is a point-in-time snapshot of the gate.
type Status struct {
	State          State
	TradingEnabled bool
	EmergencyStop  bool
	DryRun         bool
	DailyPnL       decimal.Decimal
	DailyTrades    int
	DailyLossLimit decimal.Decimal
	MaxOrderSize   decimal.Decimal
	LastResetDate  time.Time
}

// Gate serialises every read and write of the risk state through one mutex.
// Alerts and collaborator calls happen after the lock is released.
type Gate struct {
	log    zerolog.Logger
	now    func() time.Time
	alerts alert.Sink
	closer PositionCloser

	mu             sync.Mutex
	cfg            Config
	tradingEnabled bool
	emergencyStop  bool
	dailyPnL       decimal.Decimal
	dailyTrades    int
	lastReset      time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

func WithAlerts(sink alert.Sink) Option { return func(g *Gate) { g.alerts = sink } }

func WithPositionCloser(c PositionCloser) Option { return func(g *Gate) { g.closer = c } }

func WithLogger(log zerolog.Logger) Option { return func(g *Gate) { g.log = log } }

// NewGate starts ENABLED with zeroed daily counters.
func NewGate(cfg Config, opts ...Option) *Gate {
	if cfg.RiskFraction.IsZero() {
		cfg.RiskFraction = DefaultConfig().RiskFraction
	}
	if cfg.FundingCurrency == "" {
		cfg.FundingCurrency = DefaultConfig().FundingCurrency
	}
	g := &Gate{
		log:            zerolog.Nop(),
		now:            time.Now,
		alerts:         alert.Nop{},
		cfg:            cfg,
		tradingEnabled: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastReset = utcDate(g.now())
	g.publishLocked()
	return g
}

// Accept runs the ordered execution checks and, when all pass, sizes the order
// from the account balance.
func (g *Gate) Accept(ctx context.Context, sig signal.Signal, balances BalanceSource) Decision {
	g.mu.Lock()
	var pending []alert.Alert
	pending = g.rolloverLocked(pending)
	reason := ""
	switch {
	case !g.tradingEnabled || g.emergencyStop:
		reason = ReasonTradingDisabled
	case !g.limitsOKLocked(&pending):
		reason = ReasonDailyLimits
	case math.Abs(sig.Strength) < g.cfg.MinStrength:
		reason = ReasonWeakSignal
	}
	cfg := g.cfg
	g.mu.Unlock()
	g.notify(ctx, pending)

	if reason != "" {
		return Decision{Reason: reason}
	}
	if balances == nil {
		return Decision{Reason: ReasonSizingFailed}
	}
	balance, err := balances.AccountBalance(ctx)
	if err != nil {
		g.log.Error().Err(err).Str("instrument", sig.Instrument).Msg("account balance unavailable")
		return Decision{Reason: ReasonSizingFailed}
	}
	qty := PositionSize(cfg, sig.Instrument, sig.Strength, balance)
	if !qty.IsPositive() {
		return Decision{Reason: ReasonSizingFailed}
	}
	return Decision{Approved: true, Quantity: qty}
}

// Enable re-arms trading. It is refused during an emergency stop or while the
// daily loss limit is breached.
func (g *Gate) Enable(ctx context.Context) error {
	g.mu.Lock()
	var pending []alert.Alert
	pending = g.rolloverLocked(pending)
	var err error
	switch {
	case g.emergencyStop:
		err = ErrEmergencyStop
	case !g.limitsOKLocked(&pending):
		err = ErrDailyLimits
	default:
		if !g.tradingEnabled {
			g.tradingEnabled = true
			pending = append(pending, g.alertf("Trading Enabled", "Automated trading has been enabled."))
		}
	}
	g.publishLocked()
	g.mu.Unlock()
	g.notify(ctx, pending)
	return err
}

func (g *Gate) Disable(ctx context.Context) {
	g.mu.Lock()
	var pending []alert.Alert
	pending = g.rolloverLocked(pending)
	if g.tradingEnabled {
		g.tradingEnabled = false
		pending = append(pending, g.alertf("Trading Disabled", "Automated trading has been disabled."))
	}
	g.publishLocked()
	g.mu.Unlock()
	g.notify(ctx, pending)
}

// EmergencyStop halts trading until ClearEmergencyStop. Outside dry-run mode it
// also asks the position closer to flatten every open position.
func (g *Gate) EmergencyStop(ctx context.Context) error {
	g.mu.Lock()
	already := g.emergencyStop
	g.emergencyStop = true
	g.tradingEnabled = false
	g.publishLocked()
	g.mu.Unlock()

	if already {
		return nil
	}
	g.log.Error().Msg("emergency stop activated")
	g.notify(ctx, []alert.Alert{g.alertf("Emergency Stop Activated",
		"All trading has been stopped immediately. Manual intervention required.")})
	if g.closer == nil {
		return nil
	}
	if err := g.closer.CloseAllPositions(ctx); err != nil {
		g.log.Error().Err(err).Msg("failed to close positions")
		return fmt.Errorf("close positions: %w", err)
	}
	g.log.Info().Msg("all positions closed")
	return nil
}

// ClearEmergencyStop leaves trading DISABLED; Enable must be called separately.
func (g *Gate) ClearEmergencyStop(ctx context.Context) {
	g.mu.Lock()
	was := g.emergencyStop
	g.emergencyStop = false
	g.tradingEnabled = false
	g.publishLocked()
	g.mu.Unlock()
	if was {
		g.notify(ctx, []alert.Alert{g.alertf("Emergency Stop Cleared",
			"Emergency stop has been cleared. Trading can be re-enabled.")})
	}
}

// RecordTrade counts one order attempt against the day.
func (g *Gate) RecordTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.rolloverLocked(nil)
	g.dailyTrades++
	g.publishLocked()
}

// RecordPnL adds realized P&L. The loss limit is evaluated by the next gated call.
func (g *Gate) RecordPnL(delta decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.rolloverLocked(nil)
	g.dailyPnL = g.dailyPnL.Add(delta)
	g.publishLocked()
}

// Restore seeds the day's counters, e.g. from persisted trades after a restart.
func (g *Gate) Restore(trades int, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyTrades = trades
	g.dailyPnL = pnl
	g.publishLocked()
}

// ResetDailyLimits zeroes the day's counters without touching the trading state.
func (g *Gate) ResetDailyLimits() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL = decimal.Zero
	g.dailyTrades = 0
	g.lastReset = utcDate(g.now())
	g.publishLocked()
	g.log.Info().Msg("daily limits reset")
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.rolloverLocked(nil)
	return Status{
		State:          g.stateLocked(),
		TradingEnabled: g.tradingEnabled,
		EmergencyStop:  g.emergencyStop,
		DryRun:         g.cfg.DryRun,
		DailyPnL:       g.dailyPnL,
		DailyTrades:    g.dailyTrades,
		DailyLossLimit: g.cfg.DailyLossLimit,
		MaxOrderSize:   g.cfg.MaxOrderSize,
		LastResetDate:  g.lastReset,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Gate) stateLocked() State {
	switch {
	case g.emergencyStop:
		return EmergencyStopped
	case !g.tradingEnabled:
		return Disabled
	default:
		return Enabled
	}
}

// rolloverLocked zeroes the counters once per UTC day and re-enables trading
// unless the emergency stop is active.
func (g *Gate) rolloverLocked(pending []alert.Alert) []alert.Alert {
	today := utcDate(g.now())
	if !today.After(g.lastReset) {
		return pending
	}
	g.log.Info().Time("date", today).Msg("resetting daily limits for new trading day")
	g.dailyPnL = decimal.Zero
	g.dailyTrades = 0
	g.lastReset = today
	if !g.emergencyStop && !g.tradingEnabled {
		g.tradingEnabled = true
		pending = append(pending, g.alertf("Trading Enabled", "Daily limits reset for a new trading day."))
	}
	g.publishLocked()
	return pending
}

// limitsOKLocked disables trading when the day's loss reaches the limit.
func (g *Gate) limitsOKLocked(pending *[]alert.Alert) bool {
	if g.dailyPnL.GreaterThan(g.cfg.DailyLossLimit.Neg()) {
		return true
	}
	g.log.Warn().
		Str("daily_pnl", g.dailyPnL.String()).
		Str("limit", g.cfg.DailyLossLimit.String()).
		Msg("daily loss limit exceeded")
	if g.tradingEnabled {
		g.tradingEnabled = false
		*pending = append(*pending, g.alertf("Daily Loss Limit Exceeded",
			fmt.Sprintf("Trading disabled. Daily P&L: %s", g.dailyPnL.StringFixed(2))))
	}
	g.publishLocked()
	return false
}

func (g *Gate) publishLocked() {
	metrics.TradingState.Set(float64(g.stateLocked()))
	metrics.DailyPnL.Set(g.dailyPnL.InexactFloat64())
	metrics.DailyTrades.Set(float64(g.dailyTrades))
}

func (g *Gate) alertf(title, message string) alert.Alert {
	return alert.Alert{Title: title, Message: message, Time: g.now()}
}

func (g *Gate) notify(ctx context.Context, alerts []alert.Alert) {
	for _, a := range alerts {
		if err := g.alerts.Send(ctx, a); err != nil {
			g.log.Warn().Err(err).Str("title", a.Title).Msg("failed to send alert")
		}
	}
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
