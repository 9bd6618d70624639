// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fxbot-go/internal/alert"
	"fxbot-go/internal/metrics"
	"fxbot-go/internal/signal"
)

const (
	defaultBrokerTimeout = 15 * time.Second
	rememberedOrders     = 4096
)

// Config selects the execution path and bounds broker calls.
type Config struct {
	DryRun          bool
	BrokerTimeout   time.Duration
	OrderType       OrderType
	FundingCurrency string
}

// Executor drives orders from PENDING to a terminal status, then reports the
// outcome to storage, the risk gate, and the alert sink.
type Executor struct {
	log     zerolog.Logger
	cfg     Config
	now     func() time.Time
	broker  BrokerClient
	quotes  QuoteSource
	store   TradeStore
	risk    RiskRecorder
	account SimulatedAccount
	alerts  alert.Sink

	mu       sync.Mutex
	done     map[uuid.UUID]Order
	order    []uuid.UUID
	inflight map[uuid.UUID]chan struct{}
}

type Option func(*Executor)

func WithBroker(b BrokerClient) Option      { return func(e *Executor) { e.broker = b } }
func WithQuotes(q QuoteSource) Option       { return func(e *Executor) { e.quotes = q } }
func WithStore(s TradeStore) Option         { return func(e *Executor) { e.store = s } }
func WithRisk(r RiskRecorder) Option        { return func(e *Executor) { e.risk = r } }
func WithAccount(a SimulatedAccount) Option { return func(e *Executor) { e.account = a } }
func WithAlerts(s alert.Sink) Option        { return func(e *Executor) { e.alerts = s } }
func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// NewExecutor wraps a zerolog logger and the collaborators supplied as options.
func NewExecutor(log zerolog.Logger, cfg Config, opts ...Option) *Executor {
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = defaultBrokerTimeout
	}
	if cfg.OrderType == "" {
		cfg.OrderType = Market
	}
	if cfg.FundingCurrency == "" {
		cfg.FundingCurrency = "USD"
	}
	e := &Executor{
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		alerts:   alert.Nop{},
		done:     make(map[uuid.UUID]Order),
		inflight: make(map[uuid.UUID]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit creates an order for an approved signal and executes it.
func (e *Executor) Submit(ctx context.Context, sig signal.Signal, qty decimal.Decimal) Order {
	o := NewOrder(sig.Instrument, sig.Action, qty, e.cfg.OrderType, e.now())
	o.Metadata["signal_type"] = sig.Type
	o.Metadata["signal_strength"] = sig.Strength
	o.Metadata["signal_confidence"] = sig.Confidence
	o.Metadata["dry_run"] = e.cfg.DryRun
	return e.Execute(ctx, o)
}

// Execute runs one order to completion. Terminal orders, and orders whose ID already
// completed, come back unchanged without touching the broker; a concurrent call for
// an ID in flight waits for that call's result. The caller's cancellation does not
// abort an order once execution starts.
func (e *Executor) Execute(ctx context.Context, o Order) Order {
	if o.Status.Terminal() {
		return o
	}
	for {
		prev, wait, seen := e.claim(o.ID)
		if seen {
			return prev
		}
		if wait == nil {
			break
		}
		<-wait
	}
	defer e.release(o.ID)
	ctx = context.WithoutCancel(ctx)

	switch {
	case !o.Action.Valid():
		_ = o.reject(fmt.Sprintf("invalid action %q", o.Action))
	case !o.Quantity.IsPositive():
		_ = o.reject("quantity must be positive")
	case e.cfg.DryRun:
		e.simulate(ctx, &o)
	default:
		e.place(ctx, &o)
	}

	e.finish(ctx, o)
	return o
}

func (e *Executor) simulate(ctx context.Context, o *Order) {
	if e.quotes == nil {
		_ = o.fail("no market data available")
		return
	}
	qctx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
	defer cancel()
	quote, ok, err := e.quotes.Latest(qctx, o.Instrument)
	if err != nil {
		e.log.Warn().Err(err).Str("instrument", o.Instrument).Msg("quote lookup failed")
	}
	price := quote.Bid
	if o.Action == signal.Buy {
		price = quote.Ask
	}
	if err != nil || !ok || price <= 0 {
		_ = o.fail("no market data available")
		return
	}

	px := decimal.NewFromFloat(price)
	commission := decimal.NewFromFloat(signal.PipSize(o.Instrument)).Mul(o.Quantity)
	if e.account != nil {
		units := o.Quantity.InexactFloat64()
		if signal.IsCurrencyPair(o.Instrument, e.cfg.FundingCurrency) {
			units *= signal.LotUnits
		}
		realized, err := e.account.Fill(o.Instrument, o.Action, units, price, commission.InexactFloat64())
		if err != nil {
			_ = o.reject(err.Error())
			return
		}
		o.PnL = decimal.NewNullDecimal(decimal.NewFromFloat(realized).Sub(commission).Round(2))
	}
	_ = o.fill(px, commission, "SIM-"+uuid.NewString(), e.now())
}

func (e *Executor) place(ctx context.Context, o *Order) {
	if e.broker == nil {
		_ = o.fail("broker unavailable: no broker configured")
		return
	}
	bctx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
	defer cancel()
	res, err := e.broker.PlaceOrder(bctx, OrderRequest{
		ClientID:   o.ID.String(),
		Instrument: o.Instrument,
		Action:     o.Action,
		Quantity:   o.Quantity,
		OrderType:  o.OrderType,
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		_ = o.fail(fmt.Sprintf("broker timeout after %s", e.cfg.BrokerTimeout))
	case err != nil:
		_ = o.fail(fmt.Sprintf("broker unavailable: %v", err))
	case !res.Success:
		reason := res.Error
		if reason == "" {
			reason = "rejected by broker"
		}
		_ = o.reject(reason)
	default:
		_ = o.fill(res.Price, res.Commission, res.OrderID, e.now())
		o.PnL = res.PnL
	}
}

// finish reports a terminal order. The trade counter counts attempts, so every
// outcome is recorded, rejections and failures included.
func (e *Executor) finish(ctx context.Context, o Order) {
	e.remember(o)
	if e.risk != nil {
		e.risk.RecordTrade()
		if o.PnL.Valid {
			e.risk.RecordPnL(o.PnL.Decimal)
		}
	}
	metrics.OrdersTotal.WithLabelValues(o.Instrument, string(o.Action), string(o.Status)).Inc()

	evt := e.log.Info()
	if o.Status != StatusFilled {
		evt = e.log.Warn().Str("reason", o.Reason)
	}
	evt.Str("order_id", o.ID.String()).
		Str("instrument", o.Instrument).
		Str("action", string(o.Action)).
		Str("qty", o.Quantity.String()).
		Str("status", string(o.Status)).
		Str("broker_order_id", o.BrokerOrderID).
		Msg("order finished")

	if e.store != nil {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
		if err := e.store.SaveTrade(sctx, o); err != nil {
			e.log.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to persist trade")
		}
		cancel()
	}

	if o.Status == StatusRejected || o.Status == StatusFailed {
		title := "Order Rejected"
		if o.Status == StatusFailed {
			title = "Order Failed"
		}
		a := alert.Alert{
			Title:   title,
			Message: fmt.Sprintf("%s %s %s: %s", o.Action, o.Quantity, o.Instrument, o.Reason),
			Time:    e.now(),
		}
		if err := e.alerts.Send(ctx, a); err != nil {
			e.log.Warn().Err(err).Msg("failed to send alert")
		}
	}
}

// claim marks id in flight. seen reports an already finished order; a non-nil wait
// means another call owns id and closes wait when it finishes.
func (e *Executor) claim(id uuid.UUID) (prev Order, wait <-chan struct{}, seen bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.done[id]; ok {
		return o, nil, true
	}
	if ch, ok := e.inflight[id]; ok {
		return Order{}, ch, false
	}
	e.inflight[id] = make(chan struct{})
	return Order{}, nil, false
}

func (e *Executor) release(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked(id)
}

func (e *Executor) releaseLocked(id uuid.UUID) {
	if ch, ok := e.inflight[id]; ok {
		close(ch)
		delete(e.inflight, id)
	}
}

func (e *Executor) remember(o Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.releaseLocked(o.ID)
	if _, ok := e.done[o.ID]; ok {
		return
	}
	e.done[o.ID] = o
	e.order = append(e.order, o.ID)
	if len(e.order) > rememberedOrders {
		delete(e.done, e.order[0])
		e.order = e.order[1:]
	}
}
