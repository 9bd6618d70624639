package execution

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxbot-go/internal/alert"
	"fxbot-go/internal/signal"
)

type fakeBroker struct {
	mu     sync.Mutex
	calls  int
	result BrokerResult
	err    error
	block  bool
	gate   chan struct{}
	last   OrderRequest
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req OrderRequest) (BrokerResult, error) {
	b.mu.Lock()
	b.calls++
	b.last = req
	b.mu.Unlock()
	if b.gate != nil {
		<-b.gate
	}
	if b.block {
		<-ctx.Done()
		return BrokerResult{}, ctx.Err()
	}
	return b.result, b.err
}

func (b *fakeBroker) AccountBalance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (b *fakeBroker) CloseAllPositions(context.Context) error { return nil }

func (b *fakeBroker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type memStore struct {
	mu     sync.Mutex
	trades []Order
}

func (s *memStore) SaveTrade(_ context.Context, o Order) error {
	s.mu.Lock()
	s.trades = append(s.trades, o)
	s.mu.Unlock()
	return nil
}

type riskCounter struct {
	trades int
	pnl    decimal.Decimal
}

func (r *riskCounter) RecordTrade()                    { r.trades++ }
func (r *riskCounter) RecordPnL(delta decimal.Decimal) { r.pnl = r.pnl.Add(delta) }

type staticQuotes map[string]signal.Quote

func (q staticQuotes) Latest(_ context.Context, instrument string) (signal.Quote, bool, error) {
	quote, ok := q[instrument]
	return quote, ok, nil
}

type alertLog struct{ titles []string }

func (a *alertLog) Send(_ context.Context, al alert.Alert) error {
	a.titles = append(a.titles, al.Title)
	return nil
}

type fixedAccount struct {
	realized float64
	err      error
	units    float64
}

func (a *fixedAccount) Fill(_ string, _ signal.Action, units, _, _ float64) (float64, error) {
	a.units = units
	return a.realized, a.err
}

func buySignal(instrument string) signal.Signal {
	return signal.Signal{Instrument: instrument, Type: signal.TypeCombined, Action: signal.Buy, Strength: 0.9, Confidence: 0.8}
}

func TestSimulatedFillUsesQuoteSide(t *testing.T) {
	store, risk, alerts := &memStore{}, &riskCounter{}, &alertLog{}
	quotes := staticQuotes{"EURUSD": {Instrument: "EURUSD", Bid: 1.1000, Ask: 1.1002}}
	e := NewExecutor(zerolog.Nop(), Config{DryRun: true},
		WithQuotes(quotes), WithStore(store), WithRisk(risk), WithAlerts(alerts))

	buy := e.Submit(context.Background(), buySignal("EURUSD"), decimal.RequireFromString("0.10"))
	require.Equal(t, StatusFilled, buy.Status)
	assert.True(t, buy.Price.Decimal.Equal(decimal.RequireFromString("1.1002")))
	assert.True(t, buy.Commission.Equal(decimal.RequireFromString("0.00001")))
	assert.Regexp(t, `^SIM-`, buy.BrokerOrderID)
	assert.NotNil(t, buy.FilledAt)
	assert.Equal(t, "COMBINED", buy.Metadata["signal_type"])

	sell := buySignal("EURUSD")
	sell.Action = signal.Sell
	got := e.Submit(context.Background(), sell, decimal.RequireFromString("0.10"))
	require.Equal(t, StatusFilled, got.Status)
	assert.True(t, got.Price.Decimal.Equal(decimal.RequireFromString("1.1")))

	assert.Len(t, store.trades, 2)
	assert.Equal(t, 2, risk.trades)
	assert.Empty(t, alerts.titles)
}

func TestSimulatedJPYCommissionAndAccount(t *testing.T) {
	risk := &riskCounter{}
	acct := &fixedAccount{realized: 25}
	quotes := staticQuotes{"USDJPY": {Bid: 150.10, Ask: 150.12}}
	e := NewExecutor(zerolog.Nop(), Config{DryRun: true}, WithQuotes(quotes), WithRisk(risk), WithAccount(acct))

	o := e.Submit(context.Background(), buySignal("USDJPY"), decimal.RequireFromString("0.5"))
	require.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.Commission.Equal(decimal.RequireFromString("0.005")))
	assert.InDelta(t, 50000, acct.units, 1e-9)
	require.True(t, o.PnL.Valid)
	assert.True(t, o.PnL.Decimal.Equal(decimal.RequireFromString("25")), o.PnL.Decimal.String())
	assert.True(t, risk.pnl.Equal(o.PnL.Decimal))
}

func TestSimulatedWithoutQuoteFails(t *testing.T) {
	alerts, risk := &alertLog{}, &riskCounter{}
	e := NewExecutor(zerolog.Nop(), Config{DryRun: true}, WithQuotes(staticQuotes{}), WithAlerts(alerts), WithRisk(risk))
	o := e.Submit(context.Background(), buySignal("EURUSD"), decimal.NewFromInt(1))
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, "no market data available", o.Reason)
	assert.Equal(t, []string{"Order Failed"}, alerts.titles)
	assert.Equal(t, 1, risk.trades)
}

func TestSimulatedAccountRefusalRejects(t *testing.T) {
	quotes := staticQuotes{"EURUSD": {Bid: 1.1, Ask: 1.1002}}
	e := NewExecutor(zerolog.Nop(), Config{DryRun: true}, WithQuotes(quotes), WithAccount(&fixedAccount{err: errors.New("position limit exceeded")}))
	o := e.Submit(context.Background(), buySignal("EURUSD"), decimal.NewFromInt(1))
	assert.Equal(t, StatusRejected, o.Status)
	assert.Equal(t, "position limit exceeded", o.Reason)
}

func TestRealPathOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		broker *fakeBroker
		status Status
		reason string
	}{
		{
			name: "filled",
			broker: &fakeBroker{result: BrokerResult{
				Success: true, OrderID: "778899", Price: decimal.RequireFromString("1.2501"), Commission: decimal.RequireFromString("0.7"),
			}},
			status: StatusFilled,
		},
		{
			name:   "rejected",
			broker: &fakeBroker{result: BrokerResult{Success: false, Error: "not enough money"}},
			status: StatusRejected,
			reason: "not enough money",
		},
		{
			name:   "transport failure",
			broker: &fakeBroker{err: errors.New("connection refused")},
			status: StatusFailed,
			reason: "broker unavailable: connection refused",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, risk := &memStore{}, &riskCounter{}
			e := NewExecutor(zerolog.Nop(), Config{}, WithBroker(tc.broker), WithStore(store), WithRisk(risk))
			o := e.Submit(context.Background(), buySignal("GBPUSD"), decimal.RequireFromString("0.25"))

			assert.Equal(t, tc.status, o.Status)
			assert.Equal(t, tc.reason, o.Reason)
			assert.Equal(t, 1, tc.broker.Calls())
			assert.Equal(t, "GBPUSD", tc.broker.last.Instrument)
			assert.Equal(t, o.ID.String(), tc.broker.last.ClientID)
			assert.Equal(t, Market, tc.broker.last.OrderType)
			require.Len(t, store.trades, 1)
			assert.Equal(t, tc.status, store.trades[0].Status)
			assert.Equal(t, 1, risk.trades)
		})
	}
}

func TestBrokerTimeoutIsFailed(t *testing.T) {
	broker := &fakeBroker{block: true}
	e := NewExecutor(zerolog.Nop(), Config{BrokerTimeout: 20 * time.Millisecond}, WithBroker(broker))
	o := e.Submit(context.Background(), buySignal("EURUSD"), decimal.NewFromInt(1))
	assert.Equal(t, StatusFailed, o.Status)
	assert.Contains(t, o.Reason, "timeout")
}

func TestCallerCancellationDoesNotAbortSubmission(t *testing.T) {
	broker := &fakeBroker{result: BrokerResult{Success: true, OrderID: "1", Price: decimal.NewFromInt(1)}}
	e := NewExecutor(zerolog.Nop(), Config{}, WithBroker(broker))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := e.Submit(ctx, buySignal("EURUSD"), decimal.NewFromInt(1))
	assert.Equal(t, StatusFilled, o.Status)
}

func TestExecuteIsIdempotent(t *testing.T) {
	broker := &fakeBroker{result: BrokerResult{Success: true, OrderID: "42", Price: decimal.NewFromInt(2)}}
	store, risk := &memStore{}, &riskCounter{}
	e := NewExecutor(zerolog.Nop(), Config{}, WithBroker(broker), WithStore(store), WithRisk(risk))

	pending := NewOrder("EURUSD", signal.Buy, decimal.NewFromInt(1), Market, time.Now())
	first := e.Execute(context.Background(), pending)
	require.Equal(t, StatusFilled, first.Status)

	again := e.Execute(context.Background(), first)
	assert.Equal(t, first, again)

	// a stale PENDING copy of the same order is answered from memory
	replay := e.Execute(context.Background(), pending)
	assert.Equal(t, StatusFilled, replay.Status)
	assert.Equal(t, "42", replay.BrokerOrderID)

	rejected := NewOrder("EURUSD", signal.Sell, decimal.NewFromInt(1), Market, time.Now())
	rejected.Status = StatusRejected
	assert.Equal(t, StatusRejected, e.Execute(context.Background(), rejected).Status)

	assert.Equal(t, 1, broker.Calls())
	assert.Len(t, store.trades, 1)
	assert.Equal(t, 1, risk.trades)
}

func TestConcurrentExecuteSubmitsOnce(t *testing.T) {
	broker := &fakeBroker{
		gate:   make(chan struct{}),
		result: BrokerResult{Success: true, OrderID: "77", Price: decimal.NewFromInt(1)},
	}
	store, risk := &memStore{}, &riskCounter{}
	e := NewExecutor(zerolog.Nop(), Config{}, WithBroker(broker), WithStore(store), WithRisk(risk))
	pending := NewOrder("EURUSD", signal.Buy, decimal.NewFromInt(1), Market, time.Now())

	results := make(chan Order, 3)
	go func() { results <- e.Execute(context.Background(), pending) }()
	require.Eventually(t, func() bool { return broker.Calls() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		go func() { results <- e.Execute(context.Background(), pending) }()
	}
	time.Sleep(20 * time.Millisecond)
	close(broker.gate)

	for i := 0; i < 3; i++ {
		select {
		case o := <-results:
			assert.Equal(t, StatusFilled, o.Status)
			assert.Equal(t, "77", o.BrokerOrderID)
		case <-time.After(2 * time.Second):
			t.Fatalf("duplicate Execute never returned")
		}
	}
	assert.Equal(t, 1, broker.Calls())
	assert.Len(t, store.trades, 1)
	assert.Equal(t, 1, risk.trades)
}

func TestInvalidOrdersAreRejectedLocally(t *testing.T) {
	broker := &fakeBroker{}
	e := NewExecutor(zerolog.Nop(), Config{}, WithBroker(broker))
	o := e.Execute(context.Background(), NewOrder("EURUSD", signal.Buy, decimal.Zero, Market, time.Now()))
	assert.Equal(t, StatusRejected, o.Status)
	o = e.Execute(context.Background(), NewOrder("EURUSD", signal.Action("HOLD"), decimal.NewFromInt(1), Market, time.Now()))
	assert.Equal(t, StatusRejected, o.Status)
	assert.Zero(t, broker.Calls())
}

func TestTransitionsFromTerminalAreRefused(t *testing.T) {
	o := NewOrder("EURUSD", signal.Buy, decimal.NewFromInt(1), "", time.Now())
	assert.Equal(t, Market, o.OrderType)
	require.NoError(t, o.reject("nope"))
	assert.ErrorIs(t, o.fill(decimal.NewFromInt(1), decimal.Zero, "x", time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, o.fail("later"), ErrInvalidTransition)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Equal(t, "nope", o.Reason)
}

func TestFinishLogsOrder(t *testing.T) {
	var buf bytes.Buffer
	quotes := staticQuotes{"EURUSD": {Bid: 1.1, Ask: 1.1002}}
	e := NewExecutor(zerolog.New(&buf), Config{DryRun: true}, WithQuotes(quotes))
	e.Submit(context.Background(), buySignal("EURUSD"), decimal.NewFromInt(1))
	assert.Contains(t, buf.String(), "EURUSD")
	assert.Contains(t, buf.String(), "FILLED")
}
