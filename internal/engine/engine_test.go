package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxbot-go/internal/execution"
	"fxbot-go/internal/filter"
	"fxbot-go/internal/risk"
	"fxbot-go/internal/signal"
	"fxbot-go/internal/strategy"
)

var t0 = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

type stubGenerator struct {
	action   signal.Action
	strength float64
	silent   bool
}

func (g stubGenerator) Name() string         { return "STUB" }
func (g stubGenerator) RequiredPeriods() int { return 3 }
func (g stubGenerator) Calculate(series *signal.Series) *signal.Signal {
	if g.silent {
		return nil
	}
	last, _ := series.Last()
	return &signal.Signal{Type: g.Name(), Action: g.action, Strength: g.strength, Confidence: 0.8, GeneratedAt: last.Time}
}

type fakeBars struct {
	mu      sync.Mutex
	bars    map[string][]signal.Bar
	err     error
	calls   int
	onFetch func(instrument string)
}

func (f *fakeBars) Recent(_ context.Context, instrument string, limit int) ([]signal.Bar, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(instrument)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.bars[instrument], nil
}

func (f *fakeBars) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeExecutor struct {
	mu     sync.Mutex
	orders []execution.Order
}

func (x *fakeExecutor) Submit(_ context.Context, sig signal.Signal, qty decimal.Decimal) execution.Order {
	o := execution.NewOrder(sig.Instrument, sig.Action, qty, execution.Market, t0)
	o.Status = execution.StatusFilled
	x.mu.Lock()
	x.orders = append(x.orders, o)
	x.mu.Unlock()
	return o
}

func (x *fakeExecutor) Count() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.orders)
}

type fixedBalance decimal.Decimal

func (b fixedBalance) AccountBalance(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(b), nil
}

type panicFilter struct{}

func (panicFilter) Process(*signal.Signal) (*signal.Signal, string) { panic("boom") }

func rising(n int) []signal.Bar {
	bars := make([]signal.Bar, n)
	for i := range bars {
		px := 1.1 + float64(i)*0.001
		bars[i] = signal.Bar{Time: t0.Add(time.Duration(i-n+1) * time.Minute), Open: px, High: px, Low: px, Close: px}
	}
	return bars
}

type harness struct {
	engine *Engine
	bars   *fakeBars
	exec   *fakeExecutor
	gate   *risk.Gate
}

func newHarness(t *testing.T, gen stubGenerator, instruments ...string) *harness {
	t.Helper()
	if len(instruments) == 0 {
		instruments = []string{"EURUSD"}
	}
	clock := func() time.Time { return t0.Add(time.Minute) }
	bars := &fakeBars{bars: map[string][]signal.Bar{}}
	for _, inst := range instruments {
		bars.bars[inst] = rising(5)
	}
	gate := risk.NewGate(risk.DefaultConfig(), risk.WithClock(clock))
	exec := &fakeExecutor{}
	e, err := New(zerolog.Nop(), Config{Instruments: instruments}, Components{
		Bars:     bars,
		Combiner: strategy.NewCombiner(zerolog.Nop(), strategy.Weighted{Generator: gen, Weight: 1}),
		Filter:   filter.New(filter.DefaultConfig(), filter.WithClock(clock)),
		Gate:     gate,
		Executor: exec,
		Balances: fixedBalance(decimal.NewFromInt(1_000_000)),
	}, WithClock(clock))
	require.NoError(t, err)
	return &harness{engine: e, bars: bars, exec: exec, gate: gate}
}

func TestEvaluateExecutesApprovedSignal(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})

	d := h.engine.Evaluate(context.Background(), "EURUSD")
	require.NoError(t, d.Err)
	assert.Equal(t, StageExecution, d.Stage)
	require.True(t, d.Traded())
	assert.Equal(t, execution.StatusFilled, d.Order.Status)
	// 1,000,000 x 1% x 0.9 = 9000 units = 0.09 lots
	assert.True(t, d.Order.Quantity.Equal(decimal.RequireFromString("0.09")), d.Order.Quantity.String())
	require.NotNil(t, d.Signal)
	assert.Equal(t, signal.TypeCombined, d.Signal.Type)
	assert.Equal(t, 1, h.exec.Count())
}

func TestEvaluateStopsAtEachStage(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})
		h.bars.bars["EURUSD"] = nil
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageData, d.Stage)
		assert.Equal(t, ReasonInsufficientData, d.Reason)
		assert.NoError(t, d.Err)
	})
	t.Run("short series", func(t *testing.T) {
		h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})
		h.bars.bars["EURUSD"] = rising(2)
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageSignal, d.Stage)
		assert.Equal(t, ReasonNoSignal, d.Reason)
	})
	t.Run("no signal", func(t *testing.T) {
		h := newHarness(t, stubGenerator{silent: true})
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageSignal, d.Stage)
		assert.Equal(t, ReasonNoSignal, d.Reason)
		assert.Nil(t, d.Signal)
	})
	t.Run("cooldown", func(t *testing.T) {
		h := newHarness(t, stubGenerator{action: signal.Sell, strength: 0.9})
		first := h.engine.Evaluate(context.Background(), "EURUSD")
		require.True(t, first.Traded())
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageFilter, d.Stage)
		assert.Equal(t, filter.ReasonCooldown, d.Reason)
		assert.Equal(t, 1, h.exec.Count())
	})
	t.Run("weak for execution", func(t *testing.T) {
		h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.5})
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageRisk, d.Stage)
		assert.Equal(t, risk.ReasonWeakSignal, d.Reason)
		assert.False(t, d.Traded())
	})
	t.Run("trading disabled", func(t *testing.T) {
		h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})
		h.gate.Disable(context.Background())
		d := h.engine.Evaluate(context.Background(), "EURUSD")
		assert.Equal(t, StageRisk, d.Stage)
		assert.Equal(t, risk.ReasonTradingDisabled, d.Reason)
	})
}

func TestEvaluateReportsFetchErrors(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})
	h.bars.err = errors.New("bridge down")
	d := h.engine.Evaluate(context.Background(), "EURUSD")
	assert.Equal(t, StageData, d.Stage)
	assert.ErrorContains(t, d.Err, "bridge down")
	assert.Zero(t, h.exec.Count())
}

func TestEvaluateHonorsCancellationBetweenStages(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := h.engine.Evaluate(ctx, "EURUSD")
	assert.Equal(t, ReasonCanceled, d.Reason)
	assert.ErrorIs(t, d.Err, context.Canceled)
	assert.Zero(t, h.bars.Calls())

	// canceled while bars were being fetched: the signal is computed but never filtered or sent
	ctx, cancel = context.WithCancel(context.Background())
	h.bars.onFetch = func(string) { cancel() }
	d = h.engine.Evaluate(ctx, "EURUSD")
	assert.Equal(t, StageSignal, d.Stage)
	assert.Equal(t, ReasonCanceled, d.Reason)
	assert.NotNil(t, d.Signal)
	assert.Zero(t, h.exec.Count())

	// the filter recorded nothing, so a fresh evaluation is not in cooldown
	h.bars.onFetch = nil
	d = h.engine.Evaluate(context.Background(), "EURUSD")
	assert.True(t, d.Traded())
}

func TestEvaluateRecoversPanics(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9})
	h.engine.c.Filter = panicFilter{}
	d := h.engine.Evaluate(context.Background(), "EURUSD")
	assert.Equal(t, ReasonInternal, d.Reason)
	assert.ErrorContains(t, d.Err, "boom")
}

func TestTickEvaluatesInstrumentsConcurrently(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9}, "EURUSD", "GBPUSD", "USDJPY")
	decisions := h.engine.Tick(context.Background())
	require.Len(t, decisions, 3)
	for i, inst := range []string{"EURUSD", "GBPUSD", "USDJPY"} {
		assert.Equal(t, inst, decisions[i].Instrument)
		assert.True(t, decisions[i].Traded(), inst)
	}
	assert.Equal(t, 3, h.exec.Count())
}

func TestTickSkipsOverlappingInstrument(t *testing.T) {
	h := newHarness(t, stubGenerator{action: signal.Buy, strength: 0.9}, "EURUSD", "GBPUSD")
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.bars.onFetch = func(inst string) {
		if inst == "EURUSD" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	first := make(chan []Decision, 1)
	go func() { first <- h.engine.Tick(context.Background()) }()
	<-entered

	second := h.engine.Tick(context.Background())
	assert.Equal(t, StageSkipped, second[0].Stage)
	assert.Equal(t, ReasonInProgress, second[0].Reason)

	close(release)
	got := <-first
	assert.True(t, got[0].Traded())
}

func TestRunTicksUntilCanceled(t *testing.T) {
	h := newHarness(t, stubGenerator{silent: true})
	h.engine.cfg.TickInterval = 5 * time.Millisecond

	var fetched atomic.Int32
	h.bars.onFetch = func(string) { fetched.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool { return fetched.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(zerolog.Nop(), Config{}, Components{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bar source")
	assert.Contains(t, err.Error(), "executor")
}

func TestLookbackCoversSlowestGenerator(t *testing.T) {
	h := newHarness(t, stubGenerator{silent: true})
	assert.Equal(t, 3, h.engine.cfg.Lookback)
}
