// Package exchange hosts market data feeds and the rolling bar cache they fill.
package exchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxbot-go/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams closed klines from Binance public websockets.
	ProviderBinance = "binance"
	// ProviderBridge polls candle history from the MT5 HTTP bridge.
	ProviderBridge = "bridge"
)

// RatesSource serves candle history, oldest first. The newest candle may still be forming.
type RatesSource interface {
	Rates(ctx context.Context, instrument, timeframe string, count int) ([]signal.Bar, error)
}

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	interval     time.Duration
	pollInterval time.Duration
	binanceURL   string
	rates        RatesSource
	mu           sync.RWMutex
	lastSeen     map[string]time.Time
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultInterval     = time.Minute
	defaultPollInterval = 2 * time.Second
	defaultBinanceURL   = "wss://stream.binance.com:9443/stream"
)

// WithPollInterval overrides the default polling cadence for HTTP-based and stub feeds.
func WithPollInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithInterval sets the bar timeframe.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithBinanceURL points the kline stream at another combined-stream endpoint.
func WithBinanceURL(u string) Option {
	return func(f *Feed) {
		if u != "" {
			f.binanceURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithRatesSource supplies the candle source polled by the bridge provider.
func WithRatesSource(src RatesSource) Option {
	return func(f *Feed) { f.rates = src }
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		interval:     defaultInterval,
		pollInterval: defaultPollInterval,
		binanceURL:   defaultBinanceURL,
		lastSeen:     make(map[string]time.Time),
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provider reports the normalized provider name.
func (f *Feed) Provider() string { return f.provider }

// Symbols returns the tracked instruments.
func (f *Feed) Symbols() []string { return f.snapshotSymbols() }

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes closed bars onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- signal.BarUpdate) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	case ProviderBridge:
		return f.runBridge(ctx, out)
	case ProviderStub:
		return f.runStub(ctx, out)
	default:
		return fmt.Errorf("unknown feed provider %q", f.provider)
	}
}

// History returns up to limit closed bars for instrument when the provider keeps history.
// Streaming providers return nothing and warm up from live bars instead.
func (f *Feed) History(ctx context.Context, instrument string, limit int) ([]signal.Bar, error) {
	if f.provider != ProviderBridge || f.rates == nil || limit <= 0 {
		return nil, nil
	}
	bars, err := f.rates.Rates(ctx, instrument, Timeframe(f.interval), limit+1)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", instrument, err)
	}
	closed := dropForming(bars)
	if n := len(closed); n > 0 {
		f.markSeen(instrument, closed[n-1].Time)
	}
	return closed, nil
}

func (f *Feed) emit(ctx context.Context, out chan<- signal.BarUpdate, u signal.BarUpdate) error {
	select {
	case out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) markSeen(instrument string, ts time.Time) {
	f.mu.Lock()
	if ts.After(f.lastSeen[instrument]) {
		f.lastSeen[instrument] = ts
	}
	f.mu.Unlock()
}

func (f *Feed) seen(instrument string) time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastSeen[instrument]
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.BarUpdate) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	barTime := time.Now().UTC().Truncate(f.interval)
	step := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			step++
			barTime = barTime.Add(f.interval)
			for _, s := range f.snapshotSymbols() {
				if err := f.emit(ctx, out, signal.BarUpdate{Instrument: s, Bar: stubBar(s, step, barTime)}); err != nil {
					return err
				}
			}
		}
	}
}

// stubBar oscillates around a per-instrument base price so crossovers and band
// touches occur every few dozen bars.
func stubBar(instrument string, step int, ts time.Time) signal.Bar {
	base := 1.1
	if signal.PipSize(instrument) > 0.0001 {
		base = 150
	}
	price := func(i int) float64 { return base * (1 + 0.004*math.Sin(float64(i)/6)) }
	open, closePx := price(step-1), price(step)
	spread := base * 0.0005
	return signal.Bar{
		Time:   ts,
		Open:   open,
		High:   math.Max(open, closePx) + spread,
		Low:    math.Min(open, closePx) - spread,
		Close:  closePx,
		Volume: 100,
	}
}

// Timeframe renders d as an MT5 timeframe name (M1, M15, H1, D1).
func Timeframe(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return "D1"
	case d >= time.Hour:
		return fmt.Sprintf("H%d", int(d/time.Hour))
	default:
		m := int(d / time.Minute)
		if m < 1 {
			m = 1
		}
		return fmt.Sprintf("M%d", m)
	}
}

func dropForming(bars []signal.Bar) []signal.Bar {
	if len(bars) == 0 {
		return nil
	}
	return bars[:len(bars)-1]
}
