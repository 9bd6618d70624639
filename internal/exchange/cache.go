package exchange

import (
	"context"
	"sort"
	"sync"

	"fxbot-go/internal/metrics"
	"fxbot-go/internal/signal"
)

// quoteSpreadPips is the synthetic spread used when only candles are known.
const quoteSpreadPips = 2

// Cache keeps the rolling bar history and the freshest quote per instrument.
// It serves the engine as a BarSource and the simulated executor as a quote source.
type Cache struct {
	mu      sync.RWMutex
	maxBars int
	series  map[string]*signal.Series
	quotes  map[string]signal.Quote
}

// NewCache creates an empty cache; maxBars <= 0 selects signal.DefaultMaxBars.
func NewCache(maxBars int) *Cache {
	return &Cache{
		maxBars: maxBars,
		series:  make(map[string]*signal.Series),
		quotes:  make(map[string]signal.Quote),
	}
}

// Append stores a closed bar. Stale or duplicate bars are dropped and false is returned.
func (c *Cache) Append(u signal.BarUpdate) bool {
	c.mu.Lock()
	s, ok := c.series[u.Instrument]
	if !ok {
		s = signal.NewSeries(u.Instrument, c.maxBars)
		c.series[u.Instrument] = s
	}
	added := s.Append(u.Bar)
	c.mu.Unlock()
	if added {
		metrics.BarsTotal.WithLabelValues(u.Instrument).Inc()
	}
	return added
}

// Seed appends a batch of historical bars, oldest first, and reports how many were kept.
func (c *Cache) Seed(instrument string, bars []signal.Bar) int {
	n := 0
	for _, b := range bars {
		if c.Append(signal.BarUpdate{Instrument: instrument, Bar: b}) {
			n++
		}
	}
	return n
}

// SetQuote records a live bid/ask.
func (c *Cache) SetQuote(q signal.Quote) {
	c.mu.Lock()
	c.quotes[q.Instrument] = q
	c.mu.Unlock()
}

// Recent returns up to limit of the newest bars, oldest first.
func (c *Cache) Recent(ctx context.Context, instrument string, limit int) ([]signal.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[instrument]
	if !ok {
		return nil, nil
	}
	return s.Bars(limit), nil
}

// Latest returns the stored quote unless a newer bar has closed since, in which case
// the quote is derived from that bar's close with a two pip spread.
func (c *Cache) Latest(ctx context.Context, instrument string) (signal.Quote, bool, error) {
	if err := ctx.Err(); err != nil {
		return signal.Quote{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, haveQuote := c.quotes[instrument]
	var last signal.Bar
	haveBar := false
	if s, ok := c.series[instrument]; ok {
		last, haveBar = s.Last()
	}
	switch {
	case haveQuote && (!haveBar || !q.Time.Before(last.Time)):
		return q, true, nil
	case haveBar:
		return signal.Quote{
			Instrument: instrument,
			Bid:        last.Close,
			Ask:        last.Close + quoteSpreadPips*signal.PipSize(instrument),
			Time:       last.Time,
		}, true, nil
	default:
		return signal.Quote{}, false, nil
	}
}

// Instruments lists instruments with at least one bar, sorted.
func (c *Cache) Instruments() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.series))
	for inst := range c.series {
		out = append(out, inst)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len reports the number of bars held for instrument.
func (c *Cache) Len(instrument string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.series[instrument]; ok {
		return s.Len()
	}
	return 0
}
