package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fxbot-go/internal/signal"
)

// TickSource serves the current bid/ask. ok is false while the venue has no tick.
type TickSource interface {
	Latest(ctx context.Context, instrument string) (signal.Quote, bool, error)
}

// QuotePoller copies live ticks into the cache so simulated fills use the
// market spread instead of one derived from the last close.
type QuotePoller struct {
	src      TickSource
	cache    *Cache
	symbols  []string
	interval time.Duration
	log      zerolog.Logger
}

// NewQuotePoller polls src for every symbol each interval; interval <= 0 selects
// the feed's default poll cadence.
func NewQuotePoller(src TickSource, cache *Cache, symbols []string, interval time.Duration, log zerolog.Logger) *QuotePoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &QuotePoller{
		src:      src,
		cache:    cache,
		symbols:  append([]string(nil), symbols...),
		interval: interval,
		log:      log,
	}
}

// Run polls until ctx is done.
func (p *QuotePoller) Run(ctx context.Context) error {
	p.Poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches one tick per symbol and reports how many were stored. Failures are
// logged and retried on the next poll.
func (p *QuotePoller) Poll(ctx context.Context) int {
	stored := 0
	for _, sym := range p.symbols {
		q, ok, err := p.src.Latest(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return stored
			}
			p.log.Warn().Err(err).Str("instrument", sym).Msg("quote poll failed")
			continue
		}
		if !ok {
			continue
		}
		if q.Instrument == "" {
			q.Instrument = sym
		}
		p.cache.SetQuote(q)
		stored++
	}
	return stored
}
