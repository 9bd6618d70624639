package exchange

import (
	"context"
	"errors"
	"time"

	"fxbot-go/internal/signal"
)

// bridgePollCount fetches the forming candle plus a few closed ones so a missed
// poll does not lose bars.
const bridgePollCount = 4

func (f *Feed) runBridge(ctx context.Context, out chan<- signal.BarUpdate) error {
	if f.rates == nil {
		return errors.New("bridge feed requires a rates source")
	}
	if len(f.snapshotSymbols()) == 0 {
		return errors.New("bridge feed requires at least one instrument")
	}
	timeframe := Timeframe(f.interval)
	f.log.Info().Str("provider", ProviderBridge).Strs("symbols", f.snapshotSymbols()).Str("timeframe", timeframe).Msg("polling market data feed")

	if err := f.pollBridge(ctx, timeframe, out); err != nil {
		return err
	}
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.pollBridge(ctx, timeframe, out); err != nil {
				return err
			}
		}
	}
}

// pollBridge only returns an error when ctx is done; fetch failures are logged
// and retried on the next poll.
func (f *Feed) pollBridge(ctx context.Context, timeframe string, out chan<- signal.BarUpdate) error {
	for _, sym := range f.snapshotSymbols() {
		bars, err := f.rates.Rates(ctx, sym, timeframe, bridgePollCount)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Str("instrument", sym).Msg("bridge rates poll failed")
			continue
		}
		last := f.seen(sym)
		for _, b := range dropForming(bars) {
			if !b.Time.After(last) {
				continue
			}
			if err := f.emit(ctx, out, signal.BarUpdate{Instrument: sym, Bar: b}); err != nil {
				return err
			}
			f.markSeen(sym, b.Time)
			last = b.Time
		}
	}
	return nil
}
