package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"fxbot-go/internal/signal"
)

const bollingerConfidence = 0.55

// Bollinger fires when the close touches or pierces the SMA ± k·σ envelope,
// with σ the sample standard deviation of the window.
type Bollinger struct {
	name   string
	period int
	stdDev float64
}

// NewBollinger builds a band generator; defaults are 20 periods and 2σ.
func NewBollinger(period int, stdDev float64) *Bollinger {
	if period < 2 {
		period = 20
	}
	if stdDev <= 0 {
		stdDev = 2
	}
	return &Bollinger{name: "BOLLINGER_BANDS", period: period, stdDev: stdDev}
}

// Name returns the identifier for the strategy implementation.
func (b *Bollinger) Name() string { return b.name }

// RequiredPeriods matches the other generators' one-bar margin.
func (b *Bollinger) RequiredPeriods() int { return b.period + 1 }

// Calculate measures how far the latest close sits beyond a band, relative to the band half-width.
func (b *Bollinger) Calculate(series *signal.Series) *signal.Signal {
	if series == nil || series.Len() < b.RequiredPeriods() {
		return nil
	}
	closes := series.Closes()
	n := len(closes)
	price := closes[n-1]

	// talib's deviation divides by n; the bands use the sample deviation (n-1).
	sma := talib.Sma(closes, b.period)[n-1]
	sigma := talib.StdDev(closes, b.period, 1)[n-1] * math.Sqrt(float64(b.period)/float64(b.period-1))
	upper, lower := sma+b.stdDev*sigma, sma-b.stdDev*sigma
	if !finite(upper, sma, lower) || upper-sma <= 0 || sma-lower <= 0 {
		return nil
	}

	meta := map[string]any{
		"price":      price,
		"upper_band": upper,
		"lower_band": lower,
		"sma":        sma,
	}
	switch {
	case price <= lower:
		meta["condition"] = "lower_band_touch"
		return newSignal(b.name, series, signal.Buy, math.Abs(lower-price)/(sma-lower), bollingerConfidence, meta)
	case price >= upper:
		meta["condition"] = "upper_band_touch"
		return newSignal(b.name, series, signal.Sell, math.Abs(price-upper)/(upper-sma), bollingerConfidence, meta)
	}
	return nil
}
