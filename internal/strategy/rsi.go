package strategy

import (
	talib "github.com/markcheno/go-talib"

	"fxbot-go/internal/signal"
)

const rsiConfidence = 0.6

// RSI flags oversold (buy) and overbought (sell) conditions using Wilder's relative strength index.
type RSI struct {
	name       string
	period     int
	overbought float64
	oversold   float64
}

// NewRSI builds an RSI generator. Thresholds outside (0,100) fall back to 70/30.
func NewRSI(period int, overbought, oversold float64) *RSI {
	if period < 2 {
		period = 14
	}
	if overbought <= 0 || overbought >= 100 {
		overbought = 70
	}
	if oversold <= 0 || oversold >= 100 {
		oversold = 30
	}
	return &RSI{name: "RSI_SIGNAL", period: period, overbought: overbought, oversold: oversold}
}

// Name returns the identifier for the strategy implementation.
func (r *RSI) Name() string { return r.name }

// RequiredPeriods covers period deltas.
func (r *RSI) RequiredPeriods() int { return r.period + 1 }

// Calculate evaluates the RSI of the latest bar.
func (r *RSI) Calculate(series *signal.Series) *signal.Signal {
	if series == nil || series.Len() < r.RequiredPeriods() {
		return nil
	}
	closes := series.Closes()
	if flat(closes) {
		// gain/loss are both zero, RSI is undefined
		return nil
	}
	values := talib.Rsi(closes, r.period)
	return r.evaluate(series, values[len(values)-1])
}

func (r *RSI) evaluate(series *signal.Series, rsi float64) *signal.Signal {
	if !finite(rsi) {
		return nil
	}
	switch {
	case rsi < r.oversold:
		return newSignal(r.name, series, signal.Buy, (r.oversold-rsi)/r.oversold, rsiConfidence, map[string]any{
			"rsi":       rsi,
			"condition": "oversold",
			"threshold": r.oversold,
		})
	case rsi > r.overbought:
		return newSignal(r.name, series, signal.Sell, (rsi-r.overbought)/(100-r.overbought), rsiConfidence, map[string]any{
			"rsi":       rsi,
			"condition": "overbought",
			"threshold": r.overbought,
		})
	}
	return nil
}

func flat(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
