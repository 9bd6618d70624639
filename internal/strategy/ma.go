package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"fxbot-go/internal/signal"
)

const maConfidence = 0.7

// MACrossover fires when the fast simple moving average crosses the slow one.
type MACrossover struct {
	name string
	fast int
	slow int
}

// NewMACrossover builds a crossover generator; non-positive periods fall back to 10/20.
func NewMACrossover(fast, slow int) *MACrossover {
	if fast <= 0 {
		fast = 10
	}
	if slow <= 0 {
		slow = 20
	}
	return &MACrossover{name: "MA_CROSSOVER", fast: fast, slow: slow}
}

// Name returns the identifier for the strategy implementation.
func (m *MACrossover) Name() string { return m.name }

// RequiredPeriods needs one extra bar to compare the previous crossover state.
func (m *MACrossover) RequiredPeriods() int { return max(m.fast, m.slow) + 1 }

// Calculate compares the last two fast/slow averages.
func (m *MACrossover) Calculate(series *signal.Series) *signal.Signal {
	if series == nil || series.Len() < m.RequiredPeriods() {
		return nil
	}
	closes := series.Closes()
	fastMA := talib.Sma(closes, m.fast)
	slowMA := talib.Sma(closes, m.slow)

	n := len(closes)
	curFast, curSlow := fastMA[n-1], slowMA[n-1]
	prevFast, prevSlow := fastMA[n-2], slowMA[n-2]
	if !finite(curFast, curSlow, prevFast, prevSlow) || curSlow == 0 {
		return nil
	}

	var action signal.Action
	var crossover string
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		action, crossover = signal.Buy, "bullish"
	case prevFast >= prevSlow && curFast < curSlow:
		action, crossover = signal.Sell, "bearish"
	default:
		return nil
	}

	strength := math.Abs(curFast-curSlow) / math.Abs(curSlow)
	return newSignal(m.name, series, action, strength, maConfidence, map[string]any{
		"fast_ma":        curFast,
		"slow_ma":        curSlow,
		"crossover_type": crossover,
	})
}
