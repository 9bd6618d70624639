package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"fxbot-go/internal/signal"
)

const macdConfidence = 0.65

// MACD fires when the histogram (MACD line minus signal line) changes sign.
type MACD struct {
	name   string
	fast   int
	slow   int
	signal int
}

// NewMACD builds a MACD generator; non-positive periods fall back to 12/26/9.
func NewMACD(fast, slow, signalPeriod int) *MACD {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signalPeriod <= 0 {
		signalPeriod = 9
	}
	return &MACD{name: "MACD_SIGNAL", fast: fast, slow: slow, signal: signalPeriod}
}

// Name returns the identifier for the strategy implementation.
func (m *MACD) Name() string { return m.name }

// RequiredPeriods leaves room for the slow EMA, the signal EMA and one previous histogram value.
func (m *MACD) RequiredPeriods() int { return m.slow + m.signal + 1 }

// Calculate compares the last two histogram values.
func (m *MACD) Calculate(series *signal.Series) *signal.Signal {
	if series == nil || series.Len() < m.RequiredPeriods() {
		return nil
	}
	macdLine, signalLine, hist := talib.Macd(series.Closes(), m.fast, m.slow, m.signal)
	n := len(hist)
	if n < 2 {
		return nil
	}
	curMACD, curSignal := macdLine[n-1], signalLine[n-1]
	curHist, prevHist := hist[n-1], hist[n-2]
	if !finite(curMACD, curSignal, curHist, prevHist) {
		return nil
	}

	var action signal.Action
	var crossover string
	switch {
	case prevHist <= 0 && curHist > 0:
		action, crossover = signal.Buy, "bullish"
	case prevHist >= 0 && curHist < 0:
		action, crossover = signal.Sell, "bearish"
	default:
		return nil
	}

	strength := 0.5
	if curMACD != 0 {
		strength = math.Abs(curHist) / math.Abs(curMACD)
	}
	return newSignal(m.name, series, action, strength, macdConfidence, map[string]any{
		"macd":           curMACD,
		"signal":         curSignal,
		"histogram":      curHist,
		"crossover_type": crossover,
	})
}
