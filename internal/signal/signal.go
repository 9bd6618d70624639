// Package signal standardizes payloads shared between data ingestion, strategy, and execution layers.
package signal

import (
	"math"
	"time"
)

// Action is the trade direction a signal recommends.
type Action string

const (
	// Buy recommends opening or adding to a long exposure.
	Buy Action = "BUY"
	// Sell recommends opening or adding to a short exposure.
	Sell Action = "SELL"
)

// Valid reports whether the action is one of the known directions.
func (a Action) Valid() bool { return a == Buy || a == Sell }

// TypeCombined tags signals produced by merging several generators.
const TypeCombined = "COMBINED"

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarUpdate carries a freshly closed bar for one instrument from a feed.
type BarUpdate struct {
	Instrument string
	Bar        Bar
}

// Quote is the top of book used to price simulated fills.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Time       time.Time
}

// Signal expresses a directional recommendation produced by one generator, or by the combiner.
type Signal struct {
	Instrument  string         `json:"instrument"`
	Type        string         `json:"signal_type"`
	Action      Action         `json:"action"`
	Strength    float64        `json:"strength"`   // [0,1]
	Confidence  float64        `json:"confidence"` // [0,1]
	GeneratedAt time.Time      `json:"generated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clamp01 bounds v to [0,1]; NaN collapses to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
