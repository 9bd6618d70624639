// Package strategy turns bar history into directional signals and merges them into one decision.
package strategy

import (
	"math"

	"fxbot-go/internal/signal"
)

// Generator is one indicator strategy. Implementations hold no mutable state between calls.
type Generator interface {
	// Name identifies the generator; it becomes Signal.Type.
	Name() string
	// RequiredPeriods is the minimum series length Calculate needs.
	RequiredPeriods() int
	// Calculate returns nil when the indicator does not fire or the data is insufficient.
	Calculate(series *signal.Series) *signal.Signal
}

// Weighted pairs a generator with its vote weight in the combiner.
type Weighted struct {
	Generator Generator
	Weight    float64
}

func newSignal(name string, series *signal.Series, action signal.Action, strength, confidence float64, meta map[string]any) *signal.Signal {
	last, _ := series.Last()
	return &signal.Signal{
		Instrument:  series.Instrument(),
		Type:        name,
		Action:      action,
		Strength:    signal.Clamp01(strength),
		Confidence:  signal.Clamp01(confidence),
		GeneratedAt: last.Time,
		Metadata:    meta,
	}
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
