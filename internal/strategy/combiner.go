package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"fxbot-go/internal/signal"
)

// Combiner merges the outputs of a fixed generator set into one weighted decision per instrument.
type Combiner struct {
	log        zerolog.Logger
	generators []Weighted
}

// NewCombiner wraps the weighted generators; zero-weight entries never vote.
func NewCombiner(log zerolog.Logger, generators ...Weighted) *Combiner {
	return &Combiner{log: log, generators: append([]Weighted(nil), generators...)}
}

// Generators returns a copy of the configured set.
func (c *Combiner) Generators() []Weighted { return append([]Weighted(nil), c.generators...) }

// RequiredPeriods is the longest history any generator needs.
func (c *Combiner) RequiredPeriods() int {
	n := 0
	for _, g := range c.generators {
		n = max(n, g.Generator.RequiredPeriods())
	}
	return n
}

// Evaluate runs every generator that has enough history and returns the signals that fired,
// paired with the weight of the generator that produced each.
func (c *Combiner) Evaluate(instrument string, series *signal.Series) ([]signal.Signal, []float64) {
	if series == nil {
		return nil, nil
	}
	var signals []signal.Signal
	var weights []float64
	for _, g := range c.generators {
		if g.Generator == nil || g.Generator.RequiredPeriods() > series.Len() {
			continue
		}
		sig := c.calculate(g.Generator, series)
		if sig == nil {
			continue
		}
		sig.Instrument = instrument
		signals = append(signals, *sig)
		weights = append(weights, g.Weight)
	}
	return signals, weights
}

// Combine returns the weighted consensus signal, or nil when nothing fired, the weights tie,
// or every contributor carries zero weight. The vote uses configured weights only; strength
// and confidence average over all contributors, losing side included.
func (c *Combiner) Combine(instrument string, series *signal.Series, now time.Time) *signal.Signal {
	signals, weights := c.Evaluate(instrument, series)
	if len(signals) == 0 {
		return nil
	}

	var totalWeight, strength, confidence, buyWeight, sellWeight float64
	components := make([]string, 0, len(signals))
	for i, sig := range signals {
		w := weights[i]
		totalWeight += w
		strength += sig.Strength * w
		confidence += sig.Confidence * w
		if sig.Action == signal.Buy {
			buyWeight += w
		} else {
			sellWeight += w
		}
		components = append(components, sig.Type)
	}
	if totalWeight == 0 {
		return nil
	}

	var action signal.Action
	switch {
	case buyWeight > sellWeight:
		action = signal.Buy
	case sellWeight > buyWeight:
		action = signal.Sell
	default:
		return nil
	}

	return &signal.Signal{
		Instrument:  instrument,
		Type:        signal.TypeCombined,
		Action:      action,
		Strength:    signal.Clamp01(strength / totalWeight),
		Confidence:  signal.Clamp01(confidence / totalWeight),
		GeneratedAt: now,
		Metadata: map[string]any{
			"individual_signals": len(signals),
			"buy_weight":         buyWeight,
			"sell_weight":        sellWeight,
			"component_signals":  components,
		},
	}
}

// calculate isolates one misbehaving generator from the rest of the set.
func (c *Combiner) calculate(g Generator, series *signal.Series) (sig *signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("generator", g.Name()).Interface("panic", r).Msg("generator failed")
			sig = nil
		}
	}()
	return g.Calculate(series)
}
