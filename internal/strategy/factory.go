package strategy

import (
	"fmt"
	"strings"
)

// Generator type identifiers accepted by Build.
const (
	TypeMACrossover = "ma_crossover"
	TypeRSI         = "rsi"
	TypeMACD        = "macd"
	TypeBollinger   = "bollinger"
)

// Params expresses tunable knobs required by generator constructors.
type Params struct {
	Type         string
	Name         string
	Weight       float64
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
	Period       int
	Overbought   float64
	Oversold     float64
	StdDev       float64
}

// DefaultWeight is the vote weight of a configured generator that names none.
const DefaultWeight = 1.0

// DefaultParams returns the generator mix the engine runs when none is configured.
func DefaultParams() []Params {
	return []Params{
		{Type: TypeMACrossover, Weight: 1.0, FastPeriod: 10, SlowPeriod: 20},
		{Type: TypeMACrossover, Weight: 1.5, FastPeriod: 20, SlowPeriod: 50},
		{Type: TypeRSI, Weight: 1.2, Period: 14, Overbought: 70, Oversold: 30},
		{Type: TypeMACD, Weight: 1.3, FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9},
		{Type: TypeBollinger, Weight: 1.1, Period: 20, StdDev: 2.0},
	}
}

// Build returns a weighted generator matching the configured type. A zero weight
// is kept, which leaves the generator in the set without a vote.
func Build(p Params) (Weighted, error) {
	if p.Weight < 0 {
		return Weighted{}, fmt.Errorf("generator %q: negative weight %.2f", p.Type, p.Weight)
	}

	var gen Generator
	switch normalizeType(p.Type) {
	case TypeMACrossover:
		m := NewMACrossover(p.FastPeriod, p.SlowPeriod)
		m.name = pick(p.Name, m.name)
		gen = m
	case TypeRSI:
		r := NewRSI(p.Period, p.Overbought, p.Oversold)
		r.name = pick(p.Name, r.name)
		gen = r
	case TypeMACD:
		m := NewMACD(p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
		m.name = pick(p.Name, m.name)
		gen = m
	case TypeBollinger:
		b := NewBollinger(p.Period, p.StdDev)
		b.name = pick(p.Name, b.name)
		gen = b
	default:
		return Weighted{}, fmt.Errorf("unknown generator type %q", p.Type)
	}
	return Weighted{Generator: gen, Weight: p.Weight}, nil
}

// BuildSet builds every configured generator. Generators that would share a name get the
// list position appended so their signals stay distinguishable in combined metadata.
func BuildSet(params []Params) ([]Weighted, error) {
	if len(params) == 0 {
		params = DefaultParams()
	}
	out := make([]Weighted, 0, len(params))
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		w, err := Build(p)
		if err != nil {
			return nil, err
		}
		name := w.Generator.Name()
		if seen[name] {
			p.Name = fmt.Sprintf("%s_%d", name, i)
			if w, err = Build(p); err != nil {
				return nil, err
			}
		}
		seen[name] = true
		out = append(out, w)
	}
	return out, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "ma", "sma", "ma_crossover", "moving_average":
		return TypeMACrossover
	case "rsi":
		return TypeRSI
	case "macd":
		return TypeMACD
	case "bb", "bollinger", "bollinger_bands":
		return TypeBollinger
	default:
		return ""
	}
}

// KnownType reports whether Build accepts the given type identifier.
func KnownType(t string) bool { return normalizeType(t) != "" }

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
