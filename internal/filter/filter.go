package filter

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxbot-go/internal/signal"
)

// Rejection reasons returned by Process.
const (
	ReasonNoSignal      = "no signal"
	ReasonLowConfidence = "confidence below threshold"
	ReasonLowStrength   = "strength below threshold"
	ReasonCooldown      = "cooldown active"
)

// Config holds the thresholds applied to combined signals.
type Config struct {
	MinConfidence float64
	MinStrength   float64
	Cooldown      time.Duration
	// HistorySize caps accepted signals retained per instrument.
	HistorySize int
	// PerKeySize caps accepted timestamps retained per (instrument, action).
	PerKeySize int
}

// DefaultConfig returns the thresholds used when the configuration leaves them unset.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		MinStrength:   0.3,
		Cooldown:      15 * time.Minute,
		HistorySize:   1000,
		PerKeySize:    16,
	}
}

// Filter gates combined signals on quality thresholds and a per (instrument, action)
// cooldown. State is sharded by instrument so concurrent instruments do not contend.
type Filter struct {
	log zerolog.Logger
	now func() time.Time

	mu     sync.RWMutex
	cfg    Config
	shards map[string]*shard
}

// Option customises a Filter at construction.
type Option func(*Filter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// WithLogger routes filter decisions to log; the default discards them.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Filter) { f.log = log }
}

// New builds a filter. Non-positive history sizes fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Filter {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.PerKeySize <= 0 {
		cfg.PerKeySize = def.PerKeySize
	}
	f := &Filter{
		log:    zerolog.Nop(),
		now:    time.Now,
		cfg:    cfg,
		shards: make(map[string]*shard),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Process returns the signal when it passes every check, otherwise nil and the reason.
// Accepted signals are recorded and start the cooldown for their (instrument, action).
func (f *Filter) Process(sig *signal.Signal) (*signal.Signal, string) {
	if sig == nil {
		return nil, ReasonNoSignal
	}
	cfg := f.config()
	if sig.Confidence < cfg.MinConfidence {
		return nil, ReasonLowConfidence
	}
	if sig.Strength < cfg.MinStrength {
		return nil, ReasonLowStrength
	}

	s := f.shard(sig.Instrument)
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := f.now().Add(-cfg.Cooldown)
	if r := s.accepted[sig.Action]; r != nil && r.anySince(cutoff) {
		f.log.Debug().
			Str("instrument", sig.Instrument).
			Str("action", string(sig.Action)).
			Msg("signal in cooldown")
		return nil, ReasonCooldown
	}

	r := s.accepted[sig.Action]
	if r == nil {
		r = newRing(cfg.PerKeySize)
		s.accepted[sig.Action] = r
	}
	r.push(sig.GeneratedAt)

	s.history = append(s.history, *sig)
	if over := len(s.history) - cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	return sig, ""
}

// SetThresholds changes the quality thresholds and cooldown for subsequent signals.
func (f *Filter) SetThresholds(minConfidence, minStrength float64, cooldown time.Duration) {
	f.mu.Lock()
	f.cfg.MinConfidence = minConfidence
	f.cfg.MinStrength = minStrength
	f.cfg.Cooldown = cooldown
	f.mu.Unlock()
	f.log.Info().
		Float64("min_confidence", minConfidence).
		Float64("min_strength", minStrength).
		Dur("cooldown", cooldown).
		Msg("filter thresholds updated")
}

// Config returns the active thresholds.
func (f *Filter) Config() Config { return f.config() }

// Clear drops all history and cooldown state.
func (f *Filter) Clear() {
	f.mu.Lock()
	f.shards = make(map[string]*shard)
	f.mu.Unlock()
	f.log.Info().Msg("signal history cleared")
}

// Stats summarises accepted signals generated within window. An empty instrument
// aggregates across all instruments.
type Stats struct {
	Total         int
	Buy           int
	Sell          int
	AvgConfidence float64
	AvgStrength   float64
	Types         map[string]int
}

// Stats reports accepted signals for instrument, or all instruments when empty,
// generated within the trailing window.
func (f *Filter) Stats(instrument string, window time.Duration) Stats {
	cutoff := f.now().Add(-window)
	st := Stats{Types: map[string]int{}}
	var conf, strength float64
	for _, sig := range f.collect(instrument) {
		if sig.GeneratedAt.Before(cutoff) {
			continue
		}
		st.Total++
		if sig.Action == signal.Buy {
			st.Buy++
		} else {
			st.Sell++
		}
		conf += sig.Confidence
		strength += sig.Strength
		st.Types[sig.Type]++
	}
	if st.Total > 0 {
		st.AvgConfidence = conf / float64(st.Total)
		st.AvgStrength = strength / float64(st.Total)
	}
	return st
}

// Recent returns up to limit accepted signals, newest first.
func (f *Filter) Recent(instrument string, limit int) []signal.Signal {
	out := f.collect(instrument)
	sort.SliceStable(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *Filter) collect(instrument string) []signal.Signal {
	f.mu.RLock()
	shards := make([]*shard, 0, len(f.shards))
	if instrument != "" {
		if s, ok := f.shards[instrument]; ok {
			shards = append(shards, s)
		}
	} else {
		for _, s := range f.shards {
			shards = append(shards, s)
		}
	}
	f.mu.RUnlock()

	var out []signal.Signal
	for _, s := range shards {
		s.mu.Lock()
		out = append(out, s.history...)
		s.mu.Unlock()
	}
	return out
}

func (f *Filter) config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

func (f *Filter) shard(instrument string) *shard {
	f.mu.RLock()
	s, ok := f.shards[instrument]
	f.mu.RUnlock()
	if ok {
		return s
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok = f.shards[instrument]; !ok {
		s = &shard{accepted: make(map[signal.Action]*ring)}
		f.shards[instrument] = s
	}
	return s
}

type shard struct {
	mu       sync.Mutex
	history  []signal.Signal
	accepted map[signal.Action]*ring
}
