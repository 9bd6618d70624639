package signal

// DefaultMaxBars caps how much history a Series keeps per instrument.
const DefaultMaxBars = 1000

// Series is an append-only, capacity-bounded OHLCV history for one instrument.
// It is not safe for concurrent use; owners guard it.
type Series struct {
	instrument string
	maxLen     int
	bars       []Bar
}

// NewSeries creates an empty series; maxLen <= 0 selects DefaultMaxBars.
func NewSeries(instrument string, maxLen int) *Series {
	if maxLen <= 0 {
		maxLen = DefaultMaxBars
	}
	return &Series{instrument: instrument, maxLen: maxLen}
}

// SeriesFrom builds a series from bars already ordered by time.
func SeriesFrom(instrument string, bars []Bar) *Series {
	s := NewSeries(instrument, len(bars))
	for _, b := range bars {
		s.Append(b)
	}
	return s
}

// Instrument returns the symbol the series belongs to.
func (s *Series) Instrument() string { return s.instrument }

// Len reports the number of retained bars.
func (s *Series) Len() int { return len(s.bars) }

// Append adds a bar strictly newer than the last one and evicts the oldest bar
// once the cap is exceeded. Stale or duplicate bars are dropped and false is returned.
func (s *Series) Append(b Bar) bool {
	if n := len(s.bars); n > 0 && !b.Time.After(s.bars[n-1].Time) {
		return false
	}
	if len(s.bars) == s.maxLen {
		copy(s.bars, s.bars[1:])
		s.bars = s.bars[:len(s.bars)-1]
	}
	s.bars = append(s.bars, b)
	return true
}

// Last returns the newest bar.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Bars returns a copy of the newest limit bars (all when limit <= 0).
func (s *Series) Bars(limit int) []Bar {
	start := 0
	if limit > 0 && limit < len(s.bars) {
		start = len(s.bars) - limit
	}
	out := make([]Bar, len(s.bars)-start)
	copy(out, s.bars[start:])
	return out
}

// Closes extracts close prices in chronological order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}
