package filter

import "time"

// ring keeps the most recent accepted timestamps for one (instrument, action).
type ring struct {
	times []time.Time
	next  int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{times: make([]time.Time, capacity)}
}

func (r *ring) push(t time.Time) {
	r.times[r.next] = t
	r.next = (r.next + 1) % len(r.times)
	if r.size < len(r.times) {
		r.size++
	}
}

// anySince reports whether any retained timestamp is at or after cutoff.
func (r *ring) anySince(cutoff time.Time) bool {
	for i := 0; i < r.size; i++ {
		if !r.times[i].Before(cutoff) {
			return true
		}
	}
	return false
}
