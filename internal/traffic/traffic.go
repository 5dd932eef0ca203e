// Package traffic keeps short sliding windows of lookup outcomes so health
// can report recent load and upstream error rate.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention is how long outcomes are kept when NewTracker gets zero.
const DefaultRetention = 5 * time.Minute

// Snapshot is the outcome count inside one window.
type Snapshot struct {
	Requests int `json:"requests"`
	Errors   int `json:"errors"`
	Denied   int `json:"denied"`
}

// ErrorRate is Errors over successes plus errors. Denials are excluded.
func (s Snapshot) ErrorRate() float64 {
	served := s.Requests - s.Denied
	if served <= 0 {
		return 0
	}
	return float64(s.Errors) / float64(served)
}

// Tracker maintains sliding windows of outcome timestamps. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	retain    time.Duration
	now       func() time.Time
	successes []time.Time
	errors    []time.Time
	denials   []time.Time
}

// NewTracker returns a Tracker keeping outcomes for retain.
func NewTracker(retain time.Duration) *Tracker {
	if retain <= 0 {
		retain = DefaultRetention
	}
	return &Tracker{retain: retain, now: time.Now}
}

// SetClock replaces time.Now. For tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// RecordSuccess records a lookup that returned a reading.
func (t *Tracker) RecordSuccess() { t.record(&t.successes) }

// RecordError records a lookup that failed.
func (t *Tracker) RecordError() { t.record(&t.errors) }

// RecordDenied records a rate-limit denial.
func (t *Tracker) RecordDenied() { t.record(&t.denials) }

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// Snapshot counts outcomes within window ending now.
func (t *Tracker) Snapshot(window time.Duration) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	s := Snapshot{
		Errors: countSince(t.errors, cutoff),
		Denied: countSince(t.denials, cutoff),
	}
	s.Requests = countSince(t.successes, cutoff) + s.Errors + s.Denied
	return s
}

// countSince counts timestamps not before cutoff. Slices are append-ordered.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(times) - 1; i >= 0 && !times[i].Before(cutoff); i-- {
		n++
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Must hold mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retain)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successes)
	prune(&t.errors)
	prune(&t.denials)
}
