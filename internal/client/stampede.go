package client

import (
	"sync"

	"github.com/kjstillabower/zipcode-weather/internal/cache"
)

// stampedeTracker counts upstream fetches in flight per cache key. A count
// above one means several callers missed the same key at once.
type stampedeTracker struct {
	mu       sync.Mutex
	inFlight map[cache.Key]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{inFlight: make(map[cache.Key]int)}
}

// RecordMiss registers a fetch for key and returns the number now in flight.
// Callers defer RecordDone(key).
func (st *stampedeTracker) RecordMiss(key cache.Key) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.inFlight[key]++
	return st.inFlight[key]
}

// RecordDone marks one fetch for key as finished.
func (st *stampedeTracker) RecordDone(key cache.Key) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight[key] <= 1 {
		delete(st.inFlight, key)
		return
	}
	st.inFlight[key]--
}
