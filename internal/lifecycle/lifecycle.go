package lifecycle

import (
	"sync/atomic"
	"time"
)

// State is the process lifecycle seen by the health endpoint and the
// shutdown sequence.
type State struct {
	shuttingDown atomic.Bool
	startedAt    time.Time
	now          func() time.Time
}

// New returns a State that started now.
func New() *State {
	return &State{startedAt: time.Now(), now: time.Now}
}

// BeginShutdown marks the process as draining. It reports whether this call
// made the change, so a second signal can be told apart from the first.
func (s *State) BeginShutdown() bool {
	return s.shuttingDown.CompareAndSwap(false, true)
}

// ShuttingDown reports whether the process is draining and should not
// receive new traffic.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Uptime is the time since New.
func (s *State) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}
