package ingest

import "sync"

// State is the process-wide lifecycle of the ingest core.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle holds the State. Transitions only move forward.
//
// Accept paths run under the read lock so a transition out of running
// waits for every in-progress accept to finish; after it returns no new
// item can reach the queue.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Advance moves to next if it is later than the current state and reports
// whether it did.
func (l *Lifecycle) Advance(next State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if next <= l.state {
		return false
	}
	l.state = next
	return true
}

// WhileRunning calls fn with the read lock held, or returns
// ErrServiceDraining without calling it when the state is not running.
func (l *Lifecycle) WhileRunning(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateRunning {
		return ErrServiceDraining
	}
	return fn()
}
