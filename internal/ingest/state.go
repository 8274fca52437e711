package ingest

import "sync"

// State is the coordinator's position in the ingestion lifecycle for one
// category. The happy path walks Idle -> Fetching -> Validating -> Persisting
// -> Committing -> Idle; any step may drop into Failed, which always returns
// to Idle before the next run.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StatePersisting State = "persisting"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// stateTracker holds the current per-category state for observability.
// The scheduler guarantees at most one run per category at a time, so the
// tracker is informational, not a lock.
type stateTracker struct {
	mu     sync.RWMutex
	states map[string]State
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]State)}
}

func (t *stateTracker) set(category string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[category] = s
}

// Get returns the current state for a category, defaulting to Idle.
func (t *stateTracker) Get(category string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[category]; ok {
		return s
	}
	return StateIdle
}
