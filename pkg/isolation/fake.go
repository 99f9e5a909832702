package isolation

import (
	"context"
	"sync"

	"github.com/gdnd-project/gdnd/pkg/health"
)

// Fake records every transition it is asked to execute, for scheduler and
// agent tests that need to assert on isolation behavior without a
// Kubernetes API server.
type Fake struct {
	mu           sync.Mutex
	Transitions  []health.Transition
	ExecuteError error
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Execute records transition and returns ExecuteError, if set.
func (f *Fake) Execute(ctx context.Context, transition health.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExecuteError != nil {
		return f.ExecuteError
	}
	f.Transitions = append(f.Transitions, transition)
	return nil
}

// Calls returns a copy of every transition recorded so far.
func (f *Fake) Calls() []health.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]health.Transition, len(f.Transitions))
	copy(out, f.Transitions)
	return out
}
