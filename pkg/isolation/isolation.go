// Package isolation implements the orchestrator actuator: the collaborator
// that turns a health.Transition's Actions into real cordon/taint/evict
// calls against the container orchestrator.
package isolation

import (
	"context"

	"github.com/gdnd-project/gdnd/pkg/health"
)

// Executor is the external IsolationExecutor contract. Implementations
// MUST be idempotent — the scheduler may call Execute again for the same
// transition after a transient failure, and MUST NOT return nil unless
// every action in the transition has been durably applied.
type Executor interface {
	Execute(ctx context.Context, transition health.Transition) error
}
