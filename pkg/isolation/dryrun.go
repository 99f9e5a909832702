package isolation

import (
	"context"
	"log/slog"

	"github.com/gdnd-project/gdnd/pkg/health"
)

// DryRunExecutor logs every action a transition would trigger without
// calling any orchestrator API. Selected when the agent's dry_run
// configuration is set, so operators can observe isolation decisions
// before trusting the agent to act on them.
type DryRunExecutor struct {
	logger *slog.Logger
}

// NewDryRunExecutor creates a DryRunExecutor.
func NewDryRunExecutor(logger *slog.Logger) *DryRunExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunExecutor{logger: logger}
}

// Execute logs each action at info level and returns nil.
func (e *DryRunExecutor) Execute(ctx context.Context, transition health.Transition) error {
	for _, action := range transition.Actions {
		e.logger.InfoContext(ctx, "dry run: would execute isolation action",
			"device", transition.Device,
			"from", transition.From,
			"to", transition.To,
			"action", action.Kind,
			"taint_key", action.TaintKey,
			"taint_value", action.TaintVal,
			"effect", action.Effect,
			"message", action.Message,
		)
	}
	return nil
}
