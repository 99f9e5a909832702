package health

import (
	"strings"

	"github.com/gdnd-project/gdnd/pkg/detect"
)

// ActionKind tags which orchestrator primitive an Action represents.
type ActionKind string

const (
	ActionCordon      ActionKind = "cordon"
	ActionUncordon    ActionKind = "uncordon"
	ActionTaint       ActionKind = "taint"
	ActionRemoveTaint ActionKind = "remove_taint"
	ActionAlert       ActionKind = "alert"
)

// Action is one step of a transition's isolation or recovery side effect.
// Only the fields relevant to Kind are populated.
type Action struct {
	Kind     ActionKind
	TaintKey string
	TaintVal string
	Effect   string
	Message  string
	Severity string
}

// TaintSpec configures the taint applied on isolation and removed on
// recovery. Supplied via configuration, not hardcoded, per the contract in
// spec §6.
type TaintSpec struct {
	Key    string
	Value  string
	Effect string
}

func isolationActions(findings []detect.Finding, taint TaintSpec, cordonEnabled bool) []Action {
	var actions []Action
	if cordonEnabled {
		actions = append(actions, Action{Kind: ActionCordon})
	}
	actions = append(actions,
		Action{Kind: ActionTaint, TaintKey: taint.Key, TaintVal: taint.Value, Effect: taint.Effect},
		Action{Kind: ActionAlert, Message: joinFindingMessages(findings), Severity: "critical"},
	)
	return actions
}

func recoveryActions(taint TaintSpec, cordonEnabled bool) []Action {
	var actions []Action
	actions = append(actions, Action{Kind: ActionRemoveTaint, TaintKey: taint.Key})
	if cordonEnabled {
		actions = append(actions, Action{Kind: ActionUncordon})
	}
	actions = append(actions, Action{Kind: ActionAlert, Message: "device recovered", Severity: "info"})
	return actions
}

func joinFindingMessages(findings []detect.Finding) string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}
