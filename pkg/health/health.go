// Package health implements the per-device health state machine: a
// deterministic, single-threaded-per-update aggregator that turns a stream
// of detection results into an isolation or recovery decision.
package health

import (
	"time"

	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
)

// State is one of the four lifecycle states a device can be in.
type State int

const (
	Healthy State = iota
	Suspected
	Unhealthy
	Isolated
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Suspected:
		return "Suspected"
	case Unhealthy:
		return "Unhealthy"
	case Isolated:
		return "Isolated"
	default:
		return "Unknown"
	}
}

// Event is derived from a detect.Result (or, for IsolationCompleted,
// signalled externally by the scheduler once the actuator succeeds).
type Event int

const (
	CheckPassed Event = iota
	CheckFailed
	FatalError
	IsolationCompleted
)

// EventFor derives the state-machine event a detection result represents.
func EventFor(result detect.Result) Event {
	if result.Passed {
		return CheckPassed
	}
	if result.HasFatalFinding() {
		return FatalError
	}
	return CheckFailed
}

// Health is the per-device record the manager maintains. It is created
// lazily on first observation and lives for process lifetime; nothing here
// is persisted across restarts.
type Health struct {
	Device         device.ID
	State          State
	FailureCount   int
	RecoveryCount  int
	LastCheckAt    time.Time
	StateChangedAt time.Time
	LastFindings   []detect.Finding
}

func newHealth(id device.ID, now time.Time) *Health {
	return &Health{
		Device:         id,
		State:          Healthy,
		LastCheckAt:    now,
		StateChangedAt: now,
	}
}

// Transition is the result of feeding one event into the state machine for
// one device: where it came from, where it ended up, whether anything
// changed, and which actions (if any) that change produced. Actions are
// only ever emitted on transitions into Unhealthy or Healthy-via-recovery;
// the state machine itself never enacts them.
type Transition struct {
	Device  device.ID
	From    State
	To      State
	Changed bool
	Actions []Action
}
