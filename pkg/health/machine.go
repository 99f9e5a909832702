package health

import (
	"sync"
	"time"

	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
)

// Config parameterizes the state machine. FailureThreshold and, if
// RecoveryEnabled, RecoveryThreshold gate how many consecutive
// observations are required before a transition fires; Taint configures
// the concrete isolation action payload.
type Config struct {
	FailureThreshold  int
	RecoveryEnabled   bool
	RecoveryThreshold int
	Taint             TaintSpec
	CordonEnabled     bool
}

// Manager owns every device's Health record behind a single reader-writer
// lock, exactly the "one shared mutable map" resource model the scheduler
// depends on: writers hold it for one transition, readers (metrics, admin
// queries) hold it briefly, and it is never held across I/O.
type Manager struct {
	mu     sync.RWMutex
	health map[string]*Health
	cfg    Config
	now    func() time.Time
}

// NewManager creates a manager with the given configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{
		health: make(map[string]*Health),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Get returns a copy of the current health record for id, if one exists.
func (m *Manager) Get(id device.ID) (Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[id.Key()]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// All returns a copy of every tracked device's health record.
func (m *Manager) All() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Health, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, *h)
	}
	return out
}

// HasUnhealthy reports whether any device is currently Unhealthy or
// Isolated.
func (m *Manager) HasUnhealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.health {
		if h.State == Unhealthy || h.State == Isolated {
			return true
		}
	}
	return false
}

// ProcessResult derives an event from result and advances the named
// device's state machine exactly one step. The lock is held only for the
// duration of the pure transition computation; callers dispatch any
// resulting Actions to an IsolationExecutor after releasing their own
// hold on this call's result.
func (m *Manager) ProcessResult(result detect.Result) Transition {
	event := EventFor(result)
	return m.dispatch(result.Device, event, result.Findings)
}

// Dispatch advances the named device's state machine for an event that
// did not come from a DetectionResult — today only IsolationCompleted,
// signalled by the scheduler once the actuator confirms every isolation
// action was durably applied.
func (m *Manager) Dispatch(id device.ID, event Event) Transition {
	return m.dispatch(id, event, nil)
}

func (m *Manager) dispatch(id device.ID, event Event, findings []detect.Finding) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	h, ok := m.health[id.Key()]
	if !ok {
		h = newHealth(id, now)
		m.health[id.Key()] = h
	}
	h.LastCheckAt = now
	if findings != nil || event == CheckPassed {
		h.LastFindings = findings
	}

	from := h.State
	to, actions := m.transition(h, event, findings)

	changed := to != from
	if changed {
		h.State = to
		h.StateChangedAt = now
	}

	return Transition{Device: id, From: from, To: to, Changed: changed, Actions: actions}
}

// transition is the single exhaustive switch over (state, event) that
// defines every state change this agent can make. It mutates h's counters
// in place and returns the resulting state plus any actions to dispatch.
func (m *Manager) transition(h *Health, event Event, findings []detect.Finding) (State, []Action) {
	switch h.State {
	case Healthy:
		switch event {
		case CheckPassed:
			h.FailureCount = 0
			return Healthy, nil
		case CheckFailed:
			h.FailureCount = 1
			if h.FailureCount >= m.cfg.FailureThreshold {
				return Unhealthy, isolationActions(findings, m.cfg.Taint, m.cfg.CordonEnabled)
			}
			return Suspected, nil
		case FatalError:
			h.FailureCount = m.cfg.FailureThreshold
			return Unhealthy, isolationActions(findings, m.cfg.Taint, m.cfg.CordonEnabled)
		default:
			return Healthy, nil
		}

	case Suspected:
		switch event {
		case CheckPassed:
			h.FailureCount = 0
			h.LastFindings = nil
			return Healthy, nil
		case CheckFailed:
			h.FailureCount++
			if h.FailureCount >= m.cfg.FailureThreshold {
				return Unhealthy, isolationActions(findings, m.cfg.Taint, m.cfg.CordonEnabled)
			}
			return Suspected, nil
		case FatalError:
			h.FailureCount = m.cfg.FailureThreshold
			return Unhealthy, isolationActions(findings, m.cfg.Taint, m.cfg.CordonEnabled)
		default:
			return Suspected, nil
		}

	case Unhealthy:
		if event == IsolationCompleted {
			return Isolated, nil
		}
		return Unhealthy, nil

	case Isolated:
		switch event {
		case CheckPassed:
			if !m.cfg.RecoveryEnabled {
				return Isolated, nil
			}
			h.RecoveryCount++
			if h.RecoveryCount >= m.cfg.RecoveryThreshold {
				h.FailureCount = 0
				h.RecoveryCount = 0
				h.LastFindings = nil
				return Healthy, recoveryActions(m.cfg.Taint, m.cfg.CordonEnabled)
			}
			return Isolated, nil
		case CheckFailed, FatalError:
			h.RecoveryCount = 0
			return Isolated, nil
		default:
			return Isolated, nil
		}

	default:
		return h.State, nil
	}
}
