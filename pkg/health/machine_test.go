package health

import (
	"testing"

	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
)

func testDeviceID() device.ID {
	return device.ID{Index: 0, UUID: "GPU-test-0", Name: "Fake Accelerator"}
}

func testTaint() TaintSpec {
	return TaintSpec{Key: "gdnd.io/unhealthy-device", Value: "failed", Effect: "NoSchedule"}
}

func passResult(tier detect.Tier) detect.Result {
	return detect.Result{Device: testDeviceID(), Tier: tier, Passed: true}
}

func failResult(tier detect.Tier, findings ...detect.Finding) detect.Result {
	return detect.Result{Device: testDeviceID(), Tier: tier, Passed: false, Findings: findings}
}

func nonFatalFinding() detect.Finding {
	return detect.Finding{Type: detect.HighTemperature, Message: "temperature 90 exceeds threshold 85", IsFatal: false}
}

func fatalFinding(code uint32) detect.Finding {
	return detect.Finding{Type: detect.FatalFault, Message: "fatal fault", IsFatal: true, Code: code}
}

func newTestManager(failureThreshold int, recoveryEnabled bool, recoveryThreshold int) *Manager {
	return NewManager(Config{
		FailureThreshold:  failureThreshold,
		RecoveryEnabled:   recoveryEnabled,
		RecoveryThreshold: recoveryThreshold,
		CordonEnabled:     true,
		Taint:             testTaint(),
	})
}

// Healthy steady state: repeated passes never change state or counters.
func TestHealthySteadyState(t *testing.T) {
	m := newTestManager(3, false, 0)
	for i := 0; i < 5; i++ {
		tr := m.ProcessResult(passResult(detect.L1Passive))
		if tr.To != Healthy {
			t.Fatalf("tick %d: state = %v, want Healthy", i, tr.To)
		}
	}
	h, ok := m.Get(testDeviceID())
	if !ok {
		t.Fatal("expected health record to exist")
	}
	if h.State != Healthy || h.FailureCount != 0 {
		t.Errorf("got state=%v failure_count=%d, want Healthy/0", h.State, h.FailureCount)
	}
}

// Thermal suspicion then recovery: one failure suspects, one pass clears it.
func TestThermalSuspicionThenRecovery(t *testing.T) {
	m := newTestManager(3, false, 0)

	tr := m.ProcessResult(failResult(detect.L1Passive, nonFatalFinding()))
	if tr.To != Suspected || !tr.Changed {
		t.Fatalf("after one failure: to=%v changed=%v, want Suspected/true", tr.To, tr.Changed)
	}
	h, _ := m.Get(testDeviceID())
	if h.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", h.FailureCount)
	}
	if len(h.LastFindings) != 1 || h.LastFindings[0].Type != detect.HighTemperature {
		t.Errorf("last findings = %+v, want one HighTemperature", h.LastFindings)
	}

	tr = m.ProcessResult(passResult(detect.L1Passive))
	if tr.To != Healthy || !tr.Changed {
		t.Fatalf("after recovery pass: to=%v changed=%v, want Healthy/true", tr.To, tr.Changed)
	}
	h, _ = m.Get(testDeviceID())
	if h.FailureCount != 0 {
		t.Errorf("failure_count after recovery = %d, want 0", h.FailureCount)
	}
}

// Fatal fault short-circuits the Suspected dwell straight to Unhealthy,
// with the documented action ordering, then isolation completes.
func TestFatalFaultIsolatesImmediately(t *testing.T) {
	m := newTestManager(3, false, 0)

	tr := m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	if tr.To != Unhealthy || !tr.Changed {
		t.Fatalf("to=%v changed=%v, want Unhealthy/true", tr.To, tr.Changed)
	}
	if len(tr.Actions) != 3 {
		t.Fatalf("actions = %+v, want 3", tr.Actions)
	}
	if tr.Actions[0].Kind != ActionCordon {
		t.Errorf("actions[0] = %v, want Cordon", tr.Actions[0].Kind)
	}
	if tr.Actions[1].Kind != ActionTaint {
		t.Errorf("actions[1] = %v, want Taint", tr.Actions[1].Kind)
	}
	if tr.Actions[2].Kind != ActionAlert || tr.Actions[2].Severity != "critical" {
		t.Errorf("actions[2] = %+v, want critical Alert", tr.Actions[2])
	}

	tr = m.Dispatch(testDeviceID(), IsolationCompleted)
	if tr.To != Isolated || !tr.Changed {
		t.Fatalf("after IsolationCompleted: to=%v changed=%v, want Isolated/true", tr.To, tr.Changed)
	}
}

// Three consecutive non-fatal failures cross the default threshold.
func TestConsecutiveNonFatalFailuresIsolate(t *testing.T) {
	m := newTestManager(3, false, 0)

	for i := 0; i < 2; i++ {
		tr := m.ProcessResult(failResult(detect.L1Passive, nonFatalFinding()))
		if tr.To != Suspected {
			t.Fatalf("tick %d: to=%v, want Suspected", i, tr.To)
		}
	}

	tr := m.ProcessResult(failResult(detect.L1Passive, nonFatalFinding()))
	if tr.To != Unhealthy || !tr.Changed {
		t.Fatalf("third failure: to=%v changed=%v, want Unhealthy/true", tr.To, tr.Changed)
	}
	if len(tr.Actions) == 0 {
		t.Error("expected isolation actions on third failure")
	}
}

// failure_threshold=1 skips the Suspected dwell entirely.
func TestFailureThresholdOneSkipsSuspected(t *testing.T) {
	m := newTestManager(1, false, 0)

	tr := m.ProcessResult(failResult(detect.L1Passive, nonFatalFinding()))
	if tr.To != Unhealthy {
		t.Fatalf("to=%v, want Unhealthy", tr.To)
	}
}

// Recovery disabled: no sequence of passes ever leaves Isolated.
func TestRecoveryDisabledNeverLeavesIsolated(t *testing.T) {
	m := newTestManager(3, false, 0)
	m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	m.Dispatch(testDeviceID(), IsolationCompleted)

	for i := 0; i < 10; i++ {
		tr := m.ProcessResult(passResult(detect.L1Passive))
		if tr.To != Isolated || tr.Changed {
			t.Fatalf("pass %d: to=%v changed=%v, want Isolated/false", i, tr.To, tr.Changed)
		}
	}
}

// Recovery enabled with threshold R: R consecutive passes transition back
// to Healthy with recovery actions; one intervening failure resets the
// counter to 0.
func TestRecoveryEnabledThreshold(t *testing.T) {
	m := newTestManager(3, true, 3)
	m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	m.Dispatch(testDeviceID(), IsolationCompleted)

	// Two passes keep it Isolated.
	for i := 0; i < 2; i++ {
		tr := m.ProcessResult(passResult(detect.L1Passive))
		if tr.To != Isolated || tr.Changed {
			t.Fatalf("pass %d: to=%v changed=%v, want Isolated/false", i, tr.To, tr.Changed)
		}
	}

	// An intervening failure resets recovery_count to 0.
	m.ProcessResult(failResult(detect.L1Passive, nonFatalFinding()))
	h, _ := m.Get(testDeviceID())
	if h.RecoveryCount != 0 {
		t.Fatalf("recovery_count after intervening failure = %d, want 0", h.RecoveryCount)
	}

	// Now three consecutive passes are required again.
	for i := 0; i < 2; i++ {
		tr := m.ProcessResult(passResult(detect.L1Passive))
		if tr.To != Isolated || tr.Changed {
			t.Fatalf("post-reset pass %d: to=%v changed=%v, want Isolated/false", i, tr.To, tr.Changed)
		}
	}
	tr := m.ProcessResult(passResult(detect.L1Passive))
	if tr.To != Healthy || !tr.Changed {
		t.Fatalf("third post-reset pass: to=%v changed=%v, want Healthy/true", tr.To, tr.Changed)
	}
	if len(tr.Actions) != 3 {
		t.Fatalf("recovery actions = %+v, want 3", tr.Actions)
	}
	if tr.Actions[0].Kind != ActionRemoveTaint {
		t.Errorf("actions[0] = %v, want RemoveTaint", tr.Actions[0].Kind)
	}
	if tr.Actions[1].Kind != ActionUncordon {
		t.Errorf("actions[1] = %v, want Uncordon", tr.Actions[1].Kind)
	}
	if tr.Actions[2].Kind != ActionAlert || tr.Actions[2].Severity != "info" {
		t.Errorf("actions[2] = %+v, want info Alert", tr.Actions[2])
	}

	h, _ = m.Get(testDeviceID())
	if h.FailureCount != 0 || h.RecoveryCount != 0 {
		t.Errorf("counters after recovery = failure=%d recovery=%d, want 0/0", h.FailureCount, h.RecoveryCount)
	}
}

// Idempotence: repeated CheckPassed from Healthy is a no-op.
func TestRepeatedCheckPassedFromHealthyIsNoOp(t *testing.T) {
	m := newTestManager(3, false, 0)
	m.ProcessResult(passResult(detect.L1Passive))
	tr := m.ProcessResult(passResult(detect.L1Passive))
	if tr.Changed {
		t.Error("expected second CheckPassed from Healthy to be a no-op")
	}
}

// Idempotence: repeated IsolationCompleted on Isolated is a no-op.
func TestRepeatedIsolationCompletedIsNoOp(t *testing.T) {
	m := newTestManager(3, false, 0)
	m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	m.Dispatch(testDeviceID(), IsolationCompleted)
	tr := m.Dispatch(testDeviceID(), IsolationCompleted)
	if tr.Changed {
		t.Error("expected second IsolationCompleted to be a no-op")
	}
}

// A second transition to Unhealthy while already Unhealthy does not
// re-emit actions.
func TestSecondUnhealthyTransitionDoesNotReemitActions(t *testing.T) {
	m := newTestManager(3, false, 0)
	m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))

	tr := m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	if tr.To != Unhealthy || tr.Changed {
		t.Fatalf("to=%v changed=%v, want Unhealthy/false", tr.To, tr.Changed)
	}
	if len(tr.Actions) != 0 {
		t.Errorf("expected no actions re-emitted, got %+v", tr.Actions)
	}
}

// Invariant: state == Healthy implies failure_count == 0, for every trace.
func TestInvariantHealthyImpliesZeroFailures(t *testing.T) {
	m := newTestManager(3, false, 0)
	seq := []detect.Result{
		failResult(detect.L1Passive, nonFatalFinding()),
		passResult(detect.L1Passive),
		failResult(detect.L1Passive, nonFatalFinding()),
		failResult(detect.L1Passive, nonFatalFinding()),
		passResult(detect.L1Passive),
	}
	for _, r := range seq {
		m.ProcessResult(r)
		h, _ := m.Get(testDeviceID())
		if h.State == Healthy && h.FailureCount != 0 {
			t.Fatalf("invariant violated: Healthy with failure_count=%d", h.FailureCount)
		}
	}
}

// Cordon disabled in configuration omits Cordon/Uncordon from actions but
// still taints and alerts.
func TestCordonDisabledOmitsCordonAction(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, CordonEnabled: false, Taint: testTaint()})
	tr := m.ProcessResult(failResult(detect.L1Passive, fatalFinding(31)))
	for _, a := range tr.Actions {
		if a.Kind == ActionCordon {
			t.Error("expected no Cordon action when CordonEnabled is false")
		}
	}
	if len(tr.Actions) != 2 {
		t.Errorf("actions = %+v, want 2 (taint + alert)", tr.Actions)
	}
}
