package detect

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

func newL1(t *testing.T, fake *device.Fake, cfg L1Config) *L1 {
	t.Helper()
	return NewL1(fake, cfg, slog.Default())
}

func TestL1HealthyDeviceFound(t *testing.T) {
	fake := device.NewFake(1)
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{31: true}})

	results, err := l1.DetectAll(context.Background())
	if err != nil {
		t.Fatalf("DetectAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Passed {
		t.Errorf("expected pass, findings = %+v", results[0].Findings)
	}
}

func TestL1HighTemperatureFinding(t *testing.T) {
	fake := device.NewFake(1)
	fake.SetMetrics(0, device.Metrics{Temperature: 90, SampledAt: time.Now()})
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{}})

	results, _ := l1.DetectAll(context.Background())
	r := results[0]
	if r.Passed {
		t.Fatal("expected failure on high temperature")
	}
	if len(r.Findings) != 1 || r.Findings[0].Type != HighTemperature {
		t.Errorf("findings = %+v, want one HighTemperature", r.Findings)
	}
	if r.Findings[0].IsFatal {
		t.Error("HighTemperature must not be fatal")
	}
}

func TestL1UncorrectableEccIsFatal(t *testing.T) {
	fake := device.NewFake(1)
	fake.SetMetrics(0, device.Metrics{Temperature: 40, UncorrectableECC: 2, SampledAt: time.Now()})
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{}})

	results, _ := l1.DetectAll(context.Background())
	if !results[0].HasFatalFinding() {
		t.Error("expected uncorrectable ECC finding to be fatal")
	}
}

func TestL1FaultLogFatalVsNonFatal(t *testing.T) {
	fake := device.NewFake(1)
	fake.InjectFault(0, device.FaultLogEntry{Code: 31, Message: "xid 31"})
	fake.InjectFault(0, device.FaultLogEntry{Code: 99, Message: "xid 99"})
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{31: true}})

	results, _ := l1.DetectAll(context.Background())
	r := results[0]
	if len(r.Findings) != 2 {
		t.Fatalf("findings = %+v, want 2", r.Findings)
	}

	var sawFatal, sawNonFatal bool
	for _, f := range r.Findings {
		switch f.Type {
		case FatalFault:
			sawFatal = true
			if f.Code != 31 || !f.IsFatal {
				t.Errorf("fatal finding = %+v", f)
			}
		case NonFatalFault:
			sawNonFatal = true
			if f.Code != 99 || f.IsFatal {
				t.Errorf("non-fatal finding = %+v", f)
			}
		}
	}
	if !sawFatal || !sawNonFatal {
		t.Errorf("expected both fatal and non-fatal findings, got %+v", r.Findings)
	}
}

func TestL1StuckProcessFindings(t *testing.T) {
	fake := device.NewFake(1)
	fake.SetStuckProcesses(0, []int{111, 222})
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{}})

	results, _ := l1.DetectAll(context.Background())
	r := results[0]
	if len(r.Findings) != 2 {
		t.Fatalf("findings = %+v, want 2", r.Findings)
	}
	for _, f := range r.Findings {
		if f.Type != StuckProcess || f.IsFatal {
			t.Errorf("finding = %+v, want non-fatal StuckProcess", f)
		}
	}
}

// Query errors degrade the owning sub-check silently; the detector itself
// never fails, and the other sub-checks still run.
func TestL1SubCheckErrorsDegradeSilently(t *testing.T) {
	fake := device.NewFake(1)
	fake.SetMetricsError(0, errTest)
	fake.SetFaultLogError(0, errTest)
	fake.SetStuckProcesses(0, []int{123})
	l1 := newL1(t, fake, L1Config{TemperatureThreshold: 85, FatalCodes: map[uint32]bool{}})

	results, err := l1.DetectAll(context.Background())
	if err != nil {
		t.Fatalf("DetectAll returned error: %v", err)
	}
	r := results[0]
	if len(r.Findings) != 1 || r.Findings[0].Type != StuckProcess {
		t.Errorf("findings = %+v, want only the stuck-process sub-check to have survived", r.Findings)
	}
}

func TestL1FatalCodePolicyOverridesSetMembership(t *testing.T) {
	fake := device.NewFake(1)
	fake.InjectFault(0, device.FaultLogEntry{Code: 7, Message: "GPU fell off the bus entirely"})
	l1 := newL1(t, fake, L1Config{
		TemperatureThreshold: 85,
		FatalCodes:           map[uint32]bool{}, // 7 is not in the plain set
		Policy:               alwaysFatalPolicy{},
	})

	results, _ := l1.DetectAll(context.Background())
	if !results[0].HasFatalFinding() {
		t.Error("expected policy to classify code 7 as fatal")
	}
}

type alwaysFatalPolicy struct{}

func (alwaysFatalPolicy) IsFatal(device.FaultLogEntry) bool { return true }

var errTest = &testError{"simulated query failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
