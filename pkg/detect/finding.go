// Package detect implements the three detection tiers — passive telemetry
// scan (L1), active compute probe (L2), and optional link-bandwidth probe
// (L3) — that turn a device.Device's raw queries into Findings the health
// state machine can act on.
package detect

import (
	"fmt"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Tier identifies which detection pass produced a result.
type Tier int

const (
	L1Passive Tier = iota
	L2Active
	L3Link
)

func (t Tier) String() string {
	switch t {
	case L1Passive:
		return "L1"
	case L2Active:
		return "L2"
	case L3Link:
		return "L3"
	default:
		return "unknown"
	}
}

// FindingType tags the kind of observation a Finding represents.
type FindingType int

const (
	FatalFault FindingType = iota
	NonFatalFault
	HighTemperature
	StuckProcess
	ActiveProbeFailure
	ActiveProbeTimeout
	UncorrectableEcc
	LinkDegradation
)

// Finding is a single observation that a check failed. The tag determines
// IsFatal; both are carried so downstream consumers (metrics, logs) don't
// need the tag's semantics memorized.
type Finding struct {
	Type    FindingType
	Message string
	IsFatal bool
	Code    uint32 // populated for FatalFault/NonFatalFault
}

func fatalFaultFinding(code uint32, message string) Finding {
	return Finding{Type: FatalFault, Message: message, IsFatal: true, Code: code}
}

func nonFatalFaultFinding(code uint32, message string) Finding {
	return Finding{Type: NonFatalFault, Message: message, IsFatal: false, Code: code}
}

func highTemperatureFinding(temp, threshold int) Finding {
	return Finding{
		Type:    HighTemperature,
		Message: fmt.Sprintf("temperature %d exceeds threshold %d", temp, threshold),
		IsFatal: false,
	}
}

func uncorrectableEccFinding(count uint64) Finding {
	return Finding{
		Type:    UncorrectableEcc,
		Message: fmt.Sprintf("%d uncorrectable ECC errors", count),
		IsFatal: true,
	}
}

func stuckProcessFinding(pid int) Finding {
	return Finding{
		Type:    StuckProcess,
		Message: fmt.Sprintf("process %d stuck in uninterruptible wait on device", pid),
		IsFatal: false,
	}
}

func activeProbeTimeoutFinding(message string) Finding {
	return Finding{Type: ActiveProbeTimeout, Message: message, IsFatal: false}
}

func activeProbeFailureFinding(message string) Finding {
	return Finding{Type: ActiveProbeFailure, Message: message, IsFatal: false}
}

func linkDegradationFinding(message string) Finding {
	return Finding{Type: LinkDegradation, Message: message, IsFatal: false}
}

// Result is the outcome of running one tier's detector against one device.
// Metrics/HasMetrics carry L1's incidental metrics sample so callers (the
// scheduler's metrics exporter) don't need a second device query just to
// report gauges; other tiers leave HasMetrics false.
type Result struct {
	Device     device.ID
	Tier       Tier
	Passed     bool
	Findings   []Finding
	Metrics    device.Metrics
	HasMetrics bool
}

// HasFatalFinding reports whether any finding in the result is fatal.
func (r Result) HasFatalFinding() bool {
	for _, f := range r.Findings {
		if f.IsFatal {
			return true
		}
	}
	return false
}

func pass(id device.ID, tier Tier) Result {
	return Result{Device: id, Tier: tier, Passed: true}
}

func fail(id device.ID, tier Tier, findings []Finding) Result {
	return Result{Device: id, Tier: tier, Passed: len(findings) == 0, Findings: findings}
}
