// Package device abstracts accelerator queries behind a single
// capability-typed interface so the detection pipeline never depends on a
// specific vendor library. Concrete backends live alongside it: nvml.go
// wraps NVIDIA's management library, fake.go is a fully injectable
// in-memory backend for tests, and ascend.go is a vendor-gated stub.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type selects which backend family a Device was produced by.
type Type string

const (
	TypeAuto   Type = "auto"
	TypeNvidia Type = "nvidia"
	TypeAscend Type = "ascend"
)

// ID is the stable identity of one accelerator on this node. Equality is
// UUID-first; if UUID is empty, devices are keyed by "gpu-"+Index instead.
type ID struct {
	Index int
	UUID  string
	Name  string
}

// Key returns the stable key used to look up a device's health record.
func (d ID) Key() string {
	if d.UUID != "" {
		return d.UUID
	}
	return fmt.Sprintf("gpu-%d", d.Index)
}

// String renders the device as "GPU<index>", matching how operators refer
// to accelerators in logs and alerts.
func (d ID) String() string {
	return fmt.Sprintf("GPU%d", d.Index)
}

// Metrics is a sampled snapshot of one device's telemetry.
type Metrics struct {
	Temperature       int // degrees Celsius
	GPUUtilization    int // percent
	MemoryUtilization int // percent
	PowerUsage        float64
	PowerLimit        float64
	MemoryTotal       uint64
	MemoryUsed        uint64
	MemoryFree        uint64
	LinkTXBytesPerSec uint64
	LinkRXBytesPerSec uint64
	CorrectableECC    uint64
	UncorrectableECC  uint64
	SampledAt         time.Time
}

// FaultLogEntry is a single fault record parsed from a vendor log source
// (kernel ring buffer, dmesg, or a vendor-specific event stream).
type FaultLogEntry struct {
	Code        uint32
	Message     string
	Timestamp   time.Time
	DeviceIndex int
}

// IsFatal reports whether code is a member of the configured fatal-code set.
func (e FaultLogEntry) IsFatal(fatalCodes map[uint32]bool) bool {
	return fatalCodes[e.Code]
}

// ProbeResult is the outcome of a bounded active or link probe. On timeout,
// Passed is false and ErrorMessage contains the literal substring
// "timed out" — detectors key off that substring to distinguish a timeout
// from any other probe failure.
type ProbeResult struct {
	Passed       bool
	Duration     time.Duration
	ErrorMessage string
	ExitCode     int
}

// TimedOut reports whether this result represents a probe deadline expiry
// rather than an ordinary failure.
func (r ProbeResult) TimedOut() bool {
	return !r.Passed && strings.Contains(r.ErrorMessage, "timed out")
}

// Device is the external collaborator contract every accelerator backend
// must satisfy. Implementations may fail any operation with one of the
// error kinds in errors.go; callers absorb DeviceQueryError per-call rather
// than treating it as fatal to the whole detection tier.
type Device interface {
	// ListDevices enumerates the accelerators visible on this node.
	ListDevices(ctx context.Context) ([]ID, error)

	// GetMetrics samples current telemetry for one device.
	GetMetrics(ctx context.Context, id ID) (Metrics, error)

	// GetFaultLog returns recent fault-log entries for one device. What
	// counts as "recent" is a backend implementation detail (see
	// faultlog.go's window parameter for the log-scraping backend).
	GetFaultLog(ctx context.Context, id ID) ([]FaultLogEntry, error)

	// GetStuckProcesses returns the pids of processes holding the device
	// in an uninterruptible-wait state.
	GetStuckProcesses(ctx context.Context, id ID) ([]int, error)

	// RunActiveProbe runs a short bounded compute probe against the
	// device, never exceeding timeout. A deadline expiry is reported as a
	// failed ProbeResult, not a returned error.
	RunActiveProbe(ctx context.Context, id ID, timeout time.Duration) (ProbeResult, error)

	// SupportsLinkProbe reports whether RunLinkProbe is implemented for
	// this backend.
	SupportsLinkProbe() bool

	// RunLinkProbe runs a bandwidth test over the device's host
	// attachment. Only called when SupportsLinkProbe is true.
	RunLinkProbe(ctx context.Context, id ID) (ProbeResult, error)

	// Type identifies which backend produced this Device, for vendor-gated
	// callers (the self-healer's soft-reset and driver-reload steps).
	Type() Type

	// Close releases any resources (library handles, file descriptors)
	// held by the backend.
	Close() error
}
