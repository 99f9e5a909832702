package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is a fully injectable in-memory Device used by detector, state
// machine, and scheduler tests. Unlike a randomized simulator, every value
// it returns is whatever was last injected — deterministic by default so
// tests can assert exact transitions.
type Fake struct {
	mu sync.Mutex

	ids     []ID
	metrics map[int]Metrics
	faults  map[int][]FaultLogEntry
	stuck   map[int][]int

	activeResults    map[int]ProbeResult
	linkSupported    bool
	linkResults      map[int]ProbeResult
	activeProbeErr   map[int]error
	faultLogErr      map[int]error
	metricsErr       map[int]error
	stuckProcErr     map[int]error
}

// NewFake creates a fake backend with count devices, each given baseline
// healthy metrics (45C, 50% utilization, no faults).
func NewFake(count int) *Fake {
	f := &Fake{
		ids:           make([]ID, count),
		metrics:       make(map[int]Metrics, count),
		faults:        make(map[int][]FaultLogEntry),
		stuck:         make(map[int][]int),
		activeResults: make(map[int]ProbeResult),
		linkResults:   make(map[int]ProbeResult),
	}
	for i := 0; i < count; i++ {
		f.ids[i] = ID{
			Index: i,
			UUID:  fmt.Sprintf("GPU-00000000-0000-0000-0000-%012d", i),
			Name:  "Fake Accelerator",
		}
		f.metrics[i] = Metrics{
			Temperature:       45,
			GPUUtilization:    50,
			MemoryUtilization: 10,
			PowerUsage:        150,
			PowerLimit:        400,
			MemoryTotal:       80 << 30,
			MemoryUsed:        8 << 30,
			MemoryFree:        72 << 30,
			SampledAt:         time.Now(),
		}
		f.activeResults[i] = ProbeResult{Passed: true}
	}
	return f
}

func (f *Fake) Initialize(ctx context.Context) error { return nil }
func (f *Fake) Close() error                         { return nil }
func (f *Fake) Type() Type                           { return TypeNvidia }

func (f *Fake) ListDevices(ctx context.Context) ([]ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ID, len(f.ids))
	copy(out, f.ids)
	return out, nil
}

func (f *Fake) GetMetrics(ctx context.Context, id ID) (Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.metricsErr[id.Index]; err != nil {
		return Metrics{}, err
	}
	return f.metrics[id.Index], nil
}

func (f *Fake) GetFaultLog(ctx context.Context, id ID) ([]FaultLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.faultLogErr[id.Index]; err != nil {
		return nil, err
	}
	entries := f.faults[id.Index]
	f.faults[id.Index] = nil // each query drains the queue, like a log tail
	out := make([]FaultLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (f *Fake) GetStuckProcesses(ctx context.Context, id ID) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stuckProcErr[id.Index]; err != nil {
		return nil, err
	}
	out := make([]int, len(f.stuck[id.Index]))
	copy(out, f.stuck[id.Index])
	return out, nil
}

func (f *Fake) RunActiveProbe(ctx context.Context, id ID, timeout time.Duration) (ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activeProbeErr[id.Index]; err != nil {
		return ProbeResult{}, err
	}
	return f.activeResults[id.Index], nil
}

func (f *Fake) SupportsLinkProbe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkSupported
}

func (f *Fake) RunLinkProbe(ctx context.Context, id ID) (ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkResults[id.Index], nil
}

// --- injection API, used only by tests ---

// SetMetrics replaces the metrics snapshot returned for a device index.
func (f *Fake) SetMetrics(index int, m Metrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[index] = m
}

// InjectFault appends a fault-log entry to be returned by the next
// GetFaultLog call for index.
func (f *Fake) InjectFault(index int, entry FaultLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.DeviceIndex = index
	f.faults[index] = append(f.faults[index], entry)
}

// SetStuckProcesses replaces the pids returned for a device index.
func (f *Fake) SetStuckProcesses(index int, pids []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuck[index] = pids
}

// SetActiveProbeResult replaces the outcome of the next RunActiveProbe
// calls for a device index.
func (f *Fake) SetActiveProbeResult(index int, result ProbeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeResults[index] = result
}

// SetLinkProbeSupport toggles whether SupportsLinkProbe reports true.
func (f *Fake) SetLinkProbeSupport(supported bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkSupported = supported
}

// SetLinkProbeResult replaces the outcome of RunLinkProbe for a device index.
func (f *Fake) SetLinkProbeResult(index int, result ProbeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkResults[index] = result
}

// SetMetricsError forces GetMetrics to fail for index until cleared (nil).
func (f *Fake) SetMetricsError(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metricsErr == nil {
		f.metricsErr = make(map[int]error)
	}
	f.metricsErr[index] = err
}

// SetFaultLogError forces GetFaultLog to fail for index until cleared (nil).
func (f *Fake) SetFaultLogError(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faultLogErr == nil {
		f.faultLogErr = make(map[int]error)
	}
	f.faultLogErr[index] = err
}

// SetStuckProcessError forces GetStuckProcesses to fail for index until
// cleared (nil).
func (f *Fake) SetStuckProcessError(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuckProcErr == nil {
		f.stuckProcErr = make(map[int]error)
	}
	f.stuckProcErr[index] = err
}

// SetActiveProbeError forces RunActiveProbe to fail for index until cleared
// (nil).
func (f *Fake) SetActiveProbeError(index int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeProbeErr == nil {
		f.activeProbeErr = make(map[int]error)
	}
	f.activeProbeErr[index] = err
}
