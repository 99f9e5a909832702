//go:build linux && cgo

package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVML implements Device using NVIDIA's management library. One instance
// owns the library handle for the whole process; NVML itself does not
// support being initialized twice concurrently.
type NVML struct {
	mu          sync.RWMutex
	initialized bool
	handles     []nvml.Device
	ids         []ID

	faultLog      *FaultLogReader
	faultWindow   time.Duration
	activeProbe   string
	activeTimeout time.Duration
	stuckScanner  *StuckProcessScanner
}

// NVMLConfig configures the NVML backend's auxiliary checks that NVML
// itself has no native equivalent for.
type NVMLConfig struct {
	ActiveProbePath string
	FaultLogWindow  time.Duration
}

// NewNVML creates an uninitialized NVML-backed Device.
func NewNVML(cfg NVMLConfig) *NVML {
	return &NVML{
		faultWindow:  cfg.FaultLogWindow,
		activeProbe:  cfg.ActiveProbePath,
		stuckScanner: NewStuckProcessScanner(),
	}
}

// Initialize loads the NVML library and enumerates devices. Must be called
// before any other method.
func (m *NVML) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return fmt.Errorf("nvml: already initialized")
	}

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml.Init: %s", ret.Error())
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return fmt.Errorf("nvml.DeviceGetCount: %s", ret.Error())
	}

	handles := make([]nvml.Device, count)
	ids := make([]ID, count)
	pciToIndex := make(map[string]int, count)

	for i := 0; i < count; i++ {
		h, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			nvml.Shutdown()
			return fmt.Errorf("nvml.DeviceGetHandleByIndex(%d): %s", i, ret.Error())
		}
		handles[i] = h

		uuid, _ := h.GetUUID()
		name, _ := h.GetName()
		ids[i] = ID{Index: i, UUID: uuid, Name: name}

		if pciInfo, ret := h.GetPciInfo(); ret == nvml.SUCCESS {
			pciToIndex[pciBusIDToString(pciInfo.BusId)] = i
		}
	}

	m.handles = handles
	m.ids = ids
	m.initialized = true

	logPath := FindKernelLogPath()
	m.faultLog = NewFaultLogReader(logPath, m.faultWindow)
	m.faultLog.SetPCIMappings(pciToIndex)

	return nil
}

// Close shuts down the NVML library.
func (m *NVML) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	ret := nvml.Shutdown()
	m.handles = nil
	m.ids = nil
	m.initialized = false
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml.Shutdown: %s", ret.Error())
	}
	return nil
}

func (m *NVML) Type() Type { return TypeNvidia }

func (m *NVML) ListDevices(ctx context.Context) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]ID, len(m.ids))
	copy(out, m.ids)
	return out, nil
}

func (m *NVML) handleFor(id ID) (nvml.Device, error) {
	if id.Index < 0 || id.Index >= len(m.handles) {
		return nil, fmt.Errorf("device index %d out of range", id.Index)
	}
	return m.handles[id.Index], nil
}

func (m *NVML) GetMetrics(ctx context.Context, id ID) (Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return Metrics{}, ErrNotInitialized
	}

	h, err := m.handleFor(id)
	if err != nil {
		return Metrics{}, NewQueryError("GetMetrics", err)
	}

	temp, ret := h.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return Metrics{}, NewQueryError("GetTemperature", fmt.Errorf("%s", ret.Error()))
	}
	powerMw, ret := h.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return Metrics{}, NewQueryError("GetPowerUsage", fmt.Errorf("%s", ret.Error()))
	}
	powerLimitMw, ret := h.GetEnforcedPowerLimit()
	if ret != nvml.SUCCESS {
		powerLimitMw = 0
	}
	memInfo, ret := h.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Metrics{}, NewQueryError("GetMemoryInfo", fmt.Errorf("%s", ret.Error()))
	}
	util, ret := h.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return Metrics{}, NewQueryError("GetUtilizationRates", fmt.Errorf("%s", ret.Error()))
	}
	eccCorrectable, _, _ := h.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_CORRECTED, nvml.VOLATILE_ECC)
	eccUncorrectable, _, _ := h.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.VOLATILE_ECC)

	memUsedPct := 0
	if memInfo.Total > 0 {
		memUsedPct = int(memInfo.Used * 100 / memInfo.Total)
	}

	return Metrics{
		Temperature:       int(temp),
		GPUUtilization:    int(util.Gpu),
		MemoryUtilization: memUsedPct,
		PowerUsage:        float64(powerMw) / 1000.0,
		PowerLimit:        float64(powerLimitMw) / 1000.0,
		MemoryTotal:       memInfo.Total,
		MemoryUsed:        memInfo.Used,
		MemoryFree:        memInfo.Free,
		CorrectableECC:    eccCorrectable,
		UncorrectableECC:  eccUncorrectable,
		SampledAt:         time.Now(),
	}, nil
}

func (m *NVML) GetFaultLog(ctx context.Context, id ID) ([]FaultLogEntry, error) {
	m.mu.RLock()
	reader := m.faultLog
	m.mu.RUnlock()
	if reader == nil {
		return nil, nil
	}

	all, err := reader.Read()
	if err != nil {
		return nil, NewQueryError("GetFaultLog", err)
	}

	out := all[:0:0]
	for _, e := range all {
		if e.DeviceIndex == id.Index || e.DeviceIndex < 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetStuckProcesses returns every D-state accelerator process the /proc
// scan finds on the node. The scan does not attribute processes to a
// particular device, so every device receives the same list.
func (m *NVML) GetStuckProcesses(ctx context.Context, id ID) ([]int, error) {
	pids, err := m.stuckScanner.Scan()
	if err != nil {
		return nil, NewQueryError("GetStuckProcesses", err)
	}
	return pids, nil
}

func (m *NVML) RunActiveProbe(ctx context.Context, id ID, timeout time.Duration) (ProbeResult, error) {
	if m.activeProbe == "" {
		return ProbeResult{}, fmt.Errorf("active probe path not configured")
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, m.activeProbe, "-i", fmt.Sprintf("%d", id.Index))
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if probeCtx.Err() == context.DeadlineExceeded {
		return ProbeResult{Passed: false, Duration: elapsed, ErrorMessage: fmt.Sprintf("%s timed out after %s", m.activeProbe, timeout)}, nil
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return ProbeResult{Passed: false, Duration: elapsed, ErrorMessage: msg, ExitCode: exitCode}, nil
	}

	return ProbeResult{Passed: true, Duration: elapsed}, nil
}

func (m *NVML) SupportsLinkProbe() bool { return false }

func (m *NVML) RunLinkProbe(ctx context.Context, id ID) (ProbeResult, error) {
	return ProbeResult{}, fmt.Errorf("link probe not supported by nvml backend")
}

func pciBusIDToString(busID [32]uint8) string {
	n := 0
	for i, b := range busID {
		if b == 0 {
			break
		}
		n = i + 1
	}
	return string(busID[:n])
}

// Available reports whether NVML can be initialized on this node, used by
// Select to decide whether "auto" should resolve to the NVML backend.
func Available() bool {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return false
	}
	nvml.Shutdown()
	return true
}
