//go:build !linux || !cgo

package device

import (
	"context"
	"time"
)

// NVML is a stub used on platforms without cgo or outside Linux, where the
// real NVML bindings cannot be built. Every operation fails with
// ErrUnsupportedBackend so "auto" backend selection falls through cleanly.
type NVML struct{}

// NVMLConfig mirrors the real backend's configuration on supported
// platforms so callers don't need build tags of their own.
type NVMLConfig struct {
	ActiveProbePath string
	FaultLogWindow  time.Duration
}

func NewNVML(cfg NVMLConfig) *NVML { return &NVML{} }

func (m *NVML) Initialize(ctx context.Context) error { return ErrUnsupportedBackend }
func (m *NVML) Close() error                         { return nil }
func (m *NVML) Type() Type                           { return TypeNvidia }

func (m *NVML) ListDevices(ctx context.Context) ([]ID, error) { return nil, ErrUnsupportedBackend }
func (m *NVML) GetMetrics(ctx context.Context, id ID) (Metrics, error) {
	return Metrics{}, ErrUnsupportedBackend
}
func (m *NVML) GetFaultLog(ctx context.Context, id ID) ([]FaultLogEntry, error) {
	return nil, ErrUnsupportedBackend
}
func (m *NVML) GetStuckProcesses(ctx context.Context, id ID) ([]int, error) {
	return nil, ErrUnsupportedBackend
}
func (m *NVML) RunActiveProbe(ctx context.Context, id ID, timeout time.Duration) (ProbeResult, error) {
	return ProbeResult{}, ErrUnsupportedBackend
}
func (m *NVML) SupportsLinkProbe() bool { return false }
func (m *NVML) RunLinkProbe(ctx context.Context, id ID) (ProbeResult, error) {
	return ProbeResult{}, ErrUnsupportedBackend
}

// Available always reports false on this platform.
func Available() bool { return false }
