package device

import (
	"context"
	"time"
)

// Ascend is a vendor-gated stub for Huawei Ascend NPUs. No Ascend DCMI
// binding appears anywhere in this codebase's dependency surface, so this
// backend exists only to let device_type=ascend be accepted by
// configuration validation without requiring a vendor library at build
// time; every operation reports ErrUnsupportedBackend.
type Ascend struct{}

// NewAscend creates the stub backend.
func NewAscend() *Ascend { return &Ascend{} }

func (a *Ascend) Initialize(ctx context.Context) error { return ErrUnsupportedBackend }
func (a *Ascend) Close() error                         { return nil }
func (a *Ascend) Type() Type                           { return TypeAscend }

func (a *Ascend) ListDevices(ctx context.Context) ([]ID, error) { return nil, ErrUnsupportedBackend }
func (a *Ascend) GetMetrics(ctx context.Context, id ID) (Metrics, error) {
	return Metrics{}, ErrUnsupportedBackend
}
func (a *Ascend) GetFaultLog(ctx context.Context, id ID) ([]FaultLogEntry, error) {
	return nil, ErrUnsupportedBackend
}
func (a *Ascend) GetStuckProcesses(ctx context.Context, id ID) ([]int, error) {
	return nil, ErrUnsupportedBackend
}
func (a *Ascend) RunActiveProbe(ctx context.Context, id ID, timeout time.Duration) (ProbeResult, error) {
	return ProbeResult{}, ErrUnsupportedBackend
}
func (a *Ascend) SupportsLinkProbe() bool { return false }
func (a *Ascend) RunLinkProbe(ctx context.Context, id ID) (ProbeResult, error) {
	return ProbeResult{}, ErrUnsupportedBackend
}
