package device

import (
	"context"
	"fmt"
	"os"
	"time"
)

// SelectConfig carries the knobs Select needs to construct and probe each
// concrete backend.
type SelectConfig struct {
	DeviceType      Type
	ActiveProbePath string
	FaultLogWindow  time.Duration
}

// Select resolves configuration's requested device_type into a concrete,
// initialized Device. device_type=auto probes backends in a fixed order
// (NVML, then Ascend) and falls back to the in-memory Fake backend only
// when GDND_FAKE_DEVICE=true is set — the same escape hatch the teacher
// lineage's NAVARCH_FAKE_GPU env var provides for local development
// without accelerator hardware.
func Select(ctx context.Context, cfg SelectConfig) (Device, error) {
	switch cfg.DeviceType {
	case TypeNvidia:
		return initBackend(ctx, NewNVML(NVMLConfig{ActiveProbePath: cfg.ActiveProbePath, FaultLogWindow: cfg.FaultLogWindow}))
	case TypeAscend:
		return initBackend(ctx, NewAscend())
	case TypeAuto, "":
		return selectAuto(ctx, cfg)
	default:
		return nil, fmt.Errorf("device: unknown device_type %q", cfg.DeviceType)
	}
}

func selectAuto(ctx context.Context, cfg SelectConfig) (Device, error) {
	if Available() {
		nv := NewNVML(NVMLConfig{ActiveProbePath: cfg.ActiveProbePath, FaultLogWindow: cfg.FaultLogWindow})
		if err := nv.Initialize(ctx); err == nil {
			return nv, nil
		}
	}

	asc := NewAscend()
	if err := asc.Initialize(ctx); err == nil {
		return asc, nil
	}

	if os.Getenv("GDND_FAKE_DEVICE") == "true" {
		count := 1
		return NewFake(count), nil
	}

	return nil, ErrNoDeviceBackend
}

// initializable is satisfied by every concrete backend. Device itself has
// no Initialize method since some callers (e.g. a Device obtained from a
// pool) don't own the backend's lifecycle, but Select always does.
type initializable interface {
	Device
	Initialize(ctx context.Context) error
}

func initBackend[T initializable](ctx context.Context, d T) (Device, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

var (
	_ initializable = (*NVML)(nil)
	_ initializable = (*Ascend)(nil)
	_ initializable = (*Fake)(nil)
)
