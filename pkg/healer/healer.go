// Package healer implements the optional self-healing hook invoked
// synchronously before isolation: a vendor-gated ladder of increasingly
// disruptive remediation attempts that is strictly best-effort and never
// blocks or prevents isolation.
package healer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Strategy selects how far up the remediation ladder the healer climbs.
type Strategy string

const (
	Conservative Strategy = "conservative"
	Moderate     Strategy = "moderate"
	Aggressive   Strategy = "aggressive"
)

// ActionKind names one rung of the healing ladder.
type ActionKind string

const (
	ActionKillZombieProcesses ActionKind = "kill_zombie_processes"
	ActionGPUSoftReset        ActionKind = "gpu_soft_reset"
	ActionDriverReload        ActionKind = "driver_reload"
)

// Result is the outcome of one healing action.
type Result struct {
	Action  ActionKind
	Success bool
	Message string
}

// Config controls whether and how the healer runs.
type Config struct {
	Enabled  bool
	Strategy Strategy
	Timeout  time.Duration
	DryRun   bool
}

// Healer runs the configured strategy's ladder against one device's
// accelerator vendor type. Moderate's soft reset and Aggressive's driver
// reload are vendor-gated: both are no-ops (reported as unsupported) on
// any backend other than NVIDIA.
type Healer struct {
	cfg        Config
	deviceType device.Type
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
}

// New creates a Healer for the given device vendor type.
func New(cfg Config, deviceType device.Type) *Healer {
	return &Healer{cfg: cfg, deviceType: deviceType, runCommand: runCommand}
}

// IsEnabled reports whether healing is configured on.
func (h *Healer) IsEnabled() bool { return h.cfg.Enabled }

// AvailableActions returns the ladder of actions this strategy will
// attempt, in order, for the healer's device type.
func (h *Healer) AvailableActions() []ActionKind {
	actions := []ActionKind{ActionKillZombieProcesses}
	if h.cfg.Strategy == Conservative {
		return actions
	}
	if h.deviceType == device.TypeNvidia {
		actions = append(actions, ActionGPUSoftReset)
	}
	if h.cfg.Strategy == Aggressive && h.deviceType == device.TypeNvidia {
		actions = append(actions, ActionDriverReload)
	}
	return actions
}

// Heal runs every action in the strategy's ladder against index in order,
// collecting a Result per step. It never returns an error of its own: each
// step's failure is captured in its Result, and a failed step does not
// stop the remaining steps from running.
func (h *Healer) Heal(ctx context.Context, index int) []Result {
	if !h.cfg.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	var results []Result
	results = append(results, h.killZombieProcesses(ctx))

	if h.cfg.Strategy == Conservative {
		return results
	}

	results = append(results, h.gpuSoftReset(ctx, index))

	if h.cfg.Strategy == Aggressive {
		results = append(results, h.driverReload(ctx))
	}

	return results
}

func (h *Healer) killZombieProcesses(ctx context.Context) Result {
	if h.cfg.DryRun {
		return Result{Action: ActionKillZombieProcesses, Success: true, Message: "dry run: would kill zombie accelerator processes"}
	}

	out, err := h.runCommand(ctx, "sh", "-c",
		`ps aux | grep -E 'D.*nvidia|D.*cuda|D.*gpu' | grep -v grep | awk '{print $2}'`)
	if err != nil {
		return Result{Action: ActionKillZombieProcesses, Success: false, Message: err.Error()}
	}

	var killed, total int
	for _, line := range strings.Fields(out) {
		total++
		if _, err := strconv.Atoi(line); err != nil {
			continue
		}
		if _, err := h.runCommand(ctx, "kill", "-9", line); err == nil {
			killed++
		}
	}

	return Result{
		Action:  ActionKillZombieProcesses,
		Success: true,
		Message: fmt.Sprintf("killed %d/%d stuck processes", killed, total),
	}
}

func (h *Healer) gpuSoftReset(ctx context.Context, index int) Result {
	if h.deviceType != device.TypeNvidia {
		return Result{Action: ActionGPUSoftReset, Success: false, Message: "soft reset unsupported on this device type"}
	}
	if h.cfg.DryRun {
		return Result{Action: ActionGPUSoftReset, Success: true, Message: "dry run: would soft-reset device"}
	}

	_, err := h.runCommand(ctx, "nvidia-smi", "-i", strconv.Itoa(index), "-r")
	if err != nil {
		return Result{Action: ActionGPUSoftReset, Success: false, Message: err.Error()}
	}
	return Result{Action: ActionGPUSoftReset, Success: true, Message: "gpu soft reset issued"}
}

func (h *Healer) driverReload(ctx context.Context) Result {
	if h.deviceType != device.TypeNvidia {
		return Result{Action: ActionDriverReload, Success: false, Message: "driver reload unsupported on this device type"}
	}
	if h.cfg.DryRun {
		return Result{Action: ActionDriverReload, Success: true, Message: "dry run: would reload nvidia driver modules"}
	}

	if _, err := h.runCommand(ctx, "modprobe", "-r", "nvidia_uvm", "nvidia_drm", "nvidia_modeset", "nvidia"); err != nil {
		return Result{Action: ActionDriverReload, Success: false, Message: err.Error()}
	}
	if _, err := h.runCommand(ctx, "modprobe", "nvidia"); err != nil {
		return Result{Action: ActionDriverReload, Success: false, Message: err.Error()}
	}
	return Result{Action: ActionDriverReload, Success: true, Message: "driver modules reloaded"}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
