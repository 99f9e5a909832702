package detect

import (
	"context"
	"log/slog"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// FatalCodeClassifier optionally extends plain fatal-code set membership
// for the fault-log sub-check (see pkg/health's CEL-based policy): an entry
// is fatal when its code is in FatalCodes or the classifier reports it
// fatal. Left nil, L1 uses FatalCodes set membership alone.
type FatalCodeClassifier interface {
	IsFatal(entry device.FaultLogEntry) bool
}

// L1Config carries the thresholds the passive detector needs.
type L1Config struct {
	TemperatureThreshold int
	FatalCodes           map[uint32]bool
	Policy               FatalCodeClassifier
}

// L1 is the passive detector: threshold checks over sampled metrics plus
// recent fault-log entries plus stuck processes. Each of its three
// sub-checks degrades silently on a query error; the detector itself
// fails only when device enumeration fails, per the error-propagation
// policy in the device contract.
type L1 struct {
	dev    device.Device
	cfg    L1Config
	logger *slog.Logger
}

// NewL1 creates a passive detector over dev.
func NewL1(dev device.Device, cfg L1Config, logger *slog.Logger) *L1 {
	if logger == nil {
		logger = slog.Default()
	}
	return &L1{dev: dev, cfg: cfg, logger: logger}
}

// DetectAll runs the passive detector against every device the backend
// currently reports.
func (l *L1) DetectAll(ctx context.Context) ([]Result, error) {
	ids, err := l.dev.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, l.detectOne(ctx, id))
	}
	return results, nil
}

func (l *L1) detectOne(ctx context.Context, id device.ID) Result {
	var findings []Finding

	metricsFindings, metrics, haveMetrics := l.metricsSubCheck(ctx, id)
	findings = append(findings, metricsFindings...)
	findings = append(findings, l.faultLogSubCheck(ctx, id)...)
	findings = append(findings, l.stuckProcessSubCheck(ctx, id)...)

	result := fail(id, L1Passive, findings)
	result.Metrics = metrics
	result.HasMetrics = haveMetrics
	return result
}

func (l *L1) metricsSubCheck(ctx context.Context, id device.ID) ([]Finding, device.Metrics, bool) {
	metrics, err := l.dev.GetMetrics(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "l1 metrics query failed, skipping sub-check", "device", id, "error", err)
		return nil, device.Metrics{}, false
	}

	var findings []Finding
	if metrics.Temperature > l.cfg.TemperatureThreshold {
		findings = append(findings, highTemperatureFinding(metrics.Temperature, l.cfg.TemperatureThreshold))
	}
	if metrics.UncorrectableECC > 0 {
		findings = append(findings, uncorrectableEccFinding(metrics.UncorrectableECC))
	}
	return findings, metrics, true
}

func (l *L1) faultLogSubCheck(ctx context.Context, id device.ID) []Finding {
	entries, err := l.dev.GetFaultLog(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "l1 fault log query failed, skipping sub-check", "device", id, "error", err)
		return nil
	}

	var findings []Finding
	for _, entry := range entries {
		fatal := entry.IsFatal(l.cfg.FatalCodes)
		if l.cfg.Policy != nil {
			fatal = fatal || l.cfg.Policy.IsFatal(entry)
		}
		l.logger.WarnContext(ctx, "device fault recorded",
			"device", id, "code", entry.Code, "severity", device.XIDSeverity(entry.Code),
			"fatal", fatal, "message", entry.Message)
		if fatal {
			findings = append(findings, fatalFaultFinding(entry.Code, entry.Message))
		} else {
			findings = append(findings, nonFatalFaultFinding(entry.Code, entry.Message))
		}
	}
	return findings
}

func (l *L1) stuckProcessSubCheck(ctx context.Context, id device.ID) []Finding {
	pids, err := l.dev.GetStuckProcesses(ctx, id)
	if err != nil {
		l.logger.WarnContext(ctx, "l1 stuck process query failed, skipping sub-check", "device", id, "error", err)
		return nil
	}

	var findings []Finding
	for _, pid := range pids {
		findings = append(findings, stuckProcessFinding(pid))
	}
	return findings
}
