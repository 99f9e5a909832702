// Package agent wires the device backend, detectors, health state
// machine, healer, isolation executor, and metrics registry into the
// running daemon, and drives them with three independent tickers.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gdnd-project/gdnd/pkg/clock"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/healer"
	"github.com/gdnd-project/gdnd/pkg/isolation"
	"github.com/gdnd-project/gdnd/pkg/metrics"
)

// Detector is satisfied by detect.L1/L2/L3: run every enumerated device
// through one detection tier.
type Detector interface {
	DetectAll(ctx context.Context) ([]detect.Result, error)
}

// SchedulerConfig controls tick cadence for each tier.
type SchedulerConfig struct {
	L1Interval time.Duration
	L2Interval time.Duration
	L3Interval time.Duration
	L3Enabled  bool
}

// Scheduler runs L1/L2/(optionally L3) detection on independent tickers,
// feeding every result into the health manager and dispatching the
// resulting transition to the healer and isolation executor. Ticks never
// queue: each tier handles its ticks one at a time on its own goroutine,
// and its ticker holds at most one pending tick, dropping any others that
// arrive while a tick is still running, so an overrunning tick simply
// delays that tier's next one rather than piling up concurrent runs.
// Different tiers run concurrently with each other.
type Scheduler struct {
	cfg       SchedulerConfig
	clock     clock.Clock
	manager   *health.Manager
	l1, l2    Detector
	l3        Detector
	healer    *healer.Healer
	executor  isolation.Executor
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// NewScheduler assembles a Scheduler. l3 and h may be nil: a nil l3 means
// link probing is skipped regardless of cfg.L3Enabled, and a nil healer
// means self-healing is skipped.
func NewScheduler(cfg SchedulerConfig, clk clock.Clock, manager *health.Manager, l1, l2, l3 Detector, h *healer.Healer, executor isolation.Executor, reg *metrics.Registry, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		clock:    clk,
		manager:  manager,
		l1:       l1,
		l2:       l2,
		l3:       l3,
		healer:   h,
		executor: executor,
		metrics:  reg,
		logger:   logger,
	}
}

// Run drives all configured tiers until ctx is canceled. It blocks.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	tiers := 2
	l3Interval := time.Duration(0)
	if s.cfg.L3Enabled && s.l3 != nil {
		tiers = 3
		l3Interval = s.cfg.L3Interval
	}

	tickers := clock.NewTierTickers(s.clock, s.cfg.L1Interval, s.cfg.L2Interval, l3Interval)

	go s.runTier(ctx, done, detect.L1Passive, s.l1, tickers.L1)
	go s.runTier(ctx, done, detect.L2Active, s.l2, tickers.L2)
	if tiers == 3 {
		go s.runTier(ctx, done, detect.L3Link, s.l3, tickers.L3)
	}

	for i := 0; i < tiers; i++ {
		<-done
	}
}

// RunOnce runs every configured tier exactly once, for --once mode.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx, detect.L1Passive, s.l1)
	s.tick(ctx, detect.L2Active, s.l2)
	if s.cfg.L3Enabled && s.l3 != nil {
		s.tick(ctx, detect.L3Link, s.l3)
	}
}

func (s *Scheduler) runTier(ctx context.Context, done chan<- struct{}, tier detect.Tier, d Detector, ticker clock.Ticker) {
	defer func() { done <- struct{}{} }()

	if d == nil || ticker == nil {
		return
	}
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx, tier, d)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, tier detect.Tier, d Detector) {
	start := s.clock.Now()
	results, err := d.DetectAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "detection tier failed", "tier", tier, "error", err)
		return
	}

	elapsed := s.clock.Since(start).Seconds()

	if s.metrics != nil && tier == detect.L1Passive {
		s.metrics.SetDeviceCount(len(results))
	}

	for _, result := range results {
		if s.metrics != nil {
			s.metrics.ObserveCheckDuration(tier, result.Device, elapsed)
			for _, f := range result.Findings {
				s.metrics.ObserveCheckFailure(tier, result.Device, findingReason(f))
			}
			if result.HasMetrics {
				s.metrics.ObserveMetrics(result.Device, result.Metrics)
			}
		}
		s.handleResult(ctx, result)
	}
}

func (s *Scheduler) handleResult(ctx context.Context, result detect.Result) {
	transition := s.manager.ProcessResult(result)

	if s.metrics != nil {
		if h, ok := s.manager.Get(result.Device); ok {
			s.metrics.ObserveHealth(&h)
		}
	}

	if !transition.Changed || len(transition.Actions) == 0 {
		return
	}

	// One dispatch id correlates the healer, executor, and completion log
	// lines for this transition.
	dispatchID := uuid.New().String()

	if transition.To == health.Unhealthy && s.healer != nil && s.healer.IsEnabled() {
		for _, r := range s.healer.Heal(ctx, result.Device.Index) {
			s.logger.InfoContext(ctx, "healing action", "dispatch_id", dispatchID, "device", result.Device, "action", r.Action, "success", r.Success, "message", r.Message)
		}
	}

	if s.executor == nil {
		return
	}

	if err := s.executor.Execute(ctx, transition); err != nil {
		s.logger.ErrorContext(ctx, "isolation executor failed", "dispatch_id", dispatchID, "device", result.Device, "from", transition.From, "to", transition.To, "error", err)
		return
	}

	s.logger.InfoContext(ctx, "isolation actions applied", "dispatch_id", dispatchID, "device", result.Device, "from", transition.From, "to", transition.To, "actions", len(transition.Actions))

	for _, action := range transition.Actions {
		if s.metrics != nil {
			s.metrics.ObserveIsolationAction(action.Kind)
		}
	}

	if transition.To == health.Unhealthy {
		s.manager.Dispatch(result.Device, health.IsolationCompleted)
	}
}

func findingReason(f detect.Finding) string {
	switch f.Type {
	case detect.FatalFault:
		return "fatal_fault"
	case detect.NonFatalFault:
		return "non_fatal_fault"
	case detect.HighTemperature:
		return "high_temperature"
	case detect.StuckProcess:
		return "stuck_process"
	case detect.ActiveProbeFailure:
		return "active_probe_failure"
	case detect.ActiveProbeTimeout:
		return "active_probe_timeout"
	case detect.UncorrectableEcc:
		return "uncorrectable_ecc"
	case detect.LinkDegradation:
		return "link_degradation"
	default:
		return "unknown"
	}
}
