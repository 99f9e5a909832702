// Command gdnd is the per-node GPU/NPU dead-node detector: it watches the
// accelerators on this node, runs a tiered passive/active/link detection
// pipeline against them, and drives node isolation through the
// orchestrator API when a fault is confirmed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gdnd-project/gdnd/pkg/agent"
	"github.com/gdnd-project/gdnd/pkg/config"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/healer"
	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/isolation"
	"github.com/gdnd-project/gdnd/pkg/metrics"
)

var (
	flagConfigPath string
	flagNodeName   string
	flagLogLevel   string
	flagLogJSON    bool
	flagDryRun     bool
	flagOnce       bool
	flagDebug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gdnd",
		Short: "Per-node GPU/NPU dead-node detector",
		Long: `gdnd observes the accelerators on this node, classifies their health
through a tiered passive/active/link detection pipeline, and isolates the
node from new workloads when a fault is confirmed.`,
		RunE: runAgent,
	}

	defaultNodeName := ""
	if hostname, err := os.Hostname(); err == nil {
		defaultNodeName = hostname
	}
	if envName := os.Getenv("NODE_NAME"); envName != "" {
		defaultNodeName = envName
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagNodeName, "node-name", defaultNodeName, "Name of this node (env: NODE_NAME)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Emit logs as JSON (env: LOG_JSON)")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Log isolation actions instead of executing them")
	rootCmd.PersistentFlags().BoolVar(&flagOnce, "once", false, "Run every detection tier exactly once, then exit")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Force debug-level logging regardless of --log-level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if flagNodeName != "" {
		cfg.NodeName = flagNodeName
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = flagLogJSON
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}
	if flagDebug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg.LogLevel, cfg.LogJSON)

	if cfg.NodeName == "" {
		return fmt.Errorf("node name not set: pass --node-name or set NODE_NAME")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, manager, metricsSrv, dev, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	if flagOnce {
		logger.InfoContext(ctx, "running detection tiers once", "node", cfg.NodeName)
		sched.RunOnce(ctx)
		for _, h := range manager.All() {
			logger.InfoContext(ctx, "device health",
				slog.String("device", h.Device.String()),
				slog.String("uuid", h.Device.UUID),
				slog.String("state", h.State.String()),
				slog.Int("failure_count", h.FailureCount),
			)
		}
		if manager.HasUnhealthy() {
			logger.WarnContext(ctx, "one or more devices are unhealthy or isolated")
		}
		return nil
	}

	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(ctx); err != nil {
				logger.ErrorContext(ctx, "metrics server exited", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "gdnd agent starting",
		slog.String("node", cfg.NodeName),
		slog.String("device_type", cfg.DeviceType),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("l3_enabled", cfg.L3Enabled),
	)

	sched.Run(ctx)

	logger.InfoContext(ctx, "gdnd agent stopped")
	return nil
}

// wire assembles the device backend, detection tiers, health manager,
// healer, isolation executor, and metrics registry into a ready-to-run
// Scheduler, following the same constructor-injection shape as the
// teacher's pkg/node.New.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*agent.Scheduler, *health.Manager, *metrics.Server, device.Device, error) {
	dev, err := device.Select(ctx, device.SelectConfig{
		DeviceType:      device.Type(cfg.DeviceType),
		ActiveProbePath: cfg.GPUCheckPath,
		FaultLogWindow:  cfg.Health.FaultLogWindow.Duration(),
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("select device backend: %w", err)
	}

	fatalCodes := make(map[uint32]bool, len(cfg.Health.FatalCodes))
	for _, code := range cfg.Health.FatalCodes {
		fatalCodes[code] = true
	}

	policy, err := loadFatalCodePolicy(cfg.Health.FatalCodePolicyFile)
	if err != nil {
		dev.Close()
		return nil, nil, nil, nil, err
	}

	l1 := detect.NewL1(dev, detect.L1Config{
		TemperatureThreshold: cfg.Health.TemperatureThreshold,
		FatalCodes:           fatalCodes,
		Policy:               policy,
	}, logger)

	l2 := detect.NewL2(dev, detect.L2Config{Timeout: cfg.Health.ActiveCheckTimeout.Duration()})

	var l3 agent.Detector
	if cfg.L3Enabled {
		l3 = detect.NewL3(dev, detect.L3Config{SkipIfUnsupported: true})
	}

	manager := health.NewManager(health.Config{
		FailureThreshold:  cfg.Health.FailureThreshold,
		RecoveryEnabled:   cfg.Recovery.Enabled,
		RecoveryThreshold: cfg.Recovery.Threshold,
		CordonEnabled:     cfg.CordonEnabled(),
		Taint: health.TaintSpec{
			Key:    cfg.Isolation.TaintKey,
			Value:  cfg.Isolation.TaintValue,
			Effect: cfg.Isolation.TaintEffect,
		},
	})

	heal := healer.New(healer.Config{
		Enabled:  cfg.Healing.Enabled,
		Strategy: healer.Strategy(cfg.Healing.Strategy),
		Timeout:  cfg.Healing.Timeout.Duration(),
		DryRun:   cfg.Healing.DryRun,
	}, dev.Type())

	var reg *metrics.Registry
	var metricsSrv *metrics.Server
	if cfg.MetricsEnabled() {
		reg = metrics.New()
		metricsSrv = metrics.NewServer(reg, cfg.Metrics.Port, cfg.Metrics.Path)
	}

	executor, err := buildExecutor(cfg, logger)
	if err != nil {
		dev.Close()
		return nil, nil, nil, nil, fmt.Errorf("build isolation executor: %w", err)
	}

	sched := agent.NewScheduler(agent.SchedulerConfig{
		L1Interval: cfg.L1Interval.Duration(),
		L2Interval: cfg.L2Interval.Duration(),
		L3Interval: cfg.L3Interval.Duration(),
		L3Enabled:  cfg.L3Enabled,
	}, nil, manager, l1, l2, l3, heal, executor, reg, logger)

	return sched, manager, metricsSrv, dev, nil
}

func loadFatalCodePolicy(path string) (detect.FatalCodeClassifier, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fatal code policy: %w", err)
	}
	policy, err := health.LoadFatalCodePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("load fatal code policy: %w", err)
	}
	return policy, nil
}

func buildExecutor(cfg *config.Config, logger *slog.Logger) (isolation.Executor, error) {
	if cfg.DryRun {
		return isolation.NewDryRunExecutor(logger), nil
	}

	client, err := isolation.NewClientset(isolation.KubeClientConfig{Kubeconfig: cfg.Isolation.Kubeconfig})
	if err != nil {
		return nil, err
	}
	return isolation.NewK8sExecutor(client, cfg.NodeName, cfg.Isolation.EvictPods, nil, logger), nil
}

func newLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
