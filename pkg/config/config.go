// Package config loads and validates the agent's YAML configuration,
// applying the documented defaults and the NODE_NAME/LOG_LEVEL/LOG_JSON
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use "30s"-style
// strings; yaml.v3 has no native duration decoding.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements custom YAML unmarshaling for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements custom YAML marshaling for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

// Config is the root configuration for the agent.
type Config struct {
	NodeName     string   `yaml:"node_name,omitempty"`
	DeviceType   string   `yaml:"device_type,omitempty"`
	L1Interval   Duration `yaml:"l1_interval,omitempty"`
	L2Interval   Duration `yaml:"l2_interval,omitempty"`
	L3Interval   Duration `yaml:"l3_interval,omitempty"`
	L3Enabled    bool     `yaml:"l3_enabled,omitempty"`
	GPUCheckPath string   `yaml:"gpu_check_path,omitempty"`

	Health    HealthConfig    `yaml:"health,omitempty"`
	Isolation IsolationConfig `yaml:"isolation,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
	Healing   HealingConfig   `yaml:"healing,omitempty"`
	Recovery  RecoveryConfig  `yaml:"recovery,omitempty"`

	DryRun bool `yaml:"dry_run,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogJSON  bool   `yaml:"log_json,omitempty"`
}

// HealthConfig configures the state machine and L1's thresholds.
type HealthConfig struct {
	FailureThreshold     int      `yaml:"failure_threshold,omitempty"`
	FatalCodes           []uint32 `yaml:"fatal_codes,omitempty"`
	TemperatureThreshold int      `yaml:"temperature_threshold,omitempty"`
	ActiveCheckTimeout   Duration `yaml:"active_check_timeout,omitempty"`
	FatalCodePolicyFile  string   `yaml:"fatal_code_policy_file,omitempty"`

	// FaultLogWindow bounds how far back the log-scraping backend's fault
	// log sub-check looks for "recent" entries. Only meaningful for
	// backends that tail a log file rather than consume a native event
	// stream (see pkg/device.FaultLogReader).
	FaultLogWindow Duration `yaml:"fault_log_window,omitempty"`
}

// IsolationConfig configures what the IsolationExecutor does on isolation.
// Cordon is a *bool, not bool, because its documented default is true: a
// plain bool can't distinguish an absent key from an explicit "false".
type IsolationConfig struct {
	Cordon      *bool  `yaml:"cordon,omitempty"`
	EvictPods   bool   `yaml:"evict_pods,omitempty"`
	TaintKey    string `yaml:"taint_key,omitempty"`
	TaintValue  string `yaml:"taint_value,omitempty"`
	TaintEffect string `yaml:"taint_effect,omitempty"`
	Kubeconfig  string `yaml:"kubeconfig,omitempty"`
}

// MetricsConfig configures the Prometheus HTTP endpoint. Enabled is a
// *bool for the same reason as IsolationConfig.Cordon.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// HealingConfig configures the optional self-healing ladder.
type HealingConfig struct {
	Enabled  bool     `yaml:"enabled,omitempty"`
	Strategy string   `yaml:"strategy,omitempty"`
	DryRun   bool     `yaml:"dry_run,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// RecoveryConfig configures whether Isolated devices may recover.
type RecoveryConfig struct {
	Enabled   bool     `yaml:"enabled,omitempty"`
	Threshold int      `yaml:"threshold,omitempty"`
	Interval  Duration `yaml:"interval,omitempty"`
}

// defaultFatalCodes is the vendor-default set of fault codes treated as
// fatal when configuration supplies none of its own.
var defaultFatalCodes = []uint32{31, 43, 48, 79}

// Load reads, validates, and defaults a configuration file, then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyEnv()
	return &cfg, nil
}

// Validate checks the configuration for the rejections the configuration
// contract documents.
func (c *Config) Validate() error {
	if c.Health.FailureThreshold == 0 {
		return fmt.Errorf("health.failure_threshold must be non-zero")
	}
	if c.Health.TemperatureThreshold < 1 || c.Health.TemperatureThreshold > 150 {
		return fmt.Errorf("health.temperature_threshold must be between 1 and 150")
	}
	if c.L1Interval <= 0 {
		return fmt.Errorf("l1_interval must be non-zero")
	}
	if c.L2Interval <= 0 {
		return fmt.Errorf("l2_interval must be non-zero")
	}
	if c.L3Enabled && c.L3Interval <= 0 {
		return fmt.Errorf("l3_interval must be non-zero when l3_enabled")
	}
	if c.Metrics.Enabled != nil && *c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port must be non-zero when metrics.enabled")
	}
	switch c.DeviceType {
	case "", "auto", "nvidia", "ascend":
	default:
		return fmt.Errorf("device_type must be one of auto, nvidia, ascend, got %q", c.DeviceType)
	}
	switch c.Healing.Strategy {
	case "", "conservative", "moderate", "aggressive":
	default:
		return fmt.Errorf("healing.strategy must be one of conservative, moderate, aggressive, got %q", c.Healing.Strategy)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DeviceType == "" {
		c.DeviceType = "auto"
	}
	if c.L1Interval == 0 {
		c.L1Interval = Duration(30 * time.Second)
	}
	if c.L2Interval == 0 {
		c.L2Interval = Duration(5 * time.Minute)
	}
	if c.L3Interval == 0 {
		c.L3Interval = Duration(24 * time.Hour)
	}

	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if len(c.Health.FatalCodes) == 0 {
		c.Health.FatalCodes = defaultFatalCodes
	}
	if c.Health.TemperatureThreshold == 0 {
		c.Health.TemperatureThreshold = 85
	}
	if c.Health.ActiveCheckTimeout == 0 {
		c.Health.ActiveCheckTimeout = Duration(5 * time.Second)
	}
	if c.Health.FaultLogWindow == 0 {
		c.Health.FaultLogWindow = Duration(5 * time.Minute)
	}

	if c.Isolation.Cordon == nil {
		c.Isolation.Cordon = boolPtr(true)
	}
	if c.Isolation.TaintKey == "" {
		c.Isolation.TaintKey = "gdnd.io/unhealthy-device"
	}
	if c.Isolation.TaintValue == "" {
		c.Isolation.TaintValue = "failed"
	}
	if c.Isolation.TaintEffect == "" {
		c.Isolation.TaintEffect = "NoSchedule"
	}

	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = boolPtr(true)
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Healing.Strategy == "" {
		c.Healing.Strategy = "conservative"
	}
	if c.Healing.Timeout == 0 {
		c.Healing.Timeout = Duration(30 * time.Second)
	}

	if c.Recovery.Threshold == 0 {
		c.Recovery.Threshold = 5
	}
	if c.Recovery.Interval == 0 {
		c.Recovery.Interval = Duration(5 * time.Minute)
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func boolPtr(b bool) *bool { return &b }

// CordonEnabled reports whether isolation should cordon the node. Only
// meaningful after Load/applyDefaults has run.
func (c *Config) CordonEnabled() bool {
	return c.Isolation.Cordon != nil && *c.Isolation.Cordon
}

// MetricsEnabled reports whether the metrics HTTP endpoint should start.
// Only meaningful after Load/applyDefaults has run.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled != nil && *c.Metrics.Enabled
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NODE_NAME"); v != "" {
		c.NodeName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_JSON"); v != "" {
		c.LogJSON = v == "true" || v == "1"
	}
}
