// Package config provides configuration loading for opsloop.
//
// Configuration is layered: hardcoded defaults, then an optional YAML
// file, then OPSLOOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config holds the complete opsloop configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	Logging    LoggingConfig    `koanf:"logging"`
	Queue      QueueConfig      `koanf:"queue"`
	Knowledge  KnowledgeConfig  `koanf:"knowledge"`
	Rules      RulesConfig      `koanf:"rules"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Autonomy   AutonomyConfig   `koanf:"autonomy"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Server     ServerConfig     `koanf:"server"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Redaction  RedactionConfig  `koanf:"redaction"`
}

// StorageConfig holds the root of all durable stores.
type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// QueueConfig configures the validation queue.
type QueueConfig struct {
	MinConfidence float64 `koanf:"min_confidence"`
	MaxLive       int     `koanf:"max_live"`    // live entries before Submit archives
	MaxPending    int     `koanf:"max_pending"` // pending entries kept live by Archive
}

// KnowledgeConfig configures knowledge base injection.
type KnowledgeConfig struct {
	MinConfidence   float64 `koanf:"min_confidence"`
	MaxChunksPerRun int     `koanf:"max_chunks_per_run"`
	MaxVersions     int     `koanf:"max_versions"`
	TenantID        string  `koanf:"tenant_id"`
}

// RulesConfig configures the self-heal rule engine.
type RulesConfig struct {
	MinSample      int      `koanf:"min_sample"`
	HighSample     int      `koanf:"high_sample"`
	TTL            Duration `koanf:"ttl"`
	RecentWindow   Duration `koanf:"recent_window"`
	BaselineWindow Duration `koanf:"baseline_window"`
}

// DispatcherConfig configures directive execution.
type DispatcherConfig struct {
	ScriptDirs    []string `koanf:"script_dirs"`
	ToolsFile     string   `koanf:"tools_file"`
	Timeout       Duration `koanf:"timeout"`
	RatePerMinute int      `koanf:"rate_per_minute"`
}

// AutonomyConfig configures the goal polling daemon.
type AutonomyConfig struct {
	Interval    Duration          `koanf:"interval"`
	GoalsFile   string            `koanf:"goals_file"`
	Live        bool              `koanf:"live"`
	StateFiles  []string          `koanf:"state_files"`
	LeadDB      string            `koanf:"lead_db"`
	LeadQueries map[string]string `koanf:"lead_queries"`
}

// JobDisabled as a cron spec turns a background job off.
const JobDisabled = "-"

// JobsConfig holds cron specs for the daemon's background jobs.
type JobsConfig struct {
	AnalyzeSchedule string `koanf:"analyze_schedule"`
	ProcessSchedule string `koanf:"process_schedule"`
	ArchiveSchedule string `koanf:"archive_schedule"`
}

// ServerConfig holds the daemon's HTTP settings.
type ServerConfig struct {
	MetricsAddr     string   `koanf:"metrics_addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig configures OpenTelemetry trace export. Tracing is off
// unless enabled.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// RedactionConfig controls credential redaction in session events and
// tool output. Redaction is on unless disabled.
type RedactionConfig struct {
	Disabled    bool     `koanf:"disabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"` // regexps matched against each hit
	// AllowlistFile is a gitleaks-style TOML file whose [allowlist]
	// regexes extend AllowList. A missing file is ignored.
	AllowlistFile string `koanf:"allowlist_file"`
	// Gitleaks adds the gitleaks default ruleset to the built-in rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, func(string) bool { return false })
	return cfg
}

// Path resolves p against the data directory unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.DataDir, p)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if err := checkUnit("queue.min_confidence", c.Queue.MinConfidence); err != nil {
		return err
	}
	if err := checkUnit("knowledge.min_confidence", c.Knowledge.MinConfidence); err != nil {
		return err
	}
	if c.Queue.MaxPending > c.Queue.MaxLive {
		return fmt.Errorf("queue.max_pending (%d) cannot exceed queue.max_live (%d)", c.Queue.MaxPending, c.Queue.MaxLive)
	}
	if c.Rules.MinSample < 1 {
		return fmt.Errorf("rules.min_sample must be >= 1, got %d", c.Rules.MinSample)
	}
	if c.Rules.HighSample <= c.Rules.MinSample {
		return fmt.Errorf("rules.high_sample (%d) must be greater than rules.min_sample (%d)", c.Rules.HighSample, c.Rules.MinSample)
	}
	if c.Rules.BaselineWindow.Duration() <= c.Rules.RecentWindow.Duration() {
		return fmt.Errorf("rules.baseline_window (%s) must be longer than rules.recent_window (%s)",
			c.Rules.BaselineWindow.Duration(), c.Rules.RecentWindow.Duration())
	}
	if len(c.Dispatcher.ScriptDirs) == 0 {
		return errors.New("dispatcher.script_dirs must name at least one directory")
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
	}
	if err := checkUnit("telemetry.sample_rate", c.Telemetry.SampleRate); err != nil {
		return err
	}
	if c.Autonomy.Interval.Duration() < time.Second {
		return fmt.Errorf("autonomy.interval must be at least 1s, got %s", c.Autonomy.Interval.Duration())
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}
