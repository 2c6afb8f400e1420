package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "OPSLOOP_"

	// DefaultConfigFile is looked up in the working directory when no
	// path is given.
	DefaultConfigFile = "opsloop.yaml"
)

// Load loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OPSLOOP_QUEUE_MIN_CONFIDENCE, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// An empty configPath means "./opsloop.yaml if it exists". A missing
// explicit path is an error.
//
// Environment variables drop the prefix and split on the first
// underscore only:
//
//	OPSLOOP_QUEUE_MIN_CONFIDENCE -> queue.min_confidence
//	OPSLOOP_AUTONOMY_INTERVAL    -> autonomy.interval
//	OPSLOOP_STORAGE_DATA_DIR     -> storage.data_dir
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigFile
	}

	content, err := readConfigFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		// defaults + env only
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg, k.Exists)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps OPSLOOP_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized and world-writable files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
// Thresholds for which 0 is meaningful are only defaulted when isSet
// reports their key absent.
func applyDefaults(cfg *Config, isSet func(key string) bool) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if !isSet("queue.min_confidence") {
		cfg.Queue.MinConfidence = 0.5
	}
	if cfg.Queue.MaxLive == 0 {
		cfg.Queue.MaxLive = 1000
	}
	if cfg.Queue.MaxPending == 0 {
		cfg.Queue.MaxPending = 500
	}

	if !isSet("knowledge.min_confidence") {
		cfg.Knowledge.MinConfidence = 0.6
	}
	if cfg.Knowledge.MaxChunksPerRun == 0 {
		cfg.Knowledge.MaxChunksPerRun = 50
	}
	if cfg.Knowledge.MaxVersions == 0 {
		cfg.Knowledge.MaxVersions = 20
	}
	if cfg.Knowledge.TenantID == "" {
		cfg.Knowledge.TenantID = "default"
	}

	if cfg.Rules.MinSample == 0 {
		cfg.Rules.MinSample = 5
	}
	if cfg.Rules.HighSample == 0 {
		cfg.Rules.HighSample = 20
	}
	if cfg.Rules.TTL == 0 {
		cfg.Rules.TTL = Duration(7 * 24 * time.Hour)
	}
	if cfg.Rules.RecentWindow == 0 {
		cfg.Rules.RecentWindow = Duration(24 * time.Hour)
	}
	if cfg.Rules.BaselineWindow == 0 {
		cfg.Rules.BaselineWindow = Duration(7 * 24 * time.Hour)
	}

	if len(cfg.Dispatcher.ScriptDirs) == 0 {
		cfg.Dispatcher.ScriptDirs = []string{"execution", "scripts"}
	}
	if cfg.Dispatcher.Timeout == 0 {
		cfg.Dispatcher.Timeout = Duration(10 * time.Minute)
	}
	if cfg.Dispatcher.RatePerMinute == 0 {
		cfg.Dispatcher.RatePerMinute = 6
	}

	if cfg.Autonomy.Interval == 0 {
		cfg.Autonomy.Interval = Duration(5 * time.Minute)
	}
	if cfg.Autonomy.GoalsFile == "" {
		cfg.Autonomy.GoalsFile = "goals.yaml"
	}

	if cfg.Jobs.AnalyzeSchedule == "" {
		cfg.Jobs.AnalyzeSchedule = "@hourly"
	}
	if cfg.Jobs.ProcessSchedule == "" {
		cfg.Jobs.ProcessSchedule = "*/15 * * * *"
	}
	if cfg.Jobs.ArchiveSchedule == "" {
		cfg.Jobs.ArchiveSchedule = "@daily"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "opsloop"
	}
	if cfg.Redaction.Replacement == "" {
		cfg.Redaction.Replacement = "[REDACTED]"
	}

	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = "127.0.0.1:9464"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
}
