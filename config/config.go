// Package config loads threatmap.yaml, the configuration shared by every
// threatmap subcommand, and applies THREATMAP_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/threatmap/internal/logging"
	"github.com/zero-day-ai/threatmap/report"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// File names searched by Load when given a directory.
const (
	FileName    = "threatmap.yaml"
	AltFileName = "threatmap.yml"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Environment variables that override file values.
const (
	EnvRedisURL    = "THREATMAP_REDIS_URL"
	EnvStore       = "THREATMAP_STORE"
	EnvTaxonomy    = "THREATMAP_TAXONOMY"
	EnvConcurrency = "THREATMAP_CONCURRENCY"
	EnvFilter      = "THREATMAP_FILTER"
	EnvOutputDir   = "THREATMAP_OUTPUT_DIR"
	EnvLogLevel    = "THREATMAP_LOG_LEVEL"
	EnvLogFormat   = "THREATMAP_LOG_FORMAT"

	// EnvOTLPEndpoint is the standard OpenTelemetry collector variable.
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config represents a threatmap.yaml file. Every section is optional.
type Config struct {
	Taxonomy *TaxonomyConfig `yaml:"taxonomy,omitempty"`
	Store    *StoreConfig    `yaml:"store,omitempty"`
	Worker   *WorkerConfig   `yaml:"worker,omitempty"`

	// Filter is a CEL expression selecting the incidents to process.
	Filter string `yaml:"filter,omitempty"`

	Report    *ReportConfig    `yaml:"report,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TaxonomyConfig locates the taxonomy definition.
type TaxonomyConfig struct {
	// Path is a taxonomy YAML file. Empty selects the built-in taxonomy.
	Path string `yaml:"path,omitempty"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Backend is "memory" or "redis". Default: memory
	Backend string `yaml:"backend,omitempty"`

	// RedisURL is the Redis connection string, shared with the work queue.
	// Default: redis://localhost:6379
	RedisURL string `yaml:"redis_url,omitempty"`

	// Prefix namespaces store keys. Default: "threatmap:"
	Prefix string `yaml:"prefix,omitempty"`
}

// WorkerConfig defines configuration for batch and queue-based execution.
type WorkerConfig struct {
	// Concurrency is the number of incidents processed in parallel, locally
	// and per worker process.
	// Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// Queue is the Redis list work items are pushed to.
	// Default: "threatmap:work"
	Queue string `yaml:"queue,omitempty"`

	// ShutdownTimeout is the time to wait for graceful shutdown.
	// Format: Go duration string (e.g., "30s", "1m")
	// Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`

	// HeartbeatInterval is the interval between health heartbeats.
	// Format: Go duration string (e.g., "10s")
	// Default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
}

// ReportConfig defines where and how reports are written.
type ReportConfig struct {
	// OutputDir is the directory report files are written to.
	// Default: "reports"
	OutputDir string `yaml:"output_dir,omitempty"`

	// Formats lists report formats (json, csv, text, html).
	// Default: json, csv, text
	Formats []string `yaml:"formats,omitempty"`

	// LayerName overrides the ATT&CK Navigator layer name.
	LayerName string `yaml:"layer_name,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics. Telemetry is
// off unless Endpoint is set.
type TelemetryConfig struct {
	// Endpoint is the OTLP gRPC collector address (e.g., "otel-collector:4317").
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName is reported as service.name. Default: "threatmap"
	ServiceName string `yaml:"service_name,omitempty"`

	// MetricInterval is the metric export period. Default: 10s
	MetricInterval string `yaml:"metric_interval,omitempty"`
}

// GetPath returns the taxonomy path, empty for the built-in taxonomy.
func (t *TaxonomyConfig) GetPath() string {
	if t == nil {
		return ""
	}
	return t.Path
}

// GetBackend returns the store backend or the default value.
func (s *StoreConfig) GetBackend() string {
	if s == nil || s.Backend == "" {
		return BackendMemory
	}
	return s.Backend
}

// GetRedisURL returns the Redis URL or the default value.
func (s *StoreConfig) GetRedisURL() string {
	if s == nil || s.RedisURL == "" {
		return "redis://localhost:6379"
	}
	return s.RedisURL
}

// GetPrefix returns the store key prefix or the default value.
func (s *StoreConfig) GetPrefix() string {
	if s == nil || s.Prefix == "" {
		return "threatmap:"
	}
	return s.Prefix
}

// GetConcurrency returns the configured concurrency or the default value.
func (w *WorkerConfig) GetConcurrency() int {
	if w == nil || w.Concurrency <= 0 {
		return 4
	}
	return w.Concurrency
}

// GetQueue returns the queue name or the default value.
func (w *WorkerConfig) GetQueue() string {
	if w == nil || w.Queue == "" {
		return "threatmap:work"
	}
	return w.Queue
}

// GetShutdownTimeout parses the shutdown timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (w *WorkerConfig) GetShutdownTimeout() time.Duration {
	if w == nil || w.ShutdownTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(w.ShutdownTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetHeartbeatInterval parses the heartbeat interval string and returns a duration.
// Returns the default value if not set or invalid.
func (w *WorkerConfig) GetHeartbeatInterval() time.Duration {
	if w == nil || w.HeartbeatInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(w.HeartbeatInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetOutputDir returns the report directory or the default value.
func (r *ReportConfig) GetOutputDir() string {
	if r == nil || r.OutputDir == "" {
		return "reports"
	}
	return r.OutputDir
}

// GetFormats returns the parsed report formats or the default set. Invalid
// entries are skipped; Validate reports them.
func (r *ReportConfig) GetFormats() []report.Format {
	if r == nil || len(r.Formats) == 0 {
		return []report.Format{report.FormatJSON, report.FormatCSV, report.FormatText}
	}
	var out []report.Format
	for _, s := range r.Formats {
		if f, err := report.ParseFormat(strings.ToLower(s)); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// GetLevel returns the log level or the default value.
func (l *LogConfig) GetLevel() string {
	if l == nil || l.Level == "" {
		return "info"
	}
	return l.Level
}

// GetFormat returns the log format or the default value.
func (l *LogConfig) GetFormat() string {
	if l == nil || l.Format == "" {
		return logging.FormatJSON
	}
	return l.Format
}

// Enabled reports whether a collector endpoint is configured.
func (t *TelemetryConfig) Enabled() bool {
	return t != nil && t.Endpoint != ""
}

// GetServiceName returns the service name or the default value.
func (t *TelemetryConfig) GetServiceName() string {
	if t == nil || t.ServiceName == "" {
		return "threatmap"
	}
	return t.ServiceName
}

// GetMetricInterval parses the metric interval string and returns a duration.
// Returns the default value if not set or invalid.
func (t *TelemetryConfig) GetMetricInterval() time.Duration {
	if t == nil || t.MetricInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(t.MetricInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Validate checks enumerations and durations.
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch c.Store.GetBackend() {
	case BackendMemory, BackendRedis:
	default:
		return threaterr.Configuration(op, "store.backend",
			fmt.Sprintf("unknown backend %q (want memory or redis)", c.Store.Backend))
	}

	if c.Worker != nil {
		for field, v := range map[string]string{
			"worker.shutdown_timeout":   c.Worker.ShutdownTimeout,
			"worker.heartbeat_interval": c.Worker.HeartbeatInterval,
		} {
			if v == "" {
				continue
			}
			if d, err := time.ParseDuration(v); err != nil || d <= 0 {
				return threaterr.Configuration(op, field, fmt.Sprintf("invalid duration %q", v))
			}
		}
		if c.Worker.Concurrency < 0 {
			return threaterr.Configuration(op, "worker.concurrency", "must not be negative")
		}
	}

	if c.Report != nil {
		for _, s := range c.Report.Formats {
			if _, err := report.ParseFormat(strings.ToLower(s)); err != nil {
				return threaterr.Configuration(op, "report.formats", err.Error())
			}
		}
	}

	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return threaterr.Configuration(op, "log.level", err.Error())
		}
		switch strings.ToLower(c.Log.GetFormat()) {
		case logging.FormatJSON, logging.FormatText:
		default:
			return threaterr.Configuration(op, "log.format", fmt.Sprintf("unknown log format %q", c.Log.Format))
		}
	}

	if c.Telemetry != nil && c.Telemetry.MetricInterval != "" {
		if d, err := time.ParseDuration(c.Telemetry.MetricInterval); err != nil || d <= 0 {
			return threaterr.Configuration(op, "telemetry.metric_interval",
				fmt.Sprintf("invalid duration %q", c.Telemetry.MetricInterval))
		}
	}

	return nil
}

// ApplyEnv overrides file values with THREATMAP_* variables found by lookup
// (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.storeConfig().RedisURL = v
	}
	if v, ok := lookup(EnvStore); ok && v != "" {
		c.storeConfig().Backend = v
	}
	if v, ok := lookup(EnvTaxonomy); ok && v != "" {
		if c.Taxonomy == nil {
			c.Taxonomy = &TaxonomyConfig{}
		}
		c.Taxonomy.Path = v
	}
	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return threaterr.Configuration("config.ApplyEnv", EnvConcurrency,
				fmt.Sprintf("invalid concurrency %q", v))
		}
		if c.Worker == nil {
			c.Worker = &WorkerConfig{}
		}
		c.Worker.Concurrency = n
	}
	if v, ok := lookup(EnvFilter); ok {
		c.Filter = v
	}
	if v, ok := lookup(EnvOutputDir); ok && v != "" {
		if c.Report == nil {
			c.Report = &ReportConfig{}
		}
		c.Report.OutputDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.logConfig().Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.logConfig().Format = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		if c.Telemetry == nil {
			c.Telemetry = &TelemetryConfig{}
		}
		c.Telemetry.Endpoint = v
	}
	return nil
}

func (c *Config) storeConfig() *StoreConfig {
	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	return c.Store
}

func (c *Config) logConfig() *LogConfig {
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	return c.Log
}

// Parse decodes YAML configuration.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// Load reads and parses a threatmap.yaml file from the given path.
// If the path is a directory, it looks for threatmap.yaml or threatmap.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{FileName, AltFileName} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s or %s found in %s", FileName, AltFileName, path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadFromDir searches for threatmap.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no %s found in %s or parent directories", FileName, dir)
		}
		absDir = parent
	}
}

// Resolve loads the configuration for a command: the file at path when set,
// otherwise threatmap.yaml found from the working directory upwards, otherwise
// an empty configuration. Environment overrides are applied and the result
// validated.
func Resolve(path string) (*Config, error) {
	var cfg *Config
	var err error
	if path != "" {
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cwd, werr := os.Getwd()
		if werr != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", werr)
		}
		if cfg, err = LoadFromDir(cwd); err != nil {
			// threatmap.yaml is optional
			cfg = &Config{}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
