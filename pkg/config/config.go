package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/bus"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/reliability"
)

// Default configuration values exported for documentation and validation
const (
	DefaultApprovalMode = "safe"
	DefaultItemTimeout  = 10 * time.Minute
	DefaultServerAddr   = "127.0.0.1:4490"
	DefaultBusKind      = BusMemory
	DefaultNATSURL      = "nats://127.0.0.1:4222"
	DefaultSubject      = "batchq.jobs.execute"
	DefaultQueueGroup   = "batchq-workers"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// Config represents the complete batchq configuration
type Config struct {
	Approval ApprovalConfig `yaml:"approval"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Bus      BusConfig      `yaml:"bus"`
	Server   ServerConfig   `yaml:"server"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ApprovalConfig controls permission gating of batch entries.
type ApprovalConfig struct {
	// Mode determines the default approval level: ask, safe, auto, yolo
	// - ask: Explicit approval for all writes and commands
	// - safe: Read anything, write to workspace only, no shell/network without approval
	// - auto: Full workspace access, approval for external operations
	// - yolo: Full autonomy (dangerous, use with caution)
	Mode string `yaml:"mode"`

	// Workspace is the directory entries may write to. Empty means the
	// current working directory.
	Workspace string `yaml:"workspace"`

	// TrustedPaths are additional paths with write access (beyond workspace)
	TrustedPaths []string `yaml:"trusted_paths"`

	// DeniedPaths are paths that are never writable (except in yolo mode)
	DeniedPaths []string `yaml:"denied_paths"`

	// AllowNetwork permits network access in auto mode without prompting
	AllowNetwork bool `yaml:"allow_network"`
}

// RetryPolicy defines retry behavior for transient item errors
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// BreakerConfig opens a circuit around item processing after repeated
// failures. MaxFailures of zero disables it.
type BreakerConfig struct {
	MaxFailures      int           `yaml:"max_failures"`
	Timeout          time.Duration `yaml:"timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// QueueConfig controls per-item processing middleware.
type QueueConfig struct {
	ItemTimeout time.Duration `yaml:"item_timeout"`
	// RateLimit is items started per second. Zero means unlimited.
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
	Retry     RetryPolicy   `yaml:"retry"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// LoggingConfig controls the component logger and the JSONL journal.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// JournalDir enables the JSONL event journal when set.
	JournalDir string `yaml:"journal_dir"`
}

// StorageConfig locates the sqlite run journal. An empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BusConfig selects the message bus used for remote processing and event
// forwarding.
type BusConfig struct {
	Kind        string        `yaml:"kind"` // memory | nats
	URL         string        `yaml:"url"`
	Name        string        `yaml:"name"`
	Subject     string        `yaml:"subject"`
	Queue       string        `yaml:"queue"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	// EventPrefix forwards hub events to "<prefix>.<type>" when set.
	EventPrefix string `yaml:"event_prefix"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicMetrics  bool     `yaml:"public_metrics"`
	MaxConnections int      `yaml:"max_connections"`
}

// TracingConfig controls the stdout span exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	storagePath := ""
	if home != "" {
		storagePath = filepath.Join(home, ".batchq", "batchq.db")
	}
	return &Config{
		Approval: ApprovalConfig{
			Mode: DefaultApprovalMode,
		},
		Queue: QueueConfig{
			ItemTimeout: DefaultItemTimeout,
			Burst:       1,
			Retry: RetryPolicy{
				MaxRetries:     2,
				InitialBackoff: 200 * time.Millisecond,
				MaxBackoff:     5 * time.Second,
				Multiplier:     2.0,
			},
			Breaker: BreakerConfig{
				Timeout:          30 * time.Second,
				SuccessThreshold: 2,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Path: storagePath,
		},
		Bus: BusConfig{
			Kind:        DefaultBusKind,
			URL:         DefaultNATSURL,
			Name:        "batchq",
			Subject:     DefaultSubject,
			Queue:       DefaultQueueGroup,
			Timeout:     30 * time.Second,
			Concurrency: 4,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.batchq/config.yaml, ./.batchq/config.yaml, then environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".batchq", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", ".batchq", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", projectConfigPath)
	}

	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path on top of the
// defaults, then applies environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		code := bqerrors.ErrCodeConfigParse
		if os.IsNotExist(err) {
			code = bqerrors.ErrCodeConfigLoad
		}
		return nil, bqerrors.Wrap(err, code, "loading config").WithContext("path", path)
	}

	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAndMerge decodes a YAML file over cfg. Keys absent from the file keep
// their current values.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies BATCHQ_* environment variables. Values from
// ~/.batchq/config.env are used when the process environment lacks a key.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) error {
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return configEnv[key]
	}

	if v := get("BATCHQ_APPROVAL_MODE"); v != "" {
		cfg.Approval.Mode = v
	}
	if v := get("BATCHQ_WORKSPACE"); v != "" {
		cfg.Approval.Workspace = v
	}
	if v := get("BATCHQ_TRUSTED_PATHS"); v != "" {
		cfg.Approval.TrustedPaths = splitCommaList(v)
	}
	if v := get("BATCHQ_DENIED_PATHS"); v != "" {
		cfg.Approval.DeniedPaths = splitCommaList(v)
	}
	if val, ok := parseBool(get("BATCHQ_ALLOW_NETWORK")); ok {
		cfg.Approval.AllowNetwork = val
	}

	if v := get("BATCHQ_ITEM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("BATCHQ_ITEM_TIMEOUT", v, err)
		}
		cfg.Queue.ItemTimeout = d
	}
	if v := get("BATCHQ_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("BATCHQ_RATE_LIMIT", v, err)
		}
		cfg.Queue.RateLimit = f
	}
	if v := get("BATCHQ_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("BATCHQ_MAX_RETRIES", v, err)
		}
		cfg.Queue.Retry.MaxRetries = n
	}

	if v := get("BATCHQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := get("BATCHQ_JOURNAL_DIR"); v != "" {
		cfg.Logging.JournalDir = v
	}
	if v := get("BATCHQ_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	if v := get("BATCHQ_BUS_KIND"); v != "" {
		cfg.Bus.Kind = v
	}
	if v := get("BATCHQ_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	} else if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := get("BATCHQ_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if val, ok := parseBool(get("BATCHQ_TRACING")); ok {
		cfg.Tracing.Enabled = val
	}
	return nil
}

func envError(key, value string, err error) error {
	return bqerrors.Wrap(err, bqerrors.ErrCodeConfigInvalid, "invalid environment override").
		WithContext("key", key).
		WithContext("value", value)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return bqerrors.Newf(bqerrors.ErrCodeConfigInvalid, format, args...)
	}

	if _, err := approval.ParseMode(c.Approval.Mode); err != nil {
		return invalid("invalid approval mode: %s (valid: ask, safe, auto, yolo)", c.Approval.Mode)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("invalid logging.level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Queue.ItemTimeout < 0 {
		return invalid("queue.item_timeout must be >= 0")
	}
	if c.Queue.RateLimit < 0 {
		return invalid("queue.rate_limit must be >= 0")
	}
	if c.Queue.RateLimit > 0 && c.Queue.Burst < 1 {
		return invalid("queue.burst must be >= 1 when queue.rate_limit is set")
	}
	if c.Queue.Retry.MaxRetries < 0 {
		return invalid("queue.retry.max_retries must be >= 0")
	}
	if c.Queue.Retry.InitialBackoff < 0 || c.Queue.Retry.MaxBackoff < 0 {
		return invalid("queue.retry backoff must be >= 0")
	}
	if c.Queue.Retry.Multiplier < 0 {
		return invalid("queue.retry.multiplier must be >= 0")
	}
	if c.Queue.Breaker.MaxFailures < 0 {
		return invalid("queue.breaker.max_failures must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Bus.Kind)) {
	case BusMemory:
	case BusNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return invalid("bus.url is required when bus.kind is nats")
		}
	default:
		return invalid("invalid bus.kind: %s (valid: memory, nats)", c.Bus.Kind)
	}
	if strings.TrimSpace(c.Bus.Subject) == "" {
		return invalid("bus.subject is required")
	}
	if c.Bus.Concurrency < 0 {
		return invalid("bus.concurrency must be >= 0")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return invalid("server.addr is required")
	}
	if c.Server.MaxConnections < 0 {
		return invalid("server.max_connections must be >= 0")
	}
	return nil
}

// ValidationWarnings returns non-fatal issues worth surfacing at startup.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if mode, err := approval.ParseMode(c.Approval.Mode); err == nil && mode == approval.ModeYolo {
		warnings = append(warnings, "approval mode is yolo: every entry runs without checks")
	}
	if !isLoopbackBindAddress(c.Server.Addr) && !c.Server.PublicMetrics {
		warnings = append(warnings, fmt.Sprintf("server.addr %s is not loopback; /metrics will require public_metrics", c.Server.Addr))
	}
	if c.Queue.ItemTimeout == 0 {
		warnings = append(warnings, "queue.item_timeout is 0: items may run forever")
	}
	return warnings
}

// ApprovalPolicy builds the gate policy with the workspace resolved to an
// absolute path.
func (c *Config) ApprovalPolicy() (approval.Policy, error) {
	mode, err := approval.ParseMode(c.Approval.Mode)
	if err != nil {
		return approval.Policy{}, bqerrors.Wrap(err, bqerrors.ErrCodeConfigInvalid, "approval mode")
	}
	expand := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			if p = expandHomeDir(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return approval.Policy{
		Mode: mode,
		Context: approval.Context{
			WorkspacePath: ResolveWorkspace(c),
			TrustedPaths:  expand(c.Approval.TrustedPaths),
			DeniedPaths:   expand(c.Approval.DeniedPaths),
			AllowNetwork:  c.Approval.AllowNetwork,
		},
	}, nil
}

// LogLevel is the parsed logging level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}

// RetryStrategy converts the retry policy. A zero policy never retries.
func (c *Config) RetryStrategy() reliability.RetryStrategy {
	r := c.Queue.Retry
	return reliability.RetryStrategy{
		MaxRetries: r.MaxRetries,
		BaseDelay:  r.InitialBackoff,
		MaxDelay:   r.MaxBackoff,
		Multiplier: r.Multiplier,
	}
}

// Limiter returns the item start limiter, or nil when unlimited.
func (c *Config) Limiter() *rate.Limiter {
	if c.Queue.RateLimit <= 0 {
		return nil
	}
	burst := c.Queue.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.Queue.RateLimit), burst)
}

// Breaker returns the circuit breaker, or nil when disabled. onChange may
// be nil.
func (c *Config) Breaker(onChange func(from, to reliability.CircuitState)) *reliability.CircuitBreaker {
	b := c.Queue.Breaker
	if b.MaxFailures <= 0 {
		return nil
	}
	return reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:      b.MaxFailures,
		Timeout:          b.Timeout,
		SuccessThreshold: b.SuccessThreshold,
		OnStateChange:    onChange,
	})
}

// BusSettings converts the bus section for bus.NewNATSBus.
func (c *Config) BusSettings() bus.Options {
	return bus.Options{
		URL:            c.Bus.URL,
		Name:           c.Bus.Name,
		RequestTimeout: c.Bus.Timeout,
	}
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(home, ".batchq", "config.env"))
	if err != nil {
		return nil
	}
	return parseEnvFile(string(data))
}

func parseEnvFile(data string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}
