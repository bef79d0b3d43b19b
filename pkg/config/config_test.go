package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/config"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Approval.Mode != config.DefaultApprovalMode {
		t.Errorf("approval mode = %q, want %q", cfg.Approval.Mode, config.DefaultApprovalMode)
	}
	if cfg.Queue.ItemTimeout != config.DefaultItemTimeout {
		t.Errorf("item timeout = %v, want %v", cfg.Queue.ItemTimeout, config.DefaultItemTimeout)
	}
	if cfg.Bus.Kind != config.BusMemory {
		t.Errorf("bus kind = %q, want memory", cfg.Bus.Kind)
	}
	if cfg.Limiter() != nil {
		t.Error("default config should not rate limit")
	}
	if cfg.Breaker(nil) != nil {
		t.Error("default config should not enable the breaker")
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".batchq", "config.yaml"), `
approval:
  mode: auto
  denied_paths: [/etc]
queue:
  item_timeout: 2m
logging:
  level: debug
`)
	writeFile(t, filepath.Join(project, ".batchq", "config.yaml"), `
approval:
  mode: ask
queue:
  rate_limit: 5
  burst: 2
`)

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}

	t.Setenv("BATCHQ_LOG_LEVEL", "warn")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Approval.Mode != "ask" {
		t.Errorf("expected project approval mode, got %s", cfg.Approval.Mode)
	}
	if len(cfg.Approval.DeniedPaths) != 1 || cfg.Approval.DeniedPaths[0] != "/etc" {
		t.Errorf("expected user denied paths, got %v", cfg.Approval.DeniedPaths)
	}
	if cfg.Queue.ItemTimeout != 2*time.Minute {
		t.Errorf("expected user item timeout, got %v", cfg.Queue.ItemTimeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected env log level, got %s", cfg.Logging.Level)
	}
	if cfg.LogLevel() != slog.LevelWarn {
		t.Errorf("LogLevel() = %v, want warn", cfg.LogLevel())
	}
	limiter := cfg.Limiter()
	if limiter == nil || limiter.Burst() != 2 {
		t.Errorf("expected limiter with burst 2, got %v", limiter)
	}
	if cfg.Bus.Subject != config.DefaultSubject {
		t.Errorf("untouched defaults should survive merging, got subject %q", cfg.Bus.Subject)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "batchq.yaml")
	writeFile(t, path, `
bus:
  kind: nats
  url: nats://bus:4222
  concurrency: 8
storage:
  path: /tmp/runs.db
queue:
  retry:
    max_retries: 5
    initial_backoff: 50ms
    max_backoff: 1s
    multiplier: 3
  breaker:
    max_failures: 4
`)

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Bus.Kind != config.BusNATS || cfg.Bus.URL != "nats://bus:4222" || cfg.Bus.Concurrency != 8 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if got := cfg.BusSettings(); got.URL != "nats://bus:4222" || got.Name != "batchq" {
		t.Errorf("BusSettings() = %+v", got)
	}
	if cfg.Storage.Path != "/tmp/runs.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}

	retry := cfg.RetryStrategy()
	if retry.MaxRetries != 5 || retry.BaseDelay != 50*time.Millisecond || retry.MaxDelay != time.Second || retry.Multiplier != 3 {
		t.Errorf("RetryStrategy() = %+v", retry)
	}
	if cfg.Breaker(nil) == nil {
		t.Error("breaker should be enabled with max_failures set")
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	if _, err := config.LoadFromPath(filepath.Join(dir, "missing.yaml")); !bqerrors.IsCode(err, bqerrors.ErrCodeConfigLoad) {
		t.Errorf("missing file error = %v, want CONFIG_LOAD", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "approval: [not, a, mapping\n")
	if _, err := config.LoadFromPath(bad); !bqerrors.IsCode(err, bqerrors.ErrCodeConfigParse) {
		t.Errorf("malformed file error = %v, want CONFIG_PARSE", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "approval:\n  mode: reckless\n")
	if _, err := config.LoadFromPath(invalid); !bqerrors.IsCode(err, bqerrors.ErrCodeConfigInvalid) {
		t.Errorf("invalid mode error = %v, want CONFIG_INVALID", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "batchq.yaml")
	writeFile(t, path, "approval:\n  mode: safe\n")

	t.Setenv("BATCHQ_APPROVAL_MODE", "yolo")
	t.Setenv("BATCHQ_DENIED_PATHS", "/etc, /var ,")
	t.Setenv("BATCHQ_ALLOW_NETWORK", "yes")
	t.Setenv("BATCHQ_ITEM_TIMEOUT", "45s")
	t.Setenv("BATCHQ_RATE_LIMIT", "2.5")
	t.Setenv("BATCHQ_BUS_KIND", "nats")
	t.Setenv("BATCHQ_NATS_URL", "nats://env:4222")
	t.Setenv("BATCHQ_TRACING", "on")

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Approval.Mode != "yolo" {
		t.Errorf("mode = %q, want yolo", cfg.Approval.Mode)
	}
	if len(cfg.Approval.DeniedPaths) != 2 || cfg.Approval.DeniedPaths[1] != "/var" {
		t.Errorf("denied paths = %v, want [/etc /var]", cfg.Approval.DeniedPaths)
	}
	if !cfg.Approval.AllowNetwork {
		t.Error("allow network should be set from env")
	}
	if cfg.Queue.ItemTimeout != 45*time.Second || cfg.Queue.RateLimit != 2.5 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Bus.Kind != "nats" || cfg.Bus.URL != "nats://env:4222" {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if !cfg.Tracing.Enabled {
		t.Error("tracing should be enabled from env")
	}
	if len(cfg.ValidationWarnings()) == 0 {
		t.Error("yolo mode should produce a warning")
	}
}

func TestEnvOverrideInvalidDuration(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "batchq.yaml")
	writeFile(t, path, "")
	t.Setenv("BATCHQ_ITEM_TIMEOUT", "soon")

	_, err := config.LoadFromPath(path)
	if !bqerrors.IsCode(err, bqerrors.ErrCodeConfigInvalid) {
		t.Errorf("error = %v, want CONFIG_INVALID", err)
	}
}

func TestConfigEnvFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeFile(t, filepath.Join(home, ".batchq", "config.env"), `
# comment
export BATCHQ_APPROVAL_MODE="auto"
BATCHQ_SERVER_ADDR='127.0.0.1:9999'
`)
	path := filepath.Join(t.TempDir(), "batchq.yaml")
	writeFile(t, path, "")

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Approval.Mode != "auto" || cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("config.env values not applied: mode=%q addr=%q", cfg.Approval.Mode, cfg.Server.Addr)
	}

	t.Setenv("BATCHQ_APPROVAL_MODE", "ask")
	cfg, err = config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Approval.Mode != "ask" {
		t.Errorf("process env should win over config.env, got %q", cfg.Approval.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "bad mode", mutate: func(c *config.Config) { c.Approval.Mode = "never" }},
		{name: "bad level", mutate: func(c *config.Config) { c.Logging.Level = "loud" }},
		{name: "negative timeout", mutate: func(c *config.Config) { c.Queue.ItemTimeout = -time.Second }},
		{name: "negative rate", mutate: func(c *config.Config) { c.Queue.RateLimit = -1 }},
		{name: "rate without burst", mutate: func(c *config.Config) { c.Queue.RateLimit = 1; c.Queue.Burst = 0 }},
		{name: "negative retries", mutate: func(c *config.Config) { c.Queue.Retry.MaxRetries = -1 }},
		{name: "unknown bus", mutate: func(c *config.Config) { c.Bus.Kind = "kafka" }},
		{name: "nats without url", mutate: func(c *config.Config) { c.Bus.Kind = "nats"; c.Bus.URL = "" }},
		{name: "empty subject", mutate: func(c *config.Config) { c.Bus.Subject = " " }},
		{name: "empty addr", mutate: func(c *config.Config) { c.Server.Addr = "" }},
		{name: "negative connections", mutate: func(c *config.Config) { c.Server.MaxConnections = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !bqerrors.IsCode(err, bqerrors.ErrCodeConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestApprovalPolicy(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	workspace := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Approval.Mode = "auto"
	cfg.Approval.Workspace = workspace
	cfg.Approval.TrustedPaths = []string{"~/shared", ""}
	cfg.Approval.DeniedPaths = []string{"/etc"}

	policy, err := cfg.ApprovalPolicy()
	if err != nil {
		t.Fatalf("ApprovalPolicy() error = %v", err)
	}
	if policy.Mode != approval.ModeAuto {
		t.Errorf("mode = %v, want auto", policy.Mode)
	}
	if policy.Context.WorkspacePath != workspace {
		t.Errorf("workspace = %q, want %q", policy.Context.WorkspacePath, workspace)
	}
	if len(policy.Context.TrustedPaths) != 1 || policy.Context.TrustedPaths[0] != filepath.Join(home, "shared") {
		t.Errorf("trusted paths = %v", policy.Context.TrustedPaths)
	}

	res := policy.Check(approval.Request{Operation: approval.OpWrite, Path: filepath.Join(workspace, "out.txt")})
	if res.Decision != approval.DecisionAllow {
		t.Errorf("workspace write in auto mode = %v, want allow", res.Decision)
	}
}

func TestResolveWorkspaceDefaultsToCwd(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got := config.ResolveWorkspace(config.DefaultConfig()); got != cwd {
		t.Errorf("ResolveWorkspace() = %q, want %q", got, cwd)
	}
}
