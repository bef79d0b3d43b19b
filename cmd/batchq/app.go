package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/term"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/bus"
	"github.com/odvcencio/batchq/pkg/config"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/storage"
	"github.com/odvcencio/batchq/pkg/telemetry"
)

var stdinIsTerminalFn = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// commonFlags are accepted by every command that builds a queue.
type commonFlags struct {
	configPath string
	mode       string
	dbPath     string
	noStore    bool
	logLevel   string
	trace      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (default: ~/.batchq/config.yaml then ./.batchq/config.yaml)")
	fs.StringVar(&c.mode, "mode", "", "approval mode: ask, safe, auto, yolo")
	fs.StringVar(&c.dbPath, "db", "", "sqlite run journal path (overrides storage.path)")
	fs.BoolVar(&c.noStore, "no-store", false, "do not record runs in sqlite")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&c.trace, "trace", false, "export spans to stderr")
}

var loadConfigFn = func(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// loadConfig applies flag overrides on top of the layered config and
// validates the result.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := loadConfigFn(c.configPath)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	if c.mode != "" {
		cfg.Approval.Mode = c.mode
	}
	if c.dbPath != "" {
		cfg.Storage.Path = c.dbPath
	}
	if c.noStore {
		cfg.Storage.Path = ""
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.trace {
		cfg.Tracing.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

// app holds the process-wide collaborators a command wires into its queue.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	hub     *telemetry.Hub
	store   *storage.Store
	journal *logging.Journal
	tracing *telemetry.TracerProvider
	stop    []func()
}

func newApp(cfg *config.Config, component string) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(component, cfg.LogLevel()),
		hub:    telemetry.NewHub(),
	}
	a.stop = append(a.stop, a.hub.Close)

	for _, w := range cfg.ValidationWarnings() {
		a.logger.Warn("config warning", "warning", w)
	}

	if cfg.Storage.Path != "" {
		store, err := storage.New(cfg.Storage.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open run journal: %w", err)
		}
		a.store = store
		a.stop = append(a.stop, func() { _ = store.Close() })
	}

	if cfg.Logging.JournalDir != "" {
		journal, err := logging.NewJournal(cfg.Logging.JournalDir, ulid.Make().String())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = journal
		events, unsubscribe := a.hub.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			journal.Follow(events)
		}()
		a.stop = append(a.stop, func() {
			unsubscribe()
			<-done
			_ = journal.Close()
		})
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider("batchq", version, os.Stderr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.tracing = tp
		a.stop = append(a.stop, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.stop) - 1; i >= 0; i-- {
		a.stop[i]()
	}
	a.stop = nil
}

// prompter asks on the terminal when there is one. Without a terminal the
// gate denies anything that needs confirmation.
func (a *app) prompter() approval.Prompter {
	if !stdinIsTerminalFn() {
		return nil
	}
	return approval.NewTerminalPrompter(os.Stdin, os.Stderr)
}

var openBusFn = openBus

func openBus(cfg *config.Config, logger *logging.Logger) (bus.MessageBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Bus.Kind)) {
	case config.BusNATS:
		opts := cfg.BusSettings()
		opts.Logger = logger.Logger
		b, err := bus.NewNATSBus(opts)
		if err != nil {
			return nil, fmt.Errorf("connect to nats %s: %w", cfg.Bus.URL, err)
		}
		return b, nil
	default:
		return bus.NewMemoryBus(), nil
	}
}
