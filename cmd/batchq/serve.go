package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/batchq/pkg/batch"
	"github.com/odvcencio/batchq/pkg/bus"
	"github.com/odvcencio/batchq/pkg/config"
	"github.com/odvcencio/batchq/pkg/server"
	"github.com/odvcencio/batchq/pkg/telemetry"
	"github.com/odvcencio/batchq/pkg/tool"
)

type httpServer interface {
	Start(ctx context.Context) error
}

var serveNewServerFn = func(cfg server.Config) httpServer {
	return server.New(cfg)
}

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "address to bind the HTTP server (overrides server.addr)")
	worker := fs.Bool("worker", false, "also answer remote job requests from the bus")
	remoteExec := fs.Bool("remote", false, "execute submitted entries on bus workers")
	publicMetrics := fs.Bool("public-metrics", false, "serve /metrics to non-loopback clients")
	var allowedOrigins []string
	fs.Var(&stringListValue{target: &allowedOrigins}, "allow-origin", "additional allowed websocket Origin (repeatable, accepts comma-separated list)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *publicMetrics {
		cfg.Server.PublicMetrics = true
	}
	allowedOrigins = append(append([]string{}, cfg.Server.AllowedOrigins...), allowedOrigins...)

	a, err := newApp(cfg, "serve")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var mb bus.MessageBus
	if *worker || *remoteExec || cfg.Bus.EventPrefix != "" {
		mb, err = openBusFn(cfg, a.logger)
		if err != nil {
			return err
		}
		defer mb.Close()
	}

	registry := tool.NewRegistry(config.ResolveWorkspace(cfg))
	deps := batch.Deps{
		Registry: registry,
		Store:    a.store,
		Hub:      a.hub,
		Logger:   a.logger,
	}
	if *remoteExec {
		deps.Processor = batch.RemoteProcessor(cfg, mb)
	}
	q, err := batch.NewQueue(cfg, deps)
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	srvCfg := server.Config{
		Addr:           cfg.Server.Addr,
		Queue:          q,
		Hub:            a.hub,
		Logger:         a.logger,
		AllowedOrigins: allowedOrigins,
		PublicMetrics:  cfg.Server.PublicMetrics,
		MaxConnections: cfg.Server.MaxConnections,
	}
	if a.store != nil {
		srvCfg.Store = a.store
	}
	srv := serveNewServerFn(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if *worker {
		w := batch.Worker(cfg, mb, registry, a.logger)
		g.Go(func() error { return w.Run(gctx) })
	}
	if cfg.Bus.EventPrefix != "" {
		events, unsubscribe := a.hub.Subscribe()
		defer unsubscribe()
		g.Go(func() error {
			telemetry.Forward(gctx, events, mb, cfg.Bus.EventPrefix)
			return nil
		})
	}

	a.logger.Info("batchq serving",
		"addr", cfg.Server.Addr,
		"mode", cfg.Approval.Mode,
		"bus", cfg.Bus.Kind,
		"worker", *worker,
		"remote", *remoteExec,
	)
	return g.Wait()
}

// stringListValue collects a repeatable, comma-separated flag.
type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			*s.target = append(*s.target, trimmed)
		}
	}
	return nil
}
