// Package batch assembles a gated, instrumented job queue from configuration.
package batch

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/batchq/pkg/approval"
	"github.com/odvcencio/batchq/pkg/bus"
	"github.com/odvcencio/batchq/pkg/config"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/reliability"
	"github.com/odvcencio/batchq/pkg/remote"
	"github.com/odvcencio/batchq/pkg/storage"
	"github.com/odvcencio/batchq/pkg/telemetry"
	"github.com/odvcencio/batchq/pkg/tool"
)

// Deps supplies the collaborators of a queue. Only Registry is required.
type Deps struct {
	Registry *tool.Registry

	// Processor replaces local tool execution, e.g. with a remote.Processor.
	// Entries are still classified and gated against Registry first.
	Processor jobqueue.Processor

	Prompter approval.Prompter
	Store    *storage.Store
	Hub      *telemetry.Hub
	Logger   *logging.Logger
	Tracer   trace.Tracer

	DisableMetrics bool
	AbortHook      jobqueue.AbortHook
}

// NewQueue builds the processing chain
//
//	gate -> rate limit -> breaker -> retry -> timeout -> processor
//
// and wraps it in a queue that starts one goroutine per item.
func NewQueue(cfg *config.Config, deps Deps) (*jobqueue.Queue, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("tool registry required")
	}
	policy, err := cfg.ApprovalPolicy()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	gateOpts := []approval.GateOption{approval.WithGateLogger(logger)}
	if deps.Prompter != nil {
		gateOpts = append(gateOpts, approval.WithPrompter(deps.Prompter))
	}
	if deps.Store != nil {
		gateOpts = append(gateOpts, approval.WithAuditSink(deps.Store))
	}
	if deps.Hub != nil {
		gateOpts = append(gateOpts, approval.WithEvents(deps.Hub))
	}

	processor := deps.Processor
	if processor == nil {
		processor = deps.Registry.Processor()
	}
	var retry jobqueue.Middleware
	if strategy := cfg.RetryStrategy(); strategy.MaxRetries > 0 {
		retry = jobqueue.WithRetry(strategy)
	}
	chain := jobqueue.Chain(processor,
		approval.Gate(policy, deps.Registry.Classify, gateOpts...),
		jobqueue.WithRateLimit(cfg.Limiter()),
		jobqueue.WithBreaker(cfg.Breaker(func(from, to reliability.CircuitState) {
			logger.Warn("circuit breaker changed state", "from", from.String(), "to", to.String())
		})),
		retry,
		jobqueue.WithTimeout(cfg.Queue.ItemTimeout),
	)

	opts := []jobqueue.Option{
		jobqueue.WithLogger(logger),
		jobqueue.WithTracer(deps.Tracer),
		jobqueue.WithMetrics(!deps.DisableMetrics),
	}
	if deps.Store != nil {
		opts = append(opts, jobqueue.WithRecorder(deps.Store))
	}
	if deps.Hub != nil {
		opts = append(opts, jobqueue.WithHub(deps.Hub))
	}
	if deps.AbortHook != nil {
		opts = append(opts, jobqueue.WithAbortHook(deps.AbortHook))
	}

	logger.Debug("queue assembled",
		"mode", policy.Mode.String(),
		"item_timeout", cfg.Queue.ItemTimeout,
		"rate_limit", cfg.Queue.RateLimit,
		"max_retries", cfg.Queue.Retry.MaxRetries,
		"remote", deps.Processor != nil,
	)
	return jobqueue.New(jobqueue.Async(chain), opts...), nil
}

// RemoteProcessor sends entries to workers on b using the bus section of cfg.
// Results decode into *tool.Result, the shape local execution produces.
func RemoteProcessor(cfg *config.Config, b bus.MessageBus) *remote.Processor {
	return &remote.Processor{
		Bus:          b,
		Subject:      cfg.Bus.Subject,
		Timeout:      cfg.Bus.Timeout,
		DecodeResult: remote.DecodeAs[*tool.Result](),
	}
}

// Worker answers RemoteProcessor requests on b by running entries through
// registry. The worker does not gate entries; the submitting queue already did.
func Worker(cfg *config.Config, b bus.MessageBus, registry *tool.Registry, logger *logging.Logger) *remote.Worker {
	return &remote.Worker{
		Bus:         b,
		Subject:     cfg.Bus.Subject,
		Queue:       cfg.Bus.Queue,
		Processor:   jobqueue.Chain(registry.Processor(), jobqueue.WithTimeout(cfg.Queue.ItemTimeout)),
		Decode:      remote.DecodeAs[tool.Entry](),
		Concurrency: cfg.Bus.Concurrency,
		Logger:      logger,
	}
}
