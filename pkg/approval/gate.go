package approval

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/telemetry"
)

//go:generate mockgen -package=approval -destination=mock_prompter_test.go github.com/odvcencio/batchq/pkg/approval Prompter

// Prompter asks a human to confirm an operation the policy could not decide.
type Prompter interface {
	Confirm(ctx context.Context, result Result) (bool, error)
}

// AuditEntry records one gate decision.
type AuditEntry struct {
	RunID     string    `json:"run_id"`
	JobKey    string    `json:"job_key"`
	Tool      string    `json:"tool"`
	Operation string    `json:"operation"`
	Target    string    `json:"target"`
	Mode      string    `json:"mode"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	Approved  bool      `json:"approved"`
	DecidedAt time.Time `json:"decided_at"`
}

// AuditSink stores gate decisions.
type AuditSink interface {
	RecordApproval(ctx context.Context, entry AuditEntry) error
}

// Classifier turns a queue item into a permission request.
type Classifier func(key jobqueue.Key, item any) (Request, error)

// GateOption configures Gate.
type GateOption func(*gate)

// WithPrompter handles DecisionPrompt. Without one, prompts are denied.
func WithPrompter(p Prompter) GateOption {
	return func(g *gate) { g.prompter = p }
}

// WithAuditSink records every decision.
func WithAuditSink(s AuditSink) GateOption {
	return func(g *gate) { g.audit = s }
}

// WithEvents publishes approval events.
func WithEvents(p telemetry.Publisher) GateOption {
	return func(g *gate) { g.events = p }
}

// WithGateLogger sets the logger.
func WithGateLogger(l *logging.Logger) GateOption {
	return func(g *gate) {
		if l != nil {
			g.logger = l
		}
	}
}

type gate struct {
	policy   Policy
	classify Classifier
	prompter Prompter
	audit    AuditSink
	events   telemetry.Publisher
	logger   *logging.Logger
}

// Gate checks every item against policy before it reaches the processor.
// A refused item fails with PERMISSION_DENIED, which the queue surfaces as
// the run's error when it is the first one.
func Gate(policy Policy, classify Classifier, opts ...GateOption) jobqueue.Middleware {
	g := &gate{policy: policy, classify: classify, logger: logging.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return func(next jobqueue.Processor) jobqueue.Processor {
		return jobqueue.ProcessorFunc(func(ctx context.Context, config any, key jobqueue.Key, item any) (any, error) {
			if err := g.authorize(ctx, key, item); err != nil {
				return nil, err
			}
			return next.Process(ctx, config, key, item)
		})
	}
}

func (g *gate) authorize(ctx context.Context, key jobqueue.Key, item any) error {
	if g.classify == nil {
		return bqerrors.New(bqerrors.ErrCodeInternal, "approval gate has no classifier")
	}
	req, err := g.classify(key, item)
	if err != nil {
		return bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "cannot classify item").
			WithContext("key", string(key))
	}

	result := g.policy.Check(req)
	approved := result.Decision == DecisionAllow
	reason := result.Reason

	if result.Decision == DecisionPrompt {
		if g.prompter == nil {
			reason = result.Reason + " (no prompter configured)"
		} else {
			ok, err := g.prompter.Confirm(ctx, result)
			if err != nil {
				return bqerrors.Wrap(err, bqerrors.ErrCodePermissionPrompt, "approval prompt failed").
					WithContext("key", string(key)).
					WithContext("operation", req.Operation.String())
			}
			approved = ok
			if !ok {
				reason = result.Reason + " (declined)"
			}
		}
	}

	g.record(ctx, key, result, approved, reason)

	if !approved {
		return bqerrors.New(bqerrors.ErrCodePermissionDenied,
			fmt.Sprintf("%s denied: %s", req.Operation, reason)).
			WithContext("key", string(key)).
			WithContext("target", req.Target()).
			WithUserMessage(fmt.Sprintf("Permission denied for %s", describe(req)))
	}
	return nil
}

func (g *gate) record(ctx context.Context, key jobqueue.Key, result Result, approved bool, reason string) {
	req := result.Request
	runID := jobqueue.RunIDFromContext(ctx)
	logger := g.logger.WithRun(runID).WithJob(string(key))
	if approved {
		logger.Debug("operation approved", "operation", req.Operation.String(), "decision", result.Decision.String())
	} else {
		logger.Warn("operation denied", "operation", req.Operation.String(), "target", req.Target(), "reason", reason)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.AttrTool.String(req.Tool),
		telemetry.AttrDecision.String(result.Decision.String()),
	)

	if g.events != nil {
		eventType := telemetry.EventApprovalDecided
		if !approved {
			eventType = telemetry.EventApprovalDenied
		}
		g.events.Publish(telemetry.Event{
			Type:   eventType,
			RunID:  runID,
			JobKey: string(key),
			Data: map[string]any{
				"operation": req.Operation.String(),
				"decision":  result.Decision.String(),
				"approved":  approved,
				"reason":    reason,
			},
		})
	}

	if g.audit != nil {
		entry := AuditEntry{
			RunID:     runID,
			JobKey:    string(key),
			Tool:      req.Tool,
			Operation: req.Operation.String(),
			Target:    req.Target(),
			Mode:      g.policy.Mode.String(),
			Decision:  result.Decision.String(),
			Reason:    reason,
			Approved:  approved,
			DecidedAt: time.Now().UTC(),
		}
		if err := g.audit.RecordApproval(context.WithoutCancel(ctx), entry); err != nil {
			logger.Warn("failed to record approval", "error", err)
		}
	}
}

func describe(req Request) string {
	if req.Description != "" {
		return req.Description
	}
	if target := req.Target(); target != "" {
		return fmt.Sprintf("%s %s", req.Operation, target)
	}
	return req.Operation.String()
}
