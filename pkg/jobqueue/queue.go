package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/logging"
	"github.com/odvcencio/batchq/pkg/telemetry"
)

// FinalFunc receives the outcome of a run. It is called exactly once, with
// the first item error or with nil once every item has completed.
type FinalFunc func(err error, results Results)

// AbortHook is invoked for every item error. It runs on the goroutine that
// reported the error and must not panic. Sibling jobs keep running.
type AbortHook func(state *State, err error)

// RunRecord is the persisted view of a run.
type RunRecord struct {
	RunID    string
	Size     int
	Status   string
	Error    string
	Started  time.Time
	Finished time.Time
}

// JobRecord is the persisted view of one completed item.
type JobRecord struct {
	RunID    string
	Key      Key
	JobID    string
	Result   any
	Error    string
	Started  time.Time
	Duration time.Duration
}

// Recorder persists run and job outcomes. Failures are logged and otherwise
// ignored.
type Recorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
	RecordJob(ctx context.Context, job JobRecord) error
}

// Run statuses stored through Recorder.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Queue fans a Source out to a CallbackProcessor and aggregates the results.
// A Queue is stateless between runs and safe for concurrent use.
type Queue struct {
	processor CallbackProcessor
	logger    *logging.Logger
	abort     AbortHook
	hub       telemetry.Publisher
	tracer    trace.Tracer
	recorder  Recorder
	metrics   bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithAbortHook sets the hook invoked on item errors.
func WithAbortHook(h AbortHook) Option {
	return func(q *Queue) { q.abort = h }
}

// WithHub publishes run and job events to p.
func WithHub(p telemetry.Publisher) Option {
	return func(q *Queue) { q.hub = p }
}

// WithTracer overrides the global batchq tracer.
func WithTracer(t trace.Tracer) Option {
	return func(q *Queue) {
		if t != nil {
			q.tracer = t
		}
	}
}

// WithRecorder persists run and job outcomes.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

// WithMetrics toggles Prometheus instrumentation (on by default).
func WithMetrics(enabled bool) Option {
	return func(q *Queue) { q.metrics = enabled }
}

// New builds a queue around processor.
func New(processor CallbackProcessor, opts ...Option) *Queue {
	q := &Queue{
		processor: processor,
		logger:    logging.Nop(),
		tracer:    telemetry.Tracer(),
		metrics:   true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// run carries the per-run ambient state shared by the driver and the
// completion handlers.
type run struct {
	q       *Queue
	ctx     context.Context
	state   *State
	final   FinalFunc
	logger  *logging.Logger
	span    trace.Span
	started time.Time
}

// Run dispatches every entry of src and returns immediately. Items are
// dispatched in order without a concurrency limit; final fires with the first
// item error, or with all results once the dispatch loop has finished and no
// job is in flight.
func (q *Queue) Run(ctx context.Context, src Source, config any, final FinalFunc) Continuation {
	state := NewState(src)
	r := q.begin(ctx, state, final)

	state.setDispatching(true)
	for state.hasNext() {
		q.dispatch(r.ctx, src, config, state, r.onItemComplete)
		state.advance()
	}
	state.setDispatching(false)

	// Synchronous processors and empty sources finish here.
	if state.drained() && state.finish(nil) {
		r.finalize(nil, state.Results())
	}
	return bind(state, r.finalize)
}

// RunWait runs src and blocks until the run finishes or ctx is done.
func (q *Queue) RunWait(ctx context.Context, src Source, config any) (Results, error) {
	type outcome struct {
		err     error
		results Results
	}
	done := make(chan outcome, 1)
	q.Run(ctx, src, config, func(err error, results Results) {
		done <- outcome{err: err, results: results}
	})
	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) begin(ctx context.Context, state *State, final FinalFunc) *run {
	ctx, span := q.tracer.Start(withRun(ctx, state.RunID()), "jobqueue.run", trace.WithAttributes(
		telemetry.AttrRunID.String(state.RunID()),
		telemetry.AttrRunSize.Int(state.Len()),
	))
	r := &run{
		q:       q,
		ctx:     ctx,
		state:   state,
		final:   final,
		logger:  q.logger.WithRun(state.RunID()),
		span:    span,
		started: time.Now(),
	}

	r.logger.Debug("run started", "size", state.Len())
	q.publish(telemetry.Event{
		Type:  telemetry.EventRunStarted,
		RunID: state.RunID(),
		Data:  map[string]any{"size": state.Len()},
	})
	if q.recorder != nil {
		rec := RunRecord{RunID: state.RunID(), Size: state.Len(), Status: RunStatusRunning, Started: r.started}
		if err := q.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
			r.logger.Warn("failed to record run", "error", err)
		}
	}
	return r
}

// onItemComplete is the queue-level reaction to one item finishing. Errors
// finish the run at once; successes finish it only when the dispatch loop is
// over and nothing is in flight.
func (r *run) onItemComplete(err error, results Results) {
	if err != nil {
		if r.state.finish(err) {
			r.finalize(err, results)
		}
		return
	}
	if r.state.drained() && r.state.finish(nil) {
		r.finalize(nil, r.state.Results())
	}
}

// finalize must only be called by whoever won State.finish.
func (r *run) finalize(err error, results Results) {
	q := r.q
	status := RunStatusCompleted
	eventType := telemetry.EventRunCompleted
	if err != nil {
		status = RunStatusFailed
		eventType = telemetry.EventRunFailed
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("run failed", "error", err, "completed", len(results))
	} else {
		r.span.SetStatus(codes.Ok, "")
		r.logger.Info("run completed", "results", len(results), "duration", time.Since(r.started))
	}
	r.span.End()

	if q.metrics {
		recordRun(err)
	}
	data := map[string]any{"results": len(results)}
	if err != nil {
		data["error"] = err.Error()
	}
	q.publish(telemetry.Event{Type: eventType, RunID: r.state.RunID(), Data: data})

	if q.recorder != nil {
		rec := RunRecord{
			RunID:    r.state.RunID(),
			Size:     r.state.Len(),
			Status:   status,
			Started:  r.started,
			Finished: time.Now(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if recErr := q.recorder.RecordRun(context.WithoutCancel(r.ctx), rec); recErr != nil {
			r.logger.Warn("failed to record run", "error", recErr)
		}
	}

	if r.final != nil {
		r.final(err, results)
	}
}

// dispatch starts the item under the state's cursor. The handle is registered
// before the processor starts so inline completion finds it.
func (q *Queue) dispatch(ctx context.Context, src Source, config any, state *State, onItemComplete func(err error, results Results)) {
	key := state.currentKey()
	logger := q.logger.WithRun(state.RunID()).WithJob(string(key))
	if !state.claim(key) {
		err := bqerrors.New(bqerrors.ErrCodeInvalidInput, "duplicate job key").
			WithContext("key", string(key))
		logger.Warn("duplicate job key rejected", "index", state.Index())
		q.publish(telemetry.Event{
			Type:   telemetry.EventJobFailed,
			RunID:  state.RunID(),
			JobKey: string(key),
			Data:   map[string]any{"error": err.Error()},
		})
		if q.abort != nil {
			q.abort(state, err)
		}
		onItemComplete(err, state.Results())
		return
	}
	item, ok := src.Item(key)
	if !ok {
		logger.Debug("no item for key")
	}

	jobCtx, cancel := context.WithCancel(withJob(ctx, key))
	handle := &JobHandle{
		ID:      uuid.NewString(),
		Key:     key,
		Started: time.Now(),
		cancel:  cancel,
	}
	jobCtx, span := q.tracer.Start(jobCtx, "jobqueue.job", trace.WithAttributes(
		telemetry.AttrRunID.String(state.RunID()),
		telemetry.AttrJobKey.String(string(key)),
		telemetry.AttrJobID.String(handle.ID),
	))

	state.register(handle)
	if q.metrics {
		recordDispatch()
	}
	q.publish(telemetry.Event{
		Type:   telemetry.EventJobStarted,
		RunID:  state.RunID(),
		JobKey: string(key),
		Data:   map[string]any{"jobId": handle.ID},
	})
	logger.Debug("job dispatched", "job_id", handle.ID)

	q.processor.Start(jobCtx, config, key, item, func(err error, result any) {
		h, results, ok := state.complete(key, err, result)
		if !ok {
			logger.Debug("duplicate completion ignored")
			return
		}
		h.cancel()
		elapsed := time.Since(h.Started)

		if q.metrics {
			recordCompletion(err, elapsed)
		}
		span.SetAttributes(attribute.Int64("batchq.job.duration_ms", elapsed.Milliseconds()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("job failed", "error", err, "duration", elapsed)
			q.publish(telemetry.Event{
				Type:   telemetry.EventJobFailed,
				RunID:  state.RunID(),
				JobKey: string(key),
				Data:   map[string]any{"error": err.Error(), "durationMs": elapsed.Milliseconds()},
			})
			if q.abort != nil {
				q.abort(state, err)
			}
		} else {
			span.SetStatus(codes.Ok, "")
			logger.Debug("job completed", "duration", elapsed)
			q.publish(telemetry.Event{
				Type:   telemetry.EventJobCompleted,
				RunID:  state.RunID(),
				JobKey: string(key),
				Data:   map[string]any{"durationMs": elapsed.Milliseconds()},
			})
		}
		span.End()

		if q.recorder != nil {
			rec := JobRecord{
				RunID:    state.RunID(),
				Key:      key,
				JobID:    h.ID,
				Started:  h.Started,
				Duration: elapsed,
			}
			if err != nil {
				rec.Error = err.Error()
			} else {
				rec.Result = result
			}
			if recErr := q.recorder.RecordJob(context.WithoutCancel(ctx), rec); recErr != nil {
				logger.Warn("failed to record job", "error", recErr)
			}
		}

		onItemComplete(err, results)
	})
}

func (q *Queue) publish(event telemetry.Event) {
	if q.hub != nil {
		q.hub.Publish(event)
	}
}
