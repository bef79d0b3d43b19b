package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/batchq/pkg/bus"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/logging"
)

// Worker answers Processor requests with a local processor.
type Worker struct {
	Bus       bus.MessageBus
	Subject   string
	Queue     string
	Processor jobqueue.Processor

	// Decode converts the JSON item into what Processor expects. Nil decodes
	// into a generic value.
	Decode func(data []byte) (any, error)

	// Concurrency is the number of queue group members, each handling one
	// request at a time.
	Concurrency int

	Logger *logging.Logger
}

// Run subscribes the worker's members and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w.Bus == nil || w.Processor == nil {
		return fmt.Errorf("remote worker requires a bus and a processor")
	}
	subject := w.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	queue := w.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	members := w.Concurrency
	if members <= 0 {
		members = 1
	}
	logger := w.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < members; i++ {
		g.Go(func() error {
			sub, err := w.Bus.QueueSubscribe(gctx, subject, queue, w.handle(gctx, logger))
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			<-gctx.Done()
			return sub.Unsubscribe()
		})
	}
	logger.Info("remote worker listening", "subject", subject, "queue", queue, "members", members)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, logger *logging.Logger) bus.Handler {
	decode := w.Decode
	if decode == nil {
		decode = decodeAny
	}
	return func(msg *bus.Message) []byte {
		var req request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return encodeReply(nil, bqerrors.Wrap(err, bqerrors.ErrCodeRemoteProtocol, "malformed request"))
		}
		log := logger.WithRun(req.RunID).WithJob(req.Key)

		item, err := decode(req.Item)
		if err != nil {
			return encodeReply(nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "cannot decode item"))
		}
		var config any
		if len(req.Config) > 0 {
			config = req.Config
		}

		result, err := w.Processor.Process(ctx, config, jobqueue.Key(req.Key), item)
		if err != nil {
			log.Warn("remote job failed", "error", err)
			return encodeReply(nil, err)
		}
		log.Debug("remote job completed")
		return encodeReply(result, nil)
	}
}

func encodeReply(result any, err error) []byte {
	rep := reply{Error: toWire(err)}
	if err == nil && result != nil {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			rep.Error = toWire(bqerrors.Wrap(marshalErr, bqerrors.ErrCodeRemoteProtocol, "result is not serializable"))
		} else {
			rep.Result = data
		}
	}
	data, _ := json.Marshal(rep)
	return data
}
