package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/odvcencio/batchq/pkg/bus"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
)

const defaultTimeout = 5 * time.Minute

// Processor sends each item to a worker over the bus and waits for the
// reply. It implements jobqueue.Processor.
type Processor struct {
	Bus     bus.MessageBus
	Subject string
	Timeout time.Duration

	// DecodeResult converts the worker's JSON result. Nil decodes into a
	// generic value.
	DecodeResult func(data []byte) (any, error)
}

// Process implements jobqueue.Processor.
func (p *Processor) Process(ctx context.Context, config any, key jobqueue.Key, item any) (any, error) {
	payload, err := p.encode(ctx, config, key, item)
	if err != nil {
		return nil, err
	}

	subject := p.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	data, err := p.Bus.Request(ctx, subject, payload, timeout)
	if err != nil {
		return nil, requestError(err, subject, key)
	}

	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeRemoteProtocol, "malformed worker reply").
			WithContext("key", string(key))
	}
	if rep.Error != nil {
		return nil, rep.Error.toError(string(key))
	}
	if len(rep.Result) == 0 {
		return nil, nil
	}

	decode := p.DecodeResult
	if decode == nil {
		decode = decodeAny
	}
	result, err := decode(rep.Result)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeRemoteProtocol, "cannot decode worker result").
			WithContext("key", string(key))
	}
	return result, nil
}

func (p *Processor) encode(ctx context.Context, config any, key jobqueue.Key, item any) ([]byte, error) {
	req := request{RunID: jobqueue.RunIDFromContext(ctx), Key: string(key)}
	var err error
	if req.Item, err = json.Marshal(item); err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "item is not serializable").
			WithContext("key", string(key))
	}
	if config != nil {
		if req.Config, err = json.Marshal(config); err != nil {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeInvalidInput, "config is not serializable")
		}
	}
	return json.Marshal(req)
}

func requestError(err error, subject string, key jobqueue.Key) error {
	switch {
	case errors.Is(err, bus.ErrNoResponders), errors.Is(err, bus.ErrTimeout):
		return bqerrors.Wrap(err, bqerrors.ErrCodeRemoteUnavailable, "no worker answered").
			WithContext("subject", subject).
			WithContext("key", string(key)).
			WithRetryable(true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return bqerrors.Wrap(err, bqerrors.ErrCodeRemoteUnavailable, "bus request failed").
			WithContext("subject", subject).
			WithContext("key", string(key))
	}
}

func decodeAny(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeAs decodes JSON into a fresh T, for Processor.DecodeResult and
// Worker.Decode.
func DecodeAs[T any]() func(data []byte) (any, error) {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
