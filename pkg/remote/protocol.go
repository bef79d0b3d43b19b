// Package remote runs queue items on workers reached through the message
// bus. The client side is a jobqueue.Processor; the worker side answers
// requests with any local processor.
package remote

import (
	"encoding/json"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

// DefaultSubject is where workers listen unless configured otherwise.
const DefaultSubject = "batchq.jobs.execute"

// DefaultQueue is the queue group workers join so each request is handled
// once.
const DefaultQueue = "batchq-workers"

type request struct {
	RunID  string          `json:"run_id,omitempty"`
	Key    string          `json:"key"`
	Item   json.RawMessage `json:"item"`
	Config json.RawMessage `json:"config,omitempty"`
}

type reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

func toWire(err error) *wireError {
	if err == nil {
		return nil
	}
	w := &wireError{
		Code:      string(bqerrors.GetCode(err)),
		Message:   err.Error(),
		Retryable: bqerrors.IsRetryable(err),
	}
	if structured, ok := bqerrors.As(err); ok {
		w.Message = structured.Message
		if structured.Underlying != nil {
			w.Message += ": " + structured.Underlying.Error()
		}
		if len(structured.Context) > 0 {
			w.Context = structured.Context
		}
	}
	return w
}

func (w *wireError) toError(key string) error {
	code := bqerrors.ErrorCode(w.Code)
	if code == "" {
		code = bqerrors.ErrCodeItemFailed
	}
	err := bqerrors.New(code, w.Message)
	for k, v := range w.Context {
		err.WithContext(k, v)
	}
	return err.
		WithContext("key", key).
		WithContext("remote", true).
		WithRetryable(w.Retryable)
}
