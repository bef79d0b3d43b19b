package jobqueue

import (
	"context"
	"fmt"

	bqerrors "github.com/odvcencio/batchq/pkg/errors"
)

// Processor executes one interaction entry.
type Processor interface {
	Process(ctx context.Context, config any, key Key, item any) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, config any, key Key, item any) (any, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, config any, key Key, item any) (any, error) {
	return f(ctx, config, key, item)
}

// DoneFunc reports the outcome of one item. Processors must call it exactly
// once; extra calls are ignored by the queue.
type DoneFunc func(err error, result any)

// CallbackProcessor starts work for one item and reports completion through
// done, either before Start returns or later from any goroutine.
type CallbackProcessor interface {
	Start(ctx context.Context, config any, key Key, item any, done DoneFunc)
}

// CallbackFunc adapts a function to CallbackProcessor.
type CallbackFunc func(ctx context.Context, config any, key Key, item any, done DoneFunc)

// Start calls f.
func (f CallbackFunc) Start(ctx context.Context, config any, key Key, item any, done DoneFunc) {
	f(ctx, config, key, item, done)
}

// Async runs p on its own goroutine per item.
func Async(p Processor) CallbackProcessor {
	return CallbackFunc(func(ctx context.Context, config any, key Key, item any, done DoneFunc) {
		go func() {
			result, err := invoke(ctx, p, config, key, item)
			done(err, result)
		}()
	})
}

// Sync runs p inline, completing each item before Start returns.
func Sync(p Processor) CallbackProcessor {
	return CallbackFunc(func(ctx context.Context, config any, key Key, item any, done DoneFunc) {
		result, err := invoke(ctx, p, config, key, item)
		done(err, result)
	})
}

func invoke(ctx context.Context, p Processor, config any, key Key, item any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = bqerrors.New(bqerrors.ErrCodeItemPanic, fmt.Sprintf("processor panicked: %v", r)).
				WithContext("key", string(key))
		}
	}()
	return p.Process(ctx, config, key, item)
}
