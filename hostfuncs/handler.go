package hostfuncs

import (
	"context"
	"encoding/json"

	"github.com/reglet-dev/portbridge/domain/errors"
)

// ByteHandler receives the JSON text (UTF-8) of one outbound message.
// This is the common interface the dispatch loop invokes.
type ByteHandler func(ctx context.Context, payload []byte) error

// Handler receives a decoded message: nil, bool, float64, string, []any or map[string]any.
type Handler func(ctx context.Context, msg any) error

// NewValueHandler wraps a Handler into a ByteHandler.
// A payload that is not valid JSON fails with *errors.DecodeError and fn is not called;
// the dispatcher fills in the region the payload was read from.
func NewValueHandler(fn Handler) ByteHandler {
	return func(ctx context.Context, payload []byte) error {
		var msg any
		if err := json.Unmarshal(payload, &msg); err != nil {
			return &errors.DecodeError{Err: err}
		}
		return fn(ctx, msg)
	}
}

// NewJSONHandler wraps a typed function into a ByteHandler.
// It handles the JSON unmarshalling of the message into T.
//
// Usage:
//
//	onResult := hostfuncs.NewJSONHandler(func(ctx context.Context, r Result) error {
//	    return store.Save(ctx, r)
//	})
//	inst.OutPort("onResult").SubscribeBytes(onResult)
func NewJSONHandler[T any](fn func(context.Context, T) error) ByteHandler {
	return func(ctx context.Context, payload []byte) error {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			return &errors.DecodeError{Err: err}
		}
		return fn(ctx, msg)
	}
}
