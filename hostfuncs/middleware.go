package hostfuncs

import (
	"context"
	"log/slog"
	"time"

	"github.com/reglet-dev/portbridge/domain/errors"
)

// Middleware is a function that wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next ByteHandler) ByteHandler

// Chain applies middleware to h so that mw[0] is the outermost layer.
func Chain(h ByteHandler, mw ...Middleware) ByteHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// PanicRecoveryMiddleware returns a middleware that converts a handler panic into a
// *errors.PanicError so the module call that triggered it never traps.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &errors.PanicError{Port: portName(ctx), Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware returns a middleware that logs every delivery at debug level
// and failures at error level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) error {
			port := portName(ctx)
			start := time.Now()
			err := next(ctx, payload)
			if err != nil {
				logger.ErrorContext(ctx, "portbridge: handler failed",
					"port", port,
					"error", err,
					"error_type", errors.ToErrorDetail(err).Type,
				)
				return err
			}
			logger.DebugContext(ctx, "portbridge: message delivered",
				"port", port,
				"bytes", len(payload),
				"elapsed", time.Since(start),
			)
			return nil
		}
	}
}

// TimeoutMiddleware bounds the context handed to the handler. Handlers that ignore
// their context are not interrupted.
func TimeoutMiddleware(d time.Duration) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) error {
			hc, ok := FromContext(ctx)
			inner, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			if ok {
				// Keep the port name and dispatch marker visible to the handler.
				return next(NewHostContext(inner, hc.Port()), payload)
			}
			return next(inner, payload)
		}
	}
}

func portName(ctx context.Context) string {
	if hc, ok := FromContext(ctx); ok {
		return hc.Port()
	}
	return "unknown"
}

