package hostfuncs

import (
	"context"
)

// HostContext wraps a standard context.Context for the duration of one outbound dispatch.
// It names the port being delivered and lets middleware store request-scoped values
// without polluting the standard context.
type HostContext interface {
	context.Context

	// Port returns the name of the outbound port being delivered.
	Port() string

	// SetValue stores a request-scoped value. Unlike context.WithValue,
	// this mutates the existing HostContext.
	SetValue(key, value any)

	// GetValue retrieves a request-scoped value set by SetValue.
	GetValue(key any) (value any, ok bool)
}

type hostContextKey struct{}

// hostContext is the concrete implementation of HostContext.
type hostContext struct {
	context.Context
	values map[any]any
	port   string
}

// NewHostContext creates a new HostContext wrapping the given context.
func NewHostContext(ctx context.Context, port string) HostContext {
	return &hostContext{
		Context: ctx,
		port:    port,
		values:  make(map[any]any),
	}
}

// Port returns the name of the outbound port being delivered.
func (c *hostContext) Port() string {
	return c.port
}

// SetValue stores a request-scoped value.
func (c *hostContext) SetValue(key, value any) {
	c.values[key] = value
}

// GetValue retrieves a request-scoped value.
func (c *hostContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Value makes the HostContext discoverable through derived contexts.
func (c *hostContext) Value(key any) any {
	if _, ok := key.(hostContextKey); ok {
		return c
	}
	return c.Context.Value(key)
}

// FromContext returns the HostContext of the dispatch ctx belongs to, if any.
// It also finds a HostContext that was wrapped by context.WithValue, WithCancel and so on.
func FromContext(ctx context.Context) (HostContext, bool) {
	if ctx == nil {
		return nil, false
	}
	if hc, ok := ctx.(HostContext); ok {
		return hc, true
	}
	hc, ok := ctx.Value(hostContextKey{}).(HostContext)
	return hc, ok
}

// InDispatch reports whether ctx was derived from an outbound dispatch.
func InDispatch(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}
