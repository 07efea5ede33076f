package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var sourceNameKey = &contextKey{name: "source_name"}

// WithSourceName adds the name of the loaded module (usually its fetch location) to ctx.
// Log records emitted by the stubs carry it.
func WithSourceName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, sourceNameKey, name)
}

// SourceNameFromContext retrieves the source name from the context.
func SourceNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(sourceNameKey).(string)
	return name, ok
}

// GetSourceName extracts the source name from context, falling back to the module name.
func GetSourceName(ctx context.Context, mod api.Module) string {
	if name, ok := SourceNameFromContext(ctx); ok {
		return name
	}
	if mod == nil {
		return ""
	}
	return mod.Name()
}
