package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultMaxMessageSize is the default outbound size limit. Zero means no limit.
const DefaultMaxMessageSize = 0

// DispatchFunc delivers one outbound message. caller is the module that made the call.
// The returned error has already been reported; stubs only log it at debug level.
type DispatchFunc func(ctx context.Context, caller api.Module, port string, offset, byteLength uint32) error

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	// Logger receives stub diagnostics (default: slog.Default()).
	Logger *slog.Logger

	// ModuleName is the host module name (default: "outPorts").
	ModuleName string

	// MaxMessageSize limits the byte length of an outbound message. Larger messages are
	// logged and dropped without touching memory. Zero, the default, disables the limit.
	MaxMessageSize uint32
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name (default: "outPorts").
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxMessageSize sets the maximum outbound message size in bytes.
func WithMaxMessageSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxMessageSize = size
	}
}

// WithLogger sets the logger used by the stubs.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = logger
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName:     entities.OutPortNamespace,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// BindOutPorts registers one host function per outbound port under the port namespace.
// It must run before the module is instantiated: the module's imports are resolved
// against these stubs and can never be replaced afterwards. Late binding happens behind
// dispatch, which is expected to look up the port's current handler on every call.
//
// Each stub has the signature (i32 offset, i32 byteLength) -> () and never traps: a
// dispatch error is swallowed so the module keeps running.
//
// BindOutPorts returns nil, nil when there are no outbound ports.
func BindOutPorts(ctx context.Context, runtime wazero.Runtime, ports []entities.Port, dispatch DispatchFunc, opts ...AdapterOption) (api.Module, error) {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(ports) == 0 {
		return nil, nil
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	for _, port := range ports {
		if port.Direction != entities.Outbound {
			return nil, fmt.Errorf("port %q is not outbound", port.Name)
		}
		portName := port.Name // capture for closure
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				handleOutPortCall(ctx, mod, stack, portName, cfg, dispatch)
			}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{}).
			WithName(portName).
			Export(portName)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s host module: %w", cfg.ModuleName, err)
	}
	return mod, nil
}

// handleOutPortCall handles an outbound port call from the module.
func handleOutPortCall(ctx context.Context, mod api.Module, stack []uint64, port string, cfg AdapterConfig, dispatch DispatchFunc) {
	offset := api.DecodeU32(stack[0])
	byteLength := api.DecodeU32(stack[1])

	if cfg.MaxMessageSize > 0 && byteLength > cfg.MaxMessageSize {
		cfg.Logger.ErrorContext(ctx, "portbridge: outbound message exceeds maximum size, dropped",
			"port", port,
			"offset", offset,
			"byte_length", byteLength,
			"max", cfg.MaxMessageSize,
			"module", GetSourceName(ctx, mod),
		)
		return
	}

	if err := dispatch(ctx, mod, port, offset, byteLength); err != nil {
		cfg.Logger.DebugContext(ctx, "portbridge: dispatch error swallowed",
			"port", port,
			"error", err,
		)
	}
}
