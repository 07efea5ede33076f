package host

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/reglet-dev/portbridge/domain/ports"
	"github.com/reglet-dev/portbridge/hostfuncs"
	"github.com/tetratelabs/wazero"
)

// ImportProvider instantiates host modules that satisfy imports outside the port
// convention. It runs once per instance, before the module is instantiated.
type ImportProvider func(ctx context.Context, runtime wazero.Runtime) error

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithLogger sets the logger for the executor and every instance it loads.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSource replaces the default module source (oci, http(s), file).
func WithSource(src ports.ModuleSource) Option {
	return func(e *Executor) {
		e.source = src
	}
}

// WithHTTPClient sets the client the default source uses for http(s) locations.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.httpClient = client
	}
}

// WithInsecureRegistry allows the default source to pull from plain-http OCI registries.
func WithInsecureRegistry(insecure bool) Option {
	return func(e *Executor) {
		e.insecure = insecure
	}
}

// WithCompilationCacheDir persists compiled modules in dir across processes.
func WithCompilationCacheDir(dir string) Option {
	return func(e *Executor) {
		e.cacheDir = dir
	}
}

// WithRuntimeConfig sets the wazero runtime configuration used for every instance.
// The executor's compilation cache is always applied on top.
func WithRuntimeConfig(cfg wazero.RuntimeConfig) Option {
	return func(e *Executor) {
		e.runtimeConfig = cfg
	}
}

// WithModuleConfig sets the wazero module configuration (stdout, env, fs...) used when
// instantiating modules.
func WithModuleConfig(cfg wazero.ModuleConfig) Option {
	return func(e *Executor) {
		e.moduleConfig = cfg
	}
}

// WithImports adds providers for non-port imports.
func WithImports(providers ...ImportProvider) Option {
	return func(e *Executor) {
		e.imports = append(e.imports, providers...)
	}
}

// WithMaxMessageSize bounds the byte length of outbound messages. Zero, the default,
// means no limit.
func WithMaxMessageSize(size uint32) Option {
	return func(e *Executor) {
		e.maxMessageSize = size
	}
}

// WithMiddleware wraps every outbound handler. Panic recovery is always applied first.
func WithMiddleware(mw ...hostfuncs.Middleware) Option {
	return func(e *Executor) {
		e.middleware = append(e.middleware, mw...)
	}
}

// WithErrorReporter receives outbound delivery failures instead of the error log.
func WithErrorReporter(r ports.ErrorReporter) Option {
	return func(e *Executor) {
		e.reporter = r
	}
}
