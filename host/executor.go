package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/davidmdm/x/xerr"
	"github.com/reglet-dev/portbridge/config"
	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/reglet-dev/portbridge/domain/ports"
	"github.com/reglet-dev/portbridge/host/registry"
	"github.com/reglet-dev/portbridge/hostfuncs"
	"github.com/reglet-dev/portbridge/infrastructure/fetch"
	wz "github.com/reglet-dev/portbridge/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Executor loads modules and owns the resources they share: the module source and the
// compilation cache. Every loaded Instance gets its own wazero runtime.
type Executor struct {
	cache          wazero.CompilationCache
	runtimeConfig  wazero.RuntimeConfig
	moduleConfig   wazero.ModuleConfig
	source         ports.ModuleSource
	reporter       ports.ErrorReporter
	logger         *slog.Logger
	httpClient     *http.Client
	cacheDir       string
	imports        []ImportProvider
	middleware     []hostfuncs.Middleware
	maxMessageSize uint32
	insecure       bool

	mu        sync.Mutex
	instances map[*Instance]struct{}
	closed    bool
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{
		maxMessageSize: wz.DefaultMaxMessageSize,
		instances:      make(map[*Instance]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.source == nil {
		e.source = fetch.DefaultResolver(e.httpClient, e.insecure)
	}
	if e.runtimeConfig == nil {
		e.runtimeConfig = wazero.NewRuntimeConfig()
	}
	if e.moduleConfig == nil {
		e.moduleConfig = wazero.NewModuleConfig()
	}

	if e.cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(e.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create compilation cache: %w", err)
		}
		e.cache = cache
	} else {
		e.cache = wazero.NewCompilationCache()
	}

	return e, nil
}

// Close closes every live instance and releases the compilation cache.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	live := make([]*Instance, 0, len(e.instances))
	for inst := range e.instances {
		live = append(live, inst)
	}
	e.mu.Unlock()

	var errs []error
	for _, inst := range live {
		errs = append(errs, inst.Close(ctx))
	}
	errs = append(errs, e.cache.Close(ctx))
	return xerr.MultiErrFrom("closing executor", errs...)
}

// Load fetches the module at source and turns it into a running Instance.
//
// Loading is staged: fetch, compile, instantiate. A failure returns *errors.LoadError
// naming the stage, and every resource created so far is released. ctx is checked
// between stages.
func (e *Executor) Load(ctx context.Context, source string, cfg config.MemoryConfig) (*Instance, error) {
	if err := e.checkOpen(); err != nil {
		return nil, &errors.LoadError{Stage: errors.StageFetch, Source: source, Err: err}
	}

	e.logger.DebugContext(ctx, "portbridge: fetching module", "source", source, "stage", errors.StageFetch)
	bin, err := e.source.Fetch(ctx, source)
	if err != nil {
		return nil, &errors.LoadError{Stage: errors.StageFetch, Source: source, Err: err}
	}
	return e.load(ctx, source, bin, cfg)
}

// LoadBytes is Load for a binary already in memory. name identifies it in logs and errors.
func (e *Executor) LoadBytes(ctx context.Context, name string, bin []byte, cfg config.MemoryConfig) (*Instance, error) {
	if err := e.checkOpen(); err != nil {
		return nil, &errors.LoadError{Stage: errors.StageCompile, Source: name, Err: err}
	}
	return e.load(ctx, name, bin, cfg)
}

func (e *Executor) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrClosed
	}
	return nil
}

func (e *Executor) load(ctx context.Context, name string, bin []byte, cfg config.MemoryConfig) (inst *Instance, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &errors.LoadError{Stage: errors.StageCompile, Source: name, Err: err}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig.WithCompilationCache(e.cache))

	stage := errors.StageCompile
	defer func() {
		if err == nil {
			return
		}
		if closeErr := rt.Close(ctx); closeErr != nil {
			err = xerr.MultiErrFrom("", err, closeErr)
		}
		err = &errors.LoadError{Stage: stage, Source: name, Err: err}
		e.logger.DebugContext(ctx, "portbridge: load failed", "source", name, "stage", stage, "error", err)
	}()

	e.logger.DebugContext(ctx, "portbridge: compiling module", "source", name, "stage", stage)
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}

	stage = errors.StageInstantiate
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "portbridge: instantiating module", "source", name, "stage", stage)

	table, err := wz.Inspect(compiled, bin)
	if err != nil {
		return nil, err
	}

	if table.ImportsWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}
	for _, provide := range e.imports {
		if err := provide(ctx, rt); err != nil {
			return nil, fmt.Errorf("failed to instantiate imports: %w", err)
		}
	}

	mem := newMemory(nil)
	if table.Memory.Imported {
		cfg = cfg.WithDefaults()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		provider, err := wz.InstantiateMemory(ctx, rt, cfg, table.Memory)
		if err != nil {
			return nil, err
		}
		mem.attach(provider.ExportedMemory(entities.MemoryName))
	}

	marshaler := NewMarshaler(mem, nil)
	regOpts := []registry.Option{
		registry.WithLogger(e.logger),
		registry.WithMiddleware(e.middleware...),
	}
	if e.reporter != nil {
		regOpts = append(regOpts, registry.WithErrorReporter(e.reporter))
	}

	inst = &Instance{
		name:      name,
		runtime:   rt,
		table:     table,
		memory:    mem,
		marshaler: marshaler,
		registry:  registry.New(table.OutboundNames(), marshaler, regOpts...),
		logger:    e.logger,
		release:   e.forget,
	}

	if _, err := wz.BindOutPorts(ctx, rt, table.Outbound, inst.dispatch,
		wz.WithLogger(e.logger),
		wz.WithMaxMessageSize(e.maxMessageSize),
	); err != nil {
		return nil, err
	}

	mod, err := rt.InstantiateModule(ctx, compiled, e.moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	if !table.Memory.Imported && table.Memory.ExportName != "" {
		mem.attach(mod.ExportedMemory(table.Memory.ExportName))
	}
	if table.HasAllocator {
		marshaler.setAllocator(exportAllocator(mod.ExportedFunction(entities.AllocateExport)))
	}
	if table.HasInitializer {
		if _, err := mod.ExportedFunction(entities.InitializeExport).Call(ctx); err != nil {
			return nil, fmt.Errorf("failed to call %s: %w", entities.InitializeExport, err)
		}
	}

	inst.wire(mod)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.ErrClosed
	}
	e.instances[inst] = struct{}{}
	e.mu.Unlock()

	e.logger.DebugContext(ctx, "portbridge: module loaded",
		"source", name,
		"inbound", len(table.Inbound),
		"outbound", len(table.Outbound),
		"memory_pages", mem.Pages(),
	)
	return inst, nil
}

func (e *Executor) forget(inst *Instance) {
	e.mu.Lock()
	delete(e.instances, inst)
	e.mu.Unlock()
}

