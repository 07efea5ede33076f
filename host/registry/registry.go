// Package registry routes outbound port deliveries to late-bound host handlers.
//
// A PortRegistry is built once per instance from the module's outbound port names and
// is never shared. Each port owns a Slot: the wasm-side stub for the port is created
// before instantiation and only ever points at the slot, while Subscribe replaces what
// the slot holds at any time afterwards.
package registry

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/reglet-dev/portbridge/domain/ports"
	"github.com/reglet-dev/portbridge/hostfuncs"
)

// registryConfig holds configuration for the PortRegistry.
type registryConfig struct {
	logger     *slog.Logger
	reporter   ports.ErrorReporter
	middleware []hostfuncs.Middleware
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		middleware: []hostfuncs.Middleware{hostfuncs.PanicRecoveryMiddleware()},
	}
}

// Option configures a PortRegistry.
type Option func(*registryConfig)

// WithLogger sets the logger for drop warnings and the default error reporter.
func WithLogger(logger *slog.Logger) Option {
	return func(c *registryConfig) {
		c.logger = logger
	}
}

// WithErrorReporter replaces the default reporter, which logs at error level.
func WithErrorReporter(r ports.ErrorReporter) Option {
	return func(c *registryConfig) {
		c.reporter = r
	}
}

// WithMiddleware appends middleware applied to every handler. Panic recovery is always
// the outermost layer.
func WithMiddleware(mw ...hostfuncs.Middleware) Option {
	return func(c *registryConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// Slot is the mutable cell between an outbound stub and its current handler.
type Slot struct {
	mu      sync.RWMutex
	handler hostfuncs.ByteHandler
	port    string
}

// Port returns the name of the port the slot serves.
func (s *Slot) Port() string {
	return s.port
}

// Handler returns the active handler, or nil when nothing has subscribed yet.
func (s *Slot) Handler() hostfuncs.ByteHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

func (s *Slot) set(h hostfuncs.ByteHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// PortRegistry maps outbound port names to slots. The set of ports is fixed at
// construction; only slot contents change.
type PortRegistry struct {
	config registryConfig
	slots  map[string]*Slot
	names  []string // sorted for consistent iteration
	reader ports.TextReader
}

// New creates a registry for the given outbound port names. reader supplies message
// text from shared memory at dispatch time.
func New(names []string, reader ports.TextReader, opts ...Option) *PortRegistry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.reporter == nil {
		cfg.reporter = logReporter(cfg.logger)
	}

	r := &PortRegistry{
		config: cfg,
		slots:  make(map[string]*Slot, len(names)),
		reader: reader,
	}
	for _, name := range names {
		if _, exists := r.slots[name]; exists {
			continue
		}
		r.slots[name] = &Slot{port: name}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Subscribe makes h the active handler for port, replacing any previous one.
// A nil handler restores the drop-and-warn behaviour.
func (r *PortRegistry) Subscribe(port string, h hostfuncs.ByteHandler) error {
	slot, ok := r.slots[port]
	if !ok {
		return &errors.PortError{Port: port, Direction: entities.Outbound}
	}
	if h != nil {
		h = hostfuncs.Chain(h, r.config.middleware...)
	}
	slot.set(h)
	return nil
}

// Slot returns the slot for port.
func (r *PortRegistry) Slot(port string) (*Slot, bool) {
	slot, ok := r.slots[port]
	return slot, ok
}

// Has returns true if port is a known outbound port.
func (r *PortRegistry) Has(port string) bool {
	_, ok := r.slots[port]
	return ok
}

// Names returns a sorted list of all outbound port names.
func (r *PortRegistry) Names() []string {
	result := make([]string, len(r.names))
	copy(result, r.names)
	return result
}

// Dispatch delivers the message at (offset, byteLength) to the port's active handler.
//
// With no handler the message is dropped with a warning and nil is returned; memory is
// not read. Otherwise the text is read and the handler runs under a HostContext naming
// the port. Any failure is handed to the error reporter and returned.
func (r *PortRegistry) Dispatch(ctx context.Context, port string, offset, byteLength uint32) error {
	slot, ok := r.slots[port]
	if !ok {
		err := &errors.PortError{Port: port, Direction: entities.Outbound}
		r.config.reporter.Report(ctx, port, err)
		return err
	}

	handler := slot.Handler()
	if handler == nil {
		r.config.logger.WarnContext(ctx, "portbridge: no subscriber for outbound port, message dropped",
			"port", port,
			"offset", offset,
			"byte_length", byteLength,
		)
		return nil
	}

	text, err := r.reader.ReadText(offset, byteLength)
	if err != nil {
		r.config.reporter.Report(ctx, port, err)
		return err
	}

	hctx := hostfuncs.NewHostContext(ctx, port)
	if err := handler(hctx, text); err != nil {
		var decErr *errors.DecodeError
		if stdErrors.As(err, &decErr) && decErr.ByteLength == 0 {
			decErr.Offset = offset
			decErr.ByteLength = byteLength
		}
		r.config.reporter.Report(ctx, port, err)
		return err
	}
	return nil
}

func logReporter(logger *slog.Logger) ports.ErrorReporter {
	return ports.ErrorReporterFunc(func(ctx context.Context, port string, err error) {
		detail := errors.ToErrorDetail(err)
		logger.ErrorContext(ctx, "portbridge: outbound delivery failed",
			"port", port,
			"error", err,
			"error_type", detail.Type,
			"recoverable", detail.Recoverable,
		)
	})
}
