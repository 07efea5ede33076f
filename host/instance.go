package host

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/davidmdm/x/xerr"
	"github.com/reglet-dev/portbridge/domain/entities"
	"github.com/reglet-dev/portbridge/domain/errors"
	"github.com/reglet-dev/portbridge/host/registry"
	"github.com/reglet-dev/portbridge/hostfuncs"
	wz "github.com/reglet-dev/portbridge/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Instance is a loaded module with its ports wired.
//
// Calls into the module are serialized by a turn lock: Send blocks while another
// goroutine is inside the module. Outbound handlers run on the goroutine that made the
// inbound call, inside the module call. A handler must not Send on the same instance
// with the context it was given; that fails with errors.ErrReentrantSend.
//
// Reentrancy is recognized only through that context. A handler that calls Send, Call
// or Close with a context not derived from its own deadlocks, since the turn it waits
// for is held by its own goroutine. Work started from a handler on another goroutine
// may Send with any context; it runs once the current turn ends.
type Instance struct {
	turn sync.Mutex

	name      string
	runtime   wazero.Runtime
	module    api.Module
	table     *entities.PortTable
	memory    *Memory
	marshaler *Marshaler
	registry  *registry.PortRegistry
	logger    *slog.Logger
	release   func(*Instance)

	inPorts  map[string]*InPort
	outPorts map[string]*OutPort

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// wire builds the port handles once the module is instantiated. Called once.
func (i *Instance) wire(mod api.Module) {
	i.module = mod
	i.inPorts = make(map[string]*InPort, len(i.table.Inbound))
	for _, p := range i.table.Inbound {
		i.inPorts[p.Name] = &InPort{
			name: p.Name,
			fn:   mod.ExportedFunction(p.Symbol),
			inst: i,
		}
	}
	i.outPorts = make(map[string]*OutPort, len(i.table.Outbound))
	for _, p := range i.table.Outbound {
		i.outPorts[p.Name] = &OutPort{name: p.Name, registry: i.registry}
	}
}

// dispatch is the DispatchFunc behind every outbound stub.
func (i *Instance) dispatch(ctx context.Context, caller api.Module, port string, offset, byteLength uint32) error {
	if caller != nil && !i.memory.attached() {
		i.memory.attach(caller.Memory())
	}
	return i.registry.Dispatch(ctx, port, offset, byteLength)
}

// Name is the source the instance was loaded from.
func (i *Instance) Name() string {
	return i.name
}

// Ports returns every port, inbound first, each group sorted by name.
func (i *Instance) Ports() []entities.Port {
	return i.table.Ports()
}

// Table returns a copy of the port table computed at load time.
func (i *Instance) Table() entities.PortTable {
	t := *i.table
	t.Inbound = append([]entities.Port(nil), i.table.Inbound...)
	t.Outbound = append([]entities.Port(nil), i.table.Outbound...)
	t.ForeignNamespaces = append([]string(nil), i.table.ForeignNamespaces...)
	return t
}

// Memory returns the shared memory.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// InPort looks up an inbound port.
func (i *Instance) InPort(name string) (*InPort, error) {
	p, ok := i.inPorts[name]
	if !ok {
		return nil, &errors.PortError{Port: name, Direction: entities.Inbound}
	}
	return p, nil
}

// OutPort looks up an outbound port.
func (i *Instance) OutPort(name string) (*OutPort, error) {
	p, ok := i.outPorts[name]
	if !ok {
		return nil, &errors.PortError{Port: name, Direction: entities.Outbound}
	}
	return p, nil
}

// Send delivers v to the inbound port name.
func (i *Instance) Send(ctx context.Context, name string, v any) error {
	p, err := i.InPort(name)
	if err != nil {
		return err
	}
	return p.Send(ctx, v)
}

// Subscribe sets the handler of the outbound port name.
func (i *Instance) Subscribe(name string, h hostfuncs.Handler) error {
	p, err := i.OutPort(name)
	if err != nil {
		return err
	}
	return p.Subscribe(h)
}

// Encode writes v into module memory through the module's allocator without calling
// any port. The result is valid until the next allocation.
func (i *Instance) Encode(ctx context.Context, v any) (EncodedMessage, error) {
	if err := i.enter(ctx); err != nil {
		return EncodedMessage{}, err
	}
	defer i.turn.Unlock()
	return i.marshaler.Encode(i.callContext(ctx), v)
}

// Call invokes an exported function that is not a port. It takes the same turn lock
// as Send, so outbound handlers triggered by the call run before it returns.
func (i *Instance) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	if err := i.enter(ctx); err != nil {
		return nil, err
	}
	defer i.turn.Unlock()

	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("module %s has no exported function %q", i.name, export)
	}
	return fn.Call(i.callContext(ctx), params...)
}

// Decode reads a message previously produced by Encode.
func (i *Instance) Decode(msg EncodedMessage) (any, error) {
	return i.marshaler.DecodeMessage(msg)
}

// Close releases the module and its runtime, including the shared memory.
// It must not be called from an outbound handler, and a handler calling it with an
// unrelated context deadlocks.
func (i *Instance) Close(ctx context.Context) error {
	if hostfuncs.InDispatch(ctx) {
		return errors.ErrReentrantSend
	}
	i.closeOnce.Do(func() {
		i.turn.Lock()
		defer i.turn.Unlock()
		i.closed = true
		i.closeErr = xerr.MultiErrFrom("closing instance", i.runtime.Close(ctx))
		if i.release != nil {
			i.release(i)
		}
	})
	return i.closeErr
}

// enter takes the turn lock. On success the caller must unlock.
func (i *Instance) enter(ctx context.Context) error {
	if hostfuncs.InDispatch(ctx) {
		return errors.ErrReentrantSend
	}
	i.turn.Lock()
	if i.closed {
		i.turn.Unlock()
		return errors.ErrClosed
	}
	return nil
}

func (i *Instance) callContext(ctx context.Context) context.Context {
	if _, ok := wz.SourceNameFromContext(ctx); ok {
		return ctx
	}
	return wz.WithSourceName(ctx, i.name)
}

// InPort is a host-to-module port. It exposes only Send.
type InPort struct {
	fn   api.Function
	inst *Instance
	name string
}

// Name returns the port name.
func (p *InPort) Name() string {
	return p.name
}

// Send encodes v into module memory and calls the port's export with its location.
// Encoding errors are *errors.EncodeError and allocation failures *errors.AllocationError;
// in both cases the export is not called.
func (p *InPort) Send(ctx context.Context, v any) error {
	if err := p.inst.enter(ctx); err != nil {
		return err
	}
	defer p.inst.turn.Unlock()

	ctx = p.inst.callContext(ctx)
	msg, err := p.inst.marshaler.Encode(ctx, v)
	if err != nil {
		var encErr *errors.EncodeError
		if stdErrors.As(err, &encErr) {
			encErr.Port = p.name
		}
		return err
	}

	if _, err := p.fn.Call(ctx, api.EncodeU32(msg.Offset), api.EncodeU32(msg.ByteLength)); err != nil {
		return fmt.Errorf("inbound port %s: %w", p.name, err)
	}
	return nil
}

// OutPort is a module-to-host port. It exposes only subscription.
type OutPort struct {
	registry *registry.PortRegistry
	name     string
}

// Name returns the port name.
func (p *OutPort) Name() string {
	return p.name
}

// Subscribe replaces the port's handler with h, which receives decoded values.
// A nil h clears the handler; messages are then dropped with a warning.
func (p *OutPort) Subscribe(h hostfuncs.Handler) error {
	if h == nil {
		return p.registry.Subscribe(p.name, nil)
	}
	return p.registry.Subscribe(p.name, hostfuncs.NewValueHandler(h))
}

// SubscribeBytes replaces the port's handler with one receiving raw JSON text.
func (p *OutPort) SubscribeBytes(h hostfuncs.ByteHandler) error {
	return p.registry.Subscribe(p.name, h)
}

// SubscribeAs replaces the port's handler with fn, which receives each message
// unmarshalled into T.
func SubscribeAs[T any](p *OutPort, fn func(context.Context, T) error) error {
	return p.SubscribeBytes(hostfuncs.NewJSONHandler(fn))
}
