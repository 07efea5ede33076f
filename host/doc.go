// Package host runs WebAssembly modules that talk to the Go process through named ports.
//
// A module and the host share one linear memory. Values cross it as JSON text stored as
// UTF-16LE code units, addressed by (offset, byteLength). The module declares its ports
// by naming convention:
//
//   - every function imported from the "outPorts" namespace is an outbound port; the
//     module calls it with (offset, byteLength) to hand a message to the host
//   - every function exported as "inPort$<name>" is the inbound port <name>; the host
//     calls it with (offset, byteLength) of a message it allocated through the module's
//     "allocate" export
//   - the shared memory is imported as "js.mem", or else the module's exported memory
//     is used
//
// Executor.Load fetches, compiles and instantiates a module in three stages and returns
// an Instance whose ports are ready to use:
//
//	exec, err := host.NewExecutor(ctx, host.WithLogger(logger))
//	inst, err := exec.Load(ctx, "oci://registry.example.com/apps/echo:v1", config.Default())
//	err = inst.Subscribe("onResult", func(ctx context.Context, msg any) error { ... })
//	err = inst.Send(ctx, "submit", map[string]any{"text": "hi"})
//
// Outbound handlers may be subscribed, replaced or cleared at any time after load. A
// message on an outbound port without a subscriber is dropped with a warning.
package host
