// Package wazero adapts the port convention to the wazero runtime.
//
// It covers the three runtime-facing steps of wiring a module:
//
//   - Inspect reflects over a compiled module once and produces the static
//     entities.PortTable (inbound exports, outbound imports, memory binding).
//   - InstantiateMemory synthesizes the "js" module that exports the shared memory
//     the module imports as js.mem.
//   - BindOutPorts registers the "outPorts" host module: one stub per outbound
//     port, each forwarding (offset, byteLength) to a DispatchFunc.
//
// # Basic Usage
//
//	compiled, err := runtime.CompileModule(ctx, bin)
//	table, err := wazero.Inspect(compiled, bin)
//	if table.Memory.Imported {
//	    _, err = wazero.InstantiateMemory(ctx, runtime, cfg, table.Memory)
//	}
//	_, err = wazero.BindOutPorts(ctx, runtime, table.Outbound, dispatch,
//	    wazero.WithMaxMessageSize(64<<10),
//	)
//	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
package wazero
