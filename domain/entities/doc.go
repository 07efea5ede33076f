// Package entities provides the core domain types of the bridge: ports, the wiring-time
// port table and structured error details. It has no dependency on the wasm runtime.
package entities
