// Package hostfuncs provides the handler model for outbound port delivery.
//
// Handlers are plain Go functions with no wasm runtime dependency. A ByteHandler receives
// the UTF-8 JSON text of a message; NewValueHandler and NewJSONHandler adapt functions that
// want a decoded value. Middleware wraps handlers with cross-cutting behaviour such as panic
// recovery and logging, and every dispatch runs under a HostContext naming the port.
package hostfuncs
