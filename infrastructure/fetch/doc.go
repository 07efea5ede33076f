// Package fetch retrieves wasm binaries for the loader.
//
// Supported locations:
//
//   - a local path, optionally gzip-compressed with a .gz extension, or a file:// URL
//   - an http:// or https:// URL; gzip is honoured via Content-Encoding or a .gz path
//   - an oci:// reference to an artifact published with Push
//
// Resolver picks the first ModuleSource that supports a location.
package fetch
