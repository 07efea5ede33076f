package ports

import "context"

// ModuleSource retrieves a wasm binary.
// Infrastructure adapters implement this for files, HTTP and OCI registries.
type ModuleSource interface {
	// Supports reports whether the source can fetch the given location.
	Supports(location string) bool

	// Fetch returns the raw (decompressed) wasm bytes at location.
	Fetch(ctx context.Context, location string) ([]byte, error)
}
