package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/reglet-dev/portbridge/domain/ports"
)

// Resolver dispatches a location to the first source that supports it.
type Resolver struct {
	sources []ports.ModuleSource
}

// NewResolver returns a resolver over sources, tried in order.
func NewResolver(sources ...ports.ModuleSource) *Resolver {
	return &Resolver{sources: sources}
}

// DefaultResolver supports oci://, http(s):// and local files, in that order.
func DefaultResolver(client *http.Client, insecure bool) *Resolver {
	return NewResolver(
		OCISource{Insecure: insecure},
		HTTPSource{Client: client},
		FileSource{},
	)
}

// Supports reports whether any source handles location.
func (r *Resolver) Supports(location string) bool {
	_, ok := r.sourceFor(location)
	return ok
}

// Fetch retrieves location through the matching source.
func (r *Resolver) Fetch(ctx context.Context, location string) ([]byte, error) {
	src, ok := r.sourceFor(location)
	if !ok {
		return nil, fmt.Errorf("unsupported module location: %s", location)
	}
	return src.Fetch(ctx, location)
}

func (r *Resolver) sourceFor(location string) (ports.ModuleSource, bool) {
	for _, src := range r.sources {
		if src.Supports(location) {
			return src, true
		}
	}
	return nil, false
}
