package fetch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/davidmdm/x/xerr"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	gcrv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

const (
	// ConfigMediaType marks the manifest config of a module artifact.
	ConfigMediaType = "application/vnd.portbridge.config.v1+json"

	// WasmMediaType is the gzip-compressed module layer.
	WasmMediaType = "application/vnd.portbridge.wasm.v1.gzip"

	// RawWasmMediaType is accepted for uncompressed module layers pushed by other tools.
	RawWasmMediaType = "application/wasm"

	ociScheme = "oci://"
)

// OCISource pulls module artifacts from an OCI registry.
type OCISource struct {
	// Insecure allows plain-http registries.
	Insecure bool
}

// Supports reports whether location is an oci:// reference.
func (s OCISource) Supports(location string) bool {
	return strings.HasPrefix(location, ociScheme)
}

func (s OCISource) options(ctx context.Context) []crane.Option {
	opts := []crane.Option{crane.WithContext(ctx)}
	if s.Insecure {
		opts = append(opts, crane.Insecure)
	}
	return opts
}

// Fetch pulls the artifact and returns the uncompressed module.
func (s OCISource) Fetch(ctx context.Context, location string) (artifact []byte, err error) {
	ociURL, ok := strings.CutPrefix(location, ociScheme)
	if !ok {
		return nil, fmt.Errorf("url must start with oci scheme: oci:// but got: %s", location)
	}

	ref, err := name.ParseReference(ociURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oci url: %w", err)
	}

	opts := s.options(ctx)

	data, err := crane.Manifest(ref.String(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest gcrv1.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if manifest.Config.MediaType != ConfigMediaType {
		return nil, fmt.Errorf("unexpected config media type: %s", manifest.Config.MediaType)
	}

	var wasmLayer *gcrv1.Descriptor
	for i, desc := range manifest.Layers {
		if desc.MediaType == WasmMediaType || desc.MediaType == RawWasmMediaType {
			wasmLayer = &manifest.Layers[i]
			break
		}
	}
	if wasmLayer == nil {
		return nil, fmt.Errorf("could not find wasm layer")
	}

	layer, err := crane.PullLayer(ref.Context().Name()+"@"+wasmLayer.Digest.String(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to pull wasm layer: %w", err)
	}

	var closeErrs []error
	defer func() {
		if closeErr := xerr.MultiErrFrom("closing resources", closeErrs...); closeErr != nil {
			err = xerr.MultiErrFrom("", err, closeErr)
		}
	}()

	// Compressed is the blob exactly as stored; the media type decides whether it is gzipped.
	rc, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("failed to get layer's data stream: %w", err)
	}
	defer func() { closeErrs = append(closeErrs, rc.Close()) }()

	if wasmLayer.MediaType == RawWasmMediaType {
		return io.ReadAll(rc)
	}

	gr, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("unexpected layer content format: %w", err)
	}
	defer func() { closeErrs = append(closeErrs, gr.Close()) }()

	return io.ReadAll(gr)
}

// Push publishes wasm as a tagged artifact and returns its oci:// digest reference.
func (s OCISource) Push(ctx context.Context, location string, wasm []byte) (string, error) {
	ociURL, ok := strings.CutPrefix(location, ociScheme)
	if !ok {
		return "", fmt.Errorf("url must start with oci scheme: oci:// but got: %s", location)
	}

	ref, err := name.ParseReference(ociURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse oci url: %w", err)
	}

	compressed, err := gzipBytes(wasm)
	if err != nil {
		return "", fmt.Errorf("failed to gzip wasm data: %w", err)
	}

	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, ConfigMediaType)

	img, err = mutate.Append(img, mutate.Addendum{Layer: static.NewLayer(compressed, WasmMediaType)})
	if err != nil {
		return "", fmt.Errorf("failed to add layer to image: %w", err)
	}

	if err := crane.Push(img, ref.String(), s.options(ctx)...); err != nil {
		return "", err
	}

	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to get digest from image: %w", err)
	}

	return ociScheme + ref.Context().Digest(digest.String()).String(), nil
}
