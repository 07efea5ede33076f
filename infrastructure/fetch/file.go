package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidmdm/x/xerr"
)

// FileSource reads modules from the local filesystem.
type FileSource struct{}

// Supports reports whether location is a plain path or a file:// URL.
func (FileSource) Supports(location string) bool {
	if strings.HasPrefix(location, "file://") {
		return true
	}
	uri, err := url.Parse(location)
	return err != nil || uri.Scheme == "" || isWindowsDrive(uri.Scheme)
}

// Fetch reads the file at location, decompressing it when it ends in .gz.
func (FileSource) Fetch(ctx context.Context, location string) (result []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(location, "file://")
	if filepath.Ext(path) != ".gz" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load file: %s: %w", path, err)
		}
		return data, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %s: %w", path, err)
	}
	defer func() {
		err = xerr.MultiErrFrom("", err, file.Close())
	}()

	return io.ReadAll(gzipReader(file))
}

// isWindowsDrive treats "C:" style prefixes as paths rather than URL schemes.
func isWindowsDrive(scheme string) bool {
	return len(scheme) == 1
}
