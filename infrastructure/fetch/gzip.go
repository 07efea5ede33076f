package fetch

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func gzipReader(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		gr, err := gzip.NewReader(r)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(pw, gr); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(gr.Close())
	}()

	return pr
}

func gzipBytes(data []byte) ([]byte, error) {
	var buffer bytes.Buffer

	gw := gzip.NewWriter(&buffer)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	return buffer.Bytes(), nil
}
