package ports

import "context"

// TextReader reads a JSON message out of shared memory and returns it as UTF-8 text.
type TextReader interface {
	ReadText(offset, byteLength uint32) ([]byte, error)
}

// ErrorReporter receives failures raised while delivering an outbound message.
// A reporter must not panic; the dispatch loop continues after it returns.
type ErrorReporter interface {
	Report(ctx context.Context, port string, err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, port string, err error)

// Report calls f.
func (f ErrorReporterFunc) Report(ctx context.Context, port string, err error) {
	f(ctx, port, err)
}
