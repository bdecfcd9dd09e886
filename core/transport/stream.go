package transport

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// StreamFactory wraps a request body writer, typically to compress it.
type StreamFactory interface {
	// ContentEncoding is sent as the Content-Encoding header when not empty
	ContentEncoding() string

	NewStream(dst io.Writer) (io.WriteCloser, error)
}

// GzipStreamFactory compresses bodies with gzip.
type GzipStreamFactory struct {
	Level int
}

// NewGzipStreamFactory uses the default compression level.
func NewGzipStreamFactory() *GzipStreamFactory {
	return &GzipStreamFactory{Level: gzip.DefaultCompression}
}

// ContentEncoding returns "gzip".
func (f *GzipStreamFactory) ContentEncoding() string {
	return "gzip"
}

// NewStream returns a gzip writer over dst.
func (f *GzipStreamFactory) NewStream(dst io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(dst, f.Level)
}

// IdentityStreamFactory passes bodies through unchanged.
type IdentityStreamFactory struct{}

// ContentEncoding returns "".
func (IdentityStreamFactory) ContentEncoding() string {
	return ""
}

// NewStream returns dst with a no-op Close.
func (IdentityStreamFactory) NewStream(dst io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{dst}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
