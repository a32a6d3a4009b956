// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkconnect

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc/encoding"
)

// gzipName is the grpc-encoding name understood by Spark Connect servers.
const gzipName = "gzip"

func init() {
	encoding.RegisterCompressor(&gzipCompressor{})
}

// gzipCompressor implements encoding.Compressor with klauspost's gzip.
type gzipCompressor struct {
	writers sync.Pool
	readers sync.Pool
}

func (c *gzipCompressor) Name() string {
	return gzipName
}

func (c *gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if zw, ok := c.writers.Get().(*gzipWriter); ok {
		zw.Reset(w)
		return zw, nil
	}
	return &gzipWriter{Writer: gzip.NewWriter(w), pool: &c.writers}, nil
}

func (c *gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	zr, ok := c.readers.Get().(*gzipReader)
	if !ok {
		inner, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &gzipReader{Reader: inner, pool: &c.readers}, nil
	}
	if err := zr.Reset(r); err != nil {
		c.readers.Put(zr)
		return nil, err
	}
	return zr, nil
}

type gzipWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

func (w *gzipWriter) Close() error {
	defer w.pool.Put(w)
	return w.Writer.Close()
}

type gzipReader struct {
	*gzip.Reader
	pool *sync.Pool
}

// Read returns the reader to the pool once the stream is exhausted.
func (r *gzipReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err == io.EOF {
		r.pool.Put(r)
	}
	return n, err
}
