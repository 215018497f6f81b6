// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package compressed opens files that might be gzip or zstd compressed, judging
by their file name extensions ".gz" and ".zst". All other files are passed
through as they are.
*/
package compressed

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Open the named file for reading, transparently decompressing it if its name
// ends in ".gz" or ".zst". Closing the returned reader also closes the file.
func Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, name)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader wraps the specified reader into a decompressing reader, based on
// the extension of the specified name. Closing the returned reader also closes
// r in case it implements io.Closer.
func NewReader(r io.Reader, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("cannot decompress %s: %w", name, err)
		}
		return &readCloser{Reader: gz, closers: []func() error{gz.Close, closerOf(r)}}, nil
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("cannot decompress %s: %w", name, err)
		}
		return &readCloser{
			Reader:  dec,
			closers: []func() error{func() error { dec.Close(); return nil }, closerOf(r)},
		}, nil
	}
	return &readCloser{Reader: r, closers: []func() error{closerOf(r)}}, nil
}

// readCloser chains the Close of a decompressor with the Close of the
// underlying file.
type readCloser struct {
	io.Reader
	closers []func() error
}

func (rc *readCloser) Close() error {
	var first error
	for _, closer := range rc.closers {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	rc.closers = nil
	return first
}

func closerOf(r io.Reader) func() error {
	if c, ok := r.(io.Closer); ok {
		return c.Close
	}
	return func() error { return nil }
}
