// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package capture

import (
	"context"
	"fmt"

	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
)

// Reader is a lazy, finite sequence of packet endpoints.
type Reader interface {
	// Next returns the endpoints of the next packet and true, or false when
	// the capture has been exhausted.
	Next() (types.PacketEndpoints, bool)
	// Err returns the error that prevented reading the capture, if any. Per
	// packet decoding problems never show up here.
	Err() error
	// Close releases the underlying resources; it can be called multiple
	// times.
	Close() error
	// Stats returns the reader's counters so far.
	Stats() Stats
}

// Stats counts the packets a Reader has seen so far.
type Stats struct {
	Packets             int // total packets read.
	WithoutAddressLayer int // packets yielded without an address layer.
	DecodeErrors        int // packets that failed to decode.
}

// Backend names a capture reader implementation.
type Backend string

// The available capture backends.
const (
	BackendPcap   Backend = "pcap"
	BackendTshark Backend = "tshark"
)

// Option can be passed to Open.
type Option func(*options)

type options struct {
	log    *zap.SugaredLogger
	tshark string
}

// WithLogger sets the logger to report (debug) decoding problems to.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithTshark sets the path of the tshark binary to use with [BackendTshark];
// it defaults to looking up "tshark" in PATH.
func WithTshark(path string) Option {
	return func(o *options) {
		o.tshark = path
	}
}

// Open the named capture file using the specified backend. Failing to open
// the capture is reported as a [*types.ConfigurationError].
func Open(ctx context.Context, name string, backend Backend, opts ...Option) (Reader, error) {
	o := options{
		log:    zap.NewNop().Sugar(),
		tshark: "tshark",
	}
	for _, opt := range opts {
		opt(&o)
	}
	var r Reader
	var err error
	switch backend {
	case BackendPcap, "":
		r, err = openPcap(name, &o)
	case BackendTshark:
		r, err = openTshark(ctx, name, &o)
	default:
		err = fmt.Errorf("unknown capture backend %q", backend)
	}
	if err != nil {
		return nil, &types.ConfigurationError{Resource: "capture", Path: name, Err: err}
	}
	return r, nil
}

// stats keeps the counters shared by all backends.
type stats Stats

func (s *stats) packet(ep types.PacketEndpoints, decodeErr bool) types.PacketEndpoints {
	s.Packets++
	if decodeErr {
		s.DecodeErrors++
	}
	if !ep.HasAddressLayer {
		s.WithoutAddressLayer++
	}
	return ep
}
