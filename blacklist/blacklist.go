// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package blacklist loads the set of known-bad addresses to flag.

A blacklist source is a newline-delimited list of addresses, one per line.
White space around entries is ignored, as are blank lines and lines starting
with "#". Duplicate entries simply collapse. Blacklist sources might be gzip or
zstd compressed.

Once loaded, a [Blacklist] is never modified and thus can be shared between
goroutines without further locking.
*/
package blacklist

import (
	"bufio"
	"context"
	"io"
	"sort"
	"strings"

	"github.com/siemens/blackdig/compressed"
	"github.com/siemens/blackdig/types"

	"go.uber.org/zap"
)

// maxLineLength limits the length of individual blacklist lines.
const maxLineLength = 64 * 1024

// Blacklist is a read-only set of flagged addresses.
type Blacklist struct {
	addrs map[types.Address]struct{}
}

// Option can be passed to Load.
type Option func(*loader)

type loader struct {
	log *zap.SugaredLogger
}

// WithLogger sets the logger to report loading progress to.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *loader) {
		l.log = log
	}
}

// Load the blacklist from the named source file. If the source is absent or
// cannot be read completely, Load returns a [*types.ConfigurationError]; there
// is no partially loaded blacklist.
func Load(ctx context.Context, source string, options ...Option) (*Blacklist, error) {
	l := loader{log: zap.NewNop().Sugar()}
	for _, opt := range options {
		opt(&l)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := compressed.Open(source)
	if err != nil {
		return nil, &types.ConfigurationError{Resource: "blacklist", Path: source, Err: err}
	}
	defer r.Close()
	bl, err := Parse(&ctxReader{ctx: ctx, r: r})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.ConfigurationError{Resource: "blacklist", Path: source, Err: err}
	}
	if bl.Len() == 0 {
		l.log.Warnw("blacklist is empty, nothing will get flagged", "source", source)
	} else {
		l.log.Infow("loaded blacklist", "source", source, "addresses", bl.Len())
	}
	return bl, nil
}

// Parse reads a blacklist from the specified reader until EOF.
func Parse(r io.Reader) (*Blacklist, error) {
	bl := &Blacklist{addrs: map[types.Address]struct{}{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bl.addrs[types.NormalizeAddress(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return bl, nil
}

// New returns a Blacklist with the specified addresses, mainly for testing.
func New(addrs ...string) *Blacklist {
	bl := &Blacklist{addrs: make(map[types.Address]struct{}, len(addrs))}
	for _, addr := range addrs {
		if a := types.NormalizeAddress(addr); !a.IsZero() {
			bl.addrs[a] = struct{}{}
		}
	}
	return bl
}

// Contains returns true if the specified address is blacklisted.
func (b *Blacklist) Contains(addr types.Address) bool {
	_, ok := b.addrs[addr]
	return ok
}

// Len returns the number of distinct blacklisted addresses.
func (b *Blacklist) Len() int { return len(b.addrs) }

// Addresses returns the blacklisted addresses, sorted lexicographically.
func (b *Blacklist) Addresses() []types.Address {
	addrs := make([]types.Address, 0, len(b.addrs))
	for addr := range b.addrs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// ctxReader stops reading as soon as its context gets cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
