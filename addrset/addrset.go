// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package addrset reduces captured packets to the distinct addresses observed,
and intersects these with a blacklist.

A [Set] remembers the order in which addresses were first observed, so that
flagged addresses get reported in discovery order.
*/
package addrset

import (
	"context"

	"github.com/siemens/blackdig/capture"
	"github.com/siemens/blackdig/types"
)

// Set is an insertion-ordered set of addresses. The zero value is an empty
// set ready to use. A Set is not safe for concurrent modification.
type Set struct {
	index map[types.Address]int
	order []types.Address
}

// Add the specified address, unless it is the zero address or already
// present. Add returns true if the address was newly added.
func (s *Set) Add(addr types.Address) bool {
	if addr.IsZero() {
		return false
	}
	if _, ok := s.index[addr]; ok {
		return false
	}
	if s.index == nil {
		s.index = map[types.Address]int{}
	}
	s.index[addr] = len(s.order)
	s.order = append(s.order, addr)
	return true
}

// Contains returns true if the specified address is a member of this set.
func (s *Set) Contains(addr types.Address) bool {
	_, ok := s.index[addr]
	return ok
}

// Len returns the number of distinct addresses.
func (s *Set) Len() int { return len(s.order) }

// Addresses returns the addresses in the order they were first added.
func (s *Set) Addresses() []types.Address {
	return append([]types.Address(nil), s.order...)
}

// ctxCheckInterval is the number of packets between checking for
// cancellation.
const ctxCheckInterval = 1024

// Extract returns the set of distinct addresses found in the packets of the
// specified capture, taking first the source and then the destination of
// each packet. Packets without an address layer don't contribute. The
// only error reported is the context getting cancelled; reading problems are
// left to the capture reader.
func Extract(ctx context.Context, packets capture.Reader) (*Set, error) {
	set := &Set{}
	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return set, err
			}
		}
		ep, ok := packets.Next()
		if !ok {
			return set, nil
		}
		if !ep.HasAddressLayer {
			continue
		}
		set.Add(ep.Source)
		set.Add(ep.Destination)
	}
}

// Membership is implemented by address lists, such as blacklists.
type Membership interface {
	Contains(addr types.Address) bool
}

// Match returns the observed addresses that are members of the specified
// list, in the order they were first observed. Match always returns a non-nil
// slice.
func Match(observed *Set, list Membership) []types.Address {
	flagged := []types.Address{}
	if observed == nil {
		return flagged
	}
	for _, addr := range observed.order {
		if list.Contains(addr) {
			flagged = append(flagged, addr)
		}
	}
	return flagged
}
