// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package types

import (
	"net"
	"net/netip"
	"strings"
)

// Address is a normalized network endpoint address, such as "192.0.2.1" or
// "2001:db8::1". The zero value is the “no address” sentinel.
type Address string

// NormalizeAddress returns the normalized form of the specified textual
// address. IPv4-mapped IPv6 addresses are unmapped. Non-IP tokens are only
// trimmed. A blank string results in the zero Address.
func NormalizeAddress(s string) Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if ip, err := netip.ParseAddr(s); err == nil {
		return Address(ip.Unmap().String())
	}
	return Address(s)
}

// AddressFromIP returns the normalized Address for the specified IP address in
// binary form, or the zero Address if ip is invalid.
func AddressFromIP(ip net.IP) Address {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return ""
	}
	return Address(addr.Unmap().String())
}

// IsZero returns true for the “no address” sentinel.
func (a Address) IsZero() bool { return a == "" }

// String returns the address in its textual form.
func (a Address) String() string { return string(a) }

// PacketEndpoints are the source and destination addresses of a single
// captured packet. If the packet lacks an address layer (or could not be
// decoded) then HasAddressLayer is false and the addresses are to be ignored.
type PacketEndpoints struct {
	Source          Address
	Destination     Address
	HasAddressLayer bool
}

// Endpoints returns a PacketEndpoints with an address layer from the specified
// textual source and destination addresses. If either address is blank, the
// packet is considered to lack an address layer.
func Endpoints(src, dst string) PacketEndpoints {
	s, d := NormalizeAddress(src), NormalizeAddress(dst)
	if s.IsZero() || d.IsZero() {
		return PacketEndpoints{}
	}
	return PacketEndpoints{Source: s, Destination: d, HasAddressLayer: true}
}
