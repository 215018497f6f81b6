// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package capture reads recorded network traffic as a lazy sequence of packet
endpoints.

A [Reader] yields one [types.PacketEndpoints] per recorded packet, in capture
order. Packets without any address layer, as well as packets that cannot be
decoded, are still yielded, but with HasAddressLayer unset. Readers are finite
and cannot be rewound; reopen the capture in order to read it again.

Two backends are available:
  - [BackendPcap] reads classic pcap as well as pcapng files (gzip or zstd
    compressed even) without any external tools.
  - [BackendTshark] leaves the dissection to an installed "tshark" and thus
    supports every capture format tshark supports.
*/
package capture
