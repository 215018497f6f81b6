// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package test provides helpers for synthesizing packet captures in tests.
*/
package test

import (
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	gi "github.com/onsi/ginkgo/v2"
	g "github.com/onsi/gomega"
	s "github.com/thediveo/success"
)

// Packet describes a synthesized packet. A Packet without source address
// becomes an ARP packet, thus without any IP layer. A Malformed packet claims
// to carry IPv4 but has a broken header. A SYN packet carries a TCP SYN with
// options instead of UDP. A non-zero Snaplen cuts the captured frame to this
// many bytes, as "tcpdump -s" does.
type Packet struct {
	Src, Dst  string
	Malformed bool
	SYN       bool
	Snaplen   int
}

// IP returns a UDP/IP packet between the specified addresses.
func IP(src, dst string) Packet { return Packet{Src: src, Dst: dst} }

// ARP returns a packet lacking any address layer.
func ARP() Packet { return Packet{} }

// SnappedSYN returns a TCP SYN packet between the specified addresses, with
// its capture cut to the specified snaplen.
func SnappedSYN(src, dst string, snaplen int) Packet {
	return Packet{Src: src, Dst: dst, SYN: true, Snaplen: snaplen}
}

// Garbled returns a malformed packet.
func Garbled() Packet { return Packet{Malformed: true} }

var (
	srcMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}
	dstMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x03}
	epoch  = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
)

// Frame returns the Ethernet frame for the specified packet.
func Frame(p Packet) []byte {
	gi.GinkgoHelper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	switch {
	case p.Malformed:
		eth := layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
		g.Expect(gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload{0x41, 0x00, 0x00, 0x14})).To(g.Succeed())
	case p.Src == "":
		eth := layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
		arp := layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: []byte{192, 0, 2, 1},
			DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
			DstProtAddress:    []byte{192, 0, 2, 2},
		}
		g.Expect(gopacket.SerializeLayers(buf, opts, &eth, &arp)).To(g.Succeed())
	default:
		src, dst := net.ParseIP(p.Src), net.ParseIP(p.Dst)
		g.Expect(src).NotTo(g.BeNil())
		g.Expect(dst).NotTo(g.BeNil())
		if p.SYN {
			g.Expect(src.To4()).NotTo(g.BeNil())
			eth := layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
			ip := layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src.To4(), DstIP: dst.To4()}
			tcp := layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 42, SYN: true, Window: 64240,
				Options: []layers.TCPOption{
					{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
					{OptionType: layers.TCPOptionKindNop},
					{OptionType: layers.TCPOptionKindNop},
					{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2},
				}}
			g.Expect(tcp.SetNetworkLayerForChecksum(&ip)).To(g.Succeed())
			g.Expect(gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp)).To(g.Succeed())
			return buf.Bytes()
		}
		udp := layers.UDP{SrcPort: 40000, DstPort: 53}
		payload := gopacket.Payload("blackdig")
		if src.To4() != nil {
			eth := layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
			ip := layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src.To4(), DstIP: dst.To4()}
			g.Expect(udp.SetNetworkLayerForChecksum(&ip)).To(g.Succeed())
			g.Expect(gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, payload)).To(g.Succeed())
		} else {
			eth := layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
			ip := layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
			g.Expect(udp.SetNetworkLayerForChecksum(&ip)).To(g.Succeed())
			g.Expect(gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, payload)).To(g.Succeed())
		}
	}
	return buf.Bytes()
}

// WritePcap writes the specified packets into a new classic pcap file.
func WritePcap(path string, pkts ...Packet) {
	gi.GinkgoHelper()

	f := s.Successful(os.Create(path))
	defer f.Close()
	w := pcapgo.NewWriter(f)
	g.Expect(w.WriteFileHeader(65536, layers.LinkTypeEthernet)).To(g.Succeed())
	for idx, pkt := range pkts {
		data := Frame(pkt)
		g.Expect(w.WritePacket(captureInfo(idx, pkt, data))).To(g.Succeed())
	}
}

// WritePcapng writes the specified packets into a new pcapng file.
func WritePcapng(path string, pkts ...Packet) {
	gi.GinkgoHelper()

	f := s.Successful(os.Create(path))
	defer f.Close()
	w := s.Successful(pcapgo.NewNgWriter(f, layers.LinkTypeEthernet))
	for idx, pkt := range pkts {
		data := Frame(pkt)
		g.Expect(w.WritePacket(captureInfo(idx, pkt, data))).To(g.Succeed())
	}
	g.Expect(w.Flush()).To(g.Succeed())
}

// captureInfo returns the capture information for the idx-th packet together
// with the captured part of its frame.
func captureInfo(idx int, pkt Packet, data []byte) (gopacket.CaptureInfo, []byte) {
	ci := gopacket.CaptureInfo{
		Timestamp:     epoch.Add(time.Duration(idx) * time.Millisecond),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if pkt.Snaplen > 0 && pkt.Snaplen < len(data) {
		data = data[:pkt.Snaplen]
		ci.CaptureLength = len(data)
	}
	return ci, data
}
