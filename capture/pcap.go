// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package capture

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/siemens/blackdig/compressed"
	"github.com/siemens/blackdig/types"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// pcapngMagic starts every pcapng file with its section header block type,
// which reads the same in both byte orders.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// pcapReader decodes pcap and pcapng files in-process.
type pcapReader struct {
	name      string
	log       *zap.SugaredLogger
	file      io.ReadCloser
	src       *gopacket.PacketSource
	stats     stats
	done      bool
	closeOnce sync.Once
	closeErr  error
}

func openPcap(name string, o *options) (*pcapReader, error) {
	f, err := compressed.Open(name)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("not a pcap or pcapng file: too short")
		}
		return nil, err
	}
	var data gopacket.PacketDataSource
	var linktype layers.LinkType
	if bytes.Equal(magic, pcapngMagic) {
		ngr, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, err
		}
		data, linktype = ngr, ngr.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		data, linktype = pr, pr.LinkType()
	}
	src := gopacket.NewPacketSource(data, linktype)
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	o.log.Debugw("opened capture", "capture", name, "linktype", linktype.String())
	return &pcapReader{
		name: name,
		log:  o.log,
		file: f,
		src:  src,
	}, nil
}

func (r *pcapReader) Next() (types.PacketEndpoints, bool) {
	if r.done {
		return types.PacketEndpoints{}, false
	}
	pkt, err := r.src.NextPacket()
	if err != nil {
		r.done = true
		switch {
		case errors.Is(err, io.EOF):
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.log.Warnw("capture is truncated, ignoring the remainder",
				"capture", r.name, "packets", r.stats.Packets)
		default:
			// The record framing is lost, so there's no point in trying to
			// read any further.
			r.stats.DecodeErrors++
			r.log.Warnw("capture is corrupt, ignoring the remainder",
				"capture", r.name, "packets", r.stats.Packets, "error", err)
		}
		r.Close()
		return types.PacketEndpoints{}, false
	}
	if errl := pkt.ErrorLayer(); errl != nil {
		r.log.Debugw("cannot decode packet",
			"capture", r.name, "packet", r.stats.Packets+1, "error", errl.Error())
		// Captures with a small snaplen cut off transport layers, yet their
		// network layers are still fine.
		if !networkIntact(pkt) {
			return r.stats.packet(types.PacketEndpoints{}, true), true
		}
		return r.stats.packet(endpointsOf(pkt), true), true
	}
	return r.stats.packet(endpointsOf(pkt), false), true
}

// networkIntact returns true if the network layer of the specified packet
// decodes without any error on its own.
func networkIntact(pkt gopacket.Packet) bool {
	var dec gopacket.DecodingLayer
	nl := pkt.NetworkLayer()
	switch nl.(type) {
	case *layers.IPv4:
		dec = &layers.IPv4{}
	case *layers.IPv6:
		dec = &layers.IPv6{}
	default:
		return false
	}
	data := make([]byte, 0, len(nl.LayerContents())+len(nl.LayerPayload()))
	data = append(append(data, nl.LayerContents()...), nl.LayerPayload()...)
	return dec.DecodeFromBytes(data, gopacket.NilDecodeFeedback) == nil
}

// endpointsOf returns the source and destination addresses of the
// (outermost) IP layer of the specified packet.
func endpointsOf(pkt gopacket.Packet) types.PacketEndpoints {
	var src, dst net.IP
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst = ip.SrcIP, ip.DstIP
	case *layers.IPv6:
		src, dst = ip.SrcIP, ip.DstIP
	default:
		return types.PacketEndpoints{}
	}
	s, d := types.AddressFromIP(src), types.AddressFromIP(dst)
	if s.IsZero() || d.IsZero() {
		return types.PacketEndpoints{}
	}
	return types.PacketEndpoints{Source: s, Destination: d, HasAddressLayer: true}
}

// Err always returns nil, as failing to read the capture at all is reported
// already when opening it.
func (r *pcapReader) Err() error { return nil }

func (r *pcapReader) Close() error {
	r.closeOnce.Do(func() {
		r.done = true
		r.closeErr = r.file.Close()
	})
	return r.closeErr
}

func (r *pcapReader) Stats() Stats { return Stats(r.stats) }
