package netio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/epdtry/tfh-mitm/internal/wire"
)

// Direction reports which interface a replayed frame is classified as
// having arrived on, by comparing its IPv4 addresses against the
// configured server address.
type Direction int

const (
	// FromA is a frame traveling towards the server, from the sandbox's
	// outside interface.
	FromA Direction = iota
	// FromB is a frame traveling away from the server, from the
	// sandbox's inside interface.
	FromB
)

// PcapReplay reads a tcpdump-format capture and classifies each frame's
// direction by comparing its IPv4 source/destination against a fixed
// server address, mirroring the pcap.rs/replay-pcap.rs driver this
// package replaces: dest == serverIP means the frame traveled from the
// outside sandbox interface towards the server, src == serverIP means
// the reverse, and anything else (including non-IPv4 ethertypes such as
// ARP) is skipped.
type PcapReplay struct {
	r        *pcapgo.Reader
	serverIP [4]byte
}

// NewPcapReplay wraps r, which must begin with a valid pcap global
// header, and classifies frames against serverIP.
func NewPcapReplay(r io.Reader, serverIP net.IP) (*PcapReplay, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("pcap: read global header: %w", err)
	}

	ip4 := serverIP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("pcap: server address %s is not IPv4", serverIP)
	}

	var srv [4]byte
	copy(srv[:], ip4)
	return &PcapReplay{r: pr, serverIP: srv}, nil
}

// Next reads capture records, skipping non-IPv4 frames and frames that
// match neither side of the server address, until it finds one
// classifiable as FromA or FromB, and decodes its IP payload into pb.
// It returns io.EOF once the capture is exhausted.
func (p *PcapReplay) Next(pb *wire.PacketBuffer) (Direction, error) {
	for {
		data, _, err := p.r.ReadPacketData()
		if err != nil {
			return 0, err
		}

		payload, ethertype := stripEthernetHeader(data)
		if ethertype != layers.EthernetTypeIPv4 {
			continue // IPv6 and others (ARP, etc.) are not relayed
		}
		if len(payload) < 20 {
			continue
		}

		var dst, src [4]byte
		copy(dst[:], payload[16:20])
		copy(src[:], payload[12:16])

		var dir Direction
		switch {
		case dst == p.serverIP:
			dir = FromA
		case src == p.serverIP:
			dir = FromB
		default:
			continue
		}

		if err := pb.Truncate(0); err != nil {
			return 0, err
		}
		if err := pb.Extend(payload); err != nil {
			return 0, err
		}
		return dir, nil
	}
}

// stripEthernetHeader splits data into its IP payload and ethertype,
// reimplementing the fixed 14-byte Ethernet II header parse pcap.rs
// performs rather than pulling in gopacket's full layer decoder for a
// field this narrow. Frames shorter than an Ethernet header classify as
// ethertype 0, which no caller treats as IPv4.
func stripEthernetHeader(data []byte) ([]byte, layers.EthernetType) {
	const ethernetHeaderLen = 14
	if len(data) < ethernetHeaderLen {
		return nil, 0
	}
	switch binary.BigEndian.Uint16(data[12:14]) {
	case 0x0800:
		return data[ethernetHeaderLen:], layers.EthernetTypeIPv4
	case 0x86dd:
		return data[ethernetHeaderLen:], layers.EthernetTypeIPv6
	default:
		return data[ethernetHeaderLen:], 0
	}
}
