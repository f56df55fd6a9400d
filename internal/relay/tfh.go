package relay

import (
	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/wire"
)

// DefaultPortMin and DefaultPortMax bound the well-known TFH lobby
// protocol port range: a packet is a TFH stream packet iff it is
// IPv4/UDP and either its source or destination port falls in this
// range. A Relay's actual range is configurable (Config.TFHPortMin/Max,
// sourced from tfh.port_range_min/max); these are only the fallback
// when that configuration is left zero.
const (
	DefaultPortMin = 27010
	DefaultPortMax = 27030
)

// tfhHeaderLen is the size of the my_seq/your_seq header prefixing every
// TFH stream datagram's UDP payload.
const tfhHeaderLen = 8

func inTFHRange(port, portMin, portMax uint16) bool {
	return port >= portMin && port <= portMax
}

// isTFHStream reports whether view projects a UDP datagram whose source
// or destination port falls within [portMin, portMax].
func isTFHStream(view *wire.HeaderView, portMin, portMax uint16) bool {
	if !view.IsUDP() {
		return false
	}
	src, err := view.UDPSrcPort()
	if err != nil {
		return false
	}
	dst, err := view.UDPDstPort()
	if err != nil {
		return false
	}
	return inTFHRange(src, portMin, portMax) || inTFHRange(dst, portMin, portMax)
}

// parseTFHHeader splits a TFH stream datagram's UDP payload into its
// my_seq/your_seq fields and the remaining stream slice. Returns ok=false
// if the payload is too short to hold the header.
func parseTFHHeader(payload []byte) (seq, ack uint32, data []byte, ok bool) {
	if len(payload) < tfhHeaderLen {
		return 0, 0, nil, false
	}
	seq = wire.View.U32BE(payload, 0)
	ack = wire.View.U32BE(payload, 4)
	return seq, ack, payload[tfhHeaderLen:], true
}

// DispatchTFH classifies buf against [portMin, portMax] and, if it is a
// TFH stream datagram, feeds it to mgr. Reports whether buf was
// recognized as TFH stream traffic. flip has the same meaning as in
// Manager.Handle: false means src is the client (a packet arriving from
// side A), true means src is the server (arriving from side B). Driving
// tools without a live opposite side to write replies to (replay-pcap)
// call this directly instead of running a full Relay.
func DispatchTFH(mgr *conn.Manager, buf *wire.PacketBuffer, flip bool, portMin, portMax uint16) bool {
	view := wire.Overlay(buf.Bytes())
	if !isTFHStream(view, portMin, portMax) {
		return false
	}

	srcIP, err := view.SrcIP()
	if err != nil {
		return false
	}
	dstIP, err := view.DstIP()
	if err != nil {
		return false
	}
	srcPort, err := view.UDPSrcPort()
	if err != nil {
		return false
	}
	dstPort, err := view.UDPDstPort()
	if err != nil {
		return false
	}
	payload, err := view.UDPPayload()
	if err != nil {
		return false
	}

	seq, ack, data, ok := parseTFHHeader(payload)
	if !ok {
		return false
	}

	mgr.Handle(srcIP, srcPort, dstIP, dstPort, flip, seq, ack, data)
	return true
}
