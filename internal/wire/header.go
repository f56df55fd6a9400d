package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// IPv4 header field offsets, relative to the start of the IP header.
const (
	ipv4OffVersionIHL = 0
	ipv4OffTotalLen   = 2
	ipv4OffProtocol   = 9
	ipv4OffChecksum   = 10
	ipv4OffSrc        = 12
	ipv4OffDst        = 16
	ipv4MinHeaderLen  = 20
	ipv4MaxHeaderLen  = 60

	// ProtocolUDP is the IPv4 protocol number for UDP.
	ProtocolUDP = 17
)

// UDP header field offsets, relative to the start of the UDP header.
const (
	udpOffSrcPort  = 0
	udpOffDstPort  = 2
	udpOffLen      = 4
	udpOffChecksum = 6
	udpHeaderLen   = 8
)

var (
	// ErrNotIPv4 indicates a header access required IPv4 but the buffer
	// does not start with an IPv4 header.
	ErrNotIPv4 = errors.New("header view: not an IPv4 packet")

	// ErrNotUDP indicates a header access required UDP but the IPv4
	// protocol field is not 17.
	ErrNotUDP = errors.New("header view: not a UDP packet")

	// ErrShortPacket indicates the buffer is too short to hold the
	// header it is being asked to project.
	ErrShortPacket = errors.New("header view: packet too short")

	// ErrBadIHL indicates the IPv4 IHL nibble decodes to a header
	// length outside [20, 60].
	ErrBadIHL = errors.New("header view: IPv4 IHL out of range")
)

// HeaderView is a transient projection over a sub-range of a packet
// buffer's bytes. It carries no storage: every accessor indexes directly
// into the caller-supplied slice, so writes through HeaderView mutate the
// underlying PacketBuffer in place.
type HeaderView struct {
	buf []byte
}

// Overlay constructs a HeaderView over buf. buf must outlive the view;
// the view aliases it.
func Overlay(buf []byte) *HeaderView {
	return &HeaderView{buf: buf}
}

// IsIPv4 reports whether the first byte's high nibble is 4.
func (h *HeaderView) IsIPv4() bool {
	return len(h.buf) > 0 && h.buf[0]>>4 == 4
}

// IsIPv6 reports whether the first byte's high nibble is 6.
func (h *HeaderView) IsIPv6() bool {
	return len(h.buf) > 0 && h.buf[0]>>4 == 6
}

// IHL returns the IPv4 header length in bytes (IHL nibble * 4).
func (h *HeaderView) IHL() (int, error) {
	if !h.IsIPv4() {
		return 0, ErrNotIPv4
	}
	if len(h.buf) < 1 {
		return 0, fmt.Errorf("ihl: %w", ErrShortPacket)
	}
	ihl := int(h.buf[ipv4OffVersionIHL]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || ihl > ipv4MaxHeaderLen {
		return 0, fmt.Errorf("ihl=%d: %w", ihl, ErrBadIHL)
	}
	return ihl, nil
}

// IPv4TotalLen returns the IPv4 total length field.
func (h *HeaderView) IPv4TotalLen() (uint16, error) {
	if len(h.buf) < ipv4OffTotalLen+2 {
		return 0, fmt.Errorf("ipv4 total_len: %w", ErrShortPacket)
	}
	return View.U16BE(h.buf, ipv4OffTotalLen), nil
}

// SetIPv4TotalLen writes the IPv4 total length field.
func (h *HeaderView) SetIPv4TotalLen(v uint16) error {
	if len(h.buf) < ipv4OffTotalLen+2 {
		return fmt.Errorf("set ipv4 total_len: %w", ErrShortPacket)
	}
	View.PutU16BE(h.buf, ipv4OffTotalLen, v)
	return nil
}

// Protocol returns the IPv4 protocol field.
func (h *HeaderView) Protocol() (uint8, error) {
	if len(h.buf) < ipv4OffProtocol+1 {
		return 0, fmt.Errorf("protocol: %w", ErrShortPacket)
	}
	return View.U8(h.buf, ipv4OffProtocol), nil
}

// IsUDP reports whether this is an IPv4 packet whose protocol is UDP.
func (h *HeaderView) IsUDP() bool {
	proto, err := h.Protocol()
	return h.IsIPv4() && err == nil && proto == ProtocolUDP
}

// IPv4Checksum returns the IPv4 header checksum field.
func (h *HeaderView) IPv4Checksum() (uint16, error) {
	if len(h.buf) < ipv4OffChecksum+2 {
		return 0, fmt.Errorf("ipv4 checksum: %w", ErrShortPacket)
	}
	return View.U16BE(h.buf, ipv4OffChecksum), nil
}

// SetIPv4Checksum writes the IPv4 header checksum field.
func (h *HeaderView) SetIPv4Checksum(v uint16) error {
	if len(h.buf) < ipv4OffChecksum+2 {
		return fmt.Errorf("set ipv4 checksum: %w", ErrShortPacket)
	}
	View.PutU16BE(h.buf, ipv4OffChecksum, v)
	return nil
}

// SrcIP returns the IPv4 source address as a big-endian uint32.
func (h *HeaderView) SrcIP() (uint32, error) {
	if len(h.buf) < ipv4OffSrc+4 {
		return 0, fmt.Errorf("src ip: %w", ErrShortPacket)
	}
	return View.U32BE(h.buf, ipv4OffSrc), nil
}

// DstIP returns the IPv4 destination address as a big-endian uint32.
func (h *HeaderView) DstIP() (uint32, error) {
	if len(h.buf) < ipv4OffDst+4 {
		return 0, fmt.Errorf("dst ip: %w", ErrShortPacket)
	}
	return View.U32BE(h.buf, ipv4OffDst), nil
}

// ipv4Header returns the slice covering the IPv4 header (IHL-derived
// length, no trailing options interpretation beyond that length).
func (h *HeaderView) ipv4Header() ([]byte, error) {
	ihl, err := h.IHL()
	if err != nil {
		return nil, err
	}
	if len(h.buf) < ihl {
		return nil, fmt.Errorf("ipv4 header len %d: %w", ihl, ErrShortPacket)
	}
	return h.buf[:ihl], nil
}

// udpHeader returns the slice covering the 8-byte UDP header, which
// begins immediately after the IPv4 header.
func (h *HeaderView) udpHeader() ([]byte, error) {
	if !h.IsUDP() {
		return nil, ErrNotUDP
	}
	ihl, err := h.IHL()
	if err != nil {
		return nil, err
	}
	if len(h.buf) < ihl+udpHeaderLen {
		return nil, fmt.Errorf("udp header: %w", ErrShortPacket)
	}
	return h.buf[ihl : ihl+udpHeaderLen], nil
}

// UDPSrcPort returns the UDP source port.
func (h *HeaderView) UDPSrcPort() (uint16, error) {
	uh, err := h.udpHeader()
	if err != nil {
		return 0, err
	}
	return View.U16BE(uh, udpOffSrcPort), nil
}

// UDPDstPort returns the UDP destination port.
func (h *HeaderView) UDPDstPort() (uint16, error) {
	uh, err := h.udpHeader()
	if err != nil {
		return 0, err
	}
	return View.U16BE(uh, udpOffDstPort), nil
}

// UDPLen returns the UDP length field (header + payload).
func (h *HeaderView) UDPLen() (uint16, error) {
	uh, err := h.udpHeader()
	if err != nil {
		return 0, err
	}
	return View.U16BE(uh, udpOffLen), nil
}

// SetUDPLen writes the UDP length field.
func (h *HeaderView) SetUDPLen(v uint16) error {
	uh, err := h.udpHeader()
	if err != nil {
		return err
	}
	View.PutU16BE(uh, udpOffLen, v)
	return nil
}

// UDPChecksum returns the UDP checksum field.
func (h *HeaderView) UDPChecksum() (uint16, error) {
	uh, err := h.udpHeader()
	if err != nil {
		return 0, err
	}
	return View.U16BE(uh, udpOffChecksum), nil
}

// SetUDPChecksum writes the UDP checksum field.
func (h *HeaderView) SetUDPChecksum(v uint16) error {
	uh, err := h.udpHeader()
	if err != nil {
		return err
	}
	View.PutU16BE(uh, udpOffChecksum, v)
	return nil
}

// UDPPayload returns the slice following the UDP header, up to the end
// of the buffer.
func (h *HeaderView) UDPPayload() ([]byte, error) {
	if !h.IsUDP() {
		return nil, ErrNotUDP
	}
	ihl, err := h.IHL()
	if err != nil {
		return nil, err
	}
	start := ihl + udpHeaderLen
	if len(h.buf) < start {
		return nil, fmt.Errorf("udp payload: %w", ErrShortPacket)
	}
	return h.buf[start:], nil
}

// -------------------------------------------------------------------------
// Checksums (RFC 1071 one's-complement sum with end-around carry).
// -------------------------------------------------------------------------

// onesComplementSum sums 16-bit big-endian words of data, folding carries,
// and returns the running 32-bit accumulator (not yet folded to 16 bits or
// complemented).
func onesComplementSum(data []byte, seed uint32) uint32 {
	sum := seed
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 != 0 {
		sum += uint32(data[n-1]) << 8
	}
	return sum
}

// foldChecksum folds a 32-bit accumulator to 16 bits via end-around carry
// and returns its one's complement.
func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// IPv4HeaderChecksum computes the IPv4 header checksum, treating the
// checksum field itself (bytes 10-11) as zero, per RFC 1071.
func (h *HeaderView) IPv4HeaderChecksum() (uint16, error) {
	hdr, err := h.ipv4Header()
	if err != nil {
		return 0, err
	}
	scratch := make([]byte, len(hdr))
	copy(scratch, hdr)
	scratch[ipv4OffChecksum] = 0
	scratch[ipv4OffChecksum+1] = 0
	return foldChecksum(onesComplementSum(scratch, 0)), nil
}

// RecomputeIPv4Checksum recomputes and writes the IPv4 header checksum.
func (h *HeaderView) RecomputeIPv4Checksum() error {
	csum, err := h.IPv4HeaderChecksum()
	if err != nil {
		return err
	}
	return h.SetIPv4Checksum(csum)
}

// UDPChecksumValue computes the UDP checksum over the 20-byte IPv4
// pseudo-header plus the UDP header and payload, treating the UDP
// checksum field as zero, and applies the RFC 768 rule that a computed
// value of 0x0000 is transmitted as 0xFFFF.
func (h *HeaderView) UDPChecksumValue() (uint16, error) {
	if !h.IsUDP() {
		return 0, ErrNotUDP
	}
	srcIP, err := h.SrcIP()
	if err != nil {
		return 0, err
	}
	dstIP, err := h.DstIP()
	if err != nil {
		return 0, err
	}
	proto, err := h.Protocol()
	if err != nil {
		return 0, err
	}
	udpLen, err := h.UDPLen()
	if err != nil {
		return 0, err
	}
	uh, err := h.udpHeader()
	if err != nil {
		return 0, err
	}
	payload, err := h.UDPPayload()
	if err != nil {
		return 0, err
	}

	pseudo := make([]byte, 12)
	View.PutU32BE(pseudo, 0, srcIP)
	View.PutU32BE(pseudo, 4, dstIP)
	pseudo[8] = 0
	pseudo[9] = proto
	View.PutU16BE(pseudo, 10, udpLen)

	uhScratch := make([]byte, udpHeaderLen)
	copy(uhScratch, uh)
	uhScratch[udpOffChecksum] = 0
	uhScratch[udpOffChecksum+1] = 0

	sum := onesComplementSum(pseudo, 0)
	sum = onesComplementSum(uhScratch, sum)
	sum = onesComplementSum(payload, sum)

	csum := foldChecksum(sum)
	if csum == 0 {
		csum = 0xFFFF
	}
	return csum, nil
}

// RecomputeUDPChecksum recomputes and writes the UDP checksum.
func (h *HeaderView) RecomputeUDPChecksum() error {
	csum, err := h.UDPChecksumValue()
	if err != nil {
		return err
	}
	return h.SetUDPChecksum(csum)
}
