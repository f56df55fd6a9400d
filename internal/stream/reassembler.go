package stream

import (
	"encoding/binary"
	"log/slog"
)

// headerFixedLen is the size of the fixed message header read for
// opcode parsing: 6 bytes of fixed fields following the 4-byte frame
// length, padded out to 10 bytes to also hold the optional minor-opcode
// extension field for major == extendedOpcodeMajor.
const headerFixedLen = 10

// headerExtendedLen is headerFixedLen plus the 4-byte minor opcode field
// present when major == extendedOpcodeMajor.
const headerExtendedLen = headerFixedLen + 4

// extendedOpcodeMajor is the major opcode value whose messages carry an
// additional little-endian minor opcode field.
const extendedOpcodeMajor = 0x20

// Reassembler reconstructs one direction of a connection's byte stream
// from UDP datagrams that may arrive out of order, duplicated, or with
// gaps, and slices the contiguous prefix into framed Messages.
type Reassembler struct {
	start  Seq
	buf    []byte
	chunks chunkSet
	sync   bool

	logger *slog.Logger
}

// New returns an empty Reassembler. logger may be nil, in which case
// opcode-overflow warnings are discarded.
func New(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reassembler{
		start:  Unset,
		logger: logger,
	}
}

// HandlePacket admits one datagram's contribution: seq is the starting
// sequence of data in this stream's direction, ack is the most recent
// sequence this datagram's sender acknowledged having received on the
// reverse direction, and data is the datagram's stream payload.
func (r *Reassembler) HandlePacket(seq, ack Seq, data []byte) {
	if !r.sync && len(r.buf) == 0 {
		// Best-effort resync: let the first packet we see set our
		// position in the stream.
		r.start = seq
	}

	end := seq.Add(uint32(len(data)))
	if end.Less(r.start) {
		return // fully stale
	}

	var copySrc []byte
	var offset uint32
	if seq.Less(r.start) {
		adj := r.start.Sub(seq)
		if adj > uint32(len(data)) {
			adj = uint32(len(data))
		}
		copySrc = data[adj:]
		offset = 0
	} else {
		copySrc = data
		offset = seq.Sub(r.start)
	}
	r.spliceIntoBuf(copySrc, offset)

	if r.start == Seq(0) {
		r.sync = true
	}

	r.chunks.upsert(seq, uint32(len(data)), ack)
}

// spliceIntoBuf writes src into buf at offset, zero-filling any hole
// between the buffer's current length and offset.
func (r *Reassembler) spliceIntoBuf(src []byte, offset uint32) {
	need := int(offset) + len(src)
	if need > len(r.buf) {
		grown := make([]byte, need)
		copy(grown, r.buf)
		r.buf = grown
	}
	copy(r.buf[offset:], src)
}

// countAvail returns the length of the contiguous run starting at start,
// computed by sweeping chunks forward and breaking at the first chunk
// that leaves a gap.
func (r *Reassembler) countAvail() uint32 {
	end := r.start
	for _, c := range r.chunks.entries {
		if c.start.Less(end) || c.start == end {
			cend := c.start.Add(c.length)
			end = end.Max(cend)
			continue
		}
		break
	}
	return end.Sub(r.start)
}

// NextMessage returns the next complete framed message buffered, or nil
// if none is yet available. The first call after the stream has synced
// to sequence 0 returns a synthetic one-byte prologue message instead of
// trying to parse a frame.
func (r *Reassembler) NextMessage() *Message {
	avail := r.countAvail()

	if r.start == Seq(0) && avail >= 1 {
		body := []byte{r.buf[0]}
		r.buf = r.buf[1:]
		r.start = r.start.Add(1)
		return &Message{Major: 0, Minor: 0, Dir: DirUnstamped, Ack: 0, Len: 1, Body: body}
	}

	if avail < 4 {
		return nil
	}

	frameLen := binary.BigEndian.Uint32(r.buf[0:4])
	if avail < 4+frameLen {
		return nil
	}

	end := r.start.Add(4 + frameLen)

	headerReadLen := frameLen
	if headerReadLen > headerFixedLen {
		headerReadLen = headerFixedLen
	}
	var rawHeader [headerFixedLen]byte
	copy(rawHeader[:headerReadLen], r.buf[4:4+headerReadLen])

	major := binary.BigEndian.Uint32(rawHeader[2:6])
	var minor uint32
	if major == extendedOpcodeMajor {
		minor = binary.LittleEndian.Uint32(rawHeader[6:10])
	}
	if major > 0xff {
		r.logger.Warn("major opcode out of range", slog.Uint64("major", uint64(major)))
	}
	if minor > 0xff {
		r.logger.Warn("minor opcode out of range", slog.Uint64("minor", uint64(minor)))
	}

	headerLen := headerFixedLen
	if major == extendedOpcodeMajor {
		headerLen = headerExtendedLen
	}
	bodyLen := int(4+frameLen) - headerLen
	if bodyLen < 0 {
		bodyLen = 0
	}
	body := make([]byte, bodyLen)
	if headerLen+bodyLen <= len(r.buf) {
		copy(body, r.buf[headerLen:headerLen+bodyLen])
	}

	ack := Seq(0)
	for {
		front, ok := r.chunks.front()
		if !ok || !front.start.Less(end) {
			break
		}
		ack = ack.Max(front.ack)
		if front.start.Add(front.length) == end || front.start.Add(front.length).Less(end) {
			r.chunks.popFront()
		} else {
			break
		}
	}

	consumed := end.Sub(r.start)
	if int(consumed) <= len(r.buf) {
		r.buf = r.buf[consumed:]
	} else {
		r.buf = r.buf[:0]
	}
	r.start = end

	return &Message{
		Major: uint8(major), //nolint:gosec // truncation intentional, see Open Questions
		Minor: uint8(minor), //nolint:gosec // truncation intentional, see Open Questions
		Dir:   DirUnstamped,
		Ack:   uint32(ack),
		Len:   uint32(bodyLen),
		Body:  body,
	}
}
