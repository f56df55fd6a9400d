package stream

import "encoding/binary"

// DirAB marks a message consumed from the A-to-B direction.
const DirAB = 0

// DirBA marks a message consumed from the B-to-A direction.
const DirBA = 1

// DirUnstamped is the direction byte the reassembler itself emits; the
// connection manager overwrites it with DirAB or DirBA before dispatch.
const DirUnstamped = 0xff

// Message is one framed application record recovered from a reassembled
// stream, or the synthetic one-byte prologue each direction sends before
// framed messages begin.
type Message struct {
	Major uint8
	Minor uint8
	Dir   uint8
	Ack   uint32
	Len   uint32
	Body  []byte
}

// HeaderBytes encodes the message header as the 12 big-endian bytes
// persisted ahead of the body in a .tfhlog file: major, minor, dir, a
// zero padding byte, ack, len.
func (m Message) HeaderBytes() [12]byte {
	var b [12]byte
	b[0] = m.Major
	b[1] = m.Minor
	b[2] = m.Dir
	// b[3] is left zero; it pads dir out to a 4-byte-aligned ack field.
	binary.BigEndian.PutUint32(b[4:8], m.Ack)
	binary.BigEndian.PutUint32(b[8:12], m.Len)
	return b
}
