// Package stream reconstructs a contiguous per-direction byte stream from
// out-of-order, possibly duplicated UDP datagrams, and splits the result
// into framed application messages.
package stream

// Seq is a stream sequence number. Arithmetic here is intentionally
// linear (no modular wraparound): one connection's lifetime is short
// enough that the 32-bit space never actually wraps in observed traffic.
type Seq uint32

// Unset is the sentinel value a freshly created Reassembler's start is
// initialised to, before it has observed any datagram.
const Unset Seq = 0xFFFFFFFF

// Add returns the sequence number n bytes after s.
func (s Seq) Add(n uint32) Seq {
	return Seq(uint32(s) + n)
}

// SubUint32 returns the sequence number n bytes before s.
//
// The Rust source this is ported from defines Seq - usize as addition
// (self.0 + other as u32), which is a bug relative to its own documented
// intent; this implements the intended subtraction instead.
func (s Seq) SubUint32(n uint32) Seq {
	return Seq(uint32(s) - n)
}

// Sub returns the number of bytes between other and s. Meaningful only
// when s >= other.
func (s Seq) Sub(other Seq) uint32 {
	return uint32(s) - uint32(other)
}

// Less reports whether s precedes other.
func (s Seq) Less(other Seq) bool {
	return uint32(s) < uint32(other)
}

// Max returns the larger of s and other.
func (s Seq) Max(other Seq) Seq {
	if uint32(s) > uint32(other) {
		return s
	}
	return other
}
