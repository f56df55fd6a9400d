package wire

import (
	"errors"
	"fmt"
)

// Capacity is the fixed capacity of a PacketBuffer: the link MTU with no
// kernel packet-information header (IFF_NO_PI), per the canonical TUN
// framing this relay uses.
const Capacity = 1500

// ErrBufferFull indicates a push was attempted with no remaining capacity.
var ErrBufferFull = errors.New("packet buffer: at capacity")

// ErrLengthOutOfRange indicates a requested length exceeds Capacity.
var ErrLengthOutOfRange = errors.New("packet buffer: length exceeds capacity")

// PacketBuffer owns a fixed-capacity byte array with an explicit logical
// length. Buffers are handed off by move across goroutine boundaries: a
// reader task fills one, the processor task may rewrite it in place, and
// exactly one of them ever holds it at a time.
type PacketBuffer struct {
	data [Capacity]byte
	len  int
}

// NewEmpty returns a PacketBuffer with zero length.
func NewEmpty() *PacketBuffer {
	return &PacketBuffer{}
}

// NewZeroed returns a PacketBuffer of length n, zero-filled. n must not
// exceed Capacity.
func NewZeroed(n int) (*PacketBuffer, error) {
	if n < 0 || n > Capacity {
		return nil, fmt.Errorf("new zeroed buffer len %d: %w", n, ErrLengthOutOfRange)
	}
	return &PacketBuffer{len: n}, nil
}

// Len returns the current logical length.
func (p *PacketBuffer) Len() int { return p.len }

// SetLen sets the logical length without touching the contents. The
// caller guarantees n <= Capacity and that bytes below n are initialised.
func (p *PacketBuffer) SetLen(n int) error {
	if n < 0 || n > Capacity {
		return fmt.Errorf("set len %d: %w", n, ErrLengthOutOfRange)
	}
	p.len = n
	return nil
}

// Push appends a single byte, failing if the buffer is already at
// Capacity.
func (p *PacketBuffer) Push(b byte) error {
	if p.len >= Capacity {
		return ErrBufferFull
	}
	p.data[p.len] = b
	p.len++
	return nil
}

// Extend appends bytes, failing (with no partial write) if they would not
// all fit.
func (p *PacketBuffer) Extend(bytes []byte) error {
	if p.len+len(bytes) > Capacity {
		return fmt.Errorf("extend by %d bytes at len %d: %w", len(bytes), p.len, ErrBufferFull)
	}
	copy(p.data[p.len:], bytes)
	p.len += len(bytes)
	return nil
}

// Truncate shortens the buffer to n bytes. n must be <= the current
// length.
func (p *PacketBuffer) Truncate(n int) error {
	if n < 0 || n > p.len {
		return fmt.Errorf("truncate to %d at len %d: %w", n, p.len, ErrLengthOutOfRange)
	}
	p.len = n
	return nil
}

// Bytes returns the logical slice of the buffer. The returned slice
// aliases the buffer's storage: mutations through it are visible to
// subsequent reads, matching the zero-copy overlay contract HeaderView
// relies on.
func (p *PacketBuffer) Bytes() []byte { return p.data[:p.len] }

// Cap returns the fixed capacity of every PacketBuffer.
func (p *PacketBuffer) Cap() int { return Capacity }
