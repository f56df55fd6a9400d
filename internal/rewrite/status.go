// Package rewrite implements concrete packet-mutation examples built on
// top of the wire package's header/checksum machinery.
package rewrite

import (
	"errors"
	"fmt"

	"github.com/epdtry/tfh-mitm/internal/wire"
)

// StatusPortMin and StatusPortMax bound the well-known UDP source port
// range a B-to-A status reply is expected to arrive on.
const (
	StatusPortMin = 27010
	StatusPortMax = 27030
)

var (
	// ErrNotUDP indicates the packet handed to Rewrite was not UDP.
	ErrNotUDP = errors.New("status rewriter: packet is not UDP")

	// ErrMalformedPayload indicates the payload did not contain four
	// NUL-terminated strings followed by a player-count field.
	ErrMalformedPayload = errors.New("status rewriter: could not locate player count field")

	// ErrResizeOverflow indicates a replacement string would grow the
	// packet past its fixed capacity.
	ErrResizeOverflow = errors.New("status rewriter: resized packet exceeds capacity")
)

// InStatusPortRange reports whether port falls inside the status-reply
// source port range this rewriter acts on.
func InStatusPortRange(port uint16) bool {
	return port >= StatusPortMin && port <= StatusPortMax
}

// Rewrite edits a B-to-A status reply packet in place. It walks the UDP
// payload from offset 6, skips four NUL-terminated strings, and zeroes
// the current-player-count byte that follows them. If replacement is
// non-nil, the first of those four strings (conventionally the server
// name) is replaced with it; this resizes the packet, updating
// ipv4.total_len and udp.len and recomputing both checksums.
//
// Any malformed input returns an error and leaves pb unchanged; the
// caller is expected to forward the original packet, per the fail-open
// data path policy.
func Rewrite(pb *wire.PacketBuffer, replacement []byte) error {
	view := wire.Overlay(pb.Bytes())
	if !view.IsUDP() {
		return fmt.Errorf("rewrite: %w", ErrNotUDP)
	}

	payload, err := view.UDPPayload()
	if err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}

	const firstStringStart = 6
	i := firstStringStart
	firstStringEnd := -1
	for n := 0; n < 4; n++ {
		for i < len(payload) && payload[i] != 0 {
			i++
		}
		if i >= len(payload) {
			return fmt.Errorf("rewrite: %w", ErrMalformedPayload)
		}
		if n == 0 {
			firstStringEnd = i
		}
		i++ // skip the NUL terminator
	}

	if i+3 >= len(payload) {
		return fmt.Errorf("rewrite: %w", ErrMalformedPayload)
	}
	payload[i+2] = 0 // zero the current-player count

	if replacement == nil {
		return nil
	}

	return resizeFirstString(pb, view, firstStringStart, firstStringEnd, replacement)
}

// resizeFirstString replaces payload[start:end] (the first NUL-terminated
// string, not including its NUL) with replacement, shifting every byte
// after it by the resulting length delta, then updates the IPv4 total
// length, UDP length, and both checksums.
func resizeFirstString(pb *wire.PacketBuffer, view *wire.HeaderView, start, end int, replacement []byte) error {
	ihl, err := view.IHL()
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	payloadOff := ihl + 8 // UDP header is always 8 bytes.

	oldLen := end - start
	delta := len(replacement) - oldLen
	newTotal := pb.Len() + delta
	if newTotal > pb.Cap() || newTotal < 0 {
		return fmt.Errorf("resize: %w", ErrResizeOverflow)
	}

	full := pb.Bytes()
	tailStart := payloadOff + end
	tail := make([]byte, len(full)-tailStart)
	copy(tail, full[tailStart:])

	newLen := payloadOff + start + len(replacement) + len(tail)
	if err := pb.SetLen(newLen); err != nil {
		return fmt.Errorf("resize: %w", err)
	}

	full = pb.Bytes()
	copy(full[payloadOff+start:], replacement)
	copy(full[payloadOff+start+len(replacement):], tail)

	// Re-overlay: pb's logical length changed, and the view passed in
	// still aliases the pre-resize slice length.
	view = wire.Overlay(full)

	totalLen, err := view.IPv4TotalLen()
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if err := view.SetIPv4TotalLen(uint16(int(totalLen) + delta)); err != nil { //nolint:gosec // bounded by Capacity
		return fmt.Errorf("resize: %w", err)
	}

	udpLen, err := view.UDPLen()
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if err := view.SetUDPLen(uint16(int(udpLen) + delta)); err != nil { //nolint:gosec // bounded by Capacity
		return fmt.Errorf("resize: %w", err)
	}

	if err := view.RecomputeIPv4Checksum(); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if err := view.RecomputeUDPChecksum(); err != nil {
		return fmt.Errorf("resize: %w", err)
	}

	return nil
}
