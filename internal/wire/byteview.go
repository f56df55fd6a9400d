// Package wire provides zero-copy, typed overlays on top of fixed-capacity
// packet buffers: endian-aware field accessors, IPv4/UDP header projections,
// and one's-complement checksum computation.
package wire

import "encoding/binary"

// ByteView is a thin typed accessor over a byte slice. It carries no
// storage of its own; callers supply the backing slice on every call so a
// single ByteView can be reused across many buffers.
type ByteView struct{}

// U8 reads a single byte at offset i.
func (ByteView) U8(b []byte, i int) uint8 { return b[i] }

// PutU8 writes a single byte at offset i.
func (ByteView) PutU8(b []byte, i int, v uint8) { b[i] = v }

// U16BE reads a big-endian uint16 at offset i.
func (ByteView) U16BE(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i : i+2]) }

// PutU16BE writes a big-endian uint16 at offset i.
func (ByteView) PutU16BE(b []byte, i int, v uint16) { binary.BigEndian.PutUint16(b[i:i+2], v) }

// U32BE reads a big-endian uint32 at offset i.
func (ByteView) U32BE(b []byte, i int) uint32 { return binary.BigEndian.Uint32(b[i : i+4]) }

// PutU32BE writes a big-endian uint32 at offset i.
func (ByteView) PutU32BE(b []byte, i int, v uint32) { binary.BigEndian.PutUint32(b[i:i+4], v) }

// U32LE reads a little-endian uint32 at offset i.
func (ByteView) U32LE(b []byte, i int) uint32 { return binary.LittleEndian.Uint32(b[i : i+4]) }

// PutU32LE writes a little-endian uint32 at offset i.
func (ByteView) PutU32LE(b []byte, i int, v uint32) { binary.LittleEndian.PutUint32(b[i:i+4], v) }

// View is the package-level ByteView instance; stateless, safe for
// concurrent use, provided so callers don't need to construct one.
var View ByteView
