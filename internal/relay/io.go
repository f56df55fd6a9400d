package relay

import "github.com/epdtry/tfh-mitm/internal/wire"

// PacketSide is one TUN endpoint of the relay: a source and sink of raw
// IP packets with no kernel header. netio.Tun implements it, whether
// opened with netio.OpenTun or received with netio.ReceiveTun.
type PacketSide interface {
	// ReadPacket blocks until one packet is available and stores it in
	// pb, replacing its previous contents. Returns a non-nil error (and
	// leaves pb's contents unspecified) when the device is closed or the
	// read otherwise fails; per spec this is fatal to the owning task.
	ReadPacket(pb *wire.PacketBuffer) error

	// WritePacket writes pb's logical contents to the device.
	WritePacket(pb *wire.PacketBuffer) error
}

// inputTag distinguishes which side a packet arrived from.
type inputTag int

const (
	fromA inputTag = iota
	fromB
)

// Input is one packet read from a side, pending processing.
type Input struct {
	Tag inputTag
	Buf *wire.PacketBuffer
}

// outputTag distinguishes which side a packet should be written to.
type outputTag int

const (
	toA outputTag = iota
	toB
)

// Output is one packet ready to be written to a side.
type Output struct {
	Tag outputTag
	Buf *wire.PacketBuffer
}
