package rewrite_test

import (
	"bytes"
	"testing"

	"github.com/epdtry/tfh-mitm/internal/rewrite"
	"github.com/epdtry/tfh-mitm/internal/wire"
)

// buildStatusPacket constructs a minimal IPv4/UDP packet whose payload
// matches the shape Rewrite expects: 6 bytes of leading fields, four
// NUL-terminated strings, then a 4-byte tail where index 2 holds the
// current-player count and index 3 the maximum-player count.
func buildStatusPacket(t *testing.T, strs [4]string, tail [4]byte) *wire.PacketBuffer {
	t.Helper()

	var payload []byte
	payload = append(payload, 0, 0, 0, 0, 0, 0) // 6 leading bytes
	for _, s := range strs {
		payload = append(payload, []byte(s)...)
		payload = append(payload, 0)
	}
	payload = append(payload, tail[:]...)

	const ihl = 20
	total := ihl + 8 + len(payload)
	pb, err := wire.NewZeroed(total)
	if err != nil {
		t.Fatalf("NewZeroed: %v", err)
	}
	buf := pb.Bytes()
	buf[0] = 0x45 // version 4, IHL 5
	buf[9] = wire.ProtocolUDP
	view := wire.Overlay(buf)
	if err := view.SetIPv4TotalLen(uint16(total)); err != nil {
		t.Fatalf("SetIPv4TotalLen: %v", err)
	}
	if err := view.SetUDPLen(uint16(8 + len(payload))); err != nil {
		t.Fatalf("SetUDPLen: %v", err)
	}
	copy(buf[ihl+8:], payload)
	if err := view.RecomputeIPv4Checksum(); err != nil {
		t.Fatalf("RecomputeIPv4Checksum: %v", err)
	}
	if err := view.RecomputeUDPChecksum(); err != nil {
		t.Fatalf("RecomputeUDPChecksum: %v", err)
	}
	return pb
}

func TestRewriteZeroesPlayerCount(t *testing.T) {
	t.Parallel()

	pb := buildStatusPacket(t, [4]string{"My Server", "map01", "tfh", "1.0"}, [4]byte{0, 0, 7, 16})

	if err := rewrite.Rewrite(pb, nil); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	view := wire.Overlay(pb.Bytes())
	payload, err := view.UDPPayload()
	if err != nil {
		t.Fatalf("UDPPayload: %v", err)
	}

	i := 6
	for n := 0; n < 4; n++ {
		for payload[i] != 0 {
			i++
		}
		i++
	}
	if payload[i+2] != 0 {
		t.Errorf("player count = %d, want 0", payload[i+2])
	}
}

func TestRewriteResizesServerName(t *testing.T) {
	t.Parallel()

	pb := buildStatusPacket(t, [4]string{"short", "map01", "tfh", "1.0"}, [4]byte{0, 0, 7, 16})
	originalLen := pb.Len()

	if err := rewrite.Rewrite(pb, []byte("a much longer server name")); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	if pb.Len() <= originalLen {
		t.Fatalf("Len() = %d, want > %d after growing replacement", pb.Len(), originalLen)
	}

	view := wire.Overlay(pb.Bytes())
	totalLen, err := view.IPv4TotalLen()
	if err != nil {
		t.Fatalf("IPv4TotalLen: %v", err)
	}
	if int(totalLen) != pb.Len() {
		t.Errorf("ipv4 total_len = %d, want %d", totalLen, pb.Len())
	}

	udpLen, err := view.UDPLen()
	if err != nil {
		t.Fatalf("UDPLen: %v", err)
	}
	ihl, err := view.IHL()
	if err != nil {
		t.Fatalf("IHL: %v", err)
	}
	if int(udpLen) != pb.Len()-ihl {
		t.Errorf("udp len = %d, want %d", udpLen, pb.Len()-ihl)
	}

	payload, err := view.UDPPayload()
	if err != nil {
		t.Fatalf("UDPPayload: %v", err)
	}
	if !bytes.HasPrefix(payload[6:], []byte("a much longer server name\x00map01")) {
		t.Errorf("payload after resize = %q, want replaced name followed by map01", payload[6:])
	}
}

func TestRewriteRejectsNonUDP(t *testing.T) {
	t.Parallel()

	pb, err := wire.NewZeroed(20)
	if err != nil {
		t.Fatalf("NewZeroed: %v", err)
	}
	buf := pb.Bytes()
	buf[0] = 0x45
	buf[9] = 6 // TCP, not UDP

	if err := rewrite.Rewrite(pb, nil); err == nil {
		t.Error("Rewrite on non-UDP packet succeeded, want error")
	}
}

func TestRewriteRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	const ihl = 20
	payload := []byte{0, 0, 0, 0, 0, 0, 'a', 'b'} // no NUL terminators at all
	pb, err := wire.NewZeroed(ihl + 8 + len(payload))
	if err != nil {
		t.Fatalf("NewZeroed: %v", err)
	}
	buf := pb.Bytes()
	buf[0] = 0x45
	buf[9] = wire.ProtocolUDP
	copy(buf[ihl+8:], payload)

	if err := rewrite.Rewrite(pb, nil); err == nil {
		t.Error("Rewrite on malformed payload succeeded, want error")
	}
}

func TestInStatusPortRange(t *testing.T) {
	t.Parallel()

	cases := map[uint16]bool{
		27009: false,
		27010: true,
		27020: true,
		27030: true,
		27031: false,
	}
	for port, want := range cases {
		if got := rewrite.InStatusPortRange(port); got != want {
			t.Errorf("InStatusPortRange(%d) = %v, want %v", port, got, want)
		}
	}
}
