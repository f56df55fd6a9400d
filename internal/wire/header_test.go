package wire_test

import (
	"encoding/hex"
	"testing"

	"github.com/epdtry/tfh-mitm/internal/wire"
)

func TestIPv4HeaderChecksumFixture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hdr  string
		want uint16
	}{
		{
			name: "literal_fixture",
			hdr:  "450000281c4640004006000" + "0ac100a63ac100a0c",
			want: 0xb1e6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := hex.DecodeString(tt.hdr)
			if err != nil {
				t.Fatalf("decode fixture hex: %v", err)
			}
			if len(raw) != 20 {
				t.Fatalf("fixture length = %d, want 20", len(raw))
			}

			view := wire.Overlay(raw)
			got, err := view.IPv4HeaderChecksum()
			if err != nil {
				t.Fatalf("IPv4HeaderChecksum: %v", err)
			}
			if got != tt.want {
				t.Errorf("checksum = 0x%04x, want 0x%04x", got, tt.want)
			}

			// The header already carries this checksum at bytes 10-11;
			// confirm it round-trips through SetIPv4Checksum too.
			if err := view.SetIPv4Checksum(0); err != nil {
				t.Fatalf("SetIPv4Checksum(0): %v", err)
			}
			got2, err := view.IPv4HeaderChecksum()
			if err != nil {
				t.Fatalf("IPv4HeaderChecksum after zeroing: %v", err)
			}
			if got2 != tt.want {
				t.Errorf("checksum after zeroing field = 0x%04x, want 0x%04x", got2, tt.want)
			}
		})
	}
}

func TestUDPChecksumZeroBecomesAllOnes(t *testing.T) {
	t.Parallel()

	// Build a minimal IPv4/UDP packet whose payload makes the computed
	// checksum fold to exactly zero, then verify it is transmitted as
	// 0xFFFF rather than 0x0000.
	buf := make([]byte, 20+8+2)
	buf[0] = 0x45
	wire.View.PutU16BE(buf, 2, uint16(len(buf))) // total_len
	buf[9] = wire.ProtocolUDP
	wire.View.PutU32BE(buf, 12, 0x0a000001)
	wire.View.PutU32BE(buf, 16, 0x0a000002)

	udp := buf[20:]
	wire.View.PutU16BE(udp, 0, 1234)
	wire.View.PutU16BE(udp, 2, 5678)
	wire.View.PutU16BE(udp, 4, uint16(len(udp)))
	// payload bytes chosen so the one's-complement sum folds to 0xFFFF
	// before complementing, i.e. computed checksum == 0x0000.
	udp[8] = 0xFF
	udp[9] = 0xFF

	view := wire.Overlay(buf)
	if !view.IsUDP() {
		t.Fatalf("expected IsUDP() true")
	}

	got, err := view.UDPChecksumValue()
	if err != nil {
		t.Fatalf("UDPChecksumValue: %v", err)
	}
	if got != 0xFFFF {
		t.Errorf("computed checksum 0x0000 must be transmitted as 0xFFFF, got 0x%04x", got)
	}
}

func TestPacketBufferBounds(t *testing.T) {
	t.Parallel()

	pb := wire.NewEmpty()
	if pb.Len() != 0 {
		t.Fatalf("new empty buffer len = %d, want 0", pb.Len())
	}

	if err := pb.Extend(make([]byte, wire.Capacity)); err != nil {
		t.Fatalf("extend to capacity: %v", err)
	}
	if err := pb.Push(0x01); err == nil {
		t.Errorf("push at capacity should fail")
	}

	if err := pb.Truncate(10); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if pb.Len() != 10 {
		t.Errorf("len after truncate = %d, want 10", pb.Len())
	}
	if err := pb.Truncate(11); err == nil {
		t.Errorf("truncate past current length should fail")
	}
}

func TestHeaderViewRejectsNonIPv4(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 20)
	buf[0] = 0x60 // version 6
	view := wire.Overlay(buf)

	if view.IsIPv4() {
		t.Errorf("IsIPv4() true for version 6 header")
	}
	if !view.IsIPv6() {
		t.Errorf("IsIPv6() false for version 6 header")
	}
	if _, err := view.IHL(); err == nil {
		t.Errorf("IHL() should fail on a non-IPv4 header")
	}
}
