package stream_test

import (
	"bytes"
	"testing"

	"github.com/epdtry/tfh-mitm/internal/stream"
)

func TestReassemblerPrologue(t *testing.T) {
	t.Parallel()

	r := stream.New(nil)
	r.HandlePacket(0, 0, []byte{0xAA, 0x00, 0x00, 0x00, 0x04})

	msg := r.NextMessage()
	if msg == nil {
		t.Fatalf("expected prologue message, got nil")
	}
	if msg.Dir != stream.DirUnstamped || msg.Len != 1 || !bytes.Equal(msg.Body, []byte{0xAA}) {
		t.Errorf("prologue message = %+v, want dir=0xff len=1 body=[0xAA]", msg)
	}

	// Second call should have advanced start to 1 and begin framing from
	// there; no complete frame is buffered yet (only 4 bytes remain: the
	// frame length prefix, no body), so it should return nil.
	if m := r.NextMessage(); m != nil {
		t.Errorf("expected nil after prologue with incomplete frame, got %+v", m)
	}
}

func TestReassemblerOutOfOrder(t *testing.T) {
	t.Parallel()

	r := stream.New(nil)

	// Stream layout: the one-byte prologue at seq 0, then one frame
	// (major != 0x20, so header_len == 10 bytes from the frame start):
	// 4-byte length prefix (value 8) + 2 unused bytes + 4-byte major
	// opcode (BE, at frame offset 6) + 2-byte body, 12 bytes total. We
	// deliver the body first, then the prologue and frame head.
	head := []byte{
		0x5A,                   // prologue byte
		0x00, 0x00, 0x00, 0x08, // frame_len = 8
		0x00, 0x00, // unused
		0x00, 0x00, 0x00, 0x01, // major = 1, BE u32
	}
	bodyTail := []byte{0xCA, 0xFE}

	r.HandlePacket(stream.Seq(len(head)), 0, bodyTail)
	r.HandlePacket(0, 0, head)

	if p := r.NextMessage(); p == nil || !bytes.Equal(p.Body, []byte{0x5A}) {
		t.Fatalf("expected prologue message with body [0x5A], got %+v", p)
	}

	msg := r.NextMessage()
	if msg == nil {
		t.Fatalf("expected one assembled message, got nil")
	}
	if msg.Major != 1 {
		t.Errorf("major = %d, want 1", msg.Major)
	}
	if !bytes.Equal(msg.Body, bodyTail) {
		t.Errorf("body = %v, want %v", msg.Body, bodyTail)
	}

	if m := r.NextMessage(); m != nil {
		t.Errorf("expected no further message, got %+v", m)
	}
}

func TestReassemblerDuplicateIdempotent(t *testing.T) {
	t.Parallel()

	datagram := []byte{0xAA, 0x00, 0x00, 0x00, 0x04}

	r1 := stream.New(nil)
	r1.HandlePacket(0, 0, datagram)
	first := r1.NextMessage()

	r2 := stream.New(nil)
	r2.HandlePacket(0, 0, datagram)
	r2.HandlePacket(0, 0, datagram)
	r2.HandlePacket(0, 0, datagram)
	second := r2.NextMessage()

	if first == nil || second == nil {
		t.Fatalf("expected messages from both reassemblers, got first=%v second=%v", first, second)
	}
	if !bytes.Equal(first.Body, second.Body) || first.Len != second.Len {
		t.Errorf("duplicate delivery produced different result: %+v vs %+v", first, second)
	}
}

func TestReassemblerReorderToleranceMatchesInOrder(t *testing.T) {
	t.Parallel()

	// A prologue byte followed by one 8-byte frame (frame_len=4, major=0,
	// no body), as two non-overlapping datagrams delivered in order vs.
	// reverse order.
	prologue := []byte{0x7E}
	frameHead := []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00} // frame_len=4, no body

	collect := func(deliveries []struct {
		seq  stream.Seq
		data []byte
	}) []stream.Message {
		r := stream.New(nil)
		for _, d := range deliveries {
			r.HandlePacket(d.seq, 0, d.data)
		}
		var got []stream.Message
		for {
			m := r.NextMessage()
			if m == nil {
				break
			}
			got = append(got, *m)
		}
		return got
	}

	type delivery = struct {
		seq  stream.Seq
		data []byte
	}

	inOrder := collect([]delivery{
		{0, prologue},
		{1, frameHead},
	})
	reversed := collect([]delivery{
		{1, frameHead},
		{0, prologue},
	})

	if len(inOrder) != len(reversed) || len(inOrder) != 2 {
		t.Fatalf("expected 2 messages both ways, got in-order=%d reversed=%d", len(inOrder), len(reversed))
	}
	for i := range inOrder {
		if inOrder[i].Major != reversed[i].Major || !bytes.Equal(inOrder[i].Body, reversed[i].Body) {
			t.Errorf("message %d differs by delivery order: %+v vs %+v", i, inOrder[i], reversed[i])
		}
	}
}
