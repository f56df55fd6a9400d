package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/relay"
	"github.com/epdtry/tfh-mitm/internal/stream"
	"github.com/epdtry/tfh-mitm/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errSideClosed = errors.New("fake side closed")

// fakeSide is a PacketSide backed by a fixed queue of packets; once
// drained, ReadPacket blocks until Close is called, then returns an
// error, matching a TUN device being closed underneath a reader.
type fakeSide struct {
	mu      sync.Mutex
	queue   [][]byte
	written [][]byte
	done    chan struct{}
}

func newFakeSide(packets ...[]byte) *fakeSide {
	return &fakeSide{queue: packets, done: make(chan struct{})}
}

func (f *fakeSide) ReadPacket(pb *wire.PacketBuffer) error {
	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		<-f.done
		return errSideClosed
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	return pb.Extend(next)
}

func (f *fakeSide) WritePacket(pb *wire.PacketBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, pb.Len())
	copy(cp, pb.Bytes())
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeSide) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeSide) Close() {
	close(f.done)
}

// recordingHandler is a minimal conn.Handler for exercising dispatch.
type recordingHandler struct {
	mu       sync.Mutex
	messages []stream.Message
}

func (r *recordingHandler) OnMessage(_ conn.Tuple, msg stream.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingHandler) OnTimeout(conn.Tuple) {}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// buildUDPPacket constructs a minimal IPv4/UDP packet; checksums are left
// at zero since no code under test validates them.
func buildUDPPacket(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payload []byte) []byte {
	const ihl = 20
	total := ihl + 8 + len(payload)
	buf := make([]byte, total)
	buf[0] = 0x45
	buf[9] = wire.ProtocolUDP
	view := wire.Overlay(buf)
	_ = view.SetIPv4TotalLen(uint16(total))
	copy(buf[12:16], srcIP[:])
	copy(buf[16:20], dstIP[:])
	wire.View.PutU16BE(buf[ihl:], 0, srcPort)
	wire.View.PutU16BE(buf[ihl:], 2, dstPort)
	wire.View.PutU16BE(buf[ihl:], 4, uint16(8+len(payload)))
	copy(buf[ihl+8:], payload)
	return buf
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRelayForwardsNonTFHPacketUnmodified(t *testing.T) {
	t.Parallel()

	pkt := buildUDPPacket([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 12345, 80, []byte("hello"))
	sideA := newFakeSide(pkt)
	sideB := newFakeSide()

	mgr := conn.New(&recordingHandler{})
	r := relay.New(sideA, sideB, mgr, nil, nil, relay.Config{ChannelDepth: 4, TimeoutTick: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return sideB.writtenCount() == 1 })

	sideB.mu.Lock()
	got := sideB.written[0]
	sideB.mu.Unlock()
	if len(got) != len(pkt) {
		t.Errorf("forwarded packet length = %d, want %d", len(got), len(pkt))
	}

	cancel()
	sideA.Close()
	sideB.Close()
	<-errCh
}

func TestRelayDispatchesTFHStreamToHandler(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 8+1)
	wire.View.PutU32BE(payload, 0, 0) // my_seq
	wire.View.PutU32BE(payload, 4, 0) // your_seq
	payload[8] = 0xAA

	pkt := buildUDPPacket([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 40000, 27015, payload)
	sideA := newFakeSide(pkt)
	sideB := newFakeSide()

	handler := &recordingHandler{}
	mgr := conn.New(handler)
	r := relay.New(sideA, sideB, mgr, nil, nil, relay.Config{ChannelDepth: 4, TimeoutTick: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return handler.count() == 1 })

	cancel()
	sideA.Close()
	sideB.Close()
	<-errCh
}

// TestRelayHonorsConfiguredTFHPortRange exercises a TFH port range that
// excludes the package defaults: a destination port inside the
// configured range, but outside the defaults, dispatches.
func TestRelayHonorsConfiguredTFHPortRange(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 8+1)
	wire.View.PutU32BE(payload, 0, 0)
	wire.View.PutU32BE(payload, 4, 0)
	payload[8] = 0xAA

	// Port 40500 is well outside DefaultPortMin/DefaultPortMax
	// (27010-27030); only a configured range covering it should dispatch.
	pkt := buildUDPPacket([4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2}, 50000, 40500, payload)
	sideA := newFakeSide(pkt)
	sideB := newFakeSide()

	handler := &recordingHandler{}
	mgr := conn.New(handler)
	r := relay.New(sideA, sideB, mgr, nil, nil, relay.Config{
		ChannelDepth: 4,
		TimeoutTick:  50 * time.Millisecond,
		TFHPortMin:   40000,
		TFHPortMax:   41000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	waitFor(t, func() bool { return handler.count() == 1 })

	cancel()
	sideA.Close()
	sideB.Close()
	<-errCh
}
