package conn_test

import (
	"sync"
	"testing"

	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/stream"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []stream.Message
	timeouts []conn.Tuple
}

func (r *recordingHandler) OnMessage(ct conn.Tuple, msg stream.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingHandler) OnTimeout(ct conn.Tuple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, ct)
}

func TestManagerCanonicalisesTuple(t *testing.T) {
	t.Parallel()

	clientIP := uint32(0x0a000001)
	serverIP := uint32(0x0a000002)

	t1 := conn.NewTuple(clientIP, 27015, serverIP, 27016, false)
	t2 := conn.NewTuple(serverIP, 27016, clientIP, 27015, true)

	if t1 != t2 {
		t.Errorf("canonicalised tuples differ: %v vs %v", t1, t2)
	}
	if t1.ClientIP != clientIP || t1.ServerIP != serverIP {
		t.Errorf("tuple = %+v, want client=%x server=%x", t1, clientIP, serverIP)
	}
}

func TestManagerHandleDispatchesPrologue(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	m := conn.New(h)

	m.Handle(0x0a000001, 27015, 0x0a000002, 27016, false, 0, 0, []byte{0x01, 0x00, 0x00, 0x00, 0x04})

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(h.messages))
	}
	if h.messages[0].Dir != stream.DirAB {
		t.Errorf("dir = %d, want DirAB", h.messages[0].Dir)
	}
}

func TestManagerCheckTimeoutKeepsFreshConnection(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	m := conn.New(h)

	m.Handle(0x0a000001, 1, 0x0a000002, 2, false, 0, 0, nil)
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after first connection", m.Len())
	}

	m.CheckTimeout()
	h.mu.Lock()
	gotTimeouts := len(h.timeouts)
	h.mu.Unlock()
	if gotTimeouts != 0 {
		t.Errorf("fresh connection was evicted: %d timeouts", gotTimeouts)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d after no-op timeout check, want 1", m.Len())
	}
}
