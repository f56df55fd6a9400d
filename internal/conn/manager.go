package conn

import (
	"sync"
	"time"

	"github.com/epdtry/tfh-mitm/internal/stream"
)

// Timeout is the idle duration after which a connection becomes eligible
// for eviction.
const Timeout = 60 * time.Second

// streamConn holds both directions of one connection's reassembly state
// plus the time its most recent datagram arrived.
type streamConn struct {
	ab, ba     *stream.Reassembler
	lastPacket time.Time
}

// Manager maps connection tuples to bidirectional reassemblers, feeds
// datagrams into the correct direction, and drains completed messages to
// a Handler. A Manager is meant to be owned exclusively by one processor
// goroutine; its map is not safe for unsynchronised concurrent mutation,
// matching the single-owner contract of the relay's processor task. A
// mutex still guards it so CheckTimeout can be driven by a separate
// ticker goroutine without the caller having to reason about ordering.
type Manager struct {
	mu      sync.Mutex
	entries map[Tuple]*streamConn
	handler Handler
	timeout time.Duration
}

// New returns a Manager dispatching to handler, with the idle timeout
// set to Timeout. Call SetTimeout to override it (e.g. from config).
func New(handler Handler) *Manager {
	return &Manager{
		entries: make(map[Tuple]*streamConn),
		handler: handler,
		timeout: Timeout,
	}
}

// SetTimeout overrides the idle duration CheckTimeout evicts on. d <= 0
// is ignored, leaving the current timeout in place.
func (m *Manager) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// Handle admits one TFH stream datagram. seq/ack/data are this
// direction's stream sequence, the reverse-direction sequence it
// acknowledged, and the stream payload. flip selects canonicalisation:
// false means src is the client, true means src is the server.
func (m *Manager) Handle(srcIP uint32, srcPort uint16, dstIP uint32, dstPort uint16, flip bool, seq, ack uint32, data []byte) {
	ct := NewTuple(srcIP, srcPort, dstIP, dstPort, flip)

	m.mu.Lock()
	sc, ok := m.entries[ct]
	if !ok {
		sc = &streamConn{ab: stream.New(nil), ba: stream.New(nil)}
		m.entries[ct] = sc
	}
	sc.lastPacket = time.Now()
	m.mu.Unlock()

	var target *stream.Reassembler
	if !flip {
		target = sc.ab
	} else {
		target = sc.ba
	}
	target.HandlePacket(stream.Seq(seq), stream.Seq(ack), data)

	for {
		msg := sc.ab.NextMessage()
		if msg == nil {
			break
		}
		msg.Dir = stream.DirAB
		m.handler.OnMessage(ct, *msg)
	}
	for {
		msg := sc.ba.NextMessage()
		if msg == nil {
			break
		}
		msg.Dir = stream.DirBA
		m.handler.OnMessage(ct, *msg)
	}
}

// CheckTimeout evicts every connection whose last datagram arrived at
// least the idle timeout ago (Timeout, unless SetTimeout changed it),
// firing OnTimeout for each before removing it.
// Eviction collects the timed-out keys in one pass, then removes them in
// a second pass, so eviction never observes an already-removed entry.
func (m *Manager) CheckTimeout() {
	now := time.Now()

	m.mu.Lock()
	timeout := m.timeout
	var expired []Tuple
	for ct, sc := range m.entries {
		if now.Sub(sc.lastPacket) >= timeout {
			expired = append(expired, ct)
		}
	}
	m.mu.Unlock()

	for _, ct := range expired {
		m.handler.OnTimeout(ct)
		m.mu.Lock()
		delete(m.entries, ct)
		m.mu.Unlock()
	}
}

// Len returns the number of currently tracked connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
