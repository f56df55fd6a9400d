// Package conn multiplexes bidirectional TFH streams by connection
// 4-tuple, dispatches assembled messages to a handler, and evicts idle
// connections.
package conn

import "fmt"

// Tuple identifies a bidirectional connection by its canonicalised IPv4
// 4-tuple: the client side is always first, the server side always
// second, regardless of which direction a given datagram travelled.
type Tuple struct {
	ClientIP   uint32
	ClientPort uint16
	ServerIP   uint32
	ServerPort uint16
}

// String renders the tuple as dotted-quad client-ip:port-server-ip:port,
// e.g. "10.0.0.1:40000-10.0.0.2:27015".
func (t Tuple) String() string {
	return fmt.Sprintf("%s:%d-%s:%d", ipString(t.ClientIP), t.ClientPort, ipString(t.ServerIP), t.ServerPort)
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// NewTuple canonicalises a UDP packet's source/destination into a Tuple.
// flip is false when the packet travelled client-to-server (source is
// the client) and true when it travelled server-to-client (source is
// the server, so the addresses must be swapped to keep the client side
// first).
func NewTuple(srcIP uint32, srcPort uint16, dstIP uint32, dstPort uint16, flip bool) Tuple {
	if !flip {
		return Tuple{ClientIP: srcIP, ClientPort: srcPort, ServerIP: dstIP, ServerPort: dstPort}
	}
	return Tuple{ClientIP: dstIP, ClientPort: dstPort, ServerIP: srcIP, ServerPort: srcPort}
}
