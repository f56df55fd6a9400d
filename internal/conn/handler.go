package conn

import "github.com/epdtry/tfh-mitm/internal/stream"

// Handler is the polymorphic dispatch target for assembled messages and
// timeout notifications. It is the only dynamic-dispatch site in the
// connection manager; implementations that know their handler set at
// build time may prefer a closed variant, but a small interface is fine
// here since dispatch is off the hot per-byte path.
type Handler interface {
	// OnMessage is called once per fully reassembled message, in the
	// order each stream direction produced it.
	OnMessage(ct Tuple, msg stream.Message)

	// OnTimeout is called once per connection when it is evicted for
	// idleness.
	OnTimeout(ct Tuple)
}
