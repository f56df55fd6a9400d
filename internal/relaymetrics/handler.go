package relaymetrics

import (
	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/stream"
)

// handlerWrapper decorates a conn.Handler with Collector updates, so any
// handler implementation gets message/eviction counters for free.
type handlerWrapper struct {
	inner conn.Handler
	c     *Collector
}

// WrapHandler returns a conn.Handler that forwards to inner and records
// message/eviction counts on c. If c is nil, the wrapper is a no-op pass
// through inner unchanged.
func WrapHandler(inner conn.Handler, c *Collector) conn.Handler {
	if c == nil {
		return inner
	}
	return &handlerWrapper{inner: inner, c: c}
}

func (w *handlerWrapper) OnMessage(ct conn.Tuple, msg stream.Message) {
	w.c.IncMessagesAssembled()
	w.inner.OnMessage(ct, msg)
}

func (w *handlerWrapper) OnTimeout(ct conn.Tuple) {
	w.c.IncConnectionsEvicted()
	w.inner.OnTimeout(ct)
}
