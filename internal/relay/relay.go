// Package relay wires two PacketSides together through the TFH stream
// core: a reader task per side, one processor task that owns the
// connection manager, and a writer task, coordinated by channels and
// supervised by an errgroup. This mirrors the reader/processor/writer
// task split of the relay this package replaces, generalized from
// per-process threads with unbounded queues to goroutines with bounded,
// drop-on-full channels.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/relaymetrics"
	"github.com/epdtry/tfh-mitm/internal/rewrite"
	"github.com/epdtry/tfh-mitm/internal/wire"
)

// Defaults for Config fields left unset.
const (
	DefaultChannelDepth = 256
	DefaultTimeoutTick  = time.Second
)

// Config tunes the relay's channel sizing and timeout cadence. Zero
// values are replaced by package defaults in New.
type Config struct {
	// ChannelDepth bounds the input and output channels. On overflow, a
	// packet is dropped and logged rather than blocking the reader,
	// since a blocked reader causes kernel-side TUN drops indistinguishable
	// from real loss.
	ChannelDepth int

	// TimeoutTick is how often the connection manager's idle sweep runs.
	TimeoutTick time.Duration

	// StatusPortMin/Max bound the B-to-A source port range the status
	// rewriter acts on. Zero values fall back to rewrite.StatusPortMin/Max.
	StatusPortMin, StatusPortMax uint16

	// TFHPortMin/Max bound the UDP port range a datagram must have a
	// source or destination port in to be treated as TFH stream
	// traffic. Zero values fall back to DefaultPortMin/DefaultPortMax.
	TFHPortMin, TFHPortMax uint16
}

// Relay bridges sideA and sideB, dispatching TFH stream datagrams to mgr
// and rewriting eligible B-to-A status replies in place.
type Relay struct {
	sideA, sideB PacketSide
	mgr          *conn.Manager
	metrics      *relaymetrics.Collector
	logger       *slog.Logger
	cfg          Config

	inputCh  chan Input
	outputCh chan Output
}

// New returns a Relay. Once Run is called, mgr is driven by the Relay's
// processor task and its timeout-sweep task; the caller must not use it
// concurrently.
func New(sideA, sideB PacketSide, mgr *conn.Manager, metrics *relaymetrics.Collector, logger *slog.Logger, cfg Config) *Relay {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = DefaultChannelDepth
	}
	if cfg.TimeoutTick <= 0 {
		cfg.TimeoutTick = DefaultTimeoutTick
	}
	if cfg.StatusPortMin == 0 && cfg.StatusPortMax == 0 {
		cfg.StatusPortMin, cfg.StatusPortMax = rewrite.StatusPortMin, rewrite.StatusPortMax
	}
	if cfg.TFHPortMin == 0 && cfg.TFHPortMax == 0 {
		cfg.TFHPortMin, cfg.TFHPortMax = DefaultPortMin, DefaultPortMax
	}

	return &Relay{
		sideA:    sideA,
		sideB:    sideB,
		mgr:      mgr,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "relay")),
		cfg:      cfg,
		inputCh:  make(chan Input, cfg.ChannelDepth),
		outputCh: make(chan Output, cfg.ChannelDepth),
	}
}

// Run starts the reader, processor, writer, and timeout tasks and blocks
// until ctx is cancelled or one of them returns an error. A read or write
// I/O error is fatal and propagates out of Run; ctx cancellation returns
// ctx.Err().
func (r *Relay) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.readLoop(gCtx, r.sideA, fromA, "a") })
	g.Go(func() error { return r.readLoop(gCtx, r.sideB, fromB, "b") })
	g.Go(func() error { return r.processLoop(gCtx) })
	g.Go(func() error { return r.writeLoop(gCtx) })
	g.Go(func() error { return r.timeoutLoop(gCtx) })

	return g.Wait()
}

// readLoop blocks reading packets from side and forwards them to the
// input channel, tagged with which side they arrived from. Returns the
// read error (fatal) when one occurs, or ctx.Err() on cancellation.
func (r *Relay) readLoop(ctx context.Context, side PacketSide, tag inputTag, sideName string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pb := wire.NewEmpty()
		if err := side.ReadPacket(pb); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("read failed", slog.String("side", sideName), slog.String("error", err.Error()))
			return fmt.Errorf("read side %s: %w", sideName, err)
		}
		r.metrics.IncRead(sideName)

		select {
		case r.inputCh <- Input{Tag: tag, Buf: pb}:
		case <-ctx.Done():
			return ctx.Err()
		default:
			r.metrics.IncDropped("input")
			r.logger.Warn("dropped packet: input channel full", slog.String("side", sideName))
		}
	}
}

// processLoop drains the input channel in arrival order, dispatches each
// datagram through the connection manager and status rewriter, and
// forwards it to the output channel for the opposite side.
func (r *Relay) processLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-r.inputCh:
			if !ok {
				return nil
			}
			r.processOne(in)
		}
	}
}

func (r *Relay) processOne(in Input) {
	view := wire.Overlay(in.Buf.Bytes())

	flip := in.Tag == fromB
	outTag := toB
	if flip {
		outTag = toA
	}

	DispatchTFH(r.mgr, in.Buf, flip, r.cfg.TFHPortMin, r.cfg.TFHPortMax)

	if flip && r.rewriteEligible(view) {
		if err := rewrite.Rewrite(in.Buf, nil); err != nil {
			r.metrics.IncRewritesFailed()
			r.logger.Debug("status rewrite skipped", slog.String("error", err.Error()))
		} else {
			r.metrics.IncRewritesApplied()
		}
	}

	select {
	case r.outputCh <- Output{Tag: outTag, Buf: in.Buf}:
	default:
		r.metrics.IncDropped("output")
		r.logger.Warn("dropped packet: output channel full")
	}
}

func (r *Relay) rewriteEligible(view *wire.HeaderView) bool {
	if !view.IsUDP() {
		return false
	}
	src, err := view.UDPSrcPort()
	if err != nil {
		return false
	}
	return src >= r.cfg.StatusPortMin && src <= r.cfg.StatusPortMax
}

// writeLoop drains the output channel and writes each packet to the
// appropriate side. A write error is fatal and propagates out of Run.
func (r *Relay) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-r.outputCh:
			if !ok {
				return nil
			}
			side, sideName := r.sideB, "b"
			if out.Tag == toA {
				side, sideName = r.sideA, "a"
			}
			if err := side.WritePacket(out.Buf); err != nil {
				r.logger.Error("write failed", slog.String("side", sideName), slog.String("error", err.Error()))
				return fmt.Errorf("write side %s: %w", sideName, err)
			}
			r.metrics.IncWritten(sideName)
		}
	}
}

// timeoutLoop periodically sweeps idle connections so status.txt stays
// live even when no new datagrams arrive to trigger it incidentally.
func (r *Relay) timeoutLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TimeoutTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.mgr.CheckTimeout()
			r.metrics.SetConnectionsActive(r.mgr.Len())
		}
	}
}
