// replay-pcap drives the connection manager from a recorded tcpdump
// capture instead of a live pair of TUN interfaces, classifying each
// frame's direction against a fixed server address and feeding TFH
// stream datagrams straight to the manager. There is no opposite side to
// write relayed packets to, so replies the manager would have produced
// are discarded, matching the capture-replay driver this tool replaces.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/netio"
	"github.com/epdtry/tfh-mitm/internal/relay"
	"github.com/epdtry/tfh-mitm/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <file.pcap> <server-ipv4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		return 1
	}
	pcapPath, serverIPStr := flag.Arg(0), flag.Arg(1)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	serverIP := net.ParseIP(serverIPStr)
	if serverIP == nil {
		logger.Error("invalid server address", slog.String("address", serverIPStr))
		return 1
	}

	f, err := os.Open(pcapPath)
	if err != nil {
		logger.Error("failed to open capture", slog.String("path", pcapPath), slog.String("error", err.Error()))
		return 1
	}
	defer f.Close()

	replay, err := netio.NewPcapReplay(f, serverIP)
	if err != nil {
		logger.Error("failed to read capture", slog.String("path", pcapPath), slog.String("error", err.Error()))
		return 1
	}

	handler, err := conn.NewLoggingHandler("logs", "status.txt", logger)
	if err != nil {
		logger.Error("failed to create logging handler", slog.String("error", err.Error()))
		return 1
	}
	mgr := conn.New(handler)

	matched, dispatched, err := replayAll(replay, mgr)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Error("replay failed", slog.String("error", err.Error()))
		return 1
	}

	mgr.CheckTimeout()

	logger.Info("replay finished",
		slog.String("path", pcapPath),
		slog.Int("frames_matched", matched),
		slog.Int("frames_dispatched", dispatched),
	)
	return 0
}

// replayAll drains replay to exhaustion, dispatching every frame
// classified as TFH stream traffic to mgr. matched counts frames
// classified FromA/FromB; dispatched counts the subset recognized as
// TFH stream datagrams and fed to mgr. This tool takes no config file
// (its positional arguments are fixed: capture path and server address),
// so TFH stream classification always uses relay.DefaultPortMin/Max
// rather than a configurable range.
func replayAll(replay *netio.PcapReplay, mgr *conn.Manager) (matched, dispatched int, err error) {
	pb := wire.NewEmpty()

	for {
		dir, err := replay.Next(pb)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return matched, dispatched, nil
			}
			return matched, dispatched, err
		}
		matched++

		// FromB frames have the server as their IP source, matching
		// Manager.Handle's flip=true case; FromA frames have the
		// server as their destination, i.e. src is the client.
		flip := dir == netio.FromB
		if relay.DispatchTFH(mgr, pb, flip, relay.DefaultPortMin, relay.DefaultPortMax) {
			dispatched++
		}
	}
}
