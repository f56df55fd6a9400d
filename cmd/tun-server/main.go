// tun-server opens a TUN interface once and hands its file descriptor to
// any number of peers over a UNIX socket, so a sandboxed relay process
// without CAP_NET_ADMIN can still drive the interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/epdtry/tfh-mitm/internal/netio"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <ifname> <socket-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		return 1
	}
	ifname, socketPath := flag.Arg(0), flag.Arg(1)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tun, err := netio.OpenTun(ifname)
	if err != nil {
		logger.Error("failed to open tun", slog.String("ifname", ifname), slog.String("error", err.Error()))
		return 1
	}
	defer tun.Close()

	srv, err := netio.NewFDServer(socketPath, tun.FD(), logger)
	if err != nil {
		logger.Error("failed to start fd server", slog.String("socket", socketPath), slog.String("error", err.Error()))
		return 1
	}
	defer srv.Close()

	logger.Info("tun-server listening",
		slog.String("ifname", tun.Name()),
		slog.String("socket", socketPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("fd server exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("tun-server stopped")
	return 0
}
