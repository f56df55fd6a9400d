// tfh-mitm relay -- bridges two TUN interfaces, reassembling and
// dispatching TFH lobby protocol streams while rewriting status
// broadcasts in flight.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/epdtry/tfh-mitm/internal/conn"
	"github.com/epdtry/tfh-mitm/internal/config"
	"github.com/epdtry/tfh-mitm/internal/netio"
	"github.com/epdtry/tfh-mitm/internal/relay"
	"github.com/epdtry/tfh-mitm/internal/relaymetrics"
	appversion "github.com/epdtry/tfh-mitm/internal/version"
)

// shutdownTimeout bounds how long the metrics server is given to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] <outside> <inside>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		return 1
	}
	outside, inside := flag.Arg(0), flag.Arg(1)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}
	cfg.Relay.SideA, cfg.Relay.SideB = outside, inside

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("relay starting",
		slog.String("version", appversion.Version),
		slog.String("side_a", outside),
		slog.String("side_b", inside),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := relaymetrics.NewCollector(reg)

	sideA, err := openSide(outside, "tfh-outside")
	if err != nil {
		logger.Error("failed to open side A", slog.String("error", err.Error()))
		return 1
	}
	defer sideA.Close()

	sideB, err := openSide(inside, "tfh-inside")
	if err != nil {
		logger.Error("failed to open side B", slog.String("error", err.Error()))
		return 1
	}
	defer sideB.Close()

	handler, err := conn.NewLoggingHandler(cfg.Logs.Dir, cfg.Logs.StatusPath, logger)
	if err != nil {
		logger.Error("failed to create logging handler", slog.String("error", err.Error()))
		return 1
	}

	mgr := conn.New(relaymetrics.WrapHandler(handler, collector))
	mgr.SetTimeout(cfg.TFH.ConnTimeout)

	r := relay.New(sideA, sideB, mgr, collector, logger, relay.Config{
		StatusPortMin: cfg.Rewriter.StatusPortMin,
		StatusPortMax: cfg.Rewriter.StatusPortMax,
		TFHPortMin:    cfg.TFH.PortRangeMin,
		TFHPortMax:    cfg.TFH.PortRangeMax,
	})

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	if err := runServers(cfg, r, metricsSrv, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("relay stopped")
	return 0
}

// runServers runs the relay and the metrics HTTP server under a
// signal-aware context, shutting both down together once either the
// process receives SIGINT/SIGTERM or either task errors.
func runServers(cfg *config.Config, r *relay.Relay, metricsSrv *http.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.Run(gCtx) })

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
		}
		return gCtx.Err()
	})

	return g.Wait()
}

// openSide opens name as a TUN interface, or receives one over a UNIX
// socket at name if a file already exists there, per the path-exists
// rule: "relay <outside> <inside>" — each argument is either an
// interface name to create or a path to a socket to receive a fd from.
func openSide(name, tunName string) (*netio.Tun, error) {
	if _, err := os.Stat(name); err == nil {
		return netio.ReceiveTun(name, tunName)
	}
	return netio.OpenTun(name)
}

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// notifyReady sends READY=1 to systemd, indicating the relay has
// completed initialization and opened both sides.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. If the
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
