// vcs-automat daemon -- MDB cashless-peripheral vending controller.
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

	"github.com/agimpel/vcs-automat-core/internal/adminapi"
	"github.com/agimpel/vcs-automat-core/internal/cardreader"
	"github.com/agimpel/vcs-automat-core/internal/config"
	"github.com/agimpel/vcs-automat-core/internal/mdb"
	vcsmetrics "github.com/agimpel/vcs-automat-core/internal/metrics"
	"github.com/agimpel/vcs-automat-core/internal/orchestrator"
	"github.com/agimpel/vcs-automat-core/internal/provider"
	"github.com/agimpel/vcs-automat-core/internal/serialport"
	"github.com/agimpel/vcs-automat-core/internal/store"
	appversion "github.com/agimpel/vcs-automat-core/internal/version"
)

// shutdownTimeout bounds how long HTTP servers are given to drain active
// connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// reportBufferSize bounds the orchestrator's PendingReport channel. A
// single slot covers the at-most-one-in-flight-vend policy (§4.2) with a
// small cushion for the report worker briefly falling behind.
const reportBufferSize = 8

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("vcs-automat starting",
		slog.String("version", appversion.Version),
		slog.String("serial_device", cfg.Serial.Device),
		slog.String("admin_addr", cfg.AdminAPI.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := vcsmetrics.NewCollector(reg)

	st, err := store.Open(store.Config{Path: cfg.Database.Path})
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		return 1
	}
	defer st.Close()

	if err := runServers(cfg, st, reg, collector, logger, *configPath, logLevel); err != nil {
		logger.Error("vcs-automat exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("vcs-automat stopped")
	return 0
}

// runServers opens the serial lines, wires the engine/orchestrator/report
// worker/admin API together, and runs every long-lived goroutine under an
// errgroup with a signal-aware context, exactly as gobfd's runServers does
// for its gRPC/metrics servers.
func runServers(
	cfg *config.Config,
	st *store.Store,
	reg *prometheus.Registry,
	collector *vcsmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	chain, err := buildProviderChain(cfg.Providers, st, logger)
	if err != nil {
		return fmt.Errorf("build provider chain: %w", err)
	}

	mdbPort, err := serialport.Open(serialport.Config{Device: cfg.Serial.Device, BaudRate: cfg.Serial.BaudRate})
	if err != nil {
		return fmt.Errorf("open MDB serial line %s: %w", cfg.Serial.Device, err)
	}

	cardPort, err := serialport.Open(serialport.Config{Device: cfg.CardReader.Device, BaudRate: cfg.CardReader.BaudRate})
	if err != nil {
		_ = mdbPort.Close()
		return fmt.Errorf("open card reader line %s: %w", cfg.CardReader.Device, err)
	}

	orch := orchestrator.New(chain, nil, logger, reportBufferSize)
	engine := mdb.NewEngine(mdbPort, logger, orch.CreditQuery, orch.DispenseAck,
		mdb.WithMetrics(collector),
		mdb.WithSessionEndCallback(orch.EndSession),
	)
	orch.SetEngine(engine)

	reportWorker := orchestrator.NewReportWorker(orch.Reports(), chain, logger, orch.ReportDone)
	reader := cardreader.NewReader(cardPort, logger)

	adminSrv := newAdminServer(cfg.AdminAPI, orch, chain, st, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gCtx)
	})

	g.Go(func() error {
		return reader.Run(gCtx)
	})

	g.Go(func() error {
		for cardID := range reader.Events() {
			orch.OnCard(gCtx, cardID)
		}
		return nil
	})

	g.Go(func() error {
		return reportWorker.Run(gCtx)
	})

	g.Go(func() error {
		st.RunNoncePruner(gCtx, 24*time.Hour, 60*time.Second)
		return nil
	})

	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, orch, reportWorker, st, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, mdbPort, cardPort, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// buildProviderChain constructs one provider.Provider per configured
// entry, preserving configuration order as the chain's tie-break order
// (§4.2, §4.3).
func buildProviderChain(providers []config.ProviderConfig, st *store.Store, logger *slog.Logger) (*provider.Chain, error) {
	built := make([]provider.Provider, 0, len(providers))
	for _, pc := range providers {
		switch pc.Kind {
		case "https":
			built = append(built, provider.NewHTTPSProvider(provider.HTTPSConfig{
				Tag:       pc.Tag,
				AuthURL:   pc.AuthURL,
				ReportURL: pc.ReportURL,
				InfoURL:   pc.InfoURL,
				Secret:    pc.Secret,
				Timeout:   pc.Timeout,
			}, st))
		case "local":
			built = append(built, provider.NewLocalProvider(pc.Tag, pc.StandardCredits, pc.KnownCards, st))
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Tag, pc.Kind)
		}
	}
	return provider.NewChain(logger, built...), nil
}

// newAdminServer builds the admin API's http.Server (§9).
func newAdminServer(cfg config.AdminAPIConfig, orch *orchestrator.Orchestrator, chain *provider.Chain, st *store.Store, logger *slog.Logger) *http.Server {
	h := adminapi.NewHandlers(orch, chain, st)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           adminapi.NewRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
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

// startHTTPServers registers the admin API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin API listening", slog.String("addr", cfg.AdminAPI.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.AdminAPI.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// gracefulShutdown shuts down the HTTP servers and closes the serial lines.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, mdbPort, cardPort serialport.Port, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}

	// engine.Run closes mdbPort as part of returning; closing it again here
	// is a safety net for the case where the HTTP shutdown above outpaces
	// it. cardreader.Run does not close cardPort, so closing it here is
	// what unblocks the reader's pending read.
	_ = mdbPort.Close()
	_ = cardPort.Close()

	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd Integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

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

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, as the systemd documentation recommends. If no
// watchdog is configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	orch *orchestrator.Orchestrator,
	reportWorker *orchestrator.ReportWorker,
	st *store.Store,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, orch, reportWorker, st, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// SIGHUP Reload -- log level + provider chain
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads configuration. Only the log
// level and provider chain are reloadable; the serial device and admin
// address require a restart (§9 "CLI / process entrypoints").
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	orch *orchestrator.Orchestrator,
	reportWorker *orchestrator.ReportWorker,
	st *store.Store,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, orch, reportWorker, st, logger)
		}
	}
}

func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	orch *orchestrator.Orchestrator,
	reportWorker *orchestrator.ReportWorker,
	st *store.Store,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("log level reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	chain, err := buildProviderChain(newCfg.Providers, st, logger)
	if err != nil {
		logger.Error("failed to rebuild provider chain, keeping current chain", slog.String("error", err.Error()))
		return
	}
	orch.SetChain(chain)
	reportWorker.SetChain(chain)

	logger.Info("provider chain reloaded", slog.Int("providers", len(newCfg.Providers)))
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

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
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
