// Patternd is the pattern lifecycle governance daemon.
//
// It consumes session-outcome events from NATS, maintains rolling
// pattern metrics in SQLite, runs periodic promotion and demotion gate
// scans, and emits lifecycle events back onto the bus.
//
// Configuration is loaded from a YAML file and PATTERND_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	patternd
//
//	# Explicit config file
//	patternd --config /etc/patternd/config.yaml
//
//	# Configure via environment
//	PATTERND_NATS_URL=nats://broker:4222 patternd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/governance"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("patternd error: %v", err)
	}

	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("patternd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until context cancellation.
//
// Startup order:
//  1. Load and validate configuration
//  2. Initialize logger
//  3. Open SQLite store
//  4. Connect to NATS
//  5. Wire emitter, governance service, consumer, scheduler
//  6. Start debug listener (/metrics, /health)
//  7. Block until signal, then shut down in reverse order
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting patternd",
		zap.String("version", version),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("db_path", cfg.Storage.Path),
		zap.String("attribution_method", cfg.Governance.AttributionMethod))

	st, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait.Duration()),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))

	emitter, err := events.NewEmitter(nc, logger)
	if err != nil {
		return fmt.Errorf("failed to create emitter: %w", err)
	}

	metrics := governance.NewMetrics(prometheus.DefaultRegisterer)

	service, err := governance.NewService(st, emitter, metrics, logger,
		governance.WithAttributionMethod(pattern.AttributionMethod(cfg.Governance.AttributionMethod)))
	if err != nil {
		return fmt.Errorf("failed to create governance service: %w", err)
	}

	consumer, err := events.NewConsumer(nc, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer consumer.Stop()

	if cfg.Scheduler.Enabled {
		scheduler, err := governance.NewScheduler(service, st, logger,
			governance.WithInterval(cfg.Scheduler.Interval.Duration()),
			governance.WithScanBudget(cfg.Scheduler.ScanBudget.Duration()),
			governance.WithDedupRetention(cfg.Scheduler.DedupRetention.Duration()),
		)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	debugSrv := startDebugServer(cfg.Debug.ListenAddr, logger)

	<-ctx.Done()

	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("debug server shutdown failed", zap.Error(err))
		}
	}

	// Drain lets in-flight subscription callbacks finish before the
	// deferred Close.
	if err := nc.Drain(); err != nil {
		logger.Warn("NATS drain failed", zap.Error(err))
	}

	return nil
}

// startDebugServer serves /metrics and /health. Returns nil when the
// listener is disabled.
func startDebugServer(addr string, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Debug listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug listener failed", zap.Error(err))
		}
	}()

	return srv
}
