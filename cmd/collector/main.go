// Command collector runs the edge telemetry compression pipeline's
// collector: it accepts Shipper connections, reassembles and decompresses
// frames, and appends the reconstructed records to durable per-topic logs.
//
// # Usage
//
//	collector --config /etc/edgecompress/collector.yaml
//	collector --listen-port 7000 --out-dir /var/lib/edgecompress/out
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilot-net/edgecompress/internal/auth"
	"github.com/pilot-net/edgecompress/internal/collector"
	"github.com/pilot-net/edgecompress/internal/compress"
	"github.com/pilot-net/edgecompress/internal/config"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/metrics"
	"github.com/pilot-net/edgecompress/internal/secrets"
	"github.com/pilot-net/edgecompress/internal/validate"
)

// fatal logs err and exits with the code associated with its errs.Kind
// (spec.md §7), or 1 if err doesn't carry one.
func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	if e, ok := err.(*errs.Error); ok {
		os.Exit(e.Kind.ExitCode())
	}
	os.Exit(1)
}

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		listenPort = flag.Int("listen-port", 0, "Listen port")
		outDir     = flag.String("out-dir", "", "Output directory for per-topic jsonl files")
		healthPort = flag.Int("health-port", 8090, "HTTP port for /healthz and /metrics.csv")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("edgecompress-collector v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg := config.DefaultCollectorConfig()
	if *configFile != "" {
		fileCfg, err := config.LoadCollectorConfigFromFile(*configFile)
		if err != nil {
			fatal(logger, "failed to load config file", errs.New(errs.FatalConfig, "collector.main", err))
		}
		cfg = fileCfg
	}
	cfg.ApplyEnvOverrides()
	if *listenPort != 0 {
		cfg.ListenPort = *listenPort
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}

	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", errs.New(errs.FatalConfig, "collector.main", err))
	}

	dicts, err := dictionary.LoadDir(cfg.DictDir, 1)
	if err != nil {
		fatal(logger, "failed to load dictionaries", errs.New(errs.FatalConfig, "collector.main", err))
	}

	appender, err := collector.NewAppender(cfg.OutDir)
	if err != nil {
		fatal(logger, "failed to initialize appender", errs.New(errs.FatalIO, "collector.main", err))
	}
	defer appender.Close()

	secretsStore, err := secrets.NewStore(secrets.Config{Backend: cfg.SecretsBackend}, logger)
	if err != nil {
		fatal(logger, "failed to initialize secrets backend", errs.New(errs.FatalConfig, "collector.main", err))
	}
	defer secretsStore.Close()

	var authHash string
	if key, ok, err := secretsStore.Get(context.Background(), secrets.ShipperAuthKey); err != nil {
		logger.Warn("failed to read shipper auth key, running without auth enforcement", "error", err)
	} else if ok {
		if h, err := auth.HashKey(key); err == nil {
			authHash = h
		}
	}

	agg := metrics.New()

	var wal *collector.IntakeWAL
	var archivalFlusher *collector.ArchivalFlusher
	if cfg.RedisURL != "" && cfg.ArchivalDSN != "" {
		wal, err = collector.NewIntakeWAL(cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("archival wal disabled - redis connection failed", "error", err)
			wal = nil
		} else {
			sinkCtx, sinkCancel := context.WithTimeout(context.Background(), 10*time.Second)
			sink, err := collector.NewArchivalSink(sinkCtx, cfg.ArchivalDSN)
			sinkCancel()
			if err != nil {
				logger.Warn("archival sink disabled - database connection failed", "error", err)
				wal.Close()
				wal = nil
			} else {
				archivalFlusher = collector.NewArchivalFlusher(wal, sink, logger)
				archivalFlusher.Start()
				defer archivalFlusher.Stop()
				defer sink.Close()
				logger.Info("archival sink enabled", "redis_url", cfg.RedisURL)
			}
		}
	}

	srv := collector.New(collector.Config{
		ListenAddr:     fmt.Sprintf(":%d", cfg.ListenPort),
		Dicts:          dicts,
		DictSidecarDir: cfg.DictDir,
		Appender:       appender,
		Codec:          compress.NewCodec(16),
		Metrics:        agg,
		Auth: auth.Config{
			Enabled:      cfg.AuthEnabled,
			ExpectedHash: authHash,
			Logger:       logger,
		},
		VLimits: validate.Limits{
			MaxMessageBytes: cfg.MaxMessageBytes,
			MaxBatchBytes:   cfg.MaxBatchBytes,
		},
		WAL:    wal,
		Logger: logger,
	})

	health := collector.NewHealthServer(agg, func(topic string) uint32 {
		id, _ := dicts.Get(topic)
		return id
	}, logger)
	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *healthPort),
		Handler: health,
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting collector", "listen_port", cfg.ListenPort, "out_dir", cfg.OutDir)
	if err := srv.Run(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		healthSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		fatal(logger, "collector exited with error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	healthSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	logger.Info("collector shutdown complete")
}
