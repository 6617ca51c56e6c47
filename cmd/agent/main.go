// Command agent runs the edge telemetry compression pipeline's agent:
// validation, normalization, batching, dictionary-keyed compression, and
// fault-tolerant shipping to a collector.
//
// # Usage
//
//	agent --config /etc/edgecompress/agent.yaml
//	agent --collector-host 10.0.0.5 --collector-port 7000
//
// Configuration can be provided via a YAML config file, environment
// variables prefixed EDGE_, or command-line flags, applied in that
// precedence order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/edgecompress/internal/agent"
	"github.com/pilot-net/edgecompress/internal/batcher"
	"github.com/pilot-net/edgecompress/internal/config"
	"github.com/pilot-net/edgecompress/internal/dictionary"
	"github.com/pilot-net/edgecompress/internal/errs"
	"github.com/pilot-net/edgecompress/internal/secrets"
	"github.com/pilot-net/edgecompress/internal/shipper"
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
		configFile    = flag.String("config", "", "Path to config file")
		collectorHost = flag.String("collector-host", "", "Collector host")
		collectorPort = flag.Int("collector-port", 0, "Collector port")
		debug         = flag.Bool("debug", false, "Enable debug logging")
		version       = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("edgecompress-agent %s\n", agent.Version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg := config.DefaultAgentConfig()
	if *configFile != "" {
		fileCfg, err := config.LoadAgentConfigFromFile(*configFile)
		if err != nil {
			fatal(logger, "failed to load config file", errs.New(errs.FatalConfig, "agent.main", err))
		}
		cfg = fileCfg
	}
	cfg.ApplyEnvOverrides()
	if *collectorHost != "" {
		cfg.CollectorHost = *collectorHost
	}
	if *collectorPort != 0 {
		cfg.CollectorPort = *collectorPort
	}

	if err := cfg.Validate(); err != nil {
		fatal(logger, "invalid configuration", errs.New(errs.FatalConfig, "agent.main", err))
	}

	dicts, err := dictionary.LoadDir(cfg.DictDir, 1)
	if err != nil {
		fatal(logger, "failed to load dictionaries", errs.New(errs.FatalConfig, "agent.main", err))
	}

	secretsStore, err := secrets.NewStore(secrets.Config{Backend: cfg.SecretsBackend}, logger)
	if err != nil {
		fatal(logger, "failed to initialize secrets backend", errs.New(errs.FatalConfig, "agent.main", err))
	}
	defer secretsStore.Close()

	var authKey string
	if key, ok, err := secretsStore.Get(context.Background(), secrets.ShipperAuthKey); err != nil {
		logger.Warn("failed to read shipper auth key, proceeding without one", "error", err)
	} else if ok {
		authKey = key
	}

	a, err := agent.New(agent.Config{
		BatcherLimits: batcher.Limits{
			BatchMax:   cfg.BatchMax,
			BatchAge:   cfg.BatchMs,
			BatchBytes: cfg.BatchBytes,
		},
		ValidateLimits: validate.Limits{
			MaxMessageBytes: cfg.MaxMessageBytes,
			MaxBatchBytes:   cfg.MaxBatchBytes,
		},
		CompressLevel: cfg.CompressionLevel,
		Dicts:         dicts,
		Shipper: shipper.Config{
			Address: fmt.Sprintf("%s:%d", cfg.CollectorHost, cfg.CollectorPort),
			Breaker: shipper.BreakerConfig{
				Failures:  cfg.BreakerFailures,
				OpenFor:   cfg.BreakerOpenMs,
				Successes: cfg.BreakerSuccesses,
			},
			ShutdownGrace: cfg.ShutdownGraceMs,
			AuthKey:       authKey,
		},
	}, logger)
	if err != nil {
		fatal(logger, "failed to create agent", errs.New(errs.FatalConfig, "agent.main", err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting edge agent", "collector", fmt.Sprintf("%s:%d", cfg.CollectorHost, cfg.CollectorPort))
	if err := a.Run(ctx); err != nil && err != context.Canceled {
		fatal(logger, "agent exited with error", err)
	}
	logger.Info("agent shutdown complete")
}
