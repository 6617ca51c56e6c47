// Command dicttrain trains and publishes per-topic zstd dictionaries from a
// directory of sample records (spec.md §4.8): one dictionary per
// samples-root/<topic>/ directory, written to dict-dir/<topic>.dict for the
// agent and collector to load via dictionary.LoadDir.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pilot-net/edgecompress/internal/dictionary"
)

func main() {
	var (
		samplesRoot = flag.String("samples-root", "", "Directory of per-topic sample records (required)")
		dictDir     = flag.String("dict-dir", "", "Output directory for trained dictionaries (required)")
		sizeBytes   = flag.Int("size", 8192, "Target dictionary size in bytes")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *samplesRoot == "" || *dictDir == "" {
		fmt.Fprintln(os.Stderr, "dicttrain: --samples-root and --dict-dir are required")
		flag.Usage()
		os.Exit(2)
	}

	results, err := dictionary.TrainAll(*samplesRoot, *sizeBytes, logger)
	if err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		logger.Warn("no topics trained - samples-root had no topic subdirectories with samples", "samples_root", *samplesRoot)
		os.Exit(0)
	}

	if err := os.MkdirAll(*dictDir, 0o755); err != nil {
		logger.Error("failed to create dict-dir", "error", err)
		os.Exit(1)
	}

	store := dictionary.New(1)
	fallbackTopics := make([]string, 0)
	for _, r := range results {
		store.Install(r.Topic, r.Bytes)
		if err := store.SaveTo(*dictDir, r.Topic); err != nil {
			logger.Error("failed to save dictionary", "topic", r.Topic, "error", err)
			os.Exit(1)
		}
		if r.Fallback {
			fallbackTopics = append(fallbackTopics, r.Topic)
		}
		logger.Info("trained dictionary", "topic", r.Topic, "bytes", len(r.Bytes), "fallback", r.Fallback)
	}

	if len(fallbackTopics) > 0 {
		logger.Warn("topics trained with the degraded raw-prefix fallback — "+
			"compression ratios for these topics will be substantially worse "+
			"until more samples are collected and retraining is run",
			"topics", fallbackTopics)
	}
}
