package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-parser/internal/config"
	"github.com/zombor/receipt-parser/internal/queue"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-worker")
	flags := config.Register(fs)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix(config.EnvVarPrefix),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := flags.Config()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Jobs.RedisURL == "" {
		slog.Error("The worker requires --redis-url or RECEIPT_PARSER_REDIS_URL")
		os.Exit(1)
	}

	p, closePipeline, err := config.NewPipeline(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to load models", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closePipeline(); err != nil {
			slog.Warn("Failed to release models", "error", err)
		}
	}()

	// One task per loaded model instance; extra tasks would only queue in the pool
	worker, err := queue.NewWorker(cfg.Jobs.RedisURL, cfg.Jobs.Queue, cfg.Instances, p)
	if err != nil {
		slog.Error("Failed to create worker", "error", err)
		os.Exit(1)
	}

	slog.Info("Worker started", "version", version, "queue", cfg.Jobs.Queue, "concurrency", cfg.Instances)
	if err := worker.Run(); err != nil {
		slog.Error("Worker error", "error", err)
		closePipeline()
		os.Exit(1)
	}
	slog.Info("Worker stopped")
}
