package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-parser/internal/config"
	"github.com/zombor/receipt-parser/internal/queue"
	"github.com/zombor/receipt-parser/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-parser")
	flags := config.Register(fs)
	showVersion := fs.BoolLong("version", "Show version information")

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

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := flags.Config()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := receipt.NewBoltDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	slog.Info("Loading models...",
		"ocr", cfg.OCREngine,
		"generator", cfg.Generator,
		"instances", cfg.Instances,
		"quantization", cfg.Profile.Quantization.QuantType,
		"cpu_only", cfg.Profile.CPUOnly())
	p, closePipeline, err := config.NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePipeline(); err != nil {
			slog.Warn("Failed to release models", "error", err)
		}
	}()

	service := receipt.NewService(db, p, store)

	if cfg.Jobs.RedisURL != "" {
		slog.Info("Initializing job queue...", "queue", cfg.Jobs.Queue)
		jobs, err := queue.NewClient(queue.Options{
			RedisURL:  cfg.Jobs.RedisURL,
			Queue:     cfg.Jobs.Queue,
			Retention: cfg.Jobs.Retention,
			Timeout:   cfg.Jobs.Timeout,
			MaxRetry:  cfg.Jobs.MaxRetry,
		})
		if err != nil {
			return fmt.Errorf("initializing job queue: %w", err)
		}
		defer jobs.Close()
		if err := jobs.Ping(ctx); err != nil {
			slog.Warn("Job queue unreachable, jobs will fail until it is available", "error", err)
		}
		service.SetJobQueue(jobs)
	}

	server := receipt.NewServer(service, receipt.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	}, receipt.Info{
		Version:   version,
		Generator: cfg.Generator,
		Instances: cfg.Instances,
		OCREngine: cfg.OCREngine,
		Storage:   cfg.Storage.Backend,
		Extractor: cfg.ExtractionMode().String(),
		Profile:   cfg.Profile,
	})

	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	return server.Start(ctx, fmt.Sprintf(":%d", cfg.Port))
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (receipt.Storage, error) {
	switch cfg.Backend {
	case "local":
		slog.Info("Initializing local storage...", "path", cfg.Path)
		store, err := receipt.NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		return store, nil
	case "minio":
		slog.Info("Initializing MinIO storage...", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
		store, err := receipt.NewMinioStorage(ctx, receipt.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		return store, nil
	default:
		slog.Info("Upload archive disabled")
		return nil, nil
	}
}
