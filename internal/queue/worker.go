package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/zombor/receipt-parser/internal/extract"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/pipeline"
)

// Worker consumes scan tasks and runs them through the pipeline.
type Worker struct {
	server *asynq.Server
	runner pipeline.Runner
}

// NewWorker creates a worker processing queue with the given concurrency.
// Concurrency should match the number of loaded model instances.
func NewWorker(redisURL, queue string, concurrency int, runner pipeline.Runner) (*Worker, error) {
	_, connOpt, err := RedisOptions(redisURL)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = "default"
	}

	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      slogLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("Scan job failed", "type", task.Type(), "error", err)
		}),
	})

	return &Worker{server: server, runner: runner}, nil
}

// Run processes tasks until the process receives a termination signal.
func (w *Worker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeScanReceipt, w.ProcessTask)
	return w.server.Run(mux)
}

// ProcessTask handles a single scan task. Input errors are not retried.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal scan payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.runner.Run(ctx, payload.Image)
	if err != nil {
		var invalid *ocr.InvalidImageError
		var extraction *extract.ExtractionError
		if errors.As(err, &invalid) || errors.As(err, &extraction) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if writer := task.ResultWriter(); writer != nil {
		if _, err := writer.Write([]byte(result.Receipt)); err != nil {
			return fmt.Errorf("failed to write job result: %w", err)
		}
	}

	slog.Info("Scan job completed",
		"regions", len(result.Regions),
		"ocr_duration", result.OCRDuration,
		"inference_duration", result.InferenceDuration)
	return nil
}

// slogLogger routes asynq's logging through slog.
type slogLogger struct{}

func (slogLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (slogLogger) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...)) }
func (slogLogger) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...)) }
func (slogLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (slogLogger) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...))
	os.Exit(1)
}
