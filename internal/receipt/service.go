package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-parser/internal/pipeline"
	"github.com/zombor/receipt-parser/internal/queue"
)

var (
	// ErrJobsDisabled is returned by job operations when no queue is configured
	ErrJobsDisabled = errors.New("asynchronous jobs are not configured")

	// ErrNoArchive is returned when a scan's original file was not archived
	ErrNoArchive = errors.New("scan file was not archived")
)

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// JobQueue schedules scans for asynchronous processing
type JobQueue interface {
	Enqueue(ctx context.Context, image []byte) (string, error)
	Status(ctx context.Context, id string) (*queue.Job, error)
	Ping(ctx context.Context) error
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles scan operations
type Service struct {
	db          DB
	runner      pipeline.Runner
	storage     Storage
	jobs        JobQueue
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// storage may be nil, in which case uploads are not archived.
func NewService(db DB, runner pipeline.Runner, storage Storage) *Service {
	return NewServiceWithDeps(db, runner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, runner pipeline.Runner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		runner:      runner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetJobQueue enables asynchronous scans
func (s *Service) SetJobQueue(jobs JobQueue) {
	s.jobs = jobs
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	// Keep only alphanumeric, spaces, hyphens, and underscores
	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// Prompt runs the pipeline on an image without recording it
func (s *Service) Prompt(ctx context.Context, data []byte) (string, error) {
	result, err := s.runner.Run(ctx, data)
	if err != nil {
		slog.Error("Failed to parse receipt", "file_size", len(data), "error", err)
		return "", err
	}
	return result.Receipt, nil
}

// ProcessScan archives an upload, runs the pipeline on it and records the result
func (s *Service) ProcessScan(ctx context.Context, filename string, data []byte, contentType string) (*Scan, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	var savedPath string
	if s.storage != nil {
		var err error
		savedPath, err = s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data, contentType)
		if err != nil {
			return nil, fmt.Errorf("saving file: %w", err)
		}
	}

	result, err := s.runner.Run(ctx, data)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.discard(savedPath)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	scan := &Scan{
		ID:          id,
		Filename:    filename,
		StoredPath:  savedPath,
		ContentType: contentType,
		Receipt:     result.Receipt,
		Summary:     Summarize(result.Receipt),
		RegionCount: len(result.Regions),
		OCRMillis:   result.OCRDuration.Milliseconds(),
		InferMillis: result.InferenceDuration.Milliseconds(),
		CreatedAt:   now,
	}

	if err := s.db.SaveScan(scan); err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}

	return scan, nil
}

// discard removes an archived upload after a failed scan. It uses its own
// context because the request context may already be canceled.
func (s *Service) discard(path string) {
	if s.storage == nil || path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetScan retrieves a scan by ID
func (s *Service) GetScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns all scans
func (s *Service) ListScans() ([]*Scan, error) {
	scans, err := s.db.ListScans()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// DeleteScan removes a scan and its archived file
func (s *Service) DeleteScan(ctx context.Context, id string) error {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return fmt.Errorf("getting scan for deletion: %w", err)
	}

	if s.storage != nil && scan.StoredPath != "" {
		if err := s.storage.Delete(ctx, scan.StoredPath); err != nil {
			slog.Warn("Failed to delete file", "filename", scan.StoredPath, "error", err)
		}
	}

	if err := s.db.DeleteScan(id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// GetScanFile retrieves the archived upload for a scan
func (s *Service) GetScanFile(ctx context.Context, id string) ([]byte, string, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}
	if s.storage == nil || scan.StoredPath == "" {
		return nil, "", ErrNoArchive
	}

	data, err := s.storage.Get(ctx, scan.StoredPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan file: %w", err)
	}

	return data, scan.ContentType, nil
}

// EnqueueScan schedules an image for asynchronous parsing
func (s *Service) EnqueueScan(ctx context.Context, data []byte) (string, error) {
	if s.jobs == nil {
		return "", ErrJobsDisabled
	}
	id, err := s.jobs.Enqueue(ctx, data)
	if err != nil {
		return "", fmt.Errorf("enqueueing scan: %w", err)
	}
	return id, nil
}

// JobStatus reports the state of an asynchronous scan
func (s *Service) JobStatus(ctx context.Context, id string) (*queue.Job, error) {
	if s.jobs == nil {
		return nil, ErrJobsDisabled
	}
	job, err := s.jobs.Status(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job status: %w", err)
	}
	return job, nil
}

// JobsAvailable reports whether the job queue is configured and reachable
func (s *Service) JobsAvailable(ctx context.Context) bool {
	if s.jobs == nil {
		return false
	}
	return s.jobs.Ping(ctx) == nil
}
