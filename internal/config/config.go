// Package config holds the settings shared by the receipt-parser binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v4"
)

// EnvVarPrefix is the prefix for environment variable overrides
// (e.g. RECEIPT_PARSER_PORT).
const EnvVarPrefix = "RECEIPT_PARSER"

// Config is the resolved configuration.
type Config struct {
	Port     int
	DBPath   string
	AuthUser string
	AuthPass string

	Storage StorageConfig

	OCREngine         string // "tesseract" or "vision"
	OCRConcurrency    int
	TesseractDPI      int
	PreprocessMaxEdge int
	PreprocessEnhance bool

	Generator       string // "ollama", "gemini" or "openai"
	Instances       int
	QueueSize       int
	GenerateTimeout time.Duration
	Seed            int
	MaxInputTokens  int
	Ollama          OllamaConfig
	Gemini          GeminiConfig
	OpenAI          OpenAIConfig

	LegacyExtraction bool

	Jobs JobsConfig

	Profile Profile
}

// StorageConfig selects where uploaded images are archived.
type StorageConfig struct {
	Backend   string // "local", "minio" or "none"
	Path      string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// OllamaConfig holds Ollama settings
type OllamaConfig struct {
	URL   string
	Model string
}

// GeminiConfig holds Google Gemini settings
type GeminiConfig struct {
	APIKey string
	Model  string
}

// OpenAIConfig holds settings for OpenAI-compatible completion servers
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// JobsConfig holds the asynchronous job queue settings
type JobsConfig struct {
	RedisURL  string
	Queue     string
	Retention time.Duration
	Timeout   time.Duration
	MaxRetry  int
}

// Flags are the command line flags backing a Config.
type Flags struct {
	port     *int
	dbPath   *string
	authUser *string
	authPass *string

	storageBackend *string
	storagePath    *string
	minioEndpoint  *string
	minioAccessKey *string
	minioSecretKey *string
	minioBucket    *string
	minioUseSSL    *bool

	ocrEngine         *string
	ocrConcurrency    *int
	lang              *string
	tesseractDPI      *int
	preprocessMaxEdge *int
	preprocessEnhance *bool

	generator       *string
	instances       *int
	queueSize       *int
	generateTimeout *time.Duration
	seed            *int
	maxNewTokens    *int
	maxInputTokens  *int
	ollamaURL       *string
	ollamaModel     *string
	geminiKey       *string
	geminiModel     *string
	openAIKey       *string
	openAIBaseURL   *string
	openAIModel     *string

	legacyExtraction *bool
	profilePath      *string

	redisURL     *string
	jobQueue     *string
	jobRetention *time.Duration
	jobTimeout   *time.Duration
	jobMaxRetry  *int
}

// Register defines every flag on fs.
func Register(fs *ff.FlagSet) *Flags {
	return &Flags{
		port:     fs.IntLong("port", 8080, "HTTP server port"),
		dbPath:   fs.StringLong("db", "receipt-parser.db", "Scan history database file path"),
		authUser: fs.StringLong("auth-user", "", "Basic auth username (optional)"),
		authPass: fs.StringLong("auth-pass", "", "Basic auth password (optional)"),

		storageBackend: fs.StringLong("storage", "local", "Upload archive: 'local', 'minio' or 'none'"),
		storagePath:    fs.StringLong("storage-path", "./uploads", "Local upload archive directory"),
		minioEndpoint:  fs.StringLong("minio-endpoint", "localhost:9000", "MinIO endpoint"),
		minioAccessKey: fs.StringLong("minio-access-key", "", "MinIO access key"),
		minioSecretKey: fs.StringLong("minio-secret-key", "", "MinIO secret key"),
		minioBucket:    fs.StringLong("minio-bucket", "receipts", "MinIO bucket name"),
		minioUseSSL:    fs.BoolLong("minio-ssl", "Use TLS for MinIO"),

		ocrEngine:         fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract' or 'vision'"),
		ocrConcurrency:    fs.IntLong("ocr-concurrency", 2, "Maximum concurrent OCR calls"),
		lang:              fs.StringLong("lang", "", "OCR language (overrides the model profile)"),
		tesseractDPI:      fs.IntLong("tesseract-dpi", 0, "Resolution Tesseract assumes for images without DPI metadata (0 keeps its default)"),
		preprocessMaxEdge: fs.IntLong("preprocess-max-edge", 2000, "Downscale images whose longest edge exceeds this (0 disables)"),
		preprocessEnhance: fs.BoolLong("preprocess-enhance", "Grayscale, contrast and sharpen images before OCR"),

		generator:       fs.StringLong("generator", "ollama", "Generator backend: 'ollama', 'gemini' or 'openai'"),
		instances:       fs.IntLong("instances", 1, "Number of loaded model instances (one worker each)"),
		queueSize:       fs.IntLong("queue-size", 16, "Requests allowed to wait for a model instance"),
		generateTimeout: fs.DurationLong("generate-timeout", 2*time.Minute, "Timeout for a single generation (0 disables)"),
		seed:            fs.IntLong("seed", 0, "Sampling seed forwarded to backends that accept one"),
		maxNewTokens:    fs.IntLong("max-new-tokens", 0, "Generated token cap (overrides the model profile)"),
		maxInputTokens:  fs.IntLong("max-input-tokens", 0, "Prompt token budget, truncated from the end (0 disables)"),
		ollamaURL:       fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:     fs.StringLong("ollama-model", "mistral7b-ocr-to-json", "Ollama model name"),
		geminiKey:       fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:     fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		openAIKey:       fs.StringLong("openai-key", "", "API key for the OpenAI-compatible server (or set OPENAI_API_KEY env var)"),
		openAIBaseURL:   fs.StringLong("openai-url", "http://localhost:8000/v1", "OpenAI-compatible server base URL"),
		openAIModel:     fs.StringLong("openai-model", "mychen76/mistral7b_ocr_to_json_v1", "Model name on the OpenAI-compatible server"),

		legacyExtraction: fs.BoolLong("legacy-extraction", "Reproduce the legacy extractor (empty output when the delimiter occurs once)"),
		profilePath:      fs.StringLong("profile", "", "YAML model profile (lang, quantization, device map, ...)"),

		redisURL:     fs.StringLong("redis-url", "", "Redis URL for asynchronous jobs (optional)"),
		jobQueue:     fs.StringLong("job-queue", "receipts", "Job queue name"),
		jobRetention: fs.DurationLong("job-retention", 24*time.Hour, "How long finished job results are kept"),
		jobTimeout:   fs.DurationLong("job-timeout", 0, "Processing deadline for a single job (0 uses the queue default)"),
		jobMaxRetry:  fs.IntLong("job-max-retry", 0, "Retries for failed jobs"),
	}
}

// Config resolves the parsed flags, the model profile and well-known
// environment variables into a Config.
func (f *Flags) Config() (*Config, error) {
	profile := DefaultProfile()
	if *f.profilePath != "" {
		var err error
		profile, err = LoadProfile(*f.profilePath)
		if err != nil {
			return nil, err
		}
	}
	if *f.lang != "" {
		profile.Lang = *f.lang
	}
	if *f.maxNewTokens > 0 {
		profile.MaxNewTokens = *f.maxNewTokens
	}

	cfg := &Config{
		Port:     *f.port,
		DBPath:   *f.dbPath,
		AuthUser: *f.authUser,
		AuthPass: *f.authPass,
		Storage: StorageConfig{
			Backend:   *f.storageBackend,
			Path:      *f.storagePath,
			Endpoint:  *f.minioEndpoint,
			AccessKey: *f.minioAccessKey,
			SecretKey: *f.minioSecretKey,
			Bucket:    *f.minioBucket,
			UseSSL:    *f.minioUseSSL,
		},
		OCREngine:         *f.ocrEngine,
		OCRConcurrency:    *f.ocrConcurrency,
		TesseractDPI:      *f.tesseractDPI,
		PreprocessMaxEdge: *f.preprocessMaxEdge,
		PreprocessEnhance: *f.preprocessEnhance,
		Generator:         *f.generator,
		Instances:         *f.instances,
		QueueSize:         *f.queueSize,
		GenerateTimeout:   *f.generateTimeout,
		Seed:              *f.seed,
		MaxInputTokens:    *f.maxInputTokens,
		Ollama: OllamaConfig{
			URL:   *f.ollamaURL,
			Model: *f.ollamaModel,
		},
		Gemini: GeminiConfig{
			APIKey: firstNonEmpty(*f.geminiKey, os.Getenv("GEMINI_API_KEY")),
			Model:  *f.geminiModel,
		},
		OpenAI: OpenAIConfig{
			APIKey:  firstNonEmpty(*f.openAIKey, os.Getenv("OPENAI_API_KEY")),
			BaseURL: *f.openAIBaseURL,
			Model:   *f.openAIModel,
		},
		LegacyExtraction: *f.legacyExtraction,
		Jobs: JobsConfig{
			RedisURL:  *f.redisURL,
			Queue:     *f.jobQueue,
			Retention: *f.jobRetention,
			Timeout:   *f.jobTimeout,
			MaxRetry:  *f.jobMaxRetry,
		},
		Profile: profile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.OCREngine {
	case "tesseract", "vision":
	default:
		return fmt.Errorf("invalid OCR engine %q (valid: tesseract or vision)", c.OCREngine)
	}

	switch c.Generator {
	case "ollama":
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
	case "openai":
	default:
		return fmt.Errorf("invalid generator %q (valid: ollama, gemini or openai)", c.Generator)
	}

	switch c.Storage.Backend {
	case "local", "none":
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return fmt.Errorf("minio storage requires --minio-endpoint and --minio-bucket")
		}
	default:
		return fmt.Errorf("invalid storage backend %q (valid: local, minio or none)", c.Storage.Backend)
	}

	if c.Instances < 1 || c.Instances > 64 {
		return fmt.Errorf("instances must be between 1 and 64, got %d", c.Instances)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue-size must not be negative, got %d", c.QueueSize)
	}
	if c.GenerateTimeout < 0 {
		return fmt.Errorf("generate-timeout must not be negative, got %s", c.GenerateTimeout)
	}
	if c.Jobs.Timeout < 0 {
		return fmt.Errorf("job-timeout must not be negative, got %s", c.Jobs.Timeout)
	}
	if c.TesseractDPI < 0 {
		return fmt.Errorf("tesseract-dpi must not be negative, got %d", c.TesseractDPI)
	}
	if c.Jobs.MaxRetry < 0 {
		return fmt.Errorf("job-max-retry must not be negative, got %d", c.Jobs.MaxRetry)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
