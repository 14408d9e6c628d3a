package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/zombor/receipt-parser/internal/extract"
	"github.com/zombor/receipt-parser/internal/inference"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/pipeline"
)

// ExtractionMode returns the configured extractor mode.
func (c *Config) ExtractionMode() extract.Mode {
	if c.LegacyExtraction {
		return extract.ModeLegacy
	}
	return extract.ModeFixed
}

// GeneratorOptions returns the generation bounds from the profile and flags.
func (c *Config) GeneratorOptions() inference.Options {
	return inference.Options{
		MaxNewTokens:   c.Profile.MaxNewTokens,
		MaxInputTokens: c.MaxInputTokens,
		Seed:           c.Seed,
	}
}

// NewEngine creates the configured OCR engine. The returned closer releases
// backend connections and is never nil.
func NewEngine(ctx context.Context, c *Config) (ocr.Engine, io.Closer, error) {
	var engine ocr.Engine
	var closer io.Closer = nopCloser{}

	switch c.OCREngine {
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...", "lang", c.Profile.Lang, "dpi", c.TesseractDPI)
		t := ocr.NewTesseract(c.Profile.Lang)
		if c.TesseractDPI > 0 {
			t.SetVariable("user_defined_dpi", strconv.Itoa(c.TesseractDPI))
		}
		engine = t
	case "vision":
		slog.Info("Initializing Cloud Vision OCR...", "lang", c.Profile.Lang)
		v, err := ocr.NewVision(ctx, []string{c.Profile.Lang})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize vision: %w", err)
		}
		engine, closer = v, v
	default:
		return nil, nil, fmt.Errorf("invalid OCR engine %q", c.OCREngine)
	}

	if c.PreprocessMaxEdge > 0 || c.PreprocessEnhance {
		engine = ocr.WithPreprocessing(engine, ocr.NewPreprocessor(c.PreprocessMaxEdge, c.PreprocessEnhance))
	}
	return engine, closer, nil
}

// NewGenerator loads one generator per configured instance behind a Pool.
func NewGenerator(ctx context.Context, c *Config) (*inference.Pool, error) {
	opts := c.GeneratorOptions()
	generators := make([]inference.Generator, 0, c.Instances)

	closeAll := func() {
		for _, g := range generators {
			if closer, ok := g.(io.Closer); ok {
				closer.Close()
			}
		}
	}

	for i := 0; i < c.Instances; i++ {
		g, err := newBackend(ctx, c, opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		generators = append(generators, g)
	}

	pool, err := inference.NewPool(generators, c.QueueSize)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create generator pool: %w", err)
	}
	return pool, nil
}

func newBackend(ctx context.Context, c *Config, opts inference.Options) (inference.Generator, error) {
	switch c.Generator {
	case "ollama":
		slog.Info("Initializing Ollama generator...", "url", c.Ollama.URL, "model", c.Ollama.Model)
		g, err := inference.NewOllama(c.Ollama.URL, c.Ollama.Model, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		g.SetCPUOnly(c.Profile.CPUOnly())
		return g, nil
	case "gemini":
		slog.Info("Initializing Gemini generator...", "model", c.Gemini.Model)
		g, err := inference.NewGemini(ctx, c.Gemini.APIKey, c.Gemini.Model, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini: %w", err)
		}
		return g, nil
	case "openai":
		slog.Info("Initializing OpenAI-compatible generator...", "url", c.OpenAI.BaseURL, "model", c.OpenAI.Model)
		g, err := inference.NewOpenAI(c.OpenAI.APIKey, c.OpenAI.BaseURL, c.OpenAI.Model, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("invalid generator %q", c.Generator)
	}
}

// NewPipeline builds the OCR engine, the generator pool and the pipeline
// Context. The returned function releases every backend.
func NewPipeline(ctx context.Context, c *Config) (*pipeline.Context, func() error, error) {
	engine, engineCloser, err := NewEngine(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	pool, err := NewGenerator(ctx, c)
	if err != nil {
		engineCloser.Close()
		return nil, nil, err
	}

	p := pipeline.New(engine, pool, extract.New(c.ExtractionMode()),
		pipeline.WithGenerateTimeout(c.GenerateTimeout),
		pipeline.WithOCRConcurrency(int64(c.OCRConcurrency)),
	)

	closeFn := func() error {
		return errors.Join(pool.Close(), engineCloser.Close())
	}
	return p, closeFn, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
