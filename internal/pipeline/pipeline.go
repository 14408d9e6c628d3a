// Package pipeline wires OCR, prompt synthesis, generation and extraction
// into a single receipt-to-JSON call.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/receipt-parser/internal/extract"
	"github.com/zombor/receipt-parser/internal/inference"
	"github.com/zombor/receipt-parser/internal/ocr"
	"github.com/zombor/receipt-parser/internal/prompt"
)

// Runner runs the pipeline on an encoded image.
type Runner interface {
	Run(ctx context.Context, imageData []byte) (*Result, error)
}

// Context holds the engine handles shared by every pipeline invocation. It is
// built once at startup and passed explicitly to request handlers. Per-request
// data is never stored on it.
type Context struct {
	ocr             ocr.Engine
	generator       inference.Generator
	extractor       *extract.Extractor
	generateTimeout time.Duration
	ocrSlots        *semaphore.Weighted
}

// Option configures a Context
type Option func(*Context)

// WithGenerateTimeout bounds each generation call. Zero means no timeout.
func WithGenerateTimeout(d time.Duration) Option {
	return func(c *Context) {
		c.generateTimeout = d
	}
}

// WithOCRConcurrency limits how many OCR calls run at once.
func WithOCRConcurrency(n int64) Option {
	return func(c *Context) {
		if n > 0 {
			c.ocrSlots = semaphore.NewWeighted(n)
		}
	}
}

// New creates a pipeline Context.
func New(engine ocr.Engine, generator inference.Generator, extractor *extract.Extractor, opts ...Option) *Context {
	if extractor == nil {
		extractor = extract.New(extract.ModeFixed)
	}
	c := &Context{
		ocr:       engine,
		generator: generator,
		extractor: extractor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one pipeline invocation.
type Result struct {
	// Receipt is the extracted text, expected (not guaranteed) to be JSON.
	Receipt           string
	Regions           ocr.Result
	OCRDuration       time.Duration
	InferenceDuration time.Duration
}

// Run decodes imageData and runs the pipeline on it.
func (c *Context) Run(ctx context.Context, imageData []byte) (*Result, error) {
	img, err := ocr.LoadImage(imageData)
	if err != nil {
		return nil, err
	}
	return c.RunImage(ctx, img)
}

// RunImage runs OCR, prompt synthesis, generation and extraction in order.
func (c *Context) RunImage(ctx context.Context, img image.Image) (*Result, error) {
	ocrStart := time.Now()
	regions, err := c.extractRegions(ctx, img)
	if err != nil {
		return nil, err
	}
	ocrDuration := time.Since(ocrStart)

	p := prompt.Synthesize(regions)

	genStart := time.Now()
	raw, err := c.generate(ctx, p)
	if err != nil {
		return nil, err
	}
	genDuration := time.Since(genStart)

	receipt, err := c.extractor.Extract(raw)
	if err != nil {
		return nil, err
	}

	return &Result{
		Receipt:           receipt,
		Regions:           regions,
		OCRDuration:       ocrDuration,
		InferenceDuration: genDuration,
	}, nil
}

func (c *Context) extractRegions(ctx context.Context, img image.Image) (ocr.Result, error) {
	if c.ocrSlots != nil {
		if err := c.ocrSlots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for OCR slot: %w", err)
		}
		defer c.ocrSlots.Release(1)
	}

	regions, err := c.ocr.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extracting text regions: %w", err)
	}
	if regions == nil {
		regions = ocr.Result{}
	}
	return regions, nil
}

func (c *Context) generate(ctx context.Context, p string) (string, error) {
	if c.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.generateTimeout)
		defer cancel()
	}

	raw, err := c.generator.Generate(ctx, p)
	if err != nil {
		return "", inference.Wrap("generator", err)
	}
	return raw, nil
}
