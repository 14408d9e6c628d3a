package ocr

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessor enhances images for better OCR results
type Preprocessor struct {
	maxEdge int
	enhance bool
}

// NewPreprocessor creates a new image preprocessor. Images whose longest
// edge exceeds maxEdge are downscaled (0 disables). When enhance is set the
// image is converted to grayscale, contrast-stretched and sharpened.
func NewPreprocessor(maxEdge int, enhance bool) *Preprocessor {
	return &Preprocessor{
		maxEdge: maxEdge,
		enhance: enhance,
	}
}

// Process returns the enhanced image and the factor that maps its pixel
// coordinates back onto the input image.
func (p *Preprocessor) Process(img image.Image) (image.Image, float64) {
	out := img
	scale := 1.0

	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if p.maxEdge > 0 && longest > p.maxEdge {
		out = imaging.Fit(out, p.maxEdge, p.maxEdge, imaging.Lanczos)
		ob := out.Bounds()
		scale = float64(longest) / float64(max(ob.Dx(), ob.Dy()))
	}

	if p.enhance {
		// grayscale -> contrast -> sharpen
		out = imaging.Grayscale(out)
		out = imaging.AdjustContrast(out, 20)
		out = imaging.Sharpen(out, 0.5)
	}

	return out, scale
}

type preprocessedEngine struct {
	engine       Engine
	preprocessor *Preprocessor
}

// WithPreprocessing wraps engine so every image is preprocessed first.
// Region coordinates are mapped back to the original image.
func WithPreprocessing(engine Engine, p *Preprocessor) Engine {
	if p == nil {
		return engine
	}
	return &preprocessedEngine{engine: engine, preprocessor: p}
}

func (e *preprocessedEngine) Extract(ctx context.Context, img image.Image) (Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, invalidImage("Preprocessor.Process", ErrZeroSize)
	}

	processed, scale := e.preprocessor.Process(img)
	result, err := e.engine.Extract(ctx, processed)
	if err != nil {
		return nil, err
	}
	if scale == 1 {
		return result, nil
	}

	scaled := make(Result, len(result))
	for i, r := range result {
		for j, pt := range r.Box {
			r.Box[j] = Point{X: pt.X * scale, Y: pt.Y * scale}
		}
		scaled[i] = r
	}
	return scaled, nil
}
