// Package ocr turns receipt images into ordered text regions.
//
// Regions are returned in the engine's scan order. Callers must not reorder
// them: item/price adjacency on a receipt is carried by that order.
package ocr

import (
	"context"
	"image"
)

// Point is a pixel coordinate with the origin in the upper-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TextRegion is a single detected line or word.
type TextRegion struct {
	// Box is the bounding polygon, clockwise from the top-left corner.
	Box        [4]Point `json:"box"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"` // 0..1
}

// Result is the ordered output of an Engine. An empty Result is valid.
type Result []TextRegion

// Texts returns the recognized text of every region, in order.
func (r Result) Texts() []string {
	texts := make([]string, len(r))
	for i, region := range r {
		texts[i] = region.Text
	}
	return texts
}

// Engine defines the interface for text region extraction
type Engine interface {
	// Extract runs OCR over img and returns the detected regions
	Extract(ctx context.Context, img image.Image) (Result, error)
}

// RectPolygon converts an axis-aligned rectangle into a 4-point polygon.
func RectPolygon(r image.Rectangle) [4]Point {
	return [4]Point{
		{X: float64(r.Min.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Min.Y)},
		{X: float64(r.Max.X), Y: float64(r.Max.Y)},
		{X: float64(r.Min.X), Y: float64(r.Max.Y)},
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
