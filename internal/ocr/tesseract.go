package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// tesseractLanguages maps ISO 639-1 codes to Tesseract traineddata names.
var tesseractLanguages = map[string]string{
	"en": "eng",
	"de": "deu",
	"fr": "fra",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"nl": "nld",
	"ja": "jpn",
	"ko": "kor",
	"ch": "chi_sim",
	"zh": "chi_sim",
}

// Tesseract implements Engine with a local Tesseract installation.
// A fresh gosseract client is created per call, so a single Tesseract
// value is safe for concurrent use.
type Tesseract struct {
	languages     []string
	variables     map[string]string
	clientFactory func() *gosseract.Client
}

// NewTesseract creates a Tesseract engine. Languages may be given either as
// Tesseract names ("eng") or ISO 639-1 codes ("en").
func NewTesseract(languages ...string) *Tesseract {
	langs := make([]string, 0, len(languages))
	for _, l := range languages {
		l = strings.TrimSpace(strings.ToLower(l))
		if l == "" {
			continue
		}
		if mapped, ok := tesseractLanguages[l]; ok {
			l = mapped
		}
		langs = append(langs, l)
	}
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	return &Tesseract{
		languages:     langs,
		variables:     map[string]string{},
		clientFactory: gosseract.NewClient,
	}
}

// SetVariable passes an engine-specific knob (e.g. "user_defined_dpi")
// through to every client.
func (t *Tesseract) SetVariable(key, value string) {
	t.variables[key] = value
}

// Variables returns the engine variables set on every client.
func (t *Tesseract) Variables() map[string]string {
	vars := make(map[string]string, len(t.variables))
	for k, v := range t.variables {
		vars[k] = v
	}
	return vars
}

// Languages returns the resolved Tesseract language names.
func (t *Tesseract) Languages() []string {
	return append([]string(nil), t.languages...)
}

// Extract recognizes text lines in img.
func (t *Tesseract) Extract(ctx context.Context, img image.Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodePNG("Tesseract.Extract", img)
	if err != nil {
		return nil, err
	}

	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("tesseract: setting languages: %w", err)
	}
	for k, v := range t.variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("tesseract: setting variable %s: %w", k, err)
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, invalidImage("Tesseract.Extract", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognizing text lines: %w", err)
	}

	return boxesToRegions(boxes), nil
}

func boxesToRegions(boxes []gosseract.BoundingBox) Result {
	regions := make(Result, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		regions = append(regions, TextRegion{
			Box:        RectPolygon(b.Box),
			Text:       text,
			Confidence: clampConfidence(b.Confidence / 100),
		})
	}
	return regions
}
