package ocr

import (
	"context"
	"fmt"
	"image"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// Vision implements Engine using Google Cloud Vision text detection.
type Vision struct {
	client        *vision.ImageAnnotatorClient
	languageHints []string
}

// NewVision creates a Cloud Vision engine. Credentials are resolved by the
// client options, falling back to application default credentials.
func NewVision(ctx context.Context, languageHints []string, opts ...option.ClientOption) (*Vision, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &Vision{
		client:        client,
		languageHints: languageHints,
	}, nil
}

// Extract detects words in img.
func (v *Vision) Extract(ctx context.Context, img image.Image) (Result, error) {
	data, err := encodePNG("Vision.Extract", img)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: v.languageHints},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision: annotating image: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return Result{}, nil
	}

	r := resp.GetResponses()[0]
	if r.GetError() != nil {
		return nil, fmt.Errorf("vision: %s", r.GetError().GetMessage())
	}

	return annotationsToRegions(r.GetTextAnnotations()), nil
}

// Close closes the underlying Vision client
func (v *Vision) Close() error {
	return v.client.Close()
}

// annotationsToRegions skips the first annotation, which covers the whole
// detected text block.
func annotationsToRegions(annotations []*visionpb.EntityAnnotation) Result {
	if len(annotations) <= 1 {
		return Result{}
	}

	regions := make(Result, 0, len(annotations)-1)
	for _, a := range annotations[1:] {
		if a.GetDescription() == "" {
			continue
		}
		confidence := a.GetConfidence()
		if confidence == 0 {
			confidence = a.GetScore()
		}
		regions = append(regions, TextRegion{
			Box:        polygonFromVertices(a.GetBoundingPoly().GetVertices()),
			Text:       a.GetDescription(),
			Confidence: clampConfidence(float64(confidence)),
		})
	}
	return regions
}

func polygonFromVertices(vertices []*visionpb.Vertex) [4]Point {
	var box [4]Point
	for i := range box {
		if len(vertices) == 0 {
			break
		}
		v := vertices[len(vertices)-1]
		if i < len(vertices) {
			v = vertices[i]
		}
		box[i] = Point{X: float64(v.GetX()), Y: float64(v.GetY())}
	}
	return box
}
