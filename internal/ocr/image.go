package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// LoadImage decodes an encoded receipt image into an RGB pixel array.
// JPEG, PNG, GIF, BMP, TIFF, WebP, HEIC/HEIF and PDF (first page) are
// accepted. Transparent pixels are flattened onto white.
func LoadImage(data []byte) (*image.RGBA, error) {
	const op = "LoadImage"

	if len(data) == 0 {
		return nil, invalidImage(op, ErrEmptyImage)
	}

	var (
		img image.Image
		err error
	)
	switch {
	case isPDFFormat(data):
		img, err = pdfToImage(data)
	case isHEICFormat(data):
		// Go's standard image package doesn't support HEIC
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding image: %w", err)
		}
	}
	if err != nil {
		return nil, invalidImage(op, err)
	}

	return toRGBA(op, img)
}

func toRGBA(op string, img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, invalidImage(op, ErrZeroSize)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, invalidImage(op, ErrZeroSize)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Over)
	return rgba, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Most receipts are single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// encodePNG serializes pixels for engines that only accept encoded images
func encodePNG(op string, img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, invalidImage(op, ErrZeroSize)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func isPDFFormat(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}
