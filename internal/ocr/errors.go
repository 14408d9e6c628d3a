package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyImage is returned when no image bytes were supplied.
	ErrEmptyImage = errors.New("image data is empty")

	// ErrZeroSize is returned when an image decodes to zero width or height.
	ErrZeroSize = errors.New("image has zero width or height")
)

// InvalidImageError reports a malformed, corrupt, or zero-size image.
type InvalidImageError struct {
	// Op is the operation that rejected the image (e.g., "LoadImage").
	Op string

	// Err is the underlying decode or validation error.
	Err error
}

// Error implements the error interface.
func (e *InvalidImageError) Error() string {
	return fmt.Sprintf("invalid image: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *InvalidImageError) Unwrap() error {
	return e.Err
}

func invalidImage(op string, err error) error {
	var invalid *InvalidImageError
	if errors.As(err, &invalid) {
		return err
	}
	return &InvalidImageError{Op: op, Err: err}
}
