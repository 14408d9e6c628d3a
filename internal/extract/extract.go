// Package extract isolates the structured receipt from a raw model
// generation.
package extract

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter marks the start of the model's answer. The raw generation echoes
// the prompt, so the first occurrence is the prompt's own output header.
const Delimiter = "Output:"

// headerMarker precedes the delimiter when the model repeats a section header.
const headerMarker = "###"

// endOfSequence is emitted by some backends when decoding special tokens.
const endOfSequence = "</s>"

// ErrDelimiterNotFound is wrapped by ExtractionError when the generation
// does not contain Delimiter.
var ErrDelimiterNotFound = errors.New("output delimiter not found in generation")

// ExtractionError reports a generation the extractor could not split.
type ExtractionError struct {
	Delimiter string
	Err       error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting receipt: %q: %v", e.Delimiter, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Mode selects how the end of the answer is located.
type Mode int

const (
	// ModeFixed ends the answer at the next delimiter after the first one,
	// or at the end of the generation.
	ModeFixed Mode = iota

	// ModeLegacy searches for the end starting at the same index as the
	// start. With a single delimiter this always yields an empty answer.
	ModeLegacy
)

// String returns the flag name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLegacy:
		return "legacy"
	default:
		return "fixed"
	}
}

// Extractor pulls the structured receipt out of a raw generation.
type Extractor struct {
	mode Mode
}

// New creates an Extractor.
func New(mode Mode) *Extractor {
	return &Extractor{mode: mode}
}

// Mode returns the extraction mode.
func (e *Extractor) Mode() Mode {
	return e.mode
}

// Extract returns the text following the output delimiter. The result is
// not validated as JSON.
func (e *Extractor) Extract(raw string) (string, error) {
	index := strings.Index(raw, Delimiter)
	if index == -1 {
		return "", &ExtractionError{Delimiter: Delimiter, Err: ErrDelimiterNotFound}
	}
	start := index + len(Delimiter)

	if e.mode == ModeLegacy {
		// The end search restarts at index and finds the same delimiter,
		// so the slice between the two positions is always empty.
		return "", nil
	}

	end := len(raw)
	if next := strings.Index(raw[start:], Delimiter); next != -1 {
		end = start + next
	}

	answer := strings.TrimSpace(raw[start:end])
	if end < len(raw) {
		// Drop the markdown header marker of the repeated delimiter
		answer = strings.TrimSpace(strings.TrimSuffix(answer, headerMarker))
	}
	answer = strings.TrimSpace(strings.TrimSuffix(answer, endOfSequence))
	return answer, nil
}
