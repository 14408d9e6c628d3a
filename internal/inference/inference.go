// Package inference runs the generative receipt model.
//
// Every Generator returns the prompt echoed back followed by the generated
// continuation, whether or not the backend echoes natively. Decoding is
// greedy (temperature 0) so repeated calls on the same prompt are expected to
// return the same text; exact determinism depends on the backend runtime.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxNewTokens is large enough for a full JSON receipt object.
const DefaultMaxNewTokens = 512

// approxBytesPerToken is used to estimate prompt length without a tokenizer.
const approxBytesPerToken = 4

// Generator defines the interface for text generation backends
type Generator interface {
	// Generate returns the prompt followed by the model's continuation
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options bounds a generation.
type Options struct {
	// MaxNewTokens caps the number of generated tokens.
	MaxNewTokens int

	// MaxInputTokens truncates longer prompts from the end. Zero disables
	// truncation. Very large OCR results may lose trailing line items.
	MaxInputTokens int

	// Seed is forwarded to backends that accept one.
	Seed int
}

func (o Options) withDefaults() Options {
	if o.MaxNewTokens <= 0 {
		o.MaxNewTokens = DefaultMaxNewTokens
	}
	if o.MaxInputTokens < 0 {
		o.MaxInputTokens = 0
	}
	return o
}

// ErrEmptyGeneration is returned when a backend produced no candidates.
var ErrEmptyGeneration = errors.New("backend returned no generation")

// InferenceError reports a model load, transport, resource or deadline
// failure. Generation is never retried internally.
type InferenceError struct {
	// Backend names the generator that failed (e.g., "ollama").
	Backend string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %s: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *InferenceError unless it already is one.
func Wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return err
	}
	return &InferenceError{Backend: backend, Err: err}
}

// TruncatePrompt drops the end of prompt so that its estimated token count
// fits maxTokens. Zero or negative maxTokens leaves the prompt unchanged.
func TruncatePrompt(prompt string, maxTokens int) string {
	if maxTokens <= 0 {
		return prompt
	}
	limit := maxTokens * approxBytesPerToken
	if len(prompt) <= limit {
		return prompt
	}
	for limit > 0 && !utf8.RuneStart(prompt[limit]) {
		limit--
	}
	return prompt[:limit]
}

// echo guarantees the raw generation starts with exactly one copy of the
// prompt. A copy echoed by the backend, along with anything it emitted before
// it such as a decoded BOS token, is dropped.
func echo(prompt, generated string) string {
	if i := strings.Index(generated, prompt); i != -1 {
		generated = generated[i+len(prompt):]
	}
	return prompt + generated
}
