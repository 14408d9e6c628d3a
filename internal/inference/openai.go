package inference

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements the Generator interface against any server speaking the
// OpenAI completions API (vLLM, llama.cpp, text-generation-inference).
type OpenAI struct {
	client *openai.Client
	model  string
	opts   Options
}

// NewOpenAI creates a new OpenAI-compatible Generator instance
func NewOpenAI(apiKey, baseURL, modelName string, opts Options) (*OpenAI, error) {
	if modelName == "" {
		return nil, Wrap("openai", fmt.Errorf("model name is required"))
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		opts:   opts.withDefaults(),
	}, nil
}

// Generate runs the model on prompt
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = TruncatePrompt(prompt, o.opts.MaxInputTokens)

	seed := o.opts.Seed
	resp, err := o.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     o.model,
		Prompt:    prompt,
		MaxTokens: o.opts.MaxNewTokens,
		// A literal zero is dropped by omitempty and the server default applies
		Temperature: math.SmallestNonzeroFloat32,
		N:           1,
		Seed:        &seed,
	})
	if err != nil {
		return "", Wrap("openai", fmt.Errorf("creating completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", Wrap("openai", ErrEmptyGeneration)
	}

	return echo(prompt, resp.Choices[0].Text), nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
