package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// contentGenerator is the part of *genai.GenerativeModel used by Gemini
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini implements the Generator interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  contentGenerator
	opts   Options
}

// NewGemini creates a new Gemini Generator instance
func NewGemini(ctx context.Context, apiKey string, modelName string, opts Options) (*Gemini, error) {
	if apiKey == "" {
		return nil, Wrap("gemini", fmt.Errorf("gemini api key is required"))
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	opts = opts.withDefaults()

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, Wrap("gemini", fmt.Errorf("creating gemini client: %w", err))
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SetTopK(1)
	model.SetCandidateCount(1)
	model.SetMaxOutputTokens(int32(opts.MaxNewTokens))

	return &Gemini{
		client: client,
		model:  model,
		opts:   opts,
	}, nil
}

// Generate runs the model on prompt
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = TruncatePrompt(prompt, g.opts.MaxInputTokens)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", Wrap("gemini", fmt.Errorf("generating content: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", Wrap("gemini", ErrEmptyGeneration)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return echo(prompt, responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
