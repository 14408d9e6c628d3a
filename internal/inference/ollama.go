package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama implements the Generator interface using Ollama's generate API in
// raw mode, so the prompt template is sent to the model untouched.
type Ollama struct {
	baseURL string
	model   string
	opts    Options
	numGPU  *int
	client  *http.Client
}

// NewOllama creates a new Ollama Generator instance
func NewOllama(baseURL string, modelName string, opts Options) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		return nil, Wrap("ollama", fmt.Errorf("model name is required"))
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		opts:    opts.withDefaults(),
		// No client timeout: callers bound generation through the context
		client: &http.Client{},
	}, nil
}

// SetCPUOnly keeps all model layers off the accelerator.
func (o *Ollama) SetCPUOnly(cpuOnly bool) {
	if !cpuOnly {
		o.numGPU = nil
		return
	}
	zero := 0
	o.numGPU = &zero
}

// ollamaGenerateRequest represents the request body for Ollama's generate API
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx,omitempty"`
	NumGPU      *int    `json:"num_gpu,omitempty"`
}

// ollamaGenerateResponse represents the response from Ollama's generate API
type ollamaGenerateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Generate runs the model on prompt
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = TruncatePrompt(prompt, o.opts.MaxInputTokens)

	reqBody := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Raw:    true,
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0,
			Seed:        o.opts.Seed,
			NumPredict:  o.opts.MaxNewTokens,
			NumGPU:      o.numGPU,
		},
	}
	if o.opts.MaxInputTokens > 0 {
		reqBody.Options.NumCtx = o.opts.MaxInputTokens + o.opts.MaxNewTokens
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", Wrap("ollama", fmt.Errorf("marshaling request: %w", err))
	}

	url := fmt.Sprintf("%s/api/generate", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", Wrap("ollama", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", Wrap("ollama", fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr ollamaErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return "", Wrap("ollama", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, apiErr.Error))
		}
		return "", Wrap("ollama", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", Wrap("ollama", fmt.Errorf("decoding response: %w", err))
	}

	return echo(prompt, genResp.Response), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
