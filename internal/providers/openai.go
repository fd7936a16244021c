package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4.1-mini"
)

// OpenAIConfig holds configuration for the OpenAI text client.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // Optional (tests, proxies)
	Temperature float64
	MaxTokens   int64
	MaxRetries  int           // SDK transport retries
	Timeout     time.Duration // HTTP timeout
	HTTPClient  *http.Client  // Optional (tests)
}

// OpenAIClient sends single-turn prompts through the Responses API.
type OpenAIClient struct {
	model       string
	temperature float64
	maxTokens   int64
	configured  bool
	client      openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		configured:  cfg.APIKey != "",
		client:      openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Model returns the configured model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Configured reports whether an API key is present.
func (c *OpenAIClient) Configured() bool {
	return c.configured
}

// Complete returns the output text for prompt.
func (c *OpenAIClient) Complete(ctx context.Context, instructions, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
		MaxOutputTokens: openai.Int(c.maxTokens),
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", fmt.Errorf("OpenAI returned empty output")
	}
	return text, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	retryAfter := time.Duration(0)
	if apiErr.Response != nil {
		retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		}
	}
	return &HTTPError{
		Provider:   "OpenAI",
		StatusCode: apiErr.StatusCode,
		Body:       apiErr.Message,
		RetryAfter: retryAfter,
	}
}
