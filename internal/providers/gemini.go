package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	GeminiName    = "gemini"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// GeminiDefaultModel is the configured primary scan model.
	GeminiDefaultModel = "gemini-2.5-pro"
	// GeminiFallbackModel is tried once the primary model keeps failing.
	GeminiFallbackModel = "gemini-2.5-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RequestsPerMinute enables client-side throttling when positive.
	RequestsPerMinute int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GeminiClient calls the generateContent endpoint with an inline image.
// It makes a single attempt per call; retry policy belongs to the caller.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GeminiBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &GeminiClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger.With("provider", GeminiName),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = NewRateLimiter(cfg.RequestsPerMinute)
	}
	return c
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Limiter returns the client-side rate limiter, or nil.
func (c *GeminiClient) Limiter() *RateLimiter {
	return c.limiter
}

// GeminiRequest is one vision call.
type GeminiRequest struct {
	Model           string
	Prompt          string
	Image           []byte
	MimeType        string
	Temperature     float64
	MaxOutputTokens int
	// ThinkingBudget is sent only for 2.5 flash models.
	ThinkingBudget *int
	ResponseSchema json.RawMessage
}

type geminiPayload struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64               `json:"temperature"`
	ResponseMimeType string                `json:"responseMimeType"`
	ResponseSchema   json.RawMessage       `json:"responseSchema,omitempty"`
	CandidateCount   int                   `json:"candidateCount"`
	MaxOutputTokens  int                   `json:"maxOutputTokens"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateContent sends req and returns the first non-empty text part of the
// response, which may be "". Non-2xx responses are returned as *HTTPError.
func (c *GeminiClient) GenerateContent(ctx context.Context, req GeminiRequest) (string, error) {
	if req.Model == "" {
		return "", fmt.Errorf("%w: gemini model is required", ErrInvalidRequest)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body, err := json.Marshal(buildGeminiPayload(req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if resp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.Record429(retryAfter)
		}
		return "", &HTTPError{
			Provider:   "Gemini",
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter,
		}
	}

	var decoded geminiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", &decodeError{err: err}
	}
	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", nil
}

func buildGeminiPayload(req GeminiRequest) geminiPayload {
	mime := req.MimeType
	if mime == "" {
		mime = "image/png"
	}
	parts := []geminiPart{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	gc := geminiGenerationConfig{
		Temperature:      req.Temperature,
		ResponseMimeType: "application/json",
		ResponseSchema:   req.ResponseSchema,
		CandidateCount:   1,
		MaxOutputTokens:  clampInt(req.MaxOutputTokens, 256, 8192),
	}
	if req.ThinkingBudget != nil && supportsThinkingBudget(req.Model) {
		gc.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: clampInt(*req.ThinkingBudget, 0, 24576)}
	}

	return geminiPayload{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: gc,
	}
}

func supportsThinkingBudget(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.Contains(m, "2.5") && strings.Contains(m, "flash")
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
