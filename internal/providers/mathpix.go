package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mathhub/mathhub/internal/jsonx"
)

const (
	MathpixName    = "mathpix"
	MathpixBaseURL = "https://api.mathpix.com/v3"
)

// ErrNoJobID is returned when a PDF submission yields no provider job id.
var ErrNoJobID = errors.New("mathpix returned no job id")

// jobIDKeys are the response keys that may carry the provider job id.
var jobIDKeys = []string{"pdf_id", "id", "job_id", "request_id"}

// MathpixConfig holds configuration for the Mathpix client.
type MathpixConfig struct {
	AppID   string
	AppKey  string
	BaseURL string
	Timeout time.Duration

	// ImageAttempts bounds the retry loop of OCRImage (default 3).
	ImageAttempts uint
	// ImageRetryDelay is the base backoff of OCRImage (default 1s).
	ImageRetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// MathpixClient talks to the Mathpix PDF and image OCR endpoints.
type MathpixClient struct {
	appID      string
	appKey     string
	baseURL    string
	attempts   uint
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewMathpixClient creates a new Mathpix client.
func NewMathpixClient(cfg MathpixConfig) *MathpixClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MathpixBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ImageAttempts == 0 {
		cfg.ImageAttempts = 3
	}
	if cfg.ImageRetryDelay == 0 {
		cfg.ImageRetryDelay = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MathpixClient{
		appID:      cfg.AppID,
		appKey:     cfg.AppKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		attempts:   cfg.ImageAttempts,
		retryDelay: cfg.ImageRetryDelay,
		client:     client,
		logger:     logger.With("provider", MathpixName),
	}
}

// Name returns the provider identifier.
func (c *MathpixClient) Name() string {
	return MathpixName
}

// Configured reports whether credentials are present.
func (c *MathpixClient) Configured() bool {
	return c.appID != "" && c.appKey != ""
}

// SubmitPDF asks Mathpix to process the PDF at fileURL. A response without a
// job id that carries an error is returned as an error.
func (c *MathpixClient) SubmitPDF(ctx context.Context, fileURL, callbackURL string) (map[string]any, error) {
	body := map[string]any{"url": fileURL}
	if callbackURL != "" {
		body["callback"] = callbackURL
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.doJSON(ctx, http.MethodPost, "/pdf", bytes.NewReader(bodyBytes), "application/json")
	if err != nil {
		return nil, err
	}

	if ResolveJobID(data) == "" && (jsonx.Truthy(data["error"]) || jsonx.Truthy(data["error_info"])) {
		return nil, fmt.Errorf("Mathpix submit error: %s: %w", submitErrorMessage(data), ErrNoJobID)
	}
	return data, nil
}

func submitErrorMessage(data map[string]any) string {
	if msg := jsonx.String(data["error"]); msg != "" && jsonx.Map(data["error"]) == nil {
		return msg
	}
	if info := jsonx.Map(data["error_info"]); info != nil {
		if msg := jsonx.FirstString(info, "message", "id"); msg != "" {
			return msg
		}
	}
	raw, _ := json.Marshal(data["error_info"])
	return string(raw)
}

// ResolveJobID returns the provider job id from a submit response, or "".
func ResolveJobID(data map[string]any) string {
	for _, k := range jobIDKeys {
		if jsonx.Truthy(data[k]) {
			return jsonx.String(data[k])
		}
	}
	return ""
}

// FetchStatus returns the raw status payload of a PDF job.
func (c *MathpixClient) FetchStatus(ctx context.Context, jobID string) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodGet, "/pdf/"+url.PathEscape(jobID), nil, "")
}

// FetchLines returns the line-level result of a completed PDF job.
func (c *MathpixClient) FetchLines(ctx context.Context, jobID string) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodGet, "/pdf/"+url.PathEscape(jobID)+".lines.json", nil, "")
}

// OCRImage recognizes a single rendered crop through /text. Transient
// failures are retried with exponential backoff.
func (c *MathpixClient) OCRImage(ctx context.Context, image []byte, filename string) (map[string]any, error) {
	if filename == "" {
		filename = "image.png"
	}
	return retry.DoWithData(
		func() (map[string]any, error) {
			body, contentType, err := imageForm(image, filename)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			data, err := c.doJSON(ctx, http.MethodPost, "/text", body, contentType)
			if err != nil && !isRetryable(err) {
				return nil, retry.Unrecoverable(err)
			}
			return data, err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(8*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying image OCR", "attempt", n+1, "error", err)
		}),
	)
}

func imageForm(image []byte, filename string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	opts := `{"formats":["text","latex_styled"],"rm_spaces":true}`
	if err := w.WriteField("options_json", opts); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// isRetryable reports whether err is a transport failure or a transient
// HTTP status.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Transient()
	}
	return !IsDecodeError(err)
}

// TextFields returns the plain text and styled LaTeX of an image OCR result.
func TextFields(data map[string]any) (text, latex string) {
	return jsonx.FirstString(data, "text"), jsonx.FirstString(data, "latex_styled")
}

// doJSON makes an authenticated request and decodes a JSON object response.
func (c *MathpixClient) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("app_id", c.appID)
	req.Header.Set("app_key", c.appKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Provider:   "Mathpix",
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, &decodeError{err: err}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
