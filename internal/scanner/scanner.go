// Package scanner classifies rendered PDF pages with a vision model and
// extracts problem candidates and answer keys from them.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mathhub/mathhub/internal/providers"
)

const (
	DefaultParallelism      = 3
	DefaultRenderScale      = 1.6
	DefaultTemperature      = 0.1
	DefaultMaxOutputTokens  = 2048
	DefaultAttemptsPerModel = 4
	DefaultBaseDelay        = 800 * time.Millisecond
	DefaultMaxDelay         = 8 * time.Second
	DefaultMaxJitter        = 250 * time.Millisecond
)

// Document is the part of an opened PDF the scanner needs.
type Document interface {
	PageCount() int
	RenderPage(ctx context.Context, pageNo int, scale float64) ([]byte, error)
}

// Generator sends one vision request.
type Generator interface {
	GenerateContent(ctx context.Context, req providers.GeminiRequest) (string, error)
}

// TransientError is returned when every model kept failing with retryable
// errors.
type TransientError struct {
	Page     int
	Models   []string
	Attempts uint
	// LastStatus is the last HTTP status seen, or 0 for transport errors.
	LastStatus int
	Err        error
}

func (e *TransientError) Error() string {
	status := "request-error"
	if e.LastStatus > 0 {
		status = fmt.Sprint(e.LastStatus)
	}
	return fmt.Sprintf("transient failure on page %d after retries (models: %s, attempts=%d, last_status=%s): %v",
		e.Page, strings.Join(e.Models, ", "), e.Attempts, status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Config configures a Scanner.
type Config struct {
	Model           string
	FallbackModel   string
	Parallelism     int
	RenderScale     float64
	Temperature     float64
	MaxOutputTokens int
	// ThinkingBudget is forwarded to models that accept it. Nil omits it.
	ThinkingBudget *int

	AttemptsPerModel uint
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxJitter        time.Duration
	// Timer replaces the retry sleep (tests).
	Timer retry.Timer

	Logger *slog.Logger
}

// Scanner scans documents page by page.
type Scanner struct {
	gen    Generator
	cfg    Config
	models []string
	logger *slog.Logger
}

// New returns a Scanner calling gen.
func New(gen Generator, cfg Config) *Scanner {
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = providers.GeminiFallbackModel
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.RenderScale <= 0 {
		cfg.RenderScale = DefaultRenderScale
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.AttemptsPerModel == 0 {
		cfg.AttemptsPerModel = DefaultAttemptsPerModel
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = DefaultMaxJitter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var models []string
	if m := strings.TrimSpace(cfg.Model); m != "" {
		models = append(models, m)
	}
	if len(models) == 0 || models[0] != cfg.FallbackModel {
		models = append(models, cfg.FallbackModel)
	}

	return &Scanner{gen: gen, cfg: cfg, models: models, logger: logger}
}

// Models returns the models tried for each page, in order.
func (s *Scanner) Models() []string {
	return s.models
}

// ScanDocument scans the first maxPages pages of doc. At most Parallelism
// pages are in flight; each page is rendered only when a slot frees up.
// Pages are returned in ascending order. The first page failure cancels the
// remaining work and is returned.
func (s *Scanner) ScanDocument(ctx context.Context, doc Document, maxPages int) ([]Page, error) {
	total := min(doc.PageCount(), maxPages)
	if total <= 0 {
		return nil, nil
	}
	workers := min(total, s.cfg.Parallelism)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		pageNo int
		page   Page
		err    error
	}
	results := make(chan result, workers)
	next, inFlight := 1, 0

	dispatch := func() error {
		pageNo := next
		image, err := doc.RenderPage(ctx, pageNo, s.cfg.RenderScale)
		if err != nil {
			return fmt.Errorf("render page %d: %w", pageNo, err)
		}
		next++
		inFlight++
		go func() {
			page, err := s.ScanPage(ctx, image, pageNo)
			results <- result{pageNo: pageNo, page: page, err: err}
		}()
		return nil
	}

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for next <= total && inFlight < workers {
		if err := dispatch(); err != nil {
			fail(err)
			break
		}
	}

	scanned := make(map[int]Page, total)
	for inFlight > 0 {
		r := <-results
		inFlight--
		if r.err != nil {
			fail(r.err)
			continue
		}
		scanned[r.pageNo] = r.page
		s.logger.Debug("page scanned", "page", r.pageNo, "problems", len(r.page.Problems), "model", r.page.Model)
		if firstErr == nil && next <= total {
			if err := dispatch(); err != nil {
				fail(err)
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	pages := make([]Page, 0, total)
	for pageNo := 1; pageNo <= total; pageNo++ {
		pages = append(pages, scanned[pageNo])
	}
	return pages, nil
}

// ScanPage classifies one rendered page. Transient failures are retried per
// model and then retried on the fallback model. Non-transient failures are
// returned at once.
func (s *Scanner) ScanPage(ctx context.Context, image []byte, pageNo int) (Page, error) {
	logger := s.logger.With("page", pageNo)

	var (
		lastErr    error
		lastStatus int
		tried      []string
	)
	for _, model := range s.models {
		text, status, err := s.callModel(ctx, image, pageNo, model)
		if err == nil {
			return Normalize(s.decode(text, logger), pageNo, model), nil
		}
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		if !isTransient(err) {
			return Page{}, fmt.Errorf("scan page %d with %s: %w", pageNo, model, err)
		}
		logger.Warn("model exhausted retries", "model", model, "error", err)
		tried = append(tried, model)
		lastErr, lastStatus = err, status
	}

	return Page{}, &TransientError{
		Page:       pageNo,
		Models:     tried,
		Attempts:   s.cfg.AttemptsPerModel,
		LastStatus: lastStatus,
		Err:        lastErr,
	}
}

// callModel runs the retry loop for one model. It returns the last HTTP
// status seen alongside any error.
func (s *Scanner) callModel(ctx context.Context, image []byte, pageNo int, model string) (string, int, error) {
	req := providers.GeminiRequest{
		Model:           model,
		Prompt:          pagePrompt(pageNo),
		Image:           image,
		MimeType:        "image/png",
		Temperature:     s.cfg.Temperature,
		MaxOutputTokens: s.cfg.MaxOutputTokens,
		ThinkingBudget:  s.cfg.ThinkingBudget,
		ResponseSchema:  pageSchema.Raw(),
	}

	lastStatus := 0
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(s.cfg.AttemptsPerModel),
		retry.DelayType(s.backoff),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("retrying page scan", "page", pageNo, "model", model, "attempt", n+1, "error", err)
		}),
	}
	if s.cfg.Timer != nil {
		opts = append(opts, retry.WithTimer(s.cfg.Timer))
	}

	text, err := retry.DoWithData(func() (string, error) {
		text, err := s.gen.GenerateContent(ctx, req)
		if code := providers.StatusCode(err); code > 0 {
			lastStatus = code
		}
		return text, err
	}, opts...)
	return text, lastStatus, err
}

// backoff waits base*2^(n-1) capped at MaxDelay, or the server's Retry-After
// under the same cap, plus up to MaxJitter.
func (s *Scanner) backoff(n uint, err error, _ *retry.Config) time.Duration {
	d := providers.RetryAfterHint(err)
	if d <= 0 {
		exp := math.Pow(2, float64(max(n, 1)-1))
		d = time.Duration(float64(s.cfg.BaseDelay) * exp)
	}
	d = min(d, s.cfg.MaxDelay)
	if s.cfg.MaxJitter > 0 {
		d += rand.N(s.cfg.MaxJitter + 1)
	}
	return d
}

// decode parses model output leniently. Unparseable output yields an empty
// object; schema mismatches are logged and left to Normalize.
func (s *Scanner) decode(text string, logger *slog.Logger) map[string]any {
	raw, err := providers.ParseStructuredJSON(text)
	if err != nil {
		if strings.TrimSpace(text) != "" {
			logger.Warn("unparseable scan output", "error", err)
		}
		return map[string]any{}
	}
	if err := pageSchema.Validate(raw); err != nil {
		logger.Warn("scan output does not match schema", "error", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

// isTransient reports whether err is a retryable HTTP status or a transport
// failure. Context errors and malformed responses are not retried.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := providers.StatusCode(err); code > 0 {
		return providers.IsTransientStatus(code)
	}
	return !providers.IsDecodeError(err) && !errors.Is(err, providers.ErrInvalidRequest)
}
