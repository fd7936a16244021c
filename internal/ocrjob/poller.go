package ocrjob

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxPolls     = 120
	DefaultPollInterval = 2 * time.Second
	// MinPollInterval is the floor applied to every sleep between polls.
	MinPollInterval = 200 * time.Millisecond
)

// StatusSource is the part of the Mathpix client the poller needs.
type StatusSource interface {
	FetchStatus(ctx context.Context, jobID string) (map[string]any, error)
	FetchLines(ctx context.Context, jobID string) (map[string]any, error)
}

// PollResult is the outcome of a poll loop.
type PollResult struct {
	Status   JobStatus
	Progress float64
	Error    string
	// Raw is the last status payload seen.
	Raw   map[string]any
	Pages []Page
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	MaxPolls int
	Interval time.Duration
	// Sleep replaces the wait between polls (tests).
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Poller drives a bounded poll-until-completed loop.
type Poller struct {
	source   StatusSource
	maxPolls int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// NewPoller returns a Poller reading from source.
func NewPoller(source StatusSource, cfg PollerConfig) *Poller {
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Interval < MinPollInterval {
		cfg.Interval = MinPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		source:   source,
		maxPolls: cfg.MaxPolls,
		interval: cfg.Interval,
		sleep:    cfg.Sleep,
		logger:   cfg.Logger,
	}
}

// PollUntilCompleted fetches the job status until it is terminal or the poll
// budget runs out. On completion the line-level result is fetched once; a
// failure there is logged and the status pages are used. Running out of
// polls is a failed result, not an error. Errors are returned only when a
// status request itself fails.
func (p *Poller) PollUntilCompleted(ctx context.Context, providerJobID string) (PollResult, error) {
	logger := p.logger.With("provider_job_id", providerJobID)

	var last PollResult
	for i := 0; i < p.maxPolls; i++ {
		raw, err := p.source.FetchStatus(ctx, providerJobID)
		if err != nil {
			return last, fmt.Errorf("fetch status: %w", err)
		}
		status, progress, msg := MapStatus(raw)
		last = PollResult{Status: status, Progress: progress, Error: msg, Raw: raw, Pages: ExtractPages(raw)}
		logger.Debug("polled OCR job", "poll", i+1, "status", status, "progress", progress)

		switch status {
		case StatusCompleted:
			last.Pages = p.withLinePages(ctx, providerJobID, last.Pages, logger)
			return last, nil
		case StatusFailed, StatusCancelled:
			return last, nil
		}

		if i+1 < p.maxPolls {
			if err := p.sleep(ctx, p.interval); err != nil {
				return last, err
			}
		}
	}

	return PollResult{
		Status:   StatusFailed,
		Progress: 0,
		Error:    fmt.Sprintf("Mathpix processing timeout after %d polls", p.maxPolls),
		Raw:      last.Raw,
		Pages:    last.Pages,
	}, nil
}

func (p *Poller) withLinePages(ctx context.Context, jobID string, pages []Page, logger *slog.Logger) []Page {
	lines, err := p.source.FetchLines(ctx, jobID)
	if err != nil {
		logger.Warn("line results unavailable, using status pages", "error", err)
		return pages
	}
	linePages := ExtractLinePages(lines)
	if len(linePages) == 0 {
		return pages
	}
	return MergePages(pages, linePages)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
