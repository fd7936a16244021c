// Package workflow runs an uploaded PDF through OCR, page classification and
// problem materialization, recording progress on the job as it goes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mathhub/mathhub/internal/assets"
	"github.com/mathhub/mathhub/internal/layout"
	"github.com/mathhub/mathhub/internal/objstore"
	"github.com/mathhub/mathhub/internal/ocrjob"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/scanner"
	"github.com/mathhub/mathhub/internal/store"
)

const (
	// Provider is recorded on the job summary and problem metadata.
	Provider = "mathpix+gemini"
	// CropPrefix is the object key prefix of problem crops and their assets.
	CropPrefix = "ocr-problem-crops"
	// SourceURLExpiry bounds the presigned URL handed to Mathpix.
	SourceURLExpiry = time.Hour

	ingestSource      = "workflow_run"
	ingestAssetSource = "workflow_run_asset_extract"
)

// Progress checkpoints of a run.
const (
	progressOCRDone  = 25
	progressScanDone = 45
	progressSpan     = 50
)

// OCRProvider submits documents and recognizes crops.
type OCRProvider interface {
	ocrjob.StatusSource
	SubmitPDF(ctx context.Context, fileURL, callbackURL string) (map[string]any, error)
	OCRImage(ctx context.Context, image []byte, filename string) (map[string]any, error)
}

// PageScanner classifies the pages of a document.
type PageScanner interface {
	ScanDocument(ctx context.Context, doc scanner.Document, maxPages int) ([]scanner.Page, error)
	Models() []string
}

// Document is an opened source PDF.
type Document interface {
	scanner.Document
	assets.PageRenderer
	Close() error
}

// Config wires a Runner.
type Config struct {
	Store store.Store
	// Objects receives problem crops and extracted assets. Source PDFs in the
	// same bucket are read from it too.
	Objects objstore.Store
	// Buckets opens a store for a source PDF in another bucket. Nil means
	// only Objects' bucket is readable.
	Buckets func(bucket string) (objstore.Store, error)
	OCR     OCRProvider
	Scanner PageScanner
	// Open parses source PDF bytes.
	Open func(data []byte) (Document, error)
	// ExtractorCheck reports why crops cannot be rendered. Nil means always
	// available.
	ExtractorCheck func() error
	Collector      *assets.Collector
	Segmenter      *layout.Segmenter
	Poller         ocrjob.PollerConfig
	Logger         *slog.Logger
}

// Runner executes workflow runs.
type Runner struct {
	cfg       Config
	collector *assets.Collector
	segmenter *layout.Segmenter
	logger    *slog.Logger
}

// New returns a Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = assets.DefaultCollector()
	}
	segmenter := cfg.Segmenter
	if segmenter == nil {
		segmenter = layout.Default()
	}
	if cfg.Poller.Logger == nil {
		cfg.Poller.Logger = logger
	}
	return &Runner{cfg: cfg, collector: collector, segmenter: segmenter, logger: logger}
}

// run carries the state of one Run call.
type run struct {
	*Runner
	jobID  string
	opts   Options
	logger *slog.Logger
}

// Run processes job jobID end to end. Invalid options, an unknown job or
// curriculum are returned without touching the job. Every later failure is
// recorded on the job with its code and returned as *Error.
func (r *Runner) Run(ctx context.Context, jobID string, opts Options) (Summary, error) {
	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}
	job, err := r.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return Summary{}, err
	}
	if job.Provider != "" && job.Provider != providers.MathpixName {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, job.Provider)
	}
	curriculum, err := r.cfg.Store.GetCurriculum(ctx, opts.CurriculumCode)
	if err != nil {
		return Summary{}, fmt.Errorf("curriculum %s: %w", opts.CurriculumCode, err)
	}
	sourceID, err := r.cfg.Store.UpsertSource(ctx, store.Source{
		Code:     "OCRBOOK:" + jobID,
		Category: opts.SourceCategory,
		Type:     opts.SourceType,
		Title:    sourceTitle(job, opts),
		Metadata: map[string]any{"ingest": map[string]any{"source": ingestSource, "job_id": jobID}},
	})
	if err != nil {
		return Summary{}, err
	}

	if err := r.cfg.Store.StartJob(ctx, jobID); err != nil {
		return Summary{}, err
	}
	rn := &run{Runner: r, jobID: jobID, opts: opts, logger: r.logger.With("job_id", jobID)}
	return rn.execute(ctx, job, curriculum, sourceID)
}

func sourceTitle(job store.Job, opts Options) string {
	switch {
	case opts.TextbookTitle != "":
		return opts.TextbookTitle
	case job.OriginalFilename != "":
		return job.OriginalFilename
	default:
		return "OCR Job " + job.ID
	}
}

func (rn *run) execute(ctx context.Context, job store.Job, curriculum store.Curriculum, sourceID string) (Summary, error) {
	bucket, key, err := objstore.ParseStorageKey(job.DocumentStorageKey)
	if err != nil {
		return Summary{}, rn.fail(ctx, CodeInputError, "workflow run requires document storage_key in s3:// format", err)
	}
	src, err := rn.sourceStore(bucket)
	if err != nil {
		return Summary{}, rn.fail(ctx, CodeSourceReadError, fmt.Sprintf("Failed to read source PDF: %v", err), err)
	}
	pdf, err := src.Get(ctx, key)
	if err != nil {
		return Summary{}, rn.fail(ctx, CodeSourceReadError, fmt.Sprintf("Failed to read source PDF: %v", err), err)
	}

	providerJobID, err := rn.submit(ctx, src, key)
	if err != nil {
		return Summary{}, err
	}

	pagesUpserted, err := rn.recognize(ctx, providerJobID)
	if err != nil {
		return Summary{}, err
	}

	doc, err := rn.cfg.Open(pdf)
	if err != nil {
		return Summary{}, rn.fail(ctx, CodePreprocessError, fmt.Sprintf("Failed to open source PDF: %v", err), err)
	}
	defer doc.Close()

	scanned, matched, err := rn.scan(ctx, doc)
	if err != nil {
		return Summary{}, err
	}

	if rn.cfg.ExtractorCheck != nil {
		if err := rn.cfg.ExtractorCheck(); err != nil {
			msg := fmt.Sprintf("Problem OCR extractor is unavailable (%v)", err)
			return Summary{}, rn.fail(ctx, CodeExtractorUnavailable, msg, fmt.Errorf("%w: %w", ErrExtractorUnavailable, err))
		}
	}
	extractor := assets.NewExtractor(doc, rn.cfg.Objects, assets.ExtractorConfig{
		JobID:  rn.jobID,
		Prefix: CropPrefix,
		Logger: rn.logger,
	})

	summary := Summary{
		JobID:          rn.jobID,
		ProviderJobID:  providerJobID,
		Provider:       Provider,
		Model:          rn.primaryModel() + "+mathpix-text",
		PagesUpserted:  pagesUpserted,
		MatchedAnswers: matched,
	}
	m := &materializer{
		run:        rn,
		extractor:  extractor,
		curriculum: curriculum,
		sourceID:   sourceID,
		summary:    &summary,
	}
	if err := m.materialize(ctx, scanned); err != nil {
		return Summary{}, rn.fail(ctx, CodeRunError, err.Error(), err)
	}

	if err := rn.cfg.Store.CompleteJob(ctx, rn.jobID, summary.Record()); err != nil {
		return Summary{}, rn.fail(ctx, CodeRunError, err.Error(), err)
	}
	rn.logger.Info("workflow run completed",
		"provider_job_id", providerJobID,
		"processed", summary.ProcessedCandidates,
		"inserted", summary.InsertedCount,
		"updated", summary.UpdatedCount,
		"skipped", summary.SkippedCount)
	return summary, nil
}

func (rn *run) sourceStore(bucket string) (objstore.Store, error) {
	if bucket == rn.cfg.Objects.Bucket() {
		return rn.cfg.Objects, nil
	}
	if rn.cfg.Buckets == nil {
		return nil, fmt.Errorf("bucket %q is not readable", bucket)
	}
	return rn.cfg.Buckets(bucket)
}

// submit hands the source to Mathpix and records the provider job id.
func (rn *run) submit(ctx context.Context, src objstore.Store, key string) (string, error) {
	fileURL, err := src.PresignGet(ctx, key, SourceURLExpiry)
	if err != nil {
		return "", rn.fail(ctx, CodeSubmitError, fmt.Sprintf("Mathpix submit request failed: %v", err), err)
	}
	resp, err := rn.cfg.OCR.SubmitPDF(ctx, fileURL, rn.opts.CallbackURL)
	if err != nil {
		return "", rn.fail(ctx, CodeSubmitError, fmt.Sprintf("Mathpix submit request failed: %v", err), err)
	}
	providerJobID := providers.ResolveJobID(resp)
	if providerJobID == "" {
		return "", rn.fail(ctx, CodeSubmitError, "Mathpix submit response missing job id", providers.ErrNoJobID)
	}
	if err := rn.cfg.Store.SetProviderJob(ctx, rn.jobID, providerJobID, resp); err != nil {
		return "", rn.fail(ctx, CodeRunError, err.Error(), err)
	}
	rn.logger.Info("submitted to Mathpix", "provider_job_id", providerJobID)
	return providerJobID, nil
}

// recognize polls the provider job to completion and stores its pages.
func (rn *run) recognize(ctx context.Context, providerJobID string) (int, error) {
	poller := ocrjob.NewPoller(rn.cfg.OCR, rn.cfg.Poller)
	result, err := poller.PollUntilCompleted(ctx, providerJobID)
	if err != nil {
		return 0, rn.fail(ctx, CodePollError, fmt.Sprintf("Mathpix status request failed: %v", err), err)
	}
	if result.Status != ocrjob.StatusCompleted {
		msg := result.Error
		if msg == "" {
			msg = "Mathpix returned non-completed status"
		}
		return 0, rn.fail(ctx, CodeOCRFailed, msg, nil)
	}

	for _, p := range result.Pages {
		up := store.PageUpsert{PageNo: p.PageNo, Status: string(result.Status), RawPayload: p.Raw}
		if p.Text != "" {
			up.Text = &p.Text
		}
		if p.Latex != "" {
			up.Latex = &p.Latex
		}
		if _, err := rn.cfg.Store.UpsertPage(ctx, rn.jobID, up); err != nil {
			return 0, rn.fail(ctx, CodeRunError, err.Error(), err)
		}
	}
	if err := rn.cfg.Store.UpdateProgress(ctx, rn.jobID, progressOCRDone, "mathpix_status", result.Raw); err != nil {
		return 0, rn.fail(ctx, CodeRunError, err.Error(), err)
	}
	rn.logger.Info("OCR completed", "pages", len(result.Pages))
	return len(result.Pages), nil
}

// scan classifies the document, attaches answer keys and stores each
// page's scan on its OCR page.
func (rn *run) scan(ctx context.Context, doc Document) ([]scanner.Page, int, error) {
	pages, err := rn.cfg.Scanner.ScanDocument(ctx, doc, rn.opts.MaxPages)
	if err != nil {
		return nil, 0, rn.fail(ctx, CodePreprocessError, fmt.Sprintf("Gemini preprocess request failed: %v", err), err)
	}
	matched := scanner.AttachAnswerKeys(pages)

	var problems, answers int
	for _, p := range pages {
		problems += len(p.Problems)
		answers += len(p.Answers)
		up := store.PageUpsert{PageNo: p.PageNo, RawPayload: map[string]any{"ai_preprocess": p}}
		if _, err := rn.cfg.Store.UpsertPage(ctx, rn.jobID, up); err != nil {
			return nil, 0, rn.fail(ctx, CodeRunError, err.Error(), err)
		}
	}
	record := map[string]any{
		"provider":          providers.GeminiName,
		"model":             rn.primaryModel(),
		"scanned_pages":     len(pages),
		"detected_problems": problems,
		"detected_answers":  answers,
		"matched_answers":   matched,
	}
	if err := rn.cfg.Store.UpdateProgress(ctx, rn.jobID, progressScanDone, "ai_preprocess", record); err != nil {
		return nil, 0, rn.fail(ctx, CodeRunError, err.Error(), err)
	}
	rn.logger.Info("pages scanned", "pages", len(pages), "problems", problems, "answers", answers, "matched", matched)
	return pages, matched, nil
}

func (rn *run) primaryModel() string {
	if models := rn.cfg.Scanner.Models(); len(models) > 0 {
		return models[0]
	}
	return ""
}

// fail records code and message on the job and returns them as *Error. The
// job is marked even when ctx is already cancelled.
func (rn *run) fail(ctx context.Context, code, message string, cause error) error {
	markCtx := context.WithoutCancel(ctx)
	if err := rn.cfg.Store.MarkJobFailed(markCtx, rn.jobID, code, message); err != nil {
		rn.logger.Error("failed to mark job failed", "code", code, "error", err)
	}
	rn.logger.Warn("workflow run failed", "code", code, "message", message)
	if cause == nil {
		cause = errors.New(message)
	}
	return &Error{Code: code, Message: message, Cause: cause}
}
