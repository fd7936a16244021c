// Package store persists OCR jobs, their pages and the problems and assets
// materialized from them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mathhub/mathhub/internal/ocrjob"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a job update would move a job
	// out of a terminal status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is an OCR job over one source document.
type Job struct {
	ID                 string           `json:"id"`
	Provider           string           `json:"provider"`
	ProviderJobID      string           `json:"provider_job_id,omitempty"`
	Status             ocrjob.JobStatus `json:"status"`
	ProgressPct        float64          `json:"progress_pct"`
	DocumentStorageKey string           `json:"document_storage_key"`
	OriginalFilename   string           `json:"original_filename,omitempty"`
	ErrorCode          string           `json:"error_code,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	RawResponse        map[string]any   `json:"raw_response,omitempty"`
	RequestedAt        time.Time        `json:"requested_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	FinishedAt         *time.Time       `json:"finished_at,omitempty"`
}

// Page is one stored OCR page.
type Page struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	PageNo     int            `json:"page_no"`
	Status     string         `json:"status"`
	Text       *string        `json:"extracted_text,omitempty"`
	Latex      *string        `json:"extracted_latex,omitempty"`
	RawPayload map[string]any `json:"raw_payload,omitempty"`
}

// PageUpsert writes a page. Nil text fields keep the stored value and
// RawPayload is shallow-merged over the stored payload. An empty Status
// keeps the stored status.
type PageUpsert struct {
	PageNo     int
	Status     string
	Text       *string
	Latex      *string
	RawPayload map[string]any
}

// Curriculum is a curriculum version and its subject ids by code.
type Curriculum struct {
	ID       string
	Code     string
	Subjects map[string]string
}

// Source is the textbook or exam a set of problems came from.
type Source struct {
	Code     string
	Category string
	Type     string
	Title    string
	Metadata map[string]any
}

// Problem is one materialized problem, keyed by ExternalKey.
type Problem struct {
	ID           string         `json:"id"`
	CurriculumID string         `json:"curriculum_version_id"`
	SourceID     string         `json:"source_id,omitempty"`
	OCRPageID    string         `json:"ocr_page_id"`
	ExternalKey  string         `json:"external_problem_key"`
	SubjectID    string         `json:"primary_subject_id"`
	ResponseType string         `json:"response_type"`
	PointValue   int            `json:"point_value"`
	AnswerKey    string         `json:"answer_key"`
	Label        string         `json:"source_problem_label"`
	TextRaw      string         `json:"problem_text_raw"`
	TextLatex    string         `json:"problem_text_latex,omitempty"`
	TextFinal    string         `json:"problem_text_final"`
	Metadata     map[string]any `json:"metadata"`
}

// Asset is an image attached to a problem, keyed by (ProblemID, StorageKey).
type Asset struct {
	ProblemID  string         `json:"problem_id"`
	AssetType  string         `json:"asset_type"`
	StorageKey string         `json:"storage_key"`
	PageNo     int            `json:"page_no"`
	BBox       map[string]any `json:"bbox,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// Store is the persistence the workflow needs.
type Store interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	// StartJob marks a job processing at 2% and clears any previous error.
	// It is the only update that leaves a terminal status, for reruns. The
	// other job updates return ErrInvalidTransition on a terminal job
	// unless the status stays the same.
	StartJob(ctx context.Context, id string) error
	// SetProviderJob records the provider job id at 8% progress.
	SetProviderJob(ctx context.Context, id, providerJobID string, submit map[string]any) error
	// UpdateProgress sets progress and, when rawKey is set, stores raw under
	// that key of the job's raw response.
	UpdateProgress(ctx context.Context, id string, pct float64, rawKey string, raw any) error
	CompleteJob(ctx context.Context, id string, summary map[string]any) error
	MarkJobFailed(ctx context.Context, id, code, message string) error

	UpsertPage(ctx context.Context, jobID string, page PageUpsert) (string, error)
	MarkPageCompleted(ctx context.Context, jobID string, pageNo int) error
	GetPage(ctx context.Context, jobID string, pageNo int) (Page, error)
	ListPages(ctx context.Context, jobID string) ([]Page, error)

	GetCurriculum(ctx context.Context, code string) (Curriculum, error)
	UpsertSource(ctx context.Context, src Source) (string, error)
	// UpsertProblem returns the problem id and whether it was newly inserted.
	UpsertProblem(ctx context.Context, p Problem) (string, bool, error)
	GetProblem(ctx context.Context, externalKey string) (Problem, error)
	UpsertAsset(ctx context.Context, a Asset) error
	// DeleteAssets removes a problem's assets whose metadata.ingest.source
	// is one of sources.
	DeleteAssets(ctx context.Context, problemID string, sources ...string) error
	ListAssets(ctx context.Context, problemID string) ([]Asset, error)

	Close() error
}

// merge returns base with patch applied on top, shallowly.
func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func ingestSource(metadata map[string]any) string {
	ingest, _ := metadata["ingest"].(map[string]any)
	s, _ := ingest["source"].(string)
	return s
}
