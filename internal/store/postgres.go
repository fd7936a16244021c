package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mathhub/mathhub/internal/ocrjob"
)

//go:embed schema.sql
var schemaSQL string

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	Logger       *slog.Logger
}

// Postgres is the production Store.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens and pings the database.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{db: db, logger: logger.With("component", "store")}, nil
}

// Migrate creates missing tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SeedCurriculum inserts a curriculum and its subjects if missing.
func (p *Postgres) SeedCurriculum(ctx context.Context, code string, subjectCodes ...string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO curriculum_versions (id, code) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id`, uuid.NewString(), code).Scan(&id)
	if err != nil {
		return fmt.Errorf("seed curriculum %s: %w", code, err)
	}
	for _, s := range subjectCodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO math_subjects (id, curriculum_version_id, code) VALUES ($1, $2, $3)
			ON CONFLICT (curriculum_version_id, code) DO NOTHING`, uuid.NewString(), id, s); err != nil {
			return fmt.Errorf("seed subject %s: %w", s, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateJob(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = ocrjob.StatusUploading
	}
	if job.Provider == "" {
		job.Provider = "mathpix"
	}
	raw, err := marshalJSON(job.RawResponse)
	if err != nil {
		return Job{}, err
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO ocr_jobs (id, provider, status, document_storage_key, original_filename, raw_response)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::jsonb)
		RETURNING requested_at`,
		job.ID, job.Provider, string(job.Status), job.DocumentStorageKey, job.OriginalFilename, raw,
	).Scan(&job.RequestedAt)
	if err != nil {
		return Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (Job, error) {
	var (
		job                                          Job
		status                                       string
		providerJobID, filename, errorCode, errorMsg sql.NullString
		raw                                          []byte
		startedAt, finishedAt                        sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, provider, provider_job_id, status, progress_pct, document_storage_key,
		       original_filename, error_code, error_message, raw_response,
		       requested_at, started_at, finished_at
		FROM ocr_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.Provider, &providerJobID, &status, &job.ProgressPct, &job.DocumentStorageKey,
		&filename, &errorCode, &errorMsg, &raw, &job.RequestedAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	job.Status = ocrjob.JobStatus(status)
	job.ProviderJobID = providerJobID.String
	job.OriginalFilename = filename.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal(raw, &job.RawResponse); err != nil {
		return Job{}, fmt.Errorf("failed to decode raw_response: %w", err)
	}
	return job, nil
}

// execJob runs a single-row job update and maps a missing row to ErrNotFound.
func (p *Postgres) execJob(ctx context.Context, id, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// execTransition runs a job update that moves the job to status to. The
// statuses the job may not leave for to are appended as the last query
// argument, so queries end with "AND status <> ALL($n)".
func (p *Postgres) execTransition(ctx context.Context, id string, to ocrjob.JobStatus, query string, args ...any) error {
	args = append([]any{id}, args...)
	args = append(args, pq.Array(blockedStatuses(to)))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}

	var status string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM ocr_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return fmt.Errorf("job %s %s -> %s: %w", id, status, to, ErrInvalidTransition)
}

// blockedStatuses lists the statuses a job may not move to to from.
func blockedStatuses(to ocrjob.JobStatus) []string {
	var out []string
	for _, from := range []ocrjob.JobStatus{
		ocrjob.StatusUploading,
		ocrjob.StatusProcessing,
		ocrjob.StatusCompleted,
		ocrjob.StatusFailed,
		ocrjob.StatusCancelled,
	} {
		if !ocrjob.CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

func (p *Postgres) StartJob(ctx context.Context, id string) error {
	return p.execJob(ctx, id, `
		UPDATE ocr_jobs SET
			status = 'processing',
			progress_pct = 2,
			started_at = COALESCE(started_at, NOW()),
			finished_at = NULL,
			error_code = NULL,
			error_message = NULL
		WHERE id = $1`)
}

func (p *Postgres) SetProviderJob(ctx context.Context, id, providerJobID string, submit map[string]any) error {
	raw, err := marshalJSON(submit)
	if err != nil {
		return err
	}
	return p.execTransition(ctx, id, ocrjob.StatusProcessing, `
		UPDATE ocr_jobs SET
			provider_job_id = $2,
			status = 'processing',
			progress_pct = 8,
			raw_response = COALESCE(raw_response, '{}'::jsonb) || jsonb_build_object('mathpix_submit', $3::jsonb)
		WHERE id = $1 AND status <> ALL($4)`, providerJobID, raw)
}

func (p *Postgres) UpdateProgress(ctx context.Context, id string, pct float64, rawKey string, raw any) error {
	if rawKey == "" {
		return p.execTransition(ctx, id, ocrjob.StatusProcessing, `
			UPDATE ocr_jobs SET status = 'processing', progress_pct = $2
			WHERE id = $1 AND status <> ALL($3)`, pct)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", rawKey, err)
	}
	return p.execTransition(ctx, id, ocrjob.StatusProcessing, `
		UPDATE ocr_jobs SET
			status = 'processing',
			progress_pct = $2,
			raw_response = COALESCE(raw_response, '{}'::jsonb) || jsonb_build_object($3::text, $4::jsonb)
		WHERE id = $1 AND status <> ALL($5)`, pct, rawKey, string(data))
}

func (p *Postgres) CompleteJob(ctx context.Context, id string, summary map[string]any) error {
	raw, err := marshalJSON(summary)
	if err != nil {
		return err
	}
	return p.execTransition(ctx, id, ocrjob.StatusCompleted, `
		UPDATE ocr_jobs SET
			status = 'completed',
			progress_pct = 100,
			started_at = COALESCE(started_at, NOW()),
			finished_at = NOW(),
			error_code = NULL,
			error_message = NULL,
			raw_response = COALESCE(raw_response, '{}'::jsonb) || jsonb_build_object('workflow', $2::jsonb)
		WHERE id = $1 AND status <> ALL($3)`, raw)
}

func (p *Postgres) MarkJobFailed(ctx context.Context, id, code, message string) error {
	return p.execTransition(ctx, id, ocrjob.StatusFailed, `
		UPDATE ocr_jobs SET
			status = 'failed',
			error_code = $2,
			error_message = $3,
			finished_at = NOW()
		WHERE id = $1 AND status <> ALL($4)`, code, message)
}

func (p *Postgres) UpsertPage(ctx context.Context, jobID string, up PageUpsert) (string, error) {
	raw, err := marshalJSON(up.RawPayload)
	if err != nil {
		return "", err
	}
	var id string
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO ocr_pages (id, job_id, page_no, status, extracted_text, extracted_latex, raw_payload)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'processing'), $5, $6, $7::jsonb)
		ON CONFLICT (job_id, page_no) DO UPDATE SET
			status = CASE WHEN $4 = '' THEN ocr_pages.status ELSE EXCLUDED.status END,
			extracted_text = COALESCE(EXCLUDED.extracted_text, ocr_pages.extracted_text),
			extracted_latex = COALESCE(EXCLUDED.extracted_latex, ocr_pages.extracted_latex),
			raw_payload = COALESCE(ocr_pages.raw_payload, '{}'::jsonb) || EXCLUDED.raw_payload,
			updated_at = NOW()
		RETURNING id`,
		uuid.NewString(), jobID, up.PageNo, up.Status, up.Text, up.Latex, raw,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert page %d: %w", up.PageNo, err)
	}
	return id, nil
}

func (p *Postgres) MarkPageCompleted(ctx context.Context, jobID string, pageNo int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE ocr_pages SET status = 'completed', updated_at = NOW()
		WHERE job_id = $1 AND page_no = $2`, jobID, pageNo)
	if err != nil {
		return fmt.Errorf("failed to complete page %d: %w", pageNo, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("page %d of job %s: %w", pageNo, jobID, ErrNotFound)
	}
	return nil
}

const pageColumns = `id, job_id, page_no, status, extracted_text, extracted_latex, raw_payload`

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var (
		pg          Page
		text, latex sql.NullString
		raw         []byte
	)
	if err := row.Scan(&pg.ID, &pg.JobID, &pg.PageNo, &pg.Status, &text, &latex, &raw); err != nil {
		return Page{}, err
	}
	if text.Valid {
		pg.Text = &text.String
	}
	if latex.Valid {
		pg.Latex = &latex.String
	}
	if err := json.Unmarshal(raw, &pg.RawPayload); err != nil {
		return Page{}, fmt.Errorf("failed to decode raw_payload: %w", err)
	}
	return pg, nil
}

func (p *Postgres) GetPage(ctx context.Context, jobID string, pageNo int) (Page, error) {
	pg, err := scanPage(p.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM ocr_pages WHERE job_id = $1 AND page_no = $2`, jobID, pageNo))
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, fmt.Errorf("page %d of job %s: %w", pageNo, jobID, ErrNotFound)
	}
	if err != nil {
		return Page{}, fmt.Errorf("failed to load page %d: %w", pageNo, err)
	}
	return pg, nil
}

func (p *Postgres) ListPages(ctx context.Context, jobID string) ([]Page, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM ocr_pages WHERE job_id = $1 ORDER BY page_no`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		pg, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pg)
	}
	return pages, rows.Err()
}

func (p *Postgres) GetCurriculum(ctx context.Context, code string) (Curriculum, error) {
	c := Curriculum{Code: code, Subjects: map[string]string{}}
	err := p.db.QueryRowContext(ctx, `SELECT id FROM curriculum_versions WHERE code = $1`, code).Scan(&c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return Curriculum{}, fmt.Errorf("curriculum %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return Curriculum{}, fmt.Errorf("failed to load curriculum %s: %w", code, err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT code, id FROM math_subjects WHERE curriculum_version_id = $1`, c.ID)
	if err != nil {
		return Curriculum{}, fmt.Errorf("failed to load subjects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var subject, id string
		if err := rows.Scan(&subject, &id); err != nil {
			return Curriculum{}, err
		}
		c.Subjects[subject] = id
	}
	return c, rows.Err()
}

func (p *Postgres) UpsertSource(ctx context.Context, src Source) (string, error) {
	meta, err := marshalJSON(src.Metadata)
	if err != nil {
		return "", err
	}
	var id string
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO problem_sources (id, source_code, source_category, source_type, title, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (source_code) DO UPDATE SET
			source_category = EXCLUDED.source_category,
			source_type = EXCLUDED.source_type,
			title = EXCLUDED.title,
			metadata = COALESCE(problem_sources.metadata, '{}'::jsonb) || EXCLUDED.metadata
		RETURNING id`,
		uuid.NewString(), src.Code, src.Category, src.Type, src.Title, meta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert source %s: %w", src.Code, err)
	}
	return id, nil
}

func (p *Postgres) UpsertProblem(ctx context.Context, pr Problem) (string, bool, error) {
	meta, err := marshalJSON(pr.Metadata)
	if err != nil {
		return "", false, err
	}
	var (
		id       string
		inserted bool
	)
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO problems (
			id, curriculum_version_id, source_id, ocr_page_id, external_problem_key,
			primary_subject_id, response_type, point_value, answer_key,
			source_problem_label, problem_text_raw, problem_text_latex, problem_text_final, metadata
		)
		VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14::jsonb)
		ON CONFLICT (external_problem_key) DO UPDATE SET
			source_id = COALESCE(EXCLUDED.source_id, problems.source_id),
			ocr_page_id = EXCLUDED.ocr_page_id,
			primary_subject_id = EXCLUDED.primary_subject_id,
			response_type = EXCLUDED.response_type,
			point_value = EXCLUDED.point_value,
			answer_key = EXCLUDED.answer_key,
			source_problem_label = EXCLUDED.source_problem_label,
			problem_text_raw = EXCLUDED.problem_text_raw,
			problem_text_latex = EXCLUDED.problem_text_latex,
			problem_text_final = EXCLUDED.problem_text_final,
			metadata = COALESCE(problems.metadata, '{}'::jsonb) || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted`,
		uuid.NewString(), pr.CurriculumID, pr.SourceID, pr.OCRPageID, pr.ExternalKey,
		pr.SubjectID, pr.ResponseType, pr.PointValue, pr.AnswerKey,
		pr.Label, pr.TextRaw, pr.TextLatex, pr.TextFinal, meta,
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("failed to upsert problem %s: %w", pr.ExternalKey, err)
	}
	return id, inserted, nil
}

func (p *Postgres) GetProblem(ctx context.Context, externalKey string) (Problem, error) {
	var (
		pr                      Problem
		sourceID, pageID, latex sql.NullString
		meta                    []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, curriculum_version_id, source_id, ocr_page_id, external_problem_key,
			primary_subject_id, response_type, point_value, answer_key,
			COALESCE(source_problem_label, ''), COALESCE(problem_text_raw, ''),
			problem_text_latex, COALESCE(problem_text_final, ''), metadata
		FROM problems WHERE external_problem_key = $1`, externalKey,
	).Scan(&pr.ID, &pr.CurriculumID, &sourceID, &pageID, &pr.ExternalKey,
		&pr.SubjectID, &pr.ResponseType, &pr.PointValue, &pr.AnswerKey,
		&pr.Label, &pr.TextRaw, &latex, &pr.TextFinal, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return Problem{}, fmt.Errorf("problem %s: %w", externalKey, ErrNotFound)
	}
	if err != nil {
		return Problem{}, fmt.Errorf("failed to load problem %s: %w", externalKey, err)
	}
	pr.SourceID, pr.OCRPageID, pr.TextLatex = sourceID.String, pageID.String, latex.String
	if err := json.Unmarshal(meta, &pr.Metadata); err != nil {
		return Problem{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return pr, nil
}

func (p *Postgres) UpsertAsset(ctx context.Context, a Asset) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	var box sql.NullString
	if a.BBox != nil {
		data, err := json.Marshal(a.BBox)
		if err != nil {
			return fmt.Errorf("failed to marshal bbox: %w", err)
		}
		box = sql.NullString{String: string(data), Valid: true}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO problem_assets (problem_id, asset_type, storage_key, page_no, bbox, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
		ON CONFLICT (problem_id, storage_key) DO UPDATE SET
			asset_type = EXCLUDED.asset_type,
			page_no = EXCLUDED.page_no,
			bbox = EXCLUDED.bbox,
			metadata = COALESCE(problem_assets.metadata, '{}'::jsonb) || EXCLUDED.metadata`,
		a.ProblemID, a.AssetType, a.StorageKey, a.PageNo, box, meta)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", a.StorageKey, err)
	}
	return nil
}

func (p *Postgres) DeleteAssets(ctx context.Context, problemID string, sources ...string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM problem_assets
		WHERE problem_id = $1
		  AND COALESCE(metadata #>> '{ingest,source}', '') = ANY($2)`,
		problemID, pq.Array(sources))
	if err != nil {
		return fmt.Errorf("failed to delete assets of %s: %w", problemID, err)
	}
	return nil
}

func (p *Postgres) ListAssets(ctx context.Context, problemID string) ([]Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT problem_id, asset_type, storage_key, COALESCE(page_no, 0), bbox, metadata
		FROM problem_assets WHERE problem_id = $1 ORDER BY storage_key`, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var (
			a         Asset
			box, meta []byte
		)
		if err := rows.Scan(&a.ProblemID, &a.AssetType, &a.StorageKey, &a.PageNo, &box, &meta); err != nil {
			return nil, err
		}
		if box != nil {
			if err := json.Unmarshal(box, &a.BBox); err != nil {
				return nil, fmt.Errorf("failed to decode bbox: %w", err)
			}
		}
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// marshalJSON encodes a JSON object column, mapping nil to {}. The result is
// a string so the driver sends text rather than bytea.
func marshalJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(data), nil
}
