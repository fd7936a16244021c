package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mathhub/mathhub/internal/ocrjob"
)

// Memory is an in-process Store for tests and single-shot CLI runs.
type Memory struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	pages     map[string]map[int]*Page
	curricula map[string]Curriculum
	sources   map[string]string
	problems  map[string]*Problem
	assets    map[string][]Asset
	now       func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]*Job),
		pages:     make(map[string]map[int]*Page),
		curricula: make(map[string]Curriculum),
		sources:   make(map[string]string),
		problems:  make(map[string]*Problem),
		assets:    make(map[string][]Asset),
		now:       time.Now,
	}
}

// AddCurriculum registers a curriculum and its subject codes, assigning ids.
func (m *Memory) AddCurriculum(code string, subjectCodes ...string) Curriculum {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Curriculum{ID: uuid.NewString(), Code: code, Subjects: make(map[string]string, len(subjectCodes))}
	for _, s := range subjectCodes {
		c.Subjects[s] = uuid.NewString()
	}
	m.curricula[code] = c
	return c
}

func (m *Memory) CreateJob(_ context.Context, job Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, ok := m.jobs[job.ID]; ok {
		return Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = ocrjob.StatusUploading
	}
	if job.Provider == "" {
		job.Provider = "mathpix"
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = m.now()
	}
	job.RawResponse = merge(nil, job.RawResponse)
	m.jobs[job.ID] = &job
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	out := *job
	out.RawResponse = merge(nil, job.RawResponse)
	return out, nil
}

func (m *Memory) withJob(id string, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	fn(job)
	return nil
}

// withTransition is withJob for updates that move the job to status to.
func (m *Memory) withTransition(id string, to ocrjob.JobStatus, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if !ocrjob.CanTransition(job.Status, to) {
		return fmt.Errorf("job %s %s -> %s: %w", id, job.Status, to, ErrInvalidTransition)
	}
	fn(job)
	return nil
}

func (m *Memory) StartJob(_ context.Context, id string) error {
	return m.withJob(id, func(j *Job) {
		now := m.now()
		j.Status = ocrjob.StatusProcessing
		j.ProgressPct = 2
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.FinishedAt = nil
		j.ErrorCode, j.ErrorMessage = "", ""
	})
}

func (m *Memory) SetProviderJob(_ context.Context, id, providerJobID string, submit map[string]any) error {
	return m.withTransition(id, ocrjob.StatusProcessing, func(j *Job) {
		j.ProviderJobID = providerJobID
		j.Status = ocrjob.StatusProcessing
		j.ProgressPct = 8
		j.RawResponse = merge(j.RawResponse, map[string]any{"mathpix_submit": submit})
	})
}

func (m *Memory) UpdateProgress(_ context.Context, id string, pct float64, rawKey string, raw any) error {
	return m.withTransition(id, ocrjob.StatusProcessing, func(j *Job) {
		j.Status = ocrjob.StatusProcessing
		j.ProgressPct = pct
		if rawKey != "" {
			j.RawResponse = merge(j.RawResponse, map[string]any{rawKey: raw})
		}
	})
}

func (m *Memory) CompleteJob(_ context.Context, id string, summary map[string]any) error {
	return m.withTransition(id, ocrjob.StatusCompleted, func(j *Job) {
		now := m.now()
		j.Status = ocrjob.StatusCompleted
		j.ProgressPct = 100
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.FinishedAt = &now
		j.ErrorCode, j.ErrorMessage = "", ""
		j.RawResponse = merge(j.RawResponse, map[string]any{"workflow": summary})
	})
}

func (m *Memory) MarkJobFailed(_ context.Context, id, code, message string) error {
	return m.withTransition(id, ocrjob.StatusFailed, func(j *Job) {
		now := m.now()
		j.Status = ocrjob.StatusFailed
		j.ErrorCode = code
		j.ErrorMessage = message
		j.FinishedAt = &now
	})
}

func (m *Memory) UpsertPage(_ context.Context, jobID string, up PageUpsert) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return "", fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	pages := m.pages[jobID]
	if pages == nil {
		pages = make(map[int]*Page)
		m.pages[jobID] = pages
	}
	p, ok := pages[up.PageNo]
	if !ok {
		p = &Page{ID: uuid.NewString(), JobID: jobID, PageNo: up.PageNo, Status: string(ocrjob.StatusProcessing)}
		pages[up.PageNo] = p
	}
	if up.Status != "" {
		p.Status = up.Status
	}
	if up.Text != nil {
		p.Text = up.Text
	}
	if up.Latex != nil {
		p.Latex = up.Latex
	}
	p.RawPayload = merge(p.RawPayload, up.RawPayload)
	return p.ID, nil
}

func (m *Memory) MarkPageCompleted(_ context.Context, jobID string, pageNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[jobID][pageNo]
	if !ok {
		return fmt.Errorf("page %d of job %s: %w", pageNo, jobID, ErrNotFound)
	}
	p.Status = string(ocrjob.StatusCompleted)
	return nil
}

func (m *Memory) GetPage(_ context.Context, jobID string, pageNo int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[jobID][pageNo]
	if !ok {
		return Page{}, fmt.Errorf("page %d of job %s: %w", pageNo, jobID, ErrNotFound)
	}
	out := *p
	out.RawPayload = merge(nil, p.RawPayload)
	return out, nil
}

func (m *Memory) ListPages(_ context.Context, jobID string) ([]Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Page, 0, len(m.pages[jobID]))
	for _, p := range m.pages[jobID] {
		cp := *p
		cp.RawPayload = merge(nil, p.RawPayload)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNo < out[j].PageNo })
	return out, nil
}

func (m *Memory) GetCurriculum(_ context.Context, code string) (Curriculum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.curricula[code]
	if !ok {
		return Curriculum{}, fmt.Errorf("curriculum %s: %w", code, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) UpsertSource(_ context.Context, src Source) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.sources[src.Code]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.sources[src.Code] = id
	return id, nil
}

func (m *Memory) UpsertProblem(_ context.Context, p Problem) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.problems[p.ExternalKey]
	if !ok {
		p.ID = uuid.NewString()
		p.Metadata = merge(nil, p.Metadata)
		m.problems[p.ExternalKey] = &p
		return p.ID, true, nil
	}

	sourceID := existing.SourceID
	if p.SourceID != "" {
		sourceID = p.SourceID
	}
	p.ID = existing.ID
	p.CurriculumID = existing.CurriculumID
	p.SourceID = sourceID
	p.Metadata = merge(existing.Metadata, p.Metadata)
	*existing = p
	return p.ID, false, nil
}

func (m *Memory) GetProblem(_ context.Context, externalKey string) (Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.problems[externalKey]
	if !ok {
		return Problem{}, fmt.Errorf("problem %s: %w", externalKey, ErrNotFound)
	}
	out := *p
	out.Metadata = merge(nil, p.Metadata)
	return out, nil
}

func (m *Memory) UpsertAsset(_ context.Context, a Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.assets[a.ProblemID]
	for i := range list {
		if list[i].StorageKey == a.StorageKey {
			a.Metadata = merge(list[i].Metadata, a.Metadata)
			list[i] = a
			return nil
		}
	}
	a.Metadata = merge(nil, a.Metadata)
	m.assets[a.ProblemID] = append(list, a)
	return nil
}

func (m *Memory) DeleteAssets(_ context.Context, problemID string, sources ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assets[problemID] = slices.DeleteFunc(m.assets[problemID], func(a Asset) bool {
		return slices.Contains(sources, ingestSource(a.Metadata))
	})
	return nil
}

func (m *Memory) ListAssets(_ context.Context, problemID string) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.assets[problemID]), nil
}

func (m *Memory) Close() error { return nil }
