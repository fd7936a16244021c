package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mathhub/mathhub/internal/assets"
	"github.com/mathhub/mathhub/internal/bbox"
	"github.com/mathhub/mathhub/internal/classify"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/scanner"
	"github.com/mathhub/mathhub/internal/store"
)

// Candidate result statuses.
const (
	ResultInserted = "inserted"
	ResultUpdated  = "updated"
	ResultSkipped  = "skipped"
)

// Skip reasons.
const (
	ReasonLowConfidence = "confidence below threshold"
	ReasonMissingBBox   = "candidate bbox missing"
	ReasonRenderFailed  = "failed to render problem clip"
	ReasonEmptyOCR      = "empty OCR output"
	ReasonNoSubject     = "subject mapping unavailable for curriculum"
	reasonOCRFailed     = "Mathpix text OCR failed: "
)

// problemClipScale renders problem crops at 144 DPI.
const problemClipScale = 2.0

var choiceAnswers = map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true}

// CandidateResult is the outcome of one problem candidate.
type CandidateResult struct {
	PageNo      int    `json:"page_no" yaml:"page_no"`
	CandidateNo int    `json:"candidate_no" yaml:"candidate_no"`
	Status      string `json:"status" yaml:"status"`
	ProblemID   string `json:"problem_id,omitempty" yaml:"problem_id,omitempty"`
	ExternalKey string `json:"external_problem_key" yaml:"external_problem_key"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Summary is the outcome of a completed run.
type Summary struct {
	JobID         string `json:"job_id" yaml:"job_id"`
	ProviderJobID string `json:"provider_job_id" yaml:"provider_job_id"`
	Provider      string `json:"provider" yaml:"provider"`
	Model         string `json:"model" yaml:"model"`

	PagesUpserted        int `json:"pages_upserted" yaml:"pages_upserted"`
	TotalCandidates      int `json:"total_candidates" yaml:"total_candidates"`
	ProcessedCandidates  int `json:"processed_candidates" yaml:"processed_candidates"`
	AcceptedCandidates   int `json:"accepted_candidates" yaml:"accepted_candidates"`
	InsertedCount        int `json:"inserted_count" yaml:"inserted_count"`
	UpdatedCount         int `json:"updated_count" yaml:"updated_count"`
	SkippedCount         int `json:"skipped_count" yaml:"skipped_count"`
	MatchedAnswers       int `json:"matched_answers" yaml:"matched_answers"`
	DetectedVisualAssets int `json:"detected_visual_assets" yaml:"detected_visual_assets"`
	StoredVisualAssets   int `json:"stored_visual_assets" yaml:"stored_visual_assets"`

	Results []CandidateResult `json:"results" yaml:"results"`
}

// Record is the summary as stored on the job.
func (s Summary) Record() map[string]any {
	return map[string]any{
		"provider":               s.Provider,
		"model":                  s.Model,
		"done":                   true,
		"total_candidates":       s.TotalCandidates,
		"processed_candidates":   s.ProcessedCandidates,
		"accepted_candidates":    s.AcceptedCandidates,
		"inserted_count":         s.InsertedCount,
		"updated_count":          s.UpdatedCount,
		"skipped_count":          s.SkippedCount,
		"matched_answers":        s.MatchedAnswers,
		"detected_visual_assets": s.DetectedVisualAssets,
		"stored_visual_assets":   s.StoredVisualAssets,
		"pages_upserted":         s.PagesUpserted,
		"provider_job_id":        s.ProviderJobID,
	}
}

// ExternalKey identifies candidate index of a page across reruns.
func ExternalKey(jobID string, pageNo, index int) string {
	return fmt.Sprintf("OCR:%s:P%d:I%d", jobID, pageNo, index)
}

// CropKey is the object key of a problem crop.
func CropKey(jobID string, pageNo, index int) string {
	return fmt.Sprintf("%s/%s/page-%04d/candidate-%03d.png", CropPrefix, jobID, pageNo, index)
}

type materializer struct {
	*run
	extractor  *assets.Extractor
	curriculum store.Curriculum
	sourceID   string
	summary    *Summary
}

// materialize turns scanned candidates into problems. Per-candidate
// problems become skip results; storage failures abort the run.
func (m *materializer) materialize(ctx context.Context, pages []scanner.Page) error {
	total := 0
	for _, p := range pages {
		total += len(p.Problems)
	}
	total = min(total, m.opts.MaxProblems)
	m.summary.TotalCandidates = total
	denominator := max(1, total)

	for _, page := range pages {
		if m.summary.ProcessedCandidates >= m.opts.MaxProblems {
			break
		}
		if page.PageNo <= 0 {
			continue
		}
		ocrPage, err := m.cfg.Store.GetPage(ctx, m.jobID, page.PageNo)
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Debug("scanned page has no OCR page", "page", page.PageNo)
			continue
		}
		if err != nil {
			return err
		}

		for i, cand := range page.Problems {
			if m.summary.ProcessedCandidates >= m.opts.MaxProblems {
				break
			}
			m.summary.ProcessedCandidates++
			res, err := m.candidate(ctx, ocrPage, cand, i+1)
			if err != nil {
				return err
			}
			switch res.Status {
			case ResultInserted:
				m.summary.InsertedCount++
			case ResultUpdated:
				m.summary.UpdatedCount++
			default:
				m.summary.SkippedCount++
				m.logger.Debug("candidate skipped", "page", res.PageNo, "candidate", res.CandidateNo, "reason", res.Reason)
			}
			m.summary.Results = append(m.summary.Results, res)
		}

		if err := m.cfg.Store.MarkPageCompleted(ctx, m.jobID, page.PageNo); err != nil {
			return err
		}
		ratio := min(float64(m.summary.ProcessedCandidates)/float64(denominator), 1)
		if err := m.cfg.Store.UpdateProgress(ctx, m.jobID, progressScanDone+progressSpan*ratio, "", nil); err != nil {
			return err
		}
	}
	return nil
}

// candidate materializes one candidate at 1-based index on its page.
func (m *materializer) candidate(ctx context.Context, ocrPage store.Page, cand scanner.Problem, index int) (CandidateResult, error) {
	pageNo := ocrPage.PageNo
	candidateNo := cand.CandidateNo
	if candidateNo <= 0 {
		candidateNo = index
	}
	res := CandidateResult{
		PageNo:      pageNo,
		CandidateNo: candidateNo,
		Status:      ResultSkipped,
		ExternalKey: ExternalKey(m.jobID, pageNo, index),
	}
	skip := func(reason string) (CandidateResult, error) {
		res.Reason = reason
		return res, nil
	}

	if cand.Confidence < m.opts.MinConfidence {
		return skip(ReasonLowConfidence)
	}
	m.summary.AcceptedCandidates++

	if cand.BBox == (bbox.Ratio{}) {
		return skip(ReasonMissingBBox)
	}
	candidateBox := cand.BBox.BBox()
	image, clipRatio, ok := m.extractor.RenderClip(ctx, pageNo, candidateBox, assets.TypeOther, problemClipScale)
	if !ok {
		return skip(ReasonRenderFailed)
	}

	ocrRaw, err := m.cfg.OCR.OCRImage(ctx, image, res.ExternalKey+".png")
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return skip(reasonOCRFailed + err.Error())
	}
	text, latex := providers.TextFields(ocrRaw)
	statement := strings.TrimSpace(cand.StatementText)
	final := firstNonEmpty(strings.TrimSpace(text), strings.TrimSpace(latex), statement)
	if final == "" {
		return skip(ReasonEmptyOCR)
	}

	subjectCode := strings.ToUpper(strings.TrimSpace(cand.SubjectCode))
	if subjectCode == "" {
		subjectCode = classify.DefaultSubjectCode
	}
	subjectID := m.curriculum.Subjects[subjectCode]
	if subjectID == "" {
		subjectID = m.curriculum.Subjects[classify.DefaultSubjectCode]
	}
	if subjectID == "" {
		return skip(ReasonNoSubject)
	}

	responseType, answerKey := m.answer(cand.AnswerKey)
	pointValue := m.opts.DefaultPointValue
	if cand.PointValue >= 2 && cand.PointValue <= 4 {
		pointValue = cand.PointValue
	}

	var cropKey string
	if m.opts.SaveProblemImages {
		key := CropKey(m.jobID, pageNo, index)
		if err := m.cfg.Objects.Put(ctx, key, image, "image/png"); err != nil {
			return res, fmt.Errorf("store problem crop %s: %w", key, err)
		}
		cropKey = m.cfg.Objects.StorageKey(key)
	}

	declared := make([]assets.DeclaredAsset, 0, len(cand.VisualAssets))
	for _, a := range cand.VisualAssets {
		declared = append(declared, assets.DeclaredAsset{AssetType: a.AssetType, BBox: a.BBox.BBox()})
	}
	hints := m.collector.Collect(firstNonEmpty(statement, final), nil, &candidateBox, &assets.CandidateMeta{
		VisualAssetTypes: cand.VisualAssetTypes,
		VisualAssets:     declared,
	})
	m.summary.DetectedVisualAssets += len(hints)
	var (
		extracted  []assets.ExtractedAsset
		extractErr any
	)
	if len(hints) > 0 {
		extracted, err = m.extractor.ExtractAndUpload(ctx, pageNo, candidateNo, res.ExternalKey, hints, &candidateBox)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			extractErr = err.Error()
		}
	}
	m.summary.StoredVisualAssets += len(extracted)

	types := visualAssetTypes(cand, hints, extracted)
	storedKeys := make([]string, 0, len(extracted))
	for _, a := range extracted {
		storedKeys = append(storedKeys, a.StorageKey)
	}

	metadata := map[string]any{
		"needs_review": true,
		"ingest": map[string]any{
			"source":        ingestSource,
			"provider":      Provider,
			"job_id":        m.jobID,
			"page_no":       pageNo,
			"candidate_no":  candidateNo,
			"confidence":    cand.Confidence,
			"subject_code":  subjectCode,
			"problem_type":  nullable(cand.ProblemType),
			"question_no":   nullableInt(cand.QuestionNo),
			"answer_source": nullable(cand.AnswerSource),
		},
		"visual_assets": map[string]any{
			"has_visual_asset":    cand.HasVisualAsset || len(types) > 0,
			"types":               types,
			"detected_count":      len(hints),
			"stored_count":        len(extracted),
			"stored_storage_keys": storedKeys,
			"extraction_error":    extractErr,
		},
		"ocr": map[string]any{
			"mathpix_text":  nullable(text),
			"mathpix_latex": nullable(latex),
			"raw":           ocrRaw,
		},
		"textbook": map[string]any{
			"title":           nullable(m.opts.TextbookTitle),
			"source_category": m.opts.SourceCategory,
			"source_type":     m.opts.SourceType,
		},
	}

	problemID, inserted, err := m.cfg.Store.UpsertProblem(ctx, store.Problem{
		CurriculumID: m.curriculum.ID,
		SourceID:     m.sourceID,
		OCRPageID:    ocrPage.ID,
		ExternalKey:  res.ExternalKey,
		SubjectID:    subjectID,
		ResponseType: responseType,
		PointValue:   pointValue,
		AnswerKey:    answerKey,
		Label:        fmt.Sprintf("P%d-C%d", pageNo, candidateNo),
		TextRaw:      firstNonEmpty(text, final),
		TextLatex:    latex,
		TextFinal:    final,
		Metadata:     metadata,
	})
	if err != nil {
		return res, err
	}
	res.ProblemID = problemID
	res.Status = ResultUpdated
	if inserted {
		res.Status = ResultInserted
	}

	if cropKey != "" {
		err := m.cfg.Store.UpsertAsset(ctx, store.Asset{
			ProblemID:  problemID,
			AssetType:  assets.TypeImage,
			StorageKey: cropKey,
			PageNo:     pageNo,
			BBox:       clipRatio.Map(),
			Metadata: map[string]any{
				"needs_review": true,
				"ingest": map[string]any{
					"source":       ingestSource,
					"job_id":       m.jobID,
					"page_no":      pageNo,
					"candidate_no": candidateNo,
				},
			},
		})
		if err != nil {
			return res, err
		}
	}

	if err := m.cfg.Store.DeleteAssets(ctx, problemID, ingestAssetSource); err != nil {
		return res, err
	}
	for i, a := range extracted {
		ingest := map[string]any{
			"source":               ingestAssetSource,
			"job_id":               m.jobID,
			"page_no":              pageNo,
			"candidate_no":         candidateNo,
			"candidate_key":        res.ExternalKey,
			"asset_index":          i + 1,
			"source_hint":          a.Metadata.SourceHint,
			"external_problem_key": a.Metadata.ExternalProblemKey,
			"render_scale":         a.Metadata.RenderScale,
		}
		if len(a.Metadata.Evidence) > 0 {
			ingest["evidence"] = a.Metadata.Evidence
		}
		err := m.cfg.Store.UpsertAsset(ctx, store.Asset{
			ProblemID:  problemID,
			AssetType:  a.AssetType,
			StorageKey: a.StorageKey,
			PageNo:     a.PageNo,
			BBox:       a.BBox.Map(),
			Metadata:   map[string]any{"needs_review": true, "ingest": ingest},
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// answer applies the response type and answer key defaults to a scanned
// answer key.
func (m *materializer) answer(raw string) (responseType, answerKey string) {
	answerKey = strings.TrimSpace(raw)
	responseType = m.opts.DefaultResponseType
	if choiceAnswers[answerKey] {
		responseType = ResponseFiveChoice
	}
	if answerKey == "" {
		answerKey = m.opts.DefaultAnswerKey
	}
	if responseType == ResponseFiveChoice && !choiceAnswers[answerKey] {
		responseType = ResponseShortAnswer
		answerKey = m.opts.DefaultAnswerKey
	}
	if responseType == ResponseShortAnswer && answerKey == "" {
		answerKey = PendingReviewAnswer
	}
	return responseType, answerKey
}

// visualAssetTypes merges the scanner's declared types with the types of
// the hints and extracted assets, sorted and without duplicates.
func visualAssetTypes(cand scanner.Problem, hints []assets.Hint, extracted []assets.ExtractedAsset) []string {
	seen := make(map[string]bool)
	types := []string{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for _, t := range cand.VisualAssetTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			add(assets.NormalizeType(t))
		}
	}
	if len(types) == 0 && cand.HasVisualAsset {
		add(assets.TypeOther)
	}
	for _, h := range hints {
		add(h.AssetType)
	}
	for _, a := range extracted {
		add(a.AssetType)
	}
	slices.Sort(types)
	return types
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// nullable maps "" to a JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}
