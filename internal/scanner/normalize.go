package scanner

import (
	"math"
	"regexp"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
	"github.com/mathhub/mathhub/internal/classify"
	"github.com/mathhub/mathhub/internal/jsonx"
)

// SplitStrategy marks candidates that came from the page scan.
const SplitStrategy = "gemini_pdf_scan"

// AnswerSourcePage marks answer keys copied from an answer page.
const AnswerSourcePage = "answer_page"

const (
	defaultConfidence = 65.0
	maxAnswerKeyLen   = 40
	minBBoxSpan       = 0.01
)

var pageTypes = map[string]bool{
	"cover": true, "toc": true, "concept": true, "problem": true,
	"answer": true, "explanation": true, "mixed": true, "other": true,
}

var whitespace = regexp.MustCompile(`\s+`)

// Page is the normalized scan of one page.
type Page struct {
	PageNo   int               `json:"page_no"`
	PageType string            `json:"page_type"`
	Summary  string            `json:"page_summary"`
	Problems []Problem         `json:"problems"`
	Answers  []AnswerCandidate `json:"answer_candidates"`
	Model    string            `json:"model,omitempty"`
}

// Problem is one question candidate found on a page.
type Problem struct {
	CandidateNo      int           `json:"candidate_no"`
	QuestionNo       int           `json:"question_no,omitempty"`
	StatementText    string        `json:"statement_text"`
	SplitStrategy    string        `json:"split_strategy"`
	BBox             bbox.Ratio    `json:"bbox"`
	SubjectCode      string        `json:"subject_code,omitempty"`
	ProblemType      string        `json:"problem_type,omitempty"`
	AnswerKey        string        `json:"answer_key,omitempty"`
	AnswerSource     string        `json:"answer_source,omitempty"`
	PointValue       int           `json:"point_value,omitempty"`
	HasVisualAsset   bool          `json:"has_visual_asset"`
	VisualAssetTypes []string      `json:"visual_asset_types,omitempty"`
	VisualAssets     []VisualAsset `json:"visual_assets,omitempty"`
	Confidence       float64       `json:"confidence"`
	ValidationStatus string        `json:"validation_status"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
}

// VisualAsset is a graph, table or image the model located inside a problem.
// BBox is relative to the problem's own bbox.
type VisualAsset struct {
	AssetType string     `json:"asset_type"`
	BBox      bbox.Ratio `json:"bbox"`
}

// AnswerCandidate is an answer key read off an answer page.
type AnswerCandidate struct {
	QuestionNo int    `json:"question_no"`
	AnswerKey  string `json:"answer_key"`
	Evidence   string `json:"evidence,omitempty"`
}

// Normalize turns a raw model object into a Page. Problems without a
// statement or a usable unit-interval bbox are dropped, as are answers
// without a question number or key.
func Normalize(raw map[string]any, pageNo int, model string) Page {
	pageType := strings.ToLower(jsonx.String(raw["page_type"]))
	if !pageTypes[pageType] {
		pageType = "other"
	}

	page := Page{
		PageNo:   pageNo,
		PageType: pageType,
		Summary:  jsonx.String(raw["page_summary"]),
		Problems: []Problem{},
		Answers:  []AnswerCandidate{},
		Model:    model,
	}
	for i, item := range jsonx.Slice(raw["problems"]) {
		if p, ok := normalizeProblem(jsonx.Map(item), i+1, model); ok {
			page.Problems = append(page.Problems, p)
		}
	}
	for _, item := range jsonx.Slice(raw["answer_candidates"]) {
		if a, ok := NormalizeAnswer(jsonx.Map(item)); ok {
			page.Answers = append(page.Answers, a)
		}
	}
	return page
}

func normalizeProblem(item map[string]any, fallbackNo int, model string) (Problem, bool) {
	if item == nil {
		return Problem{}, false
	}
	statement := jsonx.String(item["statement_text"])
	if statement == "" {
		statement = jsonx.String(item["statement"])
	}
	if statement == "" {
		return Problem{}, false
	}
	box, ok := NormalizeBBox(jsonx.Map(item["bbox"]))
	if !ok {
		return Problem{}, false
	}

	candidateNo, ok := jsonx.PositiveInt(item["candidate_no"])
	if !ok {
		candidateNo = fallbackNo
	}
	questionNo, _ := jsonx.PositiveInt(item["question_no"])

	subject := strings.ToUpper(jsonx.String(item["subject_code"]))
	if !classify.IsSubjectCode(subject) {
		subject = ""
	}

	return Problem{
		CandidateNo:      candidateNo,
		QuestionNo:       questionNo,
		StatementText:    statement,
		SplitStrategy:    SplitStrategy,
		BBox:             box,
		SubjectCode:      subject,
		ProblemType:      jsonx.String(item["problem_type"]),
		AnswerKey:        NormalizeAnswerKey(item["answer_key"]),
		PointValue:       classify.NormalizePointValue(item["point_value"]),
		HasVisualAsset:   jsonx.Truthy(item["has_visual_asset"]),
		VisualAssetTypes: stringList(item["visual_asset_types"]),
		VisualAssets:     visualAssets(item["visual_assets"]),
		Confidence:       confidence(item["confidence"]),
		ValidationStatus: classify.StatusNeedsReview,
		Provider:         "gemini",
		Model:            model,
	}, true
}

// NormalizeAnswer validates one answer candidate.
func NormalizeAnswer(item map[string]any) (AnswerCandidate, bool) {
	if item == nil {
		return AnswerCandidate{}, false
	}
	questionNo, ok := jsonx.PositiveInt(item["question_no"])
	key := NormalizeAnswerKey(item["answer_key"])
	if !ok || key == "" {
		return AnswerCandidate{}, false
	}
	return AnswerCandidate{
		QuestionNo: questionNo,
		AnswerKey:  key,
		Evidence:   jsonx.String(item["evidence"]),
	}, true
}

// NormalizeBBox reads a ratio bbox, clamps it to the unit square and widens
// spans thinner than 1%. Inverted or empty boxes are rejected.
func NormalizeBBox(m map[string]any) (bbox.Ratio, bool) {
	if m == nil {
		return bbox.Ratio{}, false
	}
	var v [4]float64
	for i, k := range []string{"x0_ratio", "y0_ratio", "x1_ratio", "y1_ratio"} {
		f, ok := jsonx.Float(m[k])
		if !ok || math.IsNaN(f) {
			return bbox.Ratio{}, false
		}
		v[i] = clamp01(f)
	}
	x0, y0, x1, y1 := v[0], v[1], v[2], v[3]
	if x1 <= x0 || y1 <= y0 {
		return bbox.Ratio{}, false
	}
	if x1-x0 < minBBoxSpan {
		x1 = math.Min(1, x0+minBBoxSpan)
	}
	if y1-y0 < minBBoxSpan {
		y1 = math.Min(1, y0+minBBoxSpan)
	}
	return bbox.Ratio{
		X0: bbox.Round6(x0),
		Y0: bbox.Round6(y0),
		X1: bbox.Round6(x1),
		Y1: bbox.Round6(y1),
	}, true
}

// NormalizeAnswerKey strips all whitespace and caps the key at 40 runes.
func NormalizeAnswerKey(v any) string {
	key := whitespace.ReplaceAllString(jsonx.String(v), "")
	if r := []rune(key); len(r) > maxAnswerKeyLen {
		key = string(r[:maxAnswerKeyLen])
	}
	return key
}

func confidence(v any) float64 {
	f, ok := jsonx.Float(v)
	if !ok || math.IsNaN(f) {
		f = defaultConfidence
	}
	return math.Max(0, math.Min(100, f))
}

// visualAssets keeps the declared assets that have a type and a bbox inside
// the unit square. Any encoding bbox.Parse accepts is read.
func visualAssets(v any) []VisualAsset {
	var out []VisualAsset
	for _, item := range jsonx.Slice(v) {
		m := jsonx.Map(item)
		if m == nil {
			continue
		}
		assetType := strings.ToLower(jsonx.String(m["asset_type"]))
		if assetType == "" {
			assetType = strings.ToLower(jsonx.String(m["type"]))
		}
		if assetType == "" {
			continue
		}
		box, ok := NormalizeBBox(jsonx.Map(m["bbox"]))
		if !ok {
			b, parsed := bbox.Parse(m["bbox"])
			if !parsed || !b.InUnitSquare() {
				continue
			}
			box, ok = NormalizeBBox(bbox.Ratio{X0: b.X1, Y0: b.Y1, X1: b.X2, Y1: b.Y2}.Map())
			if !ok {
				continue
			}
		}
		out = append(out, VisualAsset{AssetType: assetType, BBox: box})
	}
	return out
}

func stringList(v any) []string {
	var out []string
	for _, item := range jsonx.Slice(v) {
		if s := strings.ToLower(jsonx.String(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
