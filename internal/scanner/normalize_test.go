package scanner

import (
	"strings"
	"testing"

	"github.com/mathhub/mathhub/internal/bbox"
)

func TestNormalizeBBox(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		ok   bool
		want [4]float64
	}{
		{"plain", map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.2, "x1_ratio": 0.5, "y1_ratio": 0.6}, true, [4]float64{0.1, 0.2, 0.5, 0.6}},
		{"clamped", map[string]any{"x0_ratio": -0.2, "y0_ratio": 0.2, "x1_ratio": 1.4, "y1_ratio": "0.6"}, true, [4]float64{0, 0.2, 1, 0.6}},
		{"thin span widened", map[string]any{"x0_ratio": 0.5, "y0_ratio": 0.2, "x1_ratio": 0.505, "y1_ratio": 0.6}, true, [4]float64{0.5, 0.2, 0.51, 0.6}},
		{"widened at edge", map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.995, "x1_ratio": 0.5, "y1_ratio": 2}, true, [4]float64{0.1, 0.995, 0.5, 1}},
		{"inverted", map[string]any{"x0_ratio": 0.5, "y0_ratio": 0.2, "x1_ratio": 0.1, "y1_ratio": 0.6}, false, [4]float64{}},
		{"missing key", map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.2, "x1_ratio": 0.5}, false, [4]float64{}},
		{"not a number", map[string]any{"x0_ratio": "a", "y0_ratio": 0.2, "x1_ratio": 0.5, "y1_ratio": 0.6}, false, [4]float64{}},
		{"nil", nil, false, [4]float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeBBox(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if [4]float64{got.X0, got.Y0, got.X1, got.Y1} != tt.want {
				t.Errorf("got %+v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	box := map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.1, "x1_ratio": 0.9, "y1_ratio": 0.5}
	raw := map[string]any{
		"page_type":    "Worksheet",
		"page_summary": "  문제 페이지 ",
		"problems": []any{
			map[string]any{"statement": "1. 극한값을 구하시오", "bbox": box, "subject_code": "calculus", "confidence": 140, "answer_key": " 1 2 ", "point_value": 4.0, "visual_asset_types": []any{"Graph", ""}},
			map[string]any{"statement_text": "no bbox"},
			map[string]any{"statement_text": "   ", "bbox": box},
			map[string]any{"candidate_no": 9, "question_no": "12", "statement_text": "2. 확률", "bbox": box, "subject_code": "ALGEBRA", "confidence": "n/a", "point_value": 5},
			"garbage",
		},
		"answer_candidates": []any{
			map[string]any{"question_no": 3, "answer_key": "⑤", "evidence": "정답표"},
			map[string]any{"question_no": 0, "answer_key": "1"},
			map[string]any{"question_no": 4, "answer_key": "  "},
		},
	}

	page := Normalize(raw, 3, "gemini-2.5-flash")
	if page.PageNo != 3 || page.PageType != "other" || page.Summary != "문제 페이지" {
		t.Errorf("page header = %+v", page)
	}
	if len(page.Problems) != 2 {
		t.Fatalf("problems = %+v", page.Problems)
	}

	first := page.Problems[0]
	if first.CandidateNo != 1 || first.SubjectCode != "CALCULUS" || first.Confidence != 100 {
		t.Errorf("first = %+v", first)
	}
	if first.AnswerKey != "12" || first.PointValue != 4 || first.SplitStrategy != SplitStrategy {
		t.Errorf("first = %+v", first)
	}
	if len(first.VisualAssetTypes) != 1 || first.VisualAssetTypes[0] != "graph" {
		t.Errorf("visual types = %v", first.VisualAssetTypes)
	}
	if first.ValidationStatus != "needs_review" || first.Provider != "gemini" || first.Model != "gemini-2.5-flash" {
		t.Errorf("first = %+v", first)
	}

	second := page.Problems[1]
	if second.CandidateNo != 9 || second.QuestionNo != 12 || second.SubjectCode != "" || second.Confidence != 65 || second.PointValue != 0 {
		t.Errorf("second = %+v", second)
	}

	if len(page.Answers) != 1 || page.Answers[0].AnswerKey != "⑤" || page.Answers[0].Evidence != "정답표" {
		t.Errorf("answers = %+v", page.Answers)
	}
}

func TestNormalizeVisualAssets(t *testing.T) {
	raw := map[string]any{
		"page_type": "problem",
		"problems": []any{map[string]any{
			"statement_text": "그래프를 보고 답하시오",
			"bbox":           map[string]any{"x0_ratio": 0.1, "y0_ratio": 0.1, "x1_ratio": 0.9, "y1_ratio": 0.5},
			"visual_assets": []any{
				map[string]any{"asset_type": "Graph", "bbox": map[string]any{"x0_ratio": 0.5, "y0_ratio": 0.5, "x1_ratio": 1, "y1_ratio": 1}},
				map[string]any{"asset_type": "table", "bbox": map[string]any{"left": 0, "top": 0, "right": 0.4, "bottom": 0.3}},
				map[string]any{"asset_type": "image", "bbox": map[string]any{"x1": 10, "y1": 10, "x2": 300, "y2": 200}},
				map[string]any{"bbox": map[string]any{"x0_ratio": 0, "y0_ratio": 0, "x1_ratio": 1, "y1_ratio": 1}},
				map[string]any{"asset_type": "graph"},
			},
		}},
	}

	page := Normalize(raw, 1, "m")
	if len(page.Problems) != 1 {
		t.Fatalf("problems = %+v", page.Problems)
	}
	got := page.Problems[0].VisualAssets
	want := []VisualAsset{
		{AssetType: "graph", BBox: bbox.Ratio{X0: 0.5, Y0: 0.5, X1: 1, Y1: 1}},
		{AssetType: "table", BBox: bbox.Ratio{X0: 0, Y0: 0, X1: 0.4, Y1: 0.3}},
	}
	if len(got) != len(want) {
		t.Fatalf("visual assets = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("visual asset %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	page := Normalize(map[string]any{}, 1, "m")
	if page.PageType != "other" || page.Problems == nil || page.Answers == nil {
		t.Errorf("page = %+v", page)
	}
}

func TestNormalizeAnswerKey(t *testing.T) {
	if got := NormalizeAnswerKey(" x = 3 \n"); got != "x=3" {
		t.Errorf("got %q", got)
	}
	if got := NormalizeAnswerKey(nil); got != "" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("가", 50)
	if got := NormalizeAnswerKey(long); got != strings.Repeat("가", 40) {
		t.Errorf("got %d runes", len([]rune(got)))
	}
	if got := NormalizeAnswerKey(3.0); got != "3" {
		t.Errorf("got %q", got)
	}
}

func TestAttachAnswerKeys(t *testing.T) {
	pages := []Page{
		{PageNo: 1, Problems: []Problem{
			{QuestionNo: 1},
			{QuestionNo: 2, AnswerKey: "own"},
			{QuestionNo: 3},
			{},
		}},
		{PageNo: 2, Answers: []AnswerCandidate{{QuestionNo: 1, AnswerKey: "4"}, {QuestionNo: 2, AnswerKey: "5"}}},
		{PageNo: 3, Answers: []AnswerCandidate{{QuestionNo: 1, AnswerKey: "later"}}},
	}

	if got := AttachAnswerKeys(pages); got != 1 {
		t.Errorf("matched = %d, want 1", got)
	}
	probs := pages[0].Problems
	if probs[0].AnswerKey != "4" || probs[0].AnswerSource != AnswerSourcePage {
		t.Errorf("first answer should win: %+v", probs[0])
	}
	if probs[1].AnswerKey != "own" || probs[1].AnswerSource != "" {
		t.Errorf("existing key overwritten: %+v", probs[1])
	}
	if probs[2].AnswerKey != "" || probs[3].AnswerKey != "" {
		t.Errorf("unexpected fill: %+v", probs)
	}

	if AttachAnswerKeys([]Page{{Problems: []Problem{{QuestionNo: 1}}}}) != 0 {
		t.Error("matched without answers")
	}
}
