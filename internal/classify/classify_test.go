package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeCompleter struct {
	text       string
	err        error
	configured bool
	calls      int
	prompt     string
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.text, f.err
}

func (f *fakeCompleter) Configured() bool { return f.configured }

func TestClassify(t *testing.T) {
	statement := "다음 중 옳은 것은? 확률 문제"

	tests := []struct {
		name         string
		completer    *fakeCompleter
		wantProvider string
		wantSubject  string
		wantCalls    int
	}{
		{
			name:         "api result",
			completer:    &fakeCompleter{configured: true, text: "```json\n{\"subject_code\":\"CALCULUS\",\"validation_status\":\"valid\",\"confidence\":88,\"point_value\":3}\n```"},
			wantProvider: ProviderAPI,
			wantSubject:  "CALCULUS",
			wantCalls:    1,
		},
		{
			name:         "transport error",
			completer:    &fakeCompleter{configured: true, err: errors.New("connection refused")},
			wantProvider: ProviderHeuristic,
			wantSubject:  "PROB_STATS",
			wantCalls:    1,
		},
		{
			name:         "not json",
			completer:    &fakeCompleter{configured: true, text: "미적분 문제입니다"},
			wantProvider: ProviderHeuristic,
			wantSubject:  "PROB_STATS",
			wantCalls:    1,
		},
		{
			name:         "schema violation",
			completer:    &fakeCompleter{configured: true, text: `{"subject_code":"CALCULUS","validation_status":"valid","confidence":{"value":88}}`},
			wantProvider: ProviderHeuristic,
			wantSubject:  "PROB_STATS",
			wantCalls:    1,
		},
		{
			name:         "missing required field",
			completer:    &fakeCompleter{configured: true, text: `{"subject_code":"CALCULUS","confidence":88}`},
			wantProvider: ProviderHeuristic,
			wantSubject:  "PROB_STATS",
			wantCalls:    1,
		},
		{
			name:         "not configured",
			completer:    &fakeCompleter{text: `{"subject_code":"CALCULUS","validation_status":"valid","confidence":88}`},
			wantProvider: ProviderHeuristic,
			wantSubject:  "PROB_STATS",
			wantCalls:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.completer, "gpt-4.1-mini", nil).Classify(context.Background(), statement)
			if got.Provider != tt.wantProvider || got.SubjectCode != tt.wantSubject {
				t.Errorf("got %+v", got)
			}
			if got.Model != "gpt-4.1-mini" {
				t.Errorf("model = %q", got.Model)
			}
			if tt.completer.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", tt.completer.calls, tt.wantCalls)
			}
			if tt.wantCalls > 0 && !strings.HasSuffix(tt.completer.prompt, statement) {
				t.Errorf("prompt does not end with the statement: %q", tt.completer.prompt)
			}
		})
	}
}

func TestClassifyNilCompleter(t *testing.T) {
	got := New(nil, "m", nil).Classify(context.Background(), "벡터의 내적")
	if got.Provider != ProviderHeuristic || got.SubjectCode != "GEOMETRY" {
		t.Errorf("got %+v", got)
	}
}

func TestHeuristic(t *testing.T) {
	long := strings.Repeat("가", 80)

	tests := []struct {
		statement  string
		subject    string
		point      int
		status     string
		confidence float64
	}{
		{"함수의 극한", "MATH_II", 2, StatusNeedsReview, 35},
		{"타원과 확률", "GEOMETRY", 2, StatusNeedsReview, 35},
		{"조건부 확률", "PROB_STATS", 2, StatusNeedsReview, 35},
		{"정적분의 값을 구하시오", "CALCULUS", 2, StatusNeedsReview, 35},
		{"등차수열의 합", "MATH_I", 2, StatusNeedsReview, 35},
		{"킬러 문항", "MATH_II", 4, StatusNeedsReview, 35},
		{long, "MATH_II", 3, StatusNeedsReview, 35},
		{"다음 중 옳은 것만을 <보기>에서 있는 대로 고른 것은 무엇인가?", "MATH_II", 2, StatusValid, 55},
	}
	for _, tt := range tests {
		got := Heuristic(tt.statement, "m")
		if got.SubjectCode != tt.subject || got.PointValue != tt.point ||
			got.ValidationStatus != tt.status || got.Confidence != tt.confidence {
			t.Errorf("Heuristic(%q) = %+v", tt.statement, got)
		}
		if got.SourceCategory != "other" || got.SourceType != "other" || got.Reason != reasonFallback {
			t.Errorf("Heuristic(%q) = %+v", tt.statement, got)
		}
	}

	if got := Heuristic("MathPix OCR output", "m"); got.Reason != reasonOCR {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(map[string]any{
		"subject_code":      "calculus",
		"unit_code":         12.0,
		"point_value":       5.0,
		"source_category":   "past_exam",
		"source_type":       "not_a_type",
		"validation_status": "maybe",
		"confidence":        "140",
		"reason":            "  looks fine ",
	}, ProviderAPI, "m")

	if got.SubjectCode != "" || got.UnitCode != "12" || got.PointValue != 0 {
		t.Errorf("got %+v", got)
	}
	if got.SourceCategory != "" || got.SourceType != "" {
		t.Errorf("invalid type should drop both source fields: %+v", got)
	}
	if got.ValidationStatus != StatusNeedsReview || got.Confidence != 100 || got.Reason != "looks fine" {
		t.Errorf("got %+v", got)
	}

	got = Normalize(map[string]any{
		"subject_code":      "GEOMETRY",
		"point_value":       4.0,
		"source_category":   "linked_textbook",
		"source_type":       "ebs_linked",
		"validation_status": "invalid",
		"confidence":        -3,
	}, ProviderAPI, "m")
	if got.SubjectCode != "GEOMETRY" || got.PointValue != 4 || got.SourceType != "ebs_linked" ||
		got.ValidationStatus != StatusInvalid || got.Confidence != 0 {
		t.Errorf("got %+v", got)
	}

	if got := Normalize(map[string]any{}, ProviderAPI, "m"); got.Confidence != 0 || got.ValidationStatus != StatusNeedsReview {
		t.Errorf("empty = %+v", got)
	}
}

func TestNormalizePointValue(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{2, 2}, {3.0, 3}, {"4", 4}, {4.5, 0}, {1, 0}, {nil, 0}, {"x", 0},
	}
	for _, tt := range tests {
		if got := NormalizePointValue(tt.in); got != tt.want {
			t.Errorf("NormalizePointValue(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		category, typ string
		ok            bool
	}{
		{"past_exam", "csat", true},
		{"past_exam", "kice_mock", true},
		{"linked_textbook", "ebs_linked", true},
		{"other", "workbook", true},
		{"past_exam", "workbook", false},
		{"linked_textbook", "csat", false},
		{"magazine", "other", false},
	}
	for _, tt := range tests {
		err := ValidateSource(tt.category, tt.typ)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateSource(%q, %q) = %v", tt.category, tt.typ, err)
		}
	}
}
