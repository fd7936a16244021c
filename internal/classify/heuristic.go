package classify

import (
	"strings"
	"unicode/utf8"
)

// subjectKeywords is checked in order; the first subject with a matching
// keyword wins.
var subjectKeywords = []struct {
	code     string
	keywords []string
}{
	{"GEOMETRY", []string{"벡터", "포물선", "타원", "쌍곡선", "공간좌표"}},
	{"PROB_STATS", []string{"확률", "통계", "조합", "이항정리", "조건부"}},
	{"CALCULUS", []string{"적분", "미분", "급수", "도함수"}},
	{"MATH_I", []string{"지수", "로그", "삼각함수", "수열"}},
}

const (
	reasonFallback = "Heuristic classification (API key missing or API call failed)."
	reasonOCR      = "Heuristic classification from OCR text."
)

// Heuristic classifies statement from keywords and length alone.
func Heuristic(statement, model string) Result {
	return Normalize(heuristicFields(statement), ProviderHeuristic, model)
}

func heuristicFields(statement string) map[string]any {
	subject := DefaultSubjectCode
	for _, rule := range subjectKeywords {
		if containsAny(statement, rule.keywords...) {
			subject = rule.code
			break
		}
	}

	length := utf8.RuneCountInString(statement)
	point := 3
	switch {
	case containsAny(statement, "킬러", "최고난도"):
		point = 4
	case length < 80:
		point = 2
	}

	status := StatusNeedsReview
	if length >= 30 && strings.Contains(statement, "?") {
		status = StatusValid
	}

	confidence := 35
	if containsAny(statement, "보기", "다음", "옳은") {
		confidence = 55
	}

	reason := reasonFallback
	if strings.Contains(strings.ToLower(statement), "mathpix") {
		reason = reasonOCR
	}

	return map[string]any{
		"subject_code":      subject,
		"unit_code":         nil,
		"point_value":       point,
		"source_category":   "other",
		"source_type":       "other",
		"validation_status": status,
		"confidence":        confidence,
		"reason":            reason,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
