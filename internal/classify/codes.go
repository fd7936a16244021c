// Package classify assigns subject, point value and source labels to problem
// statements, through a language model when one is configured and through
// keyword rules otherwise.
package classify

import (
	"fmt"
	"math"

	"github.com/mathhub/mathhub/internal/jsonx"
)

// Validation statuses.
const (
	StatusValid       = "valid"
	StatusNeedsReview = "needs_review"
	StatusInvalid     = "invalid"
)

// Providers recorded on a Result.
const (
	ProviderAPI       = "api"
	ProviderHeuristic = "heuristic"
)

// SubjectCodes lists the curriculum subjects problems are filed under.
var SubjectCodes = []string{"MATH_I", "MATH_II", "PROB_STATS", "CALCULUS", "GEOMETRY"}

// DefaultSubjectCode is used when nothing more specific matches.
const DefaultSubjectCode = "MATH_II"

// sourceTypes maps each source category to the source types it admits.
var sourceTypes = map[string][]string{
	"past_exam":       {"csat", "kice_mock", "office_mock"},
	"linked_textbook": {"ebs_linked"},
	"other":           {"private_mock", "workbook", "school_exam", "teacher_made", "other"},
}

// IsSubjectCode reports whether code is a known subject.
func IsSubjectCode(code string) bool {
	for _, c := range SubjectCodes {
		if c == code {
			return true
		}
	}
	return false
}

// IsSourceCategory reports whether category is known.
func IsSourceCategory(category string) bool {
	_, ok := sourceTypes[category]
	return ok
}

// IsSourceType reports whether typ belongs to any category.
func IsSourceType(typ string) bool {
	for _, types := range sourceTypes {
		for _, t := range types {
			if t == typ {
				return true
			}
		}
	}
	return false
}

// ValidateSource checks that typ is allowed under category.
func ValidateSource(category, typ string) error {
	types, ok := sourceTypes[category]
	if !ok {
		return fmt.Errorf("unknown source_category %q", category)
	}
	for _, t := range types {
		if t == typ {
			return nil
		}
	}
	return fmt.Errorf("source_type %q is not allowed for source_category %q (allowed: %v)", typ, category, types)
}

func isValidationStatus(s string) bool {
	return s == StatusValid || s == StatusNeedsReview || s == StatusInvalid
}

// NormalizePointValue returns v when it is a whole 2, 3 or 4, else 0.
func NormalizePointValue(v any) int {
	f, ok := jsonx.Float(v)
	if !ok || f != math.Trunc(f) {
		return 0
	}
	switch n := int(f); n {
	case 2, 3, 4:
		return n
	}
	return 0
}
