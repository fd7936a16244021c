package workflow

import (
	"fmt"
	"strings"

	"github.com/mathhub/mathhub/internal/classify"
)

// Response types a problem can be stored with.
const (
	ResponseFiveChoice  = "five_choice"
	ResponseShortAnswer = "short_answer"
)

// PendingReviewAnswer is stored for short-answer problems with no key.
const PendingReviewAnswer = "PENDING_REVIEW"

// Options controls one workflow run.
type Options struct {
	CurriculumCode string  `json:"curriculum_code" yaml:"curriculum_code" mapstructure:"curriculum_code"`
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence" mapstructure:"min_confidence"`
	MaxProblems    int     `json:"max_problems" yaml:"max_problems" mapstructure:"max_problems"`
	MaxPages       int     `json:"max_pages" yaml:"max_pages" mapstructure:"max_pages"`

	DefaultResponseType string `json:"default_response_type" yaml:"default_response_type" mapstructure:"default_response_type"`
	DefaultAnswerKey    string `json:"default_answer_key" yaml:"default_answer_key" mapstructure:"default_answer_key"`
	DefaultPointValue   int    `json:"default_point_value" yaml:"default_point_value" mapstructure:"default_point_value"`
	SaveProblemImages   bool   `json:"save_problem_images" yaml:"save_problem_images" mapstructure:"save_problem_images"`

	TextbookTitle  string `json:"textbook_title,omitempty" yaml:"textbook_title,omitempty" mapstructure:"textbook_title"`
	SourceCategory string `json:"source_category" yaml:"source_category" mapstructure:"source_category"`
	SourceType     string `json:"source_type" yaml:"source_type" mapstructure:"source_type"`

	// CallbackURL is forwarded to Mathpix with the submission.
	CallbackURL string `json:"callback_url,omitempty" yaml:"callback_url,omitempty" mapstructure:"callback_url"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		CurriculumCode:      "KR_2015",
		MinConfidence:       0,
		MaxProblems:         200,
		MaxPages:            40,
		DefaultResponseType: ResponseShortAnswer,
		DefaultAnswerKey:    PendingReviewAnswer,
		DefaultPointValue:   3,
		SaveProblemImages:   true,
		SourceCategory:      "other",
		SourceType:          "workbook",
	}
}

// Validate checks o without touching any state.
func (o Options) Validate() error {
	if strings.TrimSpace(o.CurriculumCode) == "" {
		return fmt.Errorf("%w: curriculum_code is required", ErrInvalidOptions)
	}
	if o.MaxProblems <= 0 {
		return fmt.Errorf("%w: max_problems must be positive", ErrInvalidOptions)
	}
	if o.MaxPages <= 0 {
		return fmt.Errorf("%w: max_pages must be positive", ErrInvalidOptions)
	}
	if o.MinConfidence < 0 || o.MinConfidence > 100 {
		return fmt.Errorf("%w: min_confidence must be within 0..100", ErrInvalidOptions)
	}
	if o.DefaultResponseType != ResponseFiveChoice && o.DefaultResponseType != ResponseShortAnswer {
		return fmt.Errorf("%w: default_response_type must be %s or %s", ErrInvalidOptions, ResponseFiveChoice, ResponseShortAnswer)
	}
	if o.DefaultPointValue <= 0 {
		return fmt.Errorf("%w: default_point_value must be positive", ErrInvalidOptions)
	}
	if err := classify.ValidateSource(o.SourceCategory, o.SourceType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
