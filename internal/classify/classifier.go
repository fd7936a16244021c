package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/mathhub/mathhub/internal/jsonx"
	"github.com/mathhub/mathhub/internal/providers"
)

// Result is a normalized classification. Empty strings and a zero point
// value mean the field could not be determined.
type Result struct {
	SubjectCode      string  `json:"subject_code,omitempty" yaml:"subject_code,omitempty"`
	UnitCode         string  `json:"unit_code,omitempty" yaml:"unit_code,omitempty"`
	PointValue       int     `json:"point_value,omitempty" yaml:"point_value,omitempty"`
	SourceCategory   string  `json:"source_category,omitempty" yaml:"source_category,omitempty"`
	SourceType       string  `json:"source_type,omitempty" yaml:"source_type,omitempty"`
	ValidationStatus string  `json:"validation_status" yaml:"validation_status"`
	Confidence       float64 `json:"confidence" yaml:"confidence"`
	Reason           string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Provider         string  `json:"provider" yaml:"provider"`
	Model            string  `json:"model" yaml:"model"`
}

// Completer sends one prompt to a text model.
type Completer interface {
	Complete(ctx context.Context, instructions, prompt string) (string, error)
}

// ErrNotConfigured is logged when classification falls back because no
// model credentials were given.
var ErrNotConfigured = errors.New("classifier model is not configured")

const instructions = "너는 한국 고등학교 수학 문항 분류기다. 반드시 JSON 객체만 반환해."

var resultSchema = providers.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"subject_code": {"type": ["string", "null"]},
		"unit_code": {"type": ["string", "integer", "null"]},
		"point_value": {"type": ["integer", "null"]},
		"source_category": {"type": ["string", "null"]},
		"source_type": {"type": ["string", "null"]},
		"validation_status": {"type": "string"},
		"confidence": {"type": ["number", "string"]},
		"reason": {"type": ["string", "null"]}
	},
	"required": ["subject_code", "validation_status", "confidence"]
}`)

// Classifier classifies statements through a Completer and falls back to
// Heuristic on any failure.
type Classifier struct {
	completer Completer
	model     string
	logger    *slog.Logger
}

// New returns a Classifier. A nil completer, or one reporting
// Configured() == false, always uses the heuristic.
func New(completer Completer, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{completer: completer, model: model, logger: logger}
}

// Classify never fails: transport errors, unparseable output and schema
// violations all route to the heuristic.
func (c *Classifier) Classify(ctx context.Context, statement string) Result {
	raw, err := c.callModel(ctx, statement)
	if err == nil {
		return Normalize(raw, ProviderAPI, c.model)
	}
	if !errors.Is(err, ErrNotConfigured) {
		c.logger.Warn("classification fell back to heuristic", "error", err)
	}
	return Heuristic(statement, c.model)
}

func (c *Classifier) callModel(ctx context.Context, statement string) (map[string]any, error) {
	if c.completer == nil {
		return nil, ErrNotConfigured
	}
	if cc, ok := c.completer.(interface{ Configured() bool }); ok && !cc.Configured() {
		return nil, ErrNotConfigured
	}
	text, err := c.completer.Complete(ctx, instructions, Prompt(statement))
	if err != nil {
		return nil, fmt.Errorf("classify request: %w", err)
	}
	return providers.DecodeObject(text, resultSchema)
}

// Prompt builds the classification prompt for statement.
func Prompt(statement string) string {
	var b strings.Builder
	b.WriteString("아래 문항을 보고 JSON 객체만 반환해. ")
	b.WriteString("키는 subject_code, unit_code, point_value, source_category, source_type, ")
	b.WriteString("validation_status, confidence, reason 를 사용해. ")
	b.WriteString("subject_code는 " + strings.Join(SubjectCodes, "/") + " 중 하나 또는 null. ")
	b.WriteString("point_value는 2/3/4 또는 null. ")
	b.WriteString("source_category는 past_exam/linked_textbook/other 또는 null. ")
	b.WriteString("source_type은 csat/kice_mock/office_mock/ebs_linked/private_mock/workbook/school_exam/teacher_made/other 또는 null. ")
	b.WriteString("validation_status는 valid/needs_review/invalid 중 하나. ")
	b.WriteString("confidence는 0~100 숫자.\n\n")
	b.WriteString("문항:\n")
	b.WriteString(statement)
	return b.String()
}

// Normalize whitelists raw classifier fields. Unknown subjects and point
// values are dropped, an invalid category or type drops both, and an unknown
// validation status becomes needs_review.
func Normalize(raw map[string]any, provider, model string) Result {
	r := Result{
		ValidationStatus: StatusNeedsReview,
		Provider:         provider,
		Model:            model,
	}

	if s, ok := raw["subject_code"].(string); ok && IsSubjectCode(s) {
		r.SubjectCode = s
	}
	r.UnitCode = jsonx.String(raw["unit_code"])
	r.PointValue = NormalizePointValue(raw["point_value"])

	category, _ := raw["source_category"].(string)
	typ, _ := raw["source_type"].(string)
	if IsSourceCategory(category) && IsSourceType(typ) {
		r.SourceCategory, r.SourceType = category, typ
	}

	if s, ok := raw["validation_status"].(string); ok && isValidationStatus(s) {
		r.ValidationStatus = s
	}

	if f, ok := jsonx.Float(raw["confidence"]); ok && !math.IsNaN(f) {
		r.Confidence = math.Max(0, math.Min(100, f))
	}
	r.Reason = jsonx.String(raw["reason"])
	return r
}
