package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoDefault is returned when a key has no default value.
var ErrNoDefault = errors.New("no default value")

// Entry is a single configuration key with its default value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default.
// Keys are the dotted viper paths, so MATHHUB_GEMINI_MODEL overrides
// "gemini.model".
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Mathpix
		// ===================
		{
			Key:         "mathpix.app_id",
			Value:       d.Mathpix.AppID,
			Description: "Mathpix application id (use ${ENV_VAR} syntax)",
		},
		{
			Key:         "mathpix.app_key",
			Value:       d.Mathpix.AppKey,
			Description: "Mathpix application key (use ${ENV_VAR} syntax)",
		},
		{
			Key:         "mathpix.base_url",
			Value:       d.Mathpix.BaseURL,
			Description: "Mathpix API base URL (empty for the public endpoint)",
		},

		// ===================
		// Gemini page scanner
		// ===================
		{
			Key:         "gemini.api_key",
			Value:       d.Gemini.APIKey,
			Description: "Gemini API key (use ${ENV_VAR} syntax)",
		},
		{
			Key:         "gemini.model",
			Value:       d.Gemini.Model,
			Description: "Primary vision model for page scanning",
		},
		{
			Key:         "gemini.fallback_model",
			Value:       d.Gemini.FallbackModel,
			Description: "Model tried after the primary model keeps failing",
		},
		{
			Key:         "gemini.rpm",
			Value:       d.Gemini.RequestsPerMinute,
			Description: "Client-side requests per minute (0 disables throttling)",
		},
		{
			Key:         "gemini.parallelism",
			Value:       d.Gemini.Parallelism,
			Description: "Pages scanned concurrently",
		},
		{
			Key:         "gemini.render_scale",
			Value:       d.Gemini.RenderScale,
			Description: "Page render scale sent to the model (1.0 = 72 DPI)",
		},
		{
			Key:         "gemini.temperature",
			Value:       d.Gemini.Temperature,
			Description: "Sampling temperature",
		},
		{
			Key:         "gemini.max_output_tokens",
			Value:       d.Gemini.MaxOutputTokens,
			Description: "Maximum output tokens per page",
		},
		{
			Key:         "gemini.thinking_budget",
			Value:       d.Gemini.ThinkingBudget,
			Description: "Thinking budget tokens (negative leaves it unset)",
		},
		{
			Key:         "gemini.attempts_per_model",
			Value:       d.Gemini.AttemptsPerModel,
			Description: "Attempts per model before falling back",
		},

		// ===================
		// Classifier
		// ===================
		{
			Key:         "openai.api_key",
			Value:       d.OpenAI.APIKey,
			Description: "OpenAI API key for problem classification",
		},
		{
			Key:         "openai.model",
			Value:       d.OpenAI.Model,
			Description: "Classification model (empty uses keyword heuristics only)",
		},
		{
			Key:         "openai.base_url",
			Value:       d.OpenAI.BaseURL,
			Description: "OpenAI-compatible base URL",
		},

		// ===================
		// Storage
		// ===================
		{
			Key:         "storage.endpoint",
			Value:       d.Storage.Endpoint,
			Description: "S3-compatible endpoint (empty for AWS)",
		},
		{
			Key:         "storage.region",
			Value:       d.Storage.Region,
			Description: "S3 region",
		},
		{
			Key:         "storage.bucket",
			Value:       d.Storage.Bucket,
			Description: "S3 bucket for source PDFs and problem crops",
		},
		{
			Key:         "storage.access_key_id",
			Value:       d.Storage.AccessKeyID,
			Description: "S3 access key id",
		},
		{
			Key:         "storage.secret_access_key",
			Value:       d.Storage.SecretAccessKey,
			Description: "S3 secret access key",
		},
		{
			Key:         "storage.local_root",
			Value:       d.Storage.LocalRoot,
			Description: "Directory used as the object store when no bucket is set",
		},

		// ===================
		// Database
		// ===================
		{
			Key:         "database.url",
			Value:       d.Database.URL,
			Description: "Postgres connection URL (empty uses an in-memory store)",
		},
		{
			Key:         "database.max_open_conns",
			Value:       d.Database.MaxOpenConns,
			Description: "Maximum open database connections",
		},
		{
			Key:         "database.max_idle_conns",
			Value:       d.Database.MaxIdleConns,
			Description: "Maximum idle database connections",
		},

		// ===================
		// OCR polling and rendering
		// ===================
		{
			Key:         "poller.max_polls",
			Value:       d.Poller.MaxPolls,
			Description: "Status polls before an OCR job times out",
		},
		{
			Key:         "poller.interval",
			Value:       d.Poller.Interval,
			Description: "Wait between status polls",
		},
		{
			Key:         "render.pdftoppm_path",
			Value:       d.Render.PdftoppmPath,
			Description: "pdftoppm executable used to render pages and crops",
		},

		// ===================
		// Workflow defaults
		// ===================
		{
			Key:         "workflow.curriculum_code",
			Value:       d.Workflow.CurriculumCode,
			Description: "Curriculum problems are filed under",
		},
		{
			Key:         "workflow.min_confidence",
			Value:       d.Workflow.MinConfidence,
			Description: "Minimum scan confidence (0-100) for a candidate to be stored",
		},
		{
			Key:         "workflow.max_problems",
			Value:       d.Workflow.MaxProblems,
			Description: "Maximum candidates processed per run",
		},
		{
			Key:         "workflow.max_pages",
			Value:       d.Workflow.MaxPages,
			Description: "Maximum pages scanned per run",
		},
		{
			Key:         "workflow.default_response_type",
			Value:       d.Workflow.DefaultResponseType,
			Description: "Response type when the scan gives no choices (five_choice or short_answer)",
		},
		{
			Key:         "workflow.default_answer_key",
			Value:       d.Workflow.DefaultAnswerKey,
			Description: "Answer key stored when none was found",
		},
		{
			Key:         "workflow.default_point_value",
			Value:       d.Workflow.DefaultPointValue,
			Description: "Point value stored when none was found",
		},
		{
			Key:         "workflow.save_problem_images",
			Value:       d.Workflow.SaveProblemImages,
			Description: "Upload a crop image for every stored problem",
		},
		{
			Key:         "workflow.textbook_title",
			Value:       d.Workflow.TextbookTitle,
			Description: "Source title (defaults to the uploaded filename)",
		},
		{
			Key:         "workflow.source_category",
			Value:       d.Workflow.SourceCategory,
			Description: "Source category: past_exam, linked_textbook or other",
		},
		{
			Key:         "workflow.source_type",
			Value:       d.Workflow.SourceType,
			Description: "Source type within the category",
		},
		{
			Key:         "workflow.callback_url",
			Value:       d.Workflow.CallbackURL,
			Description: "Optional Mathpix completion callback",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// LookupDefault returns the default entry for key or ErrNoDefault.
func LookupDefault(key string) (Entry, error) {
	def := GetDefault(key)
	if def == nil {
		return Entry{}, fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return *def, nil
}
