package config

import (
	"log/slog"
	"time"

	"github.com/mathhub/mathhub/internal/objstore"
	"github.com/mathhub/mathhub/internal/ocrjob"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/scanner"
	"github.com/mathhub/mathhub/internal/store"
	"github.com/mathhub/mathhub/internal/workflow"
)

// Config is the root configuration structure.
type Config struct {
	Mathpix  MathpixConfig    `mapstructure:"mathpix" yaml:"mathpix"`
	Gemini   GeminiConfig     `mapstructure:"gemini" yaml:"gemini"`
	OpenAI   OpenAIConfig     `mapstructure:"openai" yaml:"openai"`
	Storage  StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Database DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Poller   PollerConfig     `mapstructure:"poller" yaml:"poller"`
	Render   RenderConfig     `mapstructure:"render" yaml:"render"`
	Workflow workflow.Options `mapstructure:"workflow" yaml:"workflow"`
}

// MathpixConfig holds the Mathpix credentials.
type MathpixConfig struct {
	AppID   string `mapstructure:"app_id" yaml:"app_id"`
	AppKey  string `mapstructure:"app_key" yaml:"app_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// GeminiConfig configures the page scanner and its vision model.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	Model             string  `mapstructure:"model" yaml:"model"`
	FallbackModel     string  `mapstructure:"fallback_model" yaml:"fallback_model"`
	RequestsPerMinute int     `mapstructure:"rpm" yaml:"rpm"`
	Parallelism       int     `mapstructure:"parallelism" yaml:"parallelism"`
	RenderScale       float64 `mapstructure:"render_scale" yaml:"render_scale"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	// ThinkingBudget below zero leaves it unset.
	ThinkingBudget   int  `mapstructure:"thinking_budget" yaml:"thinking_budget"`
	AttemptsPerModel uint `mapstructure:"attempts_per_model" yaml:"attempts_per_model"`
}

// OpenAIConfig configures the classification model.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// StorageConfig selects the object store. An empty Bucket with a
// LocalRoot stores objects on disk.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	LocalRoot       string `mapstructure:"local_root" yaml:"local_root"`
}

// DatabaseConfig configures the Postgres store. An empty URL uses the
// in-memory store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// PollerConfig bounds the OCR status poll loop.
type PollerConfig struct {
	MaxPolls int           `mapstructure:"max_polls" yaml:"max_polls"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// RenderConfig locates the page rasterizer.
type RenderConfig struct {
	PdftoppmPath string `mapstructure:"pdftoppm_path" yaml:"pdftoppm_path"`
}

// DefaultConfig returns the default configuration. Secrets reference
// environment variables and are expanded when read.
func DefaultConfig() *Config {
	return &Config{
		Mathpix: MathpixConfig{
			AppID:  "${MATHPIX_APP_ID}",
			AppKey: "${MATHPIX_APP_KEY}",
		},
		Gemini: GeminiConfig{
			APIKey:           "${GEMINI_API_KEY}",
			Model:            providers.GeminiDefaultModel,
			FallbackModel:    providers.GeminiFallbackModel,
			Parallelism:      scanner.DefaultParallelism,
			RenderScale:      scanner.DefaultRenderScale,
			Temperature:      scanner.DefaultTemperature,
			MaxOutputTokens:  scanner.DefaultMaxOutputTokens,
			ThinkingBudget:   -1,
			AttemptsPerModel: scanner.DefaultAttemptsPerModel,
		},
		OpenAI: OpenAIConfig{
			APIKey: "${OPENAI_API_KEY}",
			Model:  "",
		},
		Storage: StorageConfig{
			Region:          "us-east-1",
			AccessKeyID:     "${AWS_ACCESS_KEY_ID}",
			SecretAccessKey: "${AWS_SECRET_ACCESS_KEY}",
		},
		Database: DatabaseConfig{
			URL:          "${DATABASE_URL}",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Poller: PollerConfig{
			MaxPolls: ocrjob.DefaultMaxPolls,
			Interval: ocrjob.DefaultPollInterval,
		},
		Render: RenderConfig{
			PdftoppmPath: "pdftoppm",
		},
		Workflow: workflow.DefaultOptions(),
	}
}

// MathpixClientConfig returns the Mathpix client settings with secrets resolved.
func (c *Config) MathpixClientConfig(logger *slog.Logger) providers.MathpixConfig {
	return providers.MathpixConfig{
		AppID:   ResolveEnvVars(c.Mathpix.AppID),
		AppKey:  ResolveEnvVars(c.Mathpix.AppKey),
		BaseURL: c.Mathpix.BaseURL,
		Logger:  logger,
	}
}

// GeminiClientConfig returns the Gemini client settings with secrets resolved.
func (c *Config) GeminiClientConfig(logger *slog.Logger) providers.GeminiConfig {
	return providers.GeminiConfig{
		APIKey:            ResolveEnvVars(c.Gemini.APIKey),
		RequestsPerMinute: c.Gemini.RequestsPerMinute,
		Logger:            logger,
	}
}

// ScannerConfig returns the page scanner settings.
func (c *Config) ScannerConfig(logger *slog.Logger) scanner.Config {
	cfg := scanner.Config{
		Model:            c.Gemini.Model,
		FallbackModel:    c.Gemini.FallbackModel,
		Parallelism:      c.Gemini.Parallelism,
		RenderScale:      c.Gemini.RenderScale,
		Temperature:      c.Gemini.Temperature,
		MaxOutputTokens:  c.Gemini.MaxOutputTokens,
		AttemptsPerModel: c.Gemini.AttemptsPerModel,
		Logger:           logger,
	}
	if c.Gemini.ThinkingBudget >= 0 {
		budget := c.Gemini.ThinkingBudget
		cfg.ThinkingBudget = &budget
	}
	return cfg
}

// OpenAIClientConfig returns the classification client settings.
func (c *Config) OpenAIClientConfig() providers.OpenAIConfig {
	return providers.OpenAIConfig{
		APIKey:  ResolveEnvVars(c.OpenAI.APIKey),
		Model:   c.OpenAI.Model,
		BaseURL: c.OpenAI.BaseURL,
	}
}

// S3Config returns the S3 settings with secrets resolved.
func (c *Config) S3Config(logger *slog.Logger) objstore.S3Config {
	return objstore.S3Config{
		Endpoint:        ResolveEnvVars(c.Storage.Endpoint),
		Region:          c.Storage.Region,
		Bucket:          c.Storage.Bucket,
		AccessKeyID:     ResolveEnvVars(c.Storage.AccessKeyID),
		SecretAccessKey: ResolveEnvVars(c.Storage.SecretAccessKey),
		Logger:          logger,
	}
}

// PostgresConfig returns the database settings with the URL resolved.
func (c *Config) PostgresConfig(logger *slog.Logger) store.PostgresConfig {
	return store.PostgresConfig{
		URL:          ResolveEnvVars(c.Database.URL),
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
		Logger:       logger,
	}
}

// PollerSettings returns the poll loop settings.
func (c *Config) PollerSettings(logger *slog.Logger) ocrjob.PollerConfig {
	return ocrjob.PollerConfig{
		MaxPolls: c.Poller.MaxPolls,
		Interval: c.Poller.Interval,
		Logger:   logger,
	}
}
