package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/config"
	"github.com/mathhub/mathhub/internal/home"
	"github.com/mathhub/mathhub/internal/output"
	"github.com/mathhub/mathhub/version"
)

var (
	cfgFile      string
	homeDir      string
	envFile      string
	outputFormat string
	verbose      bool

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "mathhub",
	Short: "Exam and textbook PDF structuring pipeline",
	Long: `mathhub turns scanned exam papers and workbooks into structured,
classified problems with cropped figure assets.

The pipeline includes:
  - Mathpix PDF OCR with status polling and page merging
  - Gemini page scanning with retry and model fallback
  - Problem segmentation and figure/table hint collection
  - Crop extraction to S3-compatible storage and Postgres persistence`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.mathhub/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "mathhub home directory (default: ~/.mathhub)",
	)
	rootCmd.PersistentFlags().StringVar(
		&envFile, "env-file", "", "dotenv file to load (default: ./.env when present)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if _, err := output.ParseFormat(outputFormat); err != nil {
			return err
		}
		output.SetFormat(outputFormat)

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		// Logs go to stderr so stdout stays parseable
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		return loadEnv()
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(hintsCmd)
	rootCmd.AddCommand(statusMapCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(dbCmd)
}

// loadEnv loads the dotenv file before configuration is resolved. Values
// already in the environment win.
func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// loadConfig resolves the config file: --config, then the home directory,
// then the default search path.
func loadConfig() (*config.Config, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	mgr.SetLogger(logger)
	if used := mgr.ConfigFile(); used != "" {
		logger.Debug("loaded config", "file", used)
	}
	return mgr.Get(), h, nil
}
