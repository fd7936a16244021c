package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/objstore"
	"github.com/mathhub/mathhub/internal/output"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/store"
	"github.com/mathhub/mathhub/internal/workflow"
)

var (
	runJobID          string
	runCurriculum     string
	runMinConfidence  float64
	runMaxProblems    int
	runMaxPages       int
	runTitle          string
	runSourceCategory string
	runSourceType     string
	runNoImages       bool
)

type runReport struct {
	JobID     string            `json:"job_id"`
	ErrorCode string            `json:"error_code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Summary   *workflow.Summary `json:"summary,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run [pdf-file]",
	Short: "Run the full OCR and problem extraction workflow",
	Long: `Upload a PDF, OCR it with Mathpix, scan its pages with Gemini and store
every accepted problem with its crop and figure assets.

With --job, an existing job in the database is run instead of uploading.
Failures after the job starts are recorded on the job with a WORKFLOW_* code.

Examples:
  mathhub run exam.pdf --title "2024 6월 모의고사" --source-category past_exam --source-type kice_mock
  mathhub run --job 3f9c... --min-confidence 60`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if runJobID == "" && len(args) == 0 {
			return fmt.Errorf("a PDF file or --job is required")
		}

		cfg, h, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(ctx, cfg, h)
		if err != nil {
			return err
		}
		defer svc.Close()

		opts := runOptions(cmd, cfg.Workflow)
		jobID := runJobID
		if jobID == "" {
			job, err := uploadJob(cmd, svc, args[0])
			if err != nil {
				return err
			}
			jobID = job.ID
		}

		summary, err := svc.runner().Run(ctx, jobID, opts)
		if err != nil {
			code := workflow.ErrorCode(err)
			if code == "" {
				return err
			}
			if werr := output.Write(runReport{JobID: jobID, ErrorCode: code, Error: err.Error()}); werr != nil {
				return werr
			}
			return err
		}
		return output.Write(runReport{JobID: jobID, Summary: &summary})
	},
}

// runOptions applies the flags the user set over the configured options.
func runOptions(cmd *cobra.Command, opts workflow.Options) workflow.Options {
	flags := cmd.Flags()
	if flags.Changed("curriculum") {
		opts.CurriculumCode = runCurriculum
	}
	if flags.Changed("min-confidence") {
		opts.MinConfidence = runMinConfidence
	}
	if flags.Changed("max-problems") {
		opts.MaxProblems = runMaxProblems
	}
	if flags.Changed("max-pages") {
		opts.MaxPages = runMaxPages
	}
	if flags.Changed("title") {
		opts.TextbookTitle = runTitle
	}
	if flags.Changed("source-category") {
		opts.SourceCategory = runSourceCategory
	}
	if flags.Changed("source-type") {
		opts.SourceType = runSourceType
	}
	if runNoImages {
		opts.SaveProblemImages = false
	}
	return opts
}

// uploadJob stores the PDF and creates a Mathpix job for it.
func uploadJob(cmd *cobra.Command, svc *services, path string) (store.Job, error) {
	ctx := cmd.Context()
	data, err := readInput(path)
	if err != nil {
		return store.Job{}, err
	}
	filename := filepath.Base(path)
	key := objstore.BuildObjectKey(filename, objstore.DefaultPrefix)
	if err := svc.objects.Put(ctx, key, data, "application/pdf"); err != nil {
		return store.Job{}, fmt.Errorf("failed to upload %s: %w", filename, err)
	}

	job, err := svc.store.CreateJob(ctx, store.Job{
		Provider:           providers.MathpixName,
		DocumentStorageKey: svc.objects.StorageKey(key),
		OriginalFilename:   filename,
	})
	if err != nil {
		return store.Job{}, err
	}
	logger.Info("created job", "job_id", job.ID, "storage_key", job.DocumentStorageKey)
	return job, nil
}

var previewCmd = &cobra.Command{
	Use:   "preview <job-id>",
	Short: "Show segmented candidates and stored assets of a job",
	Long: `Segment every stored OCR page of a job and list its problem candidates
with their asset hints and the assets already stored for them.

Requires a configured database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, h, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(ctx, cfg, h)
		if err != nil {
			return err
		}
		defer svc.Close()

		items, err := svc.runner().Preview(ctx, args[0])
		if err != nil {
			return err
		}
		if items == nil {
			items = []workflow.PreviewItem{}
		}
		return output.Write(items)
	},
}

func init() {
	initRunFlags(runCmd)
}

func initRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&runJobID, "job", "", "run an existing job instead of uploading a file")
	f.StringVar(&runCurriculum, "curriculum", "", "curriculum code (default: workflow.curriculum_code)")
	f.Float64Var(&runMinConfidence, "min-confidence", 0, "minimum scan confidence, 0-100")
	f.IntVar(&runMaxProblems, "max-problems", 0, "maximum candidates to process")
	f.IntVar(&runMaxPages, "max-pages", 0, "maximum pages to scan")
	f.StringVar(&runTitle, "title", "", "source title (default: the file name)")
	f.StringVar(&runSourceCategory, "source-category", "", "past_exam, linked_textbook or other")
	f.StringVar(&runSourceType, "source-type", "", "source type within the category")
	f.BoolVar(&runNoImages, "no-images", false, "do not upload problem crop images")
}
