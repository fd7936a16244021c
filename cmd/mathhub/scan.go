package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/output"
	"github.com/mathhub/mathhub/internal/pdfdoc"
	"github.com/mathhub/mathhub/internal/providers"
	"github.com/mathhub/mathhub/internal/scanner"
)

var scanMaxPages int

type scanReport struct {
	File           string         `json:"file"`
	Models         []string       `json:"models"`
	PageCount      int            `json:"page_count"`
	MatchedAnswers int            `json:"matched_answers"`
	Pages          []scanner.Page `json:"pages"`
}

var scanCmd = &cobra.Command{
	Use:   "scan <pdf-file>",
	Short: "Classify PDF pages and problems with the vision model",
	Long: `Render each page of a PDF and ask the Gemini vision model for its
problems, bounding boxes and answer candidates.

Transient failures are retried with backoff, then the fallback model is
tried. Answer keys found on answer pages are attached to their problems.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		poppler := pdfdoc.NewPoppler(cfg.Render.PdftoppmPath)
		if err := poppler.Available(); err != nil {
			return err
		}
		doc, err := pdfdoc.OpenFile(args[0], poppler)
		if err != nil {
			return err
		}
		defer doc.Close()

		maxPages := scanMaxPages
		if maxPages <= 0 {
			maxPages = cfg.Workflow.MaxPages
		}
		gemini := providers.NewGeminiClient(cfg.GeminiClientConfig(logger))
		sc := scanner.New(gemini, cfg.ScannerConfig(logger))

		logger.Info("scanning document", "file", args[0], "pages", doc.PageCount(), "max_pages", maxPages)
		pages, err := sc.ScanDocument(ctx, doc, maxPages)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		matched := scanner.AttachAnswerKeys(pages)

		return output.Write(scanReport{
			File:           args[0],
			Models:         sc.Models(),
			PageCount:      doc.PageCount(),
			MatchedAnswers: matched,
			Pages:          pages,
		})
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanMaxPages, "max-pages", 0, "maximum pages to scan (default: workflow.max_pages)")
}
