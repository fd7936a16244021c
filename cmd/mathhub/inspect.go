package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/assets"
	"github.com/mathhub/mathhub/internal/bbox"
	"github.com/mathhub/mathhub/internal/layout"
	"github.com/mathhub/mathhub/internal/ocrjob"
	"github.com/mathhub/mathhub/internal/output"
)

var (
	payloadFile   string
	candidateBBox string
	declaredTypes []string
	selectHints   bool
	linesFile     string
	segmentHints  bool
)

type segmentedCandidate struct {
	layout.Candidate
	Hints []assets.Hint `json:"asset_hints,omitempty"`
}

var segmentCmd = &cobra.Command{
	Use:   "segment [text-file]",
	Short: "Split OCR page text into problem candidates",
	Long: `Split one OCR page into problem candidates.

The page text is read from the file argument or stdin. With --payload, the
raw Mathpix page (its layout tree) is segmented structurally when usable.

Examples:
  mathhub segment page.txt
  mathhub segment --payload page.json --hints page.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(firstArg(args))
		if err != nil {
			return err
		}
		payload, err := readJSONObject(payloadFile)
		if err != nil {
			return err
		}

		seg := layout.Default()
		nodes, size := layout.ParseNodes(payload)
		cands := seg.Segment(string(text), nodes, size)

		collector := assets.DefaultCollector()
		out := make([]segmentedCandidate, 0, len(cands))
		for _, c := range cands {
			item := segmentedCandidate{Candidate: c}
			if segmentHints {
				item.Hints = collector.Collect(c.StatementText, nodes, c.BBox, nil)
			}
			out = append(out, item)
		}
		logger.Debug("segmented page", "candidates", len(out), "nodes", len(nodes))
		return output.Write(out)
	},
}

var hintsCmd = &cobra.Command{
	Use:   "hints [statement-file]",
	Short: "Collect figure and table hints for one candidate",
	Long: `Collect asset hints for one problem statement.

Hints come from the statement keywords, the --types declared by a classifier,
and layout nodes of --payload overlapping --bbox. --select applies the
extraction limits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statement, err := readInput(firstArg(args))
		if err != nil {
			return err
		}
		payload, err := readJSONObject(payloadFile)
		if err != nil {
			return err
		}
		box, err := parseBBoxFlag(candidateBBox)
		if err != nil {
			return err
		}

		var meta *assets.CandidateMeta
		if len(declaredTypes) > 0 {
			meta = &assets.CandidateMeta{VisualAssetTypes: declaredTypes}
		}
		nodes, _ := layout.ParseNodes(payload)
		hints := assets.DefaultCollector().Collect(strings.TrimSpace(string(statement)), nodes, box, meta)
		if selectHints {
			hints = assets.Select(hints)
		}
		if hints == nil {
			hints = []assets.Hint{}
		}
		return output.Write(hints)
	},
}

type statusReport struct {
	Status   ocrjob.JobStatus `json:"status"`
	Progress float64          `json:"progress_pct"`
	Error    string           `json:"error,omitempty"`
	Terminal bool             `json:"terminal"`
	Pages    []ocrjob.Page    `json:"pages,omitempty"`
}

var statusMapCmd = &cobra.Command{
	Use:   "status-map [status-file]",
	Short: "Map a raw Mathpix status payload to a job status and pages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := firstArg(args)
		if path == "" {
			path = "-"
		}
		raw, err := readJSONObject(path)
		if err != nil {
			return err
		}
		lines, err := readJSONObject(linesFile)
		if err != nil {
			return err
		}

		status, progress, msg := ocrjob.MapStatus(raw)
		pages := ocrjob.ExtractPages(raw)
		if lines != nil {
			pages = ocrjob.MergePages(pages, ocrjob.ExtractLinePages(lines))
		}
		return output.Write(statusReport{
			Status:   status,
			Progress: bbox.Round6(progress),
			Error:    msg,
			Terminal: status.Terminal(),
			Pages:    pages,
		})
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	segmentCmd.Flags().StringVar(&payloadFile, "payload", "", "raw OCR page payload (JSON)")
	segmentCmd.Flags().BoolVar(&segmentHints, "hints", false, "collect asset hints per candidate")

	hintsCmd.Flags().StringVar(&payloadFile, "payload", "", "raw OCR page payload (JSON)")
	hintsCmd.Flags().StringVar(&candidateBBox, "bbox", "", "candidate bbox as JSON in the payload's space")
	hintsCmd.Flags().StringSliceVar(&declaredTypes, "types", nil, "asset types declared by a classifier")
	hintsCmd.Flags().BoolVar(&selectHints, "select", false, "apply the per-candidate extraction limits")

	statusMapCmd.Flags().StringVar(&linesFile, "lines", "", "lines.json payload to merge page text from")
}
