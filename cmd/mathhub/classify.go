package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mathhub/mathhub/internal/classify"
	"github.com/mathhub/mathhub/internal/output"
	"github.com/mathhub/mathhub/internal/providers"
)

var heuristicOnly bool

var classifyCmd = &cobra.Command{
	Use:   "classify [statement-file]",
	Short: "Classify a problem statement by subject and source",
	Long: `Classify one problem statement. The statement is read from the file
argument or stdin.

The configured OpenAI model is asked first. Transport errors, unparseable
output and schema violations fall back to keyword heuristics, so this
command always prints a result.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statement, err := readInput(firstArg(args))
		if err != nil {
			return err
		}
		text := strings.TrimSpace(string(statement))

		if heuristicOnly {
			return output.Write(classify.Heuristic(text, ""))
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		client := providers.NewOpenAIClient(cfg.OpenAIClientConfig())
		c := classify.New(client, client.Model(), logger)
		return output.Write(c.Classify(cmd.Context(), text))
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&heuristicOnly, "heuristic", false, "skip the model and use keyword heuristics")
}
