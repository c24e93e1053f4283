package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scieloorg/pidmanager/internal/pid"
)

var (
	buildISSN      string
	buildYearOrder string
	buildOrder     string
	generateCount  int
)

func init() {
	buildV2Cmd.Flags().StringVar(&buildISSN, "issn", "", "Journal ISSN")
	buildV2Cmd.Flags().StringVar(&buildYearOrder, "year-order", "", "Issue year followed by its order in the year (e.g. 20095)")
	buildV2Cmd.Flags().StringVar(&buildOrder, "order", "", "Order of the article in the issue")
	buildV2Cmd.MarkFlagRequired("issn")
	buildV2Cmd.MarkFlagRequired("year-order")
	buildV2Cmd.MarkFlagRequired("order")

	generateV3Cmd.Flags().IntVarP(&generateCount, "count", "n", 1, "Number of ids to generate")

	pidCmd.AddCommand(buildV2Cmd)
	pidCmd.AddCommand(generateV3Cmd)
	rootCmd.AddCommand(pidCmd)
}

var pidCmd = &cobra.Command{
	Use:   "pid",
	Short: "Build and generate identifiers without touching the registry",
}

// IDResponse is the response for pid commands.
type IDResponse struct {
	ShortID string   `json:"v2,omitempty"`
	LongIDs []string `json:"v3,omitempty"`
}

var buildV2Cmd = &cobra.Command{
	Use:   "build-v2",
	Short: "Build a short id from issue metadata",
	Long: `Build a short id from issue metadata.

Example:
  pidm pid build-v2 --issn 3456-0987 --year-order 20095 --order 54321
  # S3456-09872009000554321`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		shortID := pid.BuildShortID(buildISSN, buildYearOrder, buildOrder)
		if err := pid.ValidateShortID(shortID); err != nil {
			exitWithError(ExitDataError, "%v", err)
		}
		if humanOutput {
			outputHuman("%s\n", shortID)
			return nil
		}
		return outputJSON(IDResponse{ShortID: shortID})
	},
}

var generateV3Cmd = &cobra.Command{
	Use:   "generate-v3",
	Short: "Generate new long ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if generateCount < 1 {
			exitWithError(ExitError, "--count must be at least 1")
		}
		ids, err := generateLongIDs(pid.UUIDGenerator{}, generateCount)
		if err != nil {
			exitWithError(ExitError, "%v", err)
		}
		if humanOutput {
			for _, id := range ids {
				outputHuman("%s\n", id)
			}
			return nil
		}
		return outputJSON(IDResponse{LongIDs: ids})
	},
}

func generateLongIDs(gen pid.Generator, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := gen.Generate()
		if err != nil {
			return nil, fmt.Errorf("generating long id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
