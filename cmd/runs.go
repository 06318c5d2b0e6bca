package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/facescan/internal/matcher"
	"github.com/andresmejia3/facescan/internal/store"
	"github.com/andresmejia3/facescan/internal/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runsVideoID string
	runsRunID   string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded scan runs",
	Args:  cobra.NoArgs,
	Annotations: map[string]string{
		annotationDB: dbRequired,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsRunID != "" {
			return showRunMatches(cmd, runsRunID)
		}
		runs, err := DB.ListRuns(cmd.Context(), runsVideoID)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsVideoID, "video-id", "", "Only show runs of this video")
	runsCmd.Flags().StringVar(&runsRunID, "run", "", "Print the recorded matches of one run as JSON")
	rootCmd.AddCommand(runsCmd)
}

// showRunMatches prints a stored run in the process-video output format.
func showRunMatches(cmd *cobra.Command, id string) error {
	runID, err := uuid.Parse(id)
	if err != nil {
		return &usageError{err: fmt.Errorf("--run: %w", err)}
	}
	matches, err := DB.GetRunMatches(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	for i := range matches {
		matches[i].TimestampFormatted = matcher.FormatTimestamp(matches[i].Timestamp)
		matches[i].Frame = matcher.FrameLabel(matches[i].FrameIndex)
	}
	if matches == nil {
		matches = []types.MatchEvent{}
	}
	return writeJSON(cmd.OutOrStdout(), resultsResponse{Success: true, Results: matches})
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tVIDEO\tSTATUS\tSTARTED\tSAMPLED\tMATCHES\tPATH")
	fmt.Fprintln(w, "---\t-----\t------\t-------\t-------\t-------\t----")

	for _, r := range runs {
		status := r.Status
		if r.Error != "" {
			status += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID.String()[:8], shortID(r.VideoID), status,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.SampledFrames, r.MatchCount, r.VideoPath)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
