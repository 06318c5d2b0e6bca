package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all recorded runs and matches",
	Long:  "Drops the results tables. They are recreated on the next command that uses the database.",
	Args:  cobra.NoArgs,
	Annotations: map[string]string{
		annotationDB: dbRequired,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !resetYes && !confirm(bufio.NewReader(cmd.InOrStdin()), out, "⚠️  Are you sure you want to DROP all database tables?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}

		fmt.Fprintln(out, "🗑️  Clearing Database...")
		if err := DB.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
		fmt.Fprintln(out, "✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
