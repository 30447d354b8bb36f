// internal/cli/history.go
package refiner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/util"
)

var (
	historyClear  bool
	historyOutput string
)

// historyCmd implements 'history', which lists completed runs newest first.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed refinement runs",
	Long: `The 'history' command lists completed runs, newest first. History persists
between invocations only when historyPath names a SQLite database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			ctx := cmd.Context()
			if historyClear {
				if err := a.history.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
				return nil
			}

			entries, err := a.history.All(ctx)
			if err != nil {
				return err
			}
			if JSONModeEnabled() {
				if entries == nil {
					entries = []history.Entry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		})
	},
}

// historyExportCmd writes one recorded run as JSON.
var historyExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export one recorded run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			e, err := history.Find(cmd.Context(), a.history, args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no recorded run with id %q", args[0])
			}
			if err != nil {
				return err
			}
			if historyOutput == "" {
				return writeJSON(cmd.OutOrStdout(), e)
			}
			var buf bytes.Buffer
			if err := writeJSON(&buf, e); err != nil {
				return err
			}
			if err := util.WriteFile(historyOutput, buf.Bytes()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported run %s to %s\n", e.Run.ID, historyOutput)
			return nil
		})
	},
}

func printHistory(out io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(out, "%d. %s  %s  %s  %.1f MB\n",
			i+1,
			e.RecordedAt.Local().Format(time.DateTime),
			e.Run.ID,
			e.Metrics.TotalProcessingTime.Round(time.Millisecond),
			e.Metrics.MemoryUsageMB,
		)
		fmt.Fprintf(out, "   prompt: %s\n", util.TruncateRunes(util.SingleLine(e.Run.Prompt), 72))
		if len(e.Run.Optimizations) > 0 {
			fmt.Fprintf(out, "   optimizations: %v\n", e.Run.Optimizations)
		}
	}
}

func init() {
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "remove every recorded run")
	historyExportCmd.Flags().StringVarP(&historyOutput, "output", "o", "", "write the export to this file instead of stdout")
	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}
