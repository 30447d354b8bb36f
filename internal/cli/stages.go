// internal/cli/stages.go
package refiner

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// stagesCmd implements 'stages', which prints the stage catalog with the base
// durations of the current pipeline settings.
var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List the pipeline stages and their base durations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			cfg := a.settings.Current()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSTAGE\tCOMPONENT\tBASE\tDESCRIPTION")
			for _, def := range a.orchestrator.Catalog() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", def.Index, def.Name, def.Component, def.BaseDuration(cfg), def.Description)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}
