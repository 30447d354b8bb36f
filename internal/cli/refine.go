// internal/cli/refine.go
package refiner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwiater/refiner/internal/events"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/run"
	"github.com/mwiater/refiner/internal/tui"
)

var (
	stageRunning   = color.New(color.FgCyan).SprintFunc()
	stageCompleted = color.New(color.FgGreen).SprintFunc()
	stageFailed    = color.New(color.FgRed).SprintFunc()
	sectionTitle   = color.New(color.Bold).SprintFunc()
)

var (
	refineTUI  bool
	refineJSON bool
)

// refineCmd implements 'refine', which runs a prompt through every pipeline stage.
var refineCmd = &cobra.Command{
	Use:   "refine <prompt>",
	Short: "Run a prompt through the refinement pipeline",
	Long: `The 'refine' command runs the prompt through the six pipeline stages with the
saved pipeline settings, printing each stage transition, the refined prompt, the
primary model output and the run metrics.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		return withApp(func(a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, a.cfg.RunTimeout())
			defer cancel()

			jsonOut := refineJSON || JSONModeEnabled()
			if refineTUI && !jsonOut {
				_, err := tui.Run(ctx, a.orchestrator, prompt, a.settings.Current(), tui.Options{
					Output:      cmd.OutOrStdout(),
					EventBuffer: a.cfg.EventBufferSize(),
				})
				return err
			}
			return runPlain(ctx, cmd.OutOrStdout(), a, prompt, jsonOut)
		})
	},
}

func runPlain(ctx context.Context, out io.Writer, a *app, prompt string, jsonOut bool) error {
	sub := a.orchestrator.Bus().Subscribe(a.cfg.EventBufferSize())
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sub.C {
			if !jsonOut {
				printEvent(out, e)
			}
		}
	}()

	res, err := a.orchestrator.Execute(ctx, prompt, a.settings.Current())
	sub.Close()
	<-printed

	if jsonOut {
		if res != nil {
			if encErr := writeJSON(out, res); encErr != nil {
				return encErr
			}
		}
		return err
	}
	if res != nil && res.Metrics != nil {
		printResult(out, res)
	}
	return err
}

func printEvent(out io.Writer, e events.Event) {
	switch e.Kind {
	case events.KindRun:
		switch e.Outcome {
		case run.OutcomeRunning:
			fmt.Fprintf(out, "%s run %s\n", stageRunning("▶"), e.RunID)
		case run.OutcomeCompleted:
			fmt.Fprintf(out, "%s run completed\n", stageCompleted("■"))
		case run.OutcomeFailed:
			fmt.Fprintf(out, "%s run failed: %s\n", stageFailed("■"), e.Error)
		}
	case events.KindStage:
		label := fmt.Sprintf("[%d] %-22s", e.StageIndex, e.StageName)
		switch e.Status {
		case run.StatusProcessing:
			fmt.Fprintf(out, "  %s %s\n", stageRunning("…"), label)
		case run.StatusCompleted:
			took := ""
			if e.Duration != nil {
				took = e.Duration.Round(time.Millisecond).String()
			}
			fmt.Fprintf(out, "  %s %s %s\n", stageCompleted("✓"), label, took)
		case run.StatusFailed:
			fmt.Fprintf(out, "  %s %s %s\n", stageFailed("✗"), label, e.Error)
		}
	}
}

func printResult(out io.Writer, res *pipeline.Result) {
	r := res.Run
	if r.EnhancedText != nil {
		fmt.Fprintf(out, "\n%s (%d tokens)\n%s\n", sectionTitle("Enhanced prompt"), r.TokenCount, *r.EnhancedText)
	}
	if r.OutputText != nil {
		fmt.Fprintf(out, "\n%s\n%s\n", sectionTitle("Output"), *r.OutputText)
	}
	m := res.Metrics
	fmt.Fprintf(out, "\n%s\n", sectionTitle("Metrics"))
	fmt.Fprintf(out, "  Total processing time: %s\n", m.TotalProcessingTime.Round(time.Millisecond))
	fmt.Fprintf(out, "  Memory usage:          %.1f MB\n", m.MemoryUsageMB)
	fmt.Fprintf(out, "  Latency reduction:     %.1fx\n", m.LatencyReductionFactor)
	fmt.Fprintf(out, "  Accuracy improvement:  %.1f%%\n", m.AccuracyImprovementPct)
	fmt.Fprintf(out, "  Energy efficiency:     %.1fx\n", m.EnergyEfficiencyFactor)
	fmt.Fprintf(out, "  Token reduction:       %.1f%%\n", m.TokenReductionPct)
	fmt.Fprintf(out, "  Privacy score:         %.1f%%\n", m.PrivacyScorePct)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	refineCmd.Flags().BoolVar(&refineTUI, "tui", false, "show live progress in an interactive view")
	refineCmd.Flags().BoolVar(&refineJSON, "json", false, "print the run and its metrics as JSON")
	rootCmd.AddCommand(refineCmd)
}
