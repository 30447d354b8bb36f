// internal/cli/config.go
package refiner

import (
	"fmt"
	"io"
	"time"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/mwiater/refiner/internal/appconfig"
	"github.com/mwiater/refiner/internal/settings"
	"github.com/mwiater/refiner/internal/util"
)

var (
	exportFormat string
	exportOutput string
)

// configCmd groups the commands that display and edit configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and edit the application and pipeline configuration",
}

// configShowCmd prints the application configuration and the pipeline settings.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON configs are loaded properly and overridden by flags accordingly.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return fmt.Errorf("configuration is not initialized")
		}
		return withApp(func(a *app) error {
			out := cmd.OutOrStdout()
			current := a.settings.Current()
			if JSONModeEnabled() {
				return writeJSON(out, current)
			}
			appconfig.ShowConfig(out, cfg.ConfigPath, *cfg)
			fmt.Fprintln(out)
			printSettings(out, current)
			if DebugEnabled() {
				fmt.Fprintln(out)
				_, _ = pp.Fprintln(out, current)
			}
			return nil
		})
	},
}

// configSetCmd assigns one pipeline setting.
var configSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set one pipeline setting",
	Long: fmt.Sprintf(`Set one pipeline setting and save it. Fields: %v.
Chunk sizes outside [%d, %d] are clamped and snapped to a multiple of %d.`,
		settings.Fields(), settings.MinChunkSize, settings.MaxChunkSize, settings.ChunkSizeStep),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			cfg, err := a.settings.Set(args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.settings.Flush(); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			printSettings(cmd.OutOrStdout(), cfg)
			return nil
		})
	},
}

// configResetCmd restores the default pipeline settings.
var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default pipeline settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			cfg := a.settings.Reset()
			if err := a.settings.LastError(); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			printSettings(cmd.OutOrStdout(), cfg)
			return nil
		})
	},
}

// configExportCmd writes the pipeline settings and technique catalogue.
var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the pipeline settings as YAML or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			data, err := settings.ExportDocument(a.settings.Current(), exportFormat, time.Now())
			if err != nil {
				return err
			}
			if exportOutput == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := util.WriteFile(exportOutput, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported settings to %s\n", exportOutput)
			return nil
		})
	},
}

func printSettings(out io.Writer, cfg settings.Configuration) {
	fmt.Fprintln(out, "Pipeline settings:")
	fmt.Fprintf(out, "  Primary Model:     %s (%s)\n", cfg.PrimaryModel, cfg.PrimaryModel.Description())
	fmt.Fprintf(out, "  Secondary Model:   %s (%s)\n", cfg.SecondaryModel, cfg.SecondaryModel.Description())
	fmt.Fprintf(out, "  Optimization:      %s (%s)\n", cfg.OptimizationLevel, cfg.OptimizationLevel.Description())
	fmt.Fprintf(out, "  Chunk Size:        %d\n", cfg.ChunkSize)
	fmt.Fprintf(out, "  Use Accelerator:   %v\n", cfg.UseAccelerator)
	fmt.Fprintf(out, "  Privacy Mode:      %v\n", cfg.PrivacyMode)
	fmt.Fprintf(out, "  Quantization:      %s (%s)\n", cfg.Quantization, cfg.Quantization.Description())
}

func init() {
	configExportCmd.Flags().StringVar(&exportFormat, "format", "yaml", "export format: yaml or json")
	configExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the export to this file instead of stdout")

	configCmd.AddCommand(configShowCmd, configSetCmd, configResetCmd, configExportCmd)
	rootCmd.AddCommand(configCmd)
}
