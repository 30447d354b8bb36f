// internal/cli/serve.go
package refiner

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mwiater/refiner/internal/server"
)

// serveCmd implements 'serve', which exposes the pipeline over HTTP until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the refinement API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			srv, err := server.New(a.orchestrator, a.settings,
				server.WithRunTimeout(a.cfg.RunTimeout()),
				server.WithEventBuffer(a.cfg.EventBufferSize()),
			)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = srv.ListenAndServe(ctx, a.cfg.ListenAddr())
			if ferr := a.settings.Flush(); ferr != nil && err == nil {
				err = ferr
			}
			return err
		})
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default :8080)")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}
