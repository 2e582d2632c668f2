package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-reconciliation-engine/internal/api"
)

// serveCmd exposes the service over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes ingestion, evaluation, the lifecycle actions, training and
rule management over HTTP until interrupted.

Examples:
  reconciler serve --addr :8080
  RECONCILER_STORE_PATH=/var/lib/reconciler.db reconciler serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	if !viper.GetBool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(a.service, a.logger)
	return api.Serve(ctx, a.settings.Server.Addr, router, a.logger)
}
