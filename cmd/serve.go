package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the scoring API over HTTP",
		Long: `Starts the HTTP API. Callers open a session with POST /v1/sessions and
submit URLs with POST /v1/scan using the returned bearer token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.SetServerListenAddr(listen)
			}

			components, err := newComponentFactory().Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			srv := server.NewServer(cfg.Server(), components.Handlers, logger)
			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			logger.Info("Server stopped.", zap.String("addr", cfg.Server().ListenAddr))
			return nil
		},
	}

	serveCmd.Flags().StringVar(&listen, "listen", "", "Address to listen on, e.g. :8080. (Overrides config/env)")
	return serveCmd
}
