package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/LX-HMKK/SparkBox/pkg/config"
	"github.com/LX-HMKK/SparkBox/pkg/server"
	"github.com/LX-HMKK/SparkBox/pkg/station"
	"github.com/LX-HMKK/SparkBox/pkg/system"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SparkBox station",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the station configuration document")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	system.SetupLogging()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	cm := system.NewCleanupManager()
	defer cm.Cleanup(ctx)

	sup, err := station.New(cfg)
	if err != nil {
		return fmt.Errorf("serve: build station: %w", err)
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("serve: start station: %w", err)
	}

	srv := server.NewHTTPServer(cfg.Server.ListenAddr, server.New(sup, cfg.Server.StaticDir).Handler())

	// The station's own dispatch loop exits on /api/quit, a process signal,
	// or an unrecoverable camera failure; once it does, stop accepting
	// HTTP so ListenAndServe below returns and the deferred cleanup runs.
	go func() {
		sup.Wait()
		_ = srv.Shutdown(context.Background())
	}()
	cm.Add(func(context.Context) error {
		sup.Wait()
		return nil
	})

	log.Info().Str("addr", cfg.Server.ListenAddr).Msg("sparkbox station listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: http server: %w", err)
	}
	return nil
}
