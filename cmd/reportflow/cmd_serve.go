package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/api"
	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/internal/replacements"
	"github.com/VladislavFirsov/reportflow/internal/report"
)

var (
	serveAddr     string
	auditDir      string
	workDir       string
	allowCommands bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Trigger the configured Jenkins job with expanded parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Jenkins == nil {
			return fmt.Errorf("pipeline: %w", config.ErrJenkinsInvalid)
		}
		trigger, err := report.NewHTTPTrigger(*cfg.Jenkins, nil, logger)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		location, err := report.TriggerPipeline(ctx, cfg, trigger, replacements.Default())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), location)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP build service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := api.NewServer(serveAddr, api.Options{
			Logger:        logger,
			AuditDir:      auditDir,
			WorkDir:       workDir,
			AllowCommands: allowCommands,
			Parallelism:   parallelism,
		})
		logger.Info("starting build service", zap.String("addr", serveAddr), zap.Bool("allow_commands", allowCommands))

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		done := make(chan struct{})
		go func() {
			defer close(done)
			<-ctx.Done()

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown error", zap.Error(err))
			}
		}()

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-done
			return fmt.Errorf("server: %w", err)
		}
		<-done
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveAddr, "addr", ":8080", "HTTP server address")
	flags.StringVar(&auditDir, "audit-dir", "", "write one JSON status file per finished build to this directory")
	flags.StringVar(&workDir, "workdir", ".", "directory submitted reports are read from and written to")
	flags.BoolVar(&allowCommands, "allow-commands", false, "accept configurations that run shell commands")
}
