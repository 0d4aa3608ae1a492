package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VladislavFirsov/reportflow/config"
	"github.com/VladislavFirsov/reportflow/internal/render"
	"github.com/VladislavFirsov/reportflow/internal/report"
)

var (
	previewWidth int
	previewSave  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the report and save it to report.path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		build, err := runBuild(ctx, cfg, report.Options{})
		if err != nil {
			return err
		}
		if build.Path != "" {
			fmt.Fprintln(cmd.OutOrStdout(), build.Path)
		}
		return build.Err()
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build the report and write a sanitised HTML copy next to it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		build, err := runBuild(ctx, cfg, report.Options{})
		if err != nil {
			return err
		}
		if err := build.Err(); err != nil {
			return err
		}
		path, err := report.Publish(build)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Build the report as Markdown and print it styled for the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !previewSave {
			cfg.Report.Path = ""
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		md := render.NewMarkdown()
		build, err := runBuild(ctx, cfg, report.Options{Renderer: md})
		if err != nil {
			return err
		}
		out, err := render.Preview(md.String(), previewWidth)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return build.Err()
	},
}

func init() {
	previewCmd.Flags().IntVar(&previewWidth, "width", 100, "word wrap width")
	previewCmd.Flags().BoolVar(&previewSave, "save", false, "also save the document to report.path")
}

// runBuild builds cfg and logs every non-optional failure.
func runBuild(ctx context.Context, cfg *config.Config, opts report.Options) (*report.Build, error) {
	opts.Logger = logger
	opts.Parallelism = parallelism
	builder, err := report.NewBuilder(cfg, opts)
	if err != nil {
		return nil, err
	}
	build, err := builder.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("build interrupted: %w", err)
		}
		return nil, err
	}
	for _, f := range build.Failures() {
		logger.Error("task failed", zap.Error(f))
	}
	return build, nil
}
