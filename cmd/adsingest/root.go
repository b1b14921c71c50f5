package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"adsingest/internal/app"
	"adsingest/pkg/config"
	"adsingest/pkg/logger"
	"adsingest/pkg/shutdown"
)

// newRootCommand builds the CLI. Running it without a subcommand serves.
func newRootCommand() *cobra.Command {
	root := newServeCommand()
	root.Use = "adsingest"
	root.Short = "Ad metrics ingestion service"
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var flags *config.Flags
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Accept ad metrics over HTTP and batch them into the durable log",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.Resolve(cmd.Flags())
			return serve(cmd.Context(), *flags)
		},
	}
	flags = config.RegisterFlags(cmd.Flags())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	v := version
	if commit != "none" {
		v += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		v += " @ " + buildDate
	}
	return v
}

func serve(parent context.Context, flags config.Flags) error {
	if parent == nil {
		parent = context.Background()
	}
	config.LoadDotEnv()

	eff, err := config.LoadEffective(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lc := eff.Config.Logging
	logger.InitWithOptions(logger.Options{
		Level:      lc.Level,
		Format:     lc.Format,
		FilePath:   lc.File.Path,
		MaxSizeMB:  lc.File.MaxSizeMB,
		MaxBackups: lc.File.MaxBackups,
		MaxAgeDays: lc.File.MaxAgeDays,
		Compress:   lc.File.Compress,
	})
	defer logger.Sync()

	a, err := app.New(eff, versionString())
	if err != nil {
		shutdown.Abort("failed to build server", err, "./crash", time.Second)
		return err
	}

	ctx, cancel := shutdown.SetupSignalHandler(parent)
	defer cancel()
	return a.Run(ctx)
}
