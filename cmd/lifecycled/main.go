// Package main is the entry point for lifecycled, a service host that starts
// its infrastructure components in order and shuts them down in reverse on
// SIGTERM or SIGINT.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/internal/config"
	"github.com/unklstewy/bigskies-lifecycle/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "lifecycled",
		Short:         "Run infrastructure components under a managed lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	return cmd
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to assemble components", zap.Error(err))
		return err
	}

	logger.Info("Starting lifecycled",
		zap.String("label", a.lifecycle.Label()),
		zap.String("run_id", a.lifecycle.ID()))

	if err := a.run(); err != nil {
		logger.Error("lifecycled exited with errors", zap.Error(err))
		return err
	}

	logger.Info("lifecycled stopped cleanly")
	return nil
}
