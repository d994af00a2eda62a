package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"equipguard/internal/config"
	"equipguard/internal/logging"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "equipguard:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "equipguard",
		Short:         "Predictive maintenance for industrial machines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML or JSON config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override log format (json, text)")

	root.AddCommand(
		newGenerateCommand(opts),
		newAnalyzeCommand(opts),
		newTrainCommand(opts),
		newServeCommand(opts),
		newPredictCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// load resolves the config file and builds the logger it asks for.
func (o *rootOptions) load() (*config.Manager, *slog.Logger, error) {
	mgr, err := config.NewManager(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	level, format := cfg.LogLevel, cfg.LogFormat
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	logger := logging.New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return mgr, logger, nil
}
