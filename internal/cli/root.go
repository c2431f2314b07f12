// Package cli implements the tracker command line: one-shot batch runs, the
// stream consumer, the event producer and the HTTP server.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tracker/internal/config"
	"github.com/JonMunkholm/tracker/internal/logging"
)

// RootOptions holds global flags and the configuration loaded from them.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Output     string // "text" | "json"

	// Config is populated by the root command before any subcommand runs.
	Config *config.Config
}

// ValidOutputs defines the allowed report formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Package-tracking event ingestion",
		Long: `Ingest package-tracking events into the packages and events store.

Events arrive either as a CSV batch extract or as JSON messages on a Kafka
topic. Both paths validate every record and write with insert-if-absent
semantics, so re-running an extract or re-delivering a message never
duplicates anything.

Configuration comes from environment variables (a .env file in the working
directory is loaded first), optionally overlaid on a YAML file named by
--config or TRACKER_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $TRACKER_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override LOG_FORMAT (text|json)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "report format (text|json)")

	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewProduceCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// init loads .env and the configuration, then sets up logging on stderr.
func (o *RootOptions) init(cmd *cobra.Command) error {
	if !slices.Contains(ValidOutputs, o.Output) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid output %q: must be one of %v", o.Output, ValidOutputs))
	}

	// Existing environment variables win over .env entries.
	envErr := godotenv.Load()

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	o.Config = cfg

	logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if envErr == nil {
		slog.Debug("loaded .env file")
	}
	slog.Debug("configuration loaded", "config", cfg.String())
	return nil
}
