package cli

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/source"
	"github.com/JonMunkholm/tracker/internal/store"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Load one CSV extract",
		Long: `Load one CSV extract into the store in a single transaction.

Rows that fail validation are reported and skipped; the remaining rows are
written all-or-nothing. Re-running the same extract inserts nothing new.
An extract with no data rows is a successful no-op.

Exit status is 1 when the file cannot be read or the load is rolled back.

Example:
  tracker batch ./extracts/2025-10-12.csv
  tracker batch --output json ./extracts/2025-10-12.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, rootOpts, args[0])
		},
	}
}

func runBatch(cmd *cobra.Command, opts *RootOptions, path string) error {
	cfg := opts.Config
	ctx, stop := signalContext(cmd)
	defer stop()

	stopMetrics := startMetrics(cfg.Metrics.Addr)
	defer stopMetrics()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	driver := core.NewBatchDriver(store.Bulk(st), cfg.Batch.Timeout)
	report, runErr := driver.Run(ctx, source.NewFileSource(path, cfg.Batch.MaxFileSize))

	p := &Printer{Format: opts.Output, W: cmd.OutOrStdout()}
	if err := p.Report(report); err != nil {
		return WrapExitError(ExitFailure, "write report", err)
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "batch run failed", runErr)
	}
	return nil
}
