package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/source"
)

// ProduceOptions holds flags for the produce command.
type ProduceOptions struct {
	*RootOptions
	Topic string
}

// ProduceSummary is what the produce command reports.
type ProduceSummary struct {
	Source    string `json:"source"`
	Topic     string `json:"topic"`
	Fetched   int    `json:"fetched"`
	Published int    `json:"published"`
	Rejected  int    `json:"rejected"`
}

// NewProduceCommand creates the produce command.
func NewProduceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProduceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "produce <file>",
		Short: "Publish a CSV extract to the tracking topic",
		Long: `Publish every valid row of a CSV extract as one JSON message.

Messages are keyed by package id so all events for a package land on the
same partition. Invalid rows are logged and skipped.

Example:
  tracker produce ./extracts/2025-10-12.csv
  tracker produce --topic eventos_rastreamento_replay ./extracts/2025-10-12.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduce(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "destination topic (default $KAFKA_TOPIC)")

	return cmd
}

func runProduce(cmd *cobra.Command, opts *ProduceOptions, path string) error {
	cfg := opts.Config
	ctx, stop := signalContext(cmd)
	defer stop()

	topic := opts.Topic
	if topic == "" {
		topic = cfg.Kafka.Topic
	}

	src := source.NewFileSource(path, cfg.Batch.MaxFileSize)
	raws, err := src.Records(ctx)
	if err != nil && !errors.Is(err, core.ErrEmptySource) {
		return WrapExitError(ExitFailure, fmt.Sprintf("read %s", src.Name()), err)
	}

	accepted, rejected := core.NewValidator().ValidateAll(raws)
	for _, r := range rejected {
		slog.Warn("record not published",
			"ref", r.Ref,
			"reason", r.Reason(),
			"field", r.Field,
			"value", r.Value,
		)
	}

	summary := ProduceSummary{
		Source:   src.Name(),
		Topic:    topic,
		Fetched:  len(raws),
		Rejected: len(rejected),
	}

	if len(accepted) > 0 {
		pub, err := source.NewPublisher(cfg.Kafka.Brokers, topic)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid kafka settings", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				slog.Warn("closing publisher", "error", err)
			}
		}()

		if err := pub.Publish(ctx, accepted); err != nil {
			return WrapExitError(ExitFailure, "publish failed", err)
		}
		summary.Published = len(accepted)
	}

	slog.Info("extract published",
		"source", summary.Source,
		"topic", summary.Topic,
		"published", summary.Published,
		"rejected", summary.Rejected,
	)

	p := &Printer{Format: opts.Output, W: cmd.OutOrStdout()}
	if opts.Output == "json" {
		return p.JSON(summary)
	}
	_, err = fmt.Fprintf(p.W, "published %d of %d records from %s to %s (%d rejected)\n",
		summary.Published, summary.Fetched, summary.Source, summary.Topic, summary.Rejected)
	return err
}
