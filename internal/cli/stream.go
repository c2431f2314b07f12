package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/source"
	"github.com/JonMunkholm/tracker/internal/store"
)

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Consume tracking events from Kafka",
		Long: `Consume tracking events from the configured topic until interrupted.

Each message is validated and written on its own; its offset is committed
only once the outcome is final. Messages that are malformed, rejected or
fail to load are logged and skipped, and republished to
KAFKA_DEAD_LETTER_TOPIC when one is configured.

Set METRICS_ADDR to expose Prometheus metrics while consuming.

Example:
  KAFKA_BROKERS=localhost:9094 tracker stream`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, rootOpts)
		},
	}
}

func runStream(cmd *cobra.Command, opts *RootOptions) error {
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

	sub, err := source.NewKafkaSubscriber(source.SubscriberConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: cfg.Kafka.StartOffset,
		MaxWait:     cfg.Kafka.MaxWait,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kafka settings", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Warn("closing subscriber", "error", err)
		}
	}()

	streamOpts := core.StreamOptions{
		LoadTimeout:   cfg.Stream.LoadTimeout,
		FetchRetryMax: cfg.Stream.FetchRetryMax,
	}
	if topic := cfg.Kafka.DeadLetterTopic; topic != "" {
		pub, err := source.NewPublisher(cfg.Kafka.Brokers, topic)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid dead-letter settings", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				slog.Warn("closing dead-letter publisher", "error", err)
			}
		}()
		streamOpts.DeadLetter = pub
	}

	slog.Info("consuming",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.GroupID,
		"dead_letter_topic", cfg.Kafka.DeadLetterTopic,
		"engine", st.Engine(),
	)

	driver := core.NewStreamDriver(sub, store.Single(st), streamOpts)
	if err := driver.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "stream consumer stopped", err)
	}
	return nil
}
