package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JonMunkholm/tracker/internal/logging"
)

// StreamOptions tunes a StreamDriver.
type StreamOptions struct {
	// LoadTimeout bounds the single-record load of one message. Zero means no bound.
	LoadTimeout time.Duration

	// FetchRetryMax caps how long transport errors from Next are retried
	// before Run gives up. Zero retries forever.
	FetchRetryMax time.Duration

	// DeadLetter, when set, receives messages that were malformed, rejected
	// or failed to load, before their offset is committed.
	DeadLetter DeadLetterer
}

// StreamDriver consumes a subscription one message at a time.
//
// Messages are handled strictly sequentially and acknowledged only after
// their outcome is final. A rejected or failed message is logged (and dead
// lettered when configured) and the loop moves on.
type StreamDriver struct {
	sub       Subscriber
	single    Upserter
	validator *Validator
	opts      StreamOptions

	newBackOff func() backoff.BackOff
}

// NewStreamDriver creates a driver that reads from sub and loads each
// message through single.
func NewStreamDriver(sub Subscriber, single Upserter, opts StreamOptions) *StreamDriver {
	d := &StreamDriver{
		sub:       sub,
		single:    single,
		validator: NewValidator(),
		opts:      opts,
	}
	d.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = opts.FetchRetryMax
		return b
	}
	return d
}

// Run consumes until ctx is cancelled, returning nil in that case. It
// returns an error only when the subscription itself cannot be read.
func (d *StreamDriver) Run(ctx context.Context) error {
	logger := logging.WithFields(ctx, "mode", ModeStream)
	logger.Info("stream consumer started")
	defer logger.Info("stream consumer stopped")

	for {
		msg, err := d.next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream fetch: %w", err)
		}

		d.Handle(ctx, msg)

		// An interrupted load is left unacknowledged so it is redelivered.
		if ctx.Err() != nil {
			return nil
		}
		if err := d.sub.Ack(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("failed to commit offset", "ref", msg.Ref, "error", err)
		}
	}
}

// next fetches one delivery, retrying transport errors with exponential backoff.
func (d *StreamDriver) next(ctx context.Context) (Delivery, error) {
	var msg Delivery
	op := func() error {
		m, err := d.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		msg = m
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("stream fetch failed, retrying",
			"error", err,
			"retry_in", wait,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), ctx), notify)
	return msg, err
}

// Handle runs one delivery through validate, split and load. It never
// returns an error: every outcome is recorded in the report, logged and
// counted.
func (d *StreamDriver) Handle(ctx context.Context, msg Delivery) RunReport {
	start := time.Now()
	report := RunReport{
		RunID:  msg.Ref,
		Mode:   ModeStream,
		Source: msg.Ref,
		Phase:  PhaseFetched,
	}
	logger := logging.WithFields(ctx, "mode", ModeStream, "ref", msg.Ref)

	finish := func(phase Phase, err error) RunReport {
		report.Phase = phase
		report.Duration = time.Since(start)
		if err != nil {
			report.Error = err.Error()
		}
		unitsTotal.WithLabelValues(string(ModeStream), string(phase)).Inc()
		return report
	}

	recordsFetchedTotal.WithLabelValues(string(ModeStream)).Inc()
	report.Fetched = 1

	if msg.Err != nil {
		rerr := reject(msg.Ref, ErrMalformedPayload, "", nil)
		report.Rejections = []*RecordError{rerr}
		observeRejections(ModeStream, report.Rejections)
		logger.Warn("malformed message skipped", "error", msg.Err)
		d.deadLetter(ctx, logger, msg, fmt.Errorf("%w: %w", ErrMalformedPayload, msg.Err))
		return finish(PhaseRejected, rerr)
	}

	rec, rerr := d.validator.Validate(msg.Record)
	if rerr != nil {
		report.Rejections = []*RecordError{rerr}
		observeRejections(ModeStream, report.Rejections)
		logger.Warn("message rejected",
			"reason", rerr.Reason(),
			"field", rerr.Field,
			"value", rerr.Value,
		)
		d.deadLetter(ctx, logger, msg, rerr)
		return finish(PhaseRejected, rerr)
	}
	report.Accepted = 1

	rows := Split([]CanonicalRecord{rec})
	report.Packages = len(rows.Packages)
	report.Events = len(rows.Events)

	loadCtx := ctx
	if d.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, d.opts.LoadTimeout)
		defer cancel()
	}

	loadStart := time.Now()
	res, err := d.single.Upsert(loadCtx, rows)
	loadDuration.WithLabelValues(string(ModeStream)).Observe(time.Since(loadStart).Seconds())
	if err != nil {
		err = asLoadError(err)
		if ctx.Err() != nil {
			logger.Warn("load interrupted, message will be redelivered", "error", err)
			return finish(PhaseFailed, err)
		}
		logger.Error("message load failed, offset will advance",
			"package_id", rec.PackageID,
			"error", err,
		)
		d.deadLetter(ctx, logger, msg, err)
		return finish(PhaseFailed, err)
	}

	report.Load = res
	observeLoad(ModeStream, res)
	logger.Debug("message loaded",
		"package_id", rec.PackageID,
		"status", rec.Status,
		"package_inserted", res.PackagesInserted == 1,
		"event_inserted", res.EventsInserted == 1,
	)
	return finish(PhaseLoaded, nil)
}

func (d *StreamDriver) deadLetter(ctx context.Context, logger *slog.Logger, msg Delivery, cause error) {
	if d.opts.DeadLetter == nil {
		return
	}
	if err := d.opts.DeadLetter.DeadLetter(ctx, msg, cause); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("dead-letter publish failed", "error", err)
		return
	}
	deadLettersTotal.Inc()
}
