package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tracker/internal/logging"
)

// BatchDriver runs one full extract through validate, split and load.
//
// A run is all-or-nothing at the storage layer: the bulk upserter is handed
// every accepted row in one call and either commits all of them or none.
type BatchDriver struct {
	validator *Validator
	bulk      Upserter
	timeout   time.Duration
}

// NewBatchDriver creates a driver that loads through bulk. A zero timeout
// means the run is bounded only by ctx.
func NewBatchDriver(bulk Upserter, timeout time.Duration) *BatchDriver {
	return &BatchDriver{
		validator: NewValidator(),
		bulk:      bulk,
		timeout:   timeout,
	}
}

// Run processes src once. The returned report is always populated, even on
// error. A source with no rows, or with no rows surviving validation, is a
// successful no-op (PhaseSkipped).
func (d *BatchDriver) Run(ctx context.Context, src RecordSource) (RunReport, error) {
	start := time.Now()
	report := RunReport{
		RunID:  uuid.New().String(),
		Mode:   ModeBatch,
		Source: src.Name(),
	}

	logger := logging.WithFields(ctx,
		"run_id", report.RunID,
		"mode", ModeBatch,
		"source", report.Source,
	)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	finish := func(phase Phase, err error) (RunReport, error) {
		report.Phase = phase
		report.Duration = time.Since(start)
		if err != nil {
			report.Error = err.Error()
		}
		unitsTotal.WithLabelValues(string(ModeBatch), string(phase)).Inc()
		return report, err
	}

	logger.Info("batch run started")

	raws, err := src.Records(ctx)
	if errors.Is(err, ErrEmptySource) {
		logger.Warn("source has no rows, nothing to load")
		return finish(PhaseSkipped, nil)
	}
	if err != nil {
		logger.Error("batch run failed reading source", "error", err)
		return finish(PhaseFailed, fmt.Errorf("read %s: %w", src.Name(), err))
	}
	report.Phase = PhaseFetched
	report.Fetched = len(raws)
	recordsFetchedTotal.WithLabelValues(string(ModeBatch)).Add(float64(len(raws)))

	accepted, rejected := d.validator.ValidateAll(raws)
	report.Phase = PhaseValidated
	report.Accepted = len(accepted)
	report.Rejections = rejected
	observeRejections(ModeBatch, rejected)
	for _, r := range rejected {
		logger.Warn("record rejected",
			"ref", r.Ref,
			"reason", r.Reason(),
			"field", r.Field,
			"value", r.Value,
		)
	}

	if len(accepted) == 0 {
		logger.Warn("no records survived validation, skipping load",
			"fetched", report.Fetched,
			"rejected", len(rejected),
		)
		return finish(PhaseSkipped, nil)
	}

	rows := Split(accepted)
	report.Phase = PhaseSplit
	report.Packages = len(rows.Packages)
	report.Events = len(rows.Events)

	loadStart := time.Now()
	res, err := d.bulk.Upsert(ctx, rows)
	loadDuration.WithLabelValues(string(ModeBatch)).Observe(time.Since(loadStart).Seconds())
	if err != nil {
		err = asLoadError(err)
		logger.Error("batch load rolled back",
			"packages", report.Packages,
			"events", report.Events,
			"error", err,
		)
		return finish(PhaseFailed, fmt.Errorf("load %s: %w", src.Name(), err))
	}

	report.Load = res
	observeLoad(ModeBatch, res)

	logger.Info("batch run completed",
		"fetched", report.Fetched,
		"accepted", report.Accepted,
		"rejected", len(rejected),
		"packages_inserted", res.PackagesInserted,
		"packages_skipped", res.PackagesSkipped,
		"events_inserted", res.EventsInserted,
		"events_skipped", res.EventsSkipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return finish(PhaseLoaded, nil)
}

// asLoadError makes sure a load failure unwraps to one of the load-level
// sentinels. Errors the store already classified pass through unchanged.
func asLoadError(err error) error {
	switch {
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrTransactionFailed),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
}
