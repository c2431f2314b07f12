// Package store persists the packages dimension and the events log.
//
// Two engines implement the same contract: Postgres (or TimescaleDB) through
// pgx, and an embedded SQLite file for single-node use and tests. Each offers
// a bulk strategy that stages rows and moves them in one transaction, and a
// single-record strategy for one package row plus one event row. Both skip
// rows whose key already exists, so re-submitting rows has no further effect.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JonMunkholm/tracker/internal/config"
	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/logging"
)

// ErrPackageNotFound is returned by PackageHistory for an unknown id.
var ErrPackageNotFound = errors.New("package not found")

// StatusCount is one bucket of the current-status distribution.
type StatusCount struct {
	Status   string `json:"status"`
	Packages int64  `json:"packages"`
}

// Totals counts stored rows.
type Totals struct {
	Packages int64 `json:"packages"`
	Events   int64 `json:"events"`
}

// History is one package with its events in timestamp order.
type History struct {
	Package core.PackageRow `json:"package"`
	Events  []core.EventRow `json:"events"`
}

// Reports are the read-only queries served to dashboards.
type Reports interface {
	// StatusDistribution counts packages by the status of their latest event.
	StatusDistribution(ctx context.Context) ([]StatusCount, error)
	// MeanDeliveryDuration averages, over delivered packages, the time from
	// the first event to the delivery event. ok is false when no package
	// has been delivered.
	MeanDeliveryDuration(ctx context.Context) (d time.Duration, ok bool, err error)
	Totals(ctx context.Context) (Totals, error)
	PackageHistory(ctx context.Context, id int64) (History, error)
}

// Store is a storage engine.
type Store interface {
	Reports

	// UpsertBulk stages every row and moves both sets into permanent
	// storage inside one transaction.
	UpsertBulk(ctx context.Context, rows core.RowSet) (core.LoadResult, error)
	// UpsertOne writes exactly one package row and one event row in one
	// transaction. Other shapes return core.ErrRowSetShape.
	UpsertOne(ctx context.Context, rows core.RowSet) (core.LoadResult, error)

	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Engine() string
	Close()
}

// Bulk adapts the store's bulk strategy to core.Upserter.
func Bulk(s Store) core.Upserter {
	return core.UpsertFunc(s.UpsertBulk)
}

// Single adapts the store's single-record strategy to core.Upserter.
func Single(s Store) core.Upserter {
	return core.UpsertFunc(s.UpsertOne)
}

// Open connects to the engine named by cfg.URL, waits for it to answer a
// ping, and creates the schema when cfg.EnsureSchema is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	if err := cfg.Require(); err != nil {
		return nil, err
	}

	var (
		s   Store
		err error
	)
	switch engineFor(cfg.URL) {
	case EnginePostgres:
		s, err = OpenPostgres(ctx, cfg)
	case EngineSQLite:
		s, err = OpenSQLite(cfg.URL)
	default:
		return nil, fmt.Errorf("open store: unsupported database URL scheme in %q", redact(cfg.URL))
	}
	if err != nil {
		return nil, err
	}

	if err := waitForPing(ctx, s, cfg.ConnectTimeout); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	logging.FromContext(ctx).Info("connected to store", "engine", s.Engine(), "database", redact(cfg.URL))
	return s, nil
}

// Engine names.
const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
)

func engineFor(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return EnginePostgres
	case strings.HasPrefix(rawURL, "sqlite:"), strings.HasPrefix(rawURL, "file:"):
		return EngineSQLite
	default:
		return ""
	}
}

// waitForPing retries Ping with exponential backoff until it succeeds or
// limit elapses.
func waitForPing(ctx context.Context, s Store, limit time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = limit

	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("store not ready, retrying",
			"engine", s.Engine(),
			"error", err,
			"retry_in", wait,
		)
	}
	err := backoff.RetryNotify(func() error { return s.Ping(ctx) }, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return fmt.Errorf("%w: ping %s: %w", core.ErrStorageUnavailable, s.Engine(), err)
	}
	return nil
}

// redact strips credentials from a database URL for logging.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return strings.SplitN(rawURL, "?", 2)[0]
	}
	u.User = url.User("redacted")
	u.RawQuery = ""
	return u.String()
}

func checkSingle(rows core.RowSet) error {
	if len(rows.Packages) != 1 || len(rows.Events) != 1 {
		return fmt.Errorf("%w: want 1 package and 1 event, got %d and %d",
			core.ErrRowSetShape, len(rows.Packages), len(rows.Events))
	}
	if rows.Packages[0].PackageID != rows.Events[0].PackageID {
		return fmt.Errorf("%w: event for package %d paired with package %d",
			core.ErrRowSetShape, rows.Events[0].PackageID, rows.Packages[0].PackageID)
	}
	return nil
}

func loadResult(rows core.RowSet, packagesInserted, eventsInserted int64) core.LoadResult {
	return core.LoadResult{
		PackagesInserted: packagesInserted,
		PackagesSkipped:  int64(len(rows.Packages)) - packagesInserted,
		EventsInserted:   eventsInserted,
		EventsSkipped:    int64(len(rows.Events)) - eventsInserted,
	}
}
