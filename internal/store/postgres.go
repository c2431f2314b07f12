package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tracker/internal/config"
	"github.com/JonMunkholm/tracker/internal/core"
	"github.com/JonMunkholm/tracker/internal/logging"
)

// Postgres is the Postgres/TimescaleDB engine.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// OpenPostgres builds a pool from cfg. The pool connects lazily; use Ping
// to verify the server is reachable.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %w", core.ErrStorageUnavailable, err)
	}
	return NewPostgres(pool), nil
}

func (p *Postgres) Engine() string { return EnginePostgres }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

const pgSchema = `
CREATE TABLE IF NOT EXISTS packages (
	package_id  BIGINT PRIMARY KEY,
	origin      TEXT NOT NULL,
	destination TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	package_id      BIGINT NOT NULL REFERENCES packages (package_id),
	status          TEXT NOT NULL,
	event_timestamp TIMESTAMPTZ NOT NULL,
	UNIQUE (package_id, event_timestamp)
);
`

// EnsureSchema creates both tables if absent. When the timescaledb
// extension is installed, events becomes a hypertable on event_timestamp.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classifyPg("ensure schema: begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: create tables: %w", err)
	}

	var timescale bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&timescale)
	if err != nil {
		return fmt.Errorf("ensure schema: check extensions: %w", err)
	}
	if timescale {
		_, err := tx.Exec(ctx,
			`SELECT create_hypertable('events', 'event_timestamp', if_not_exists => TRUE, migrate_data => TRUE)`)
		if err != nil {
			return fmt.Errorf("ensure schema: create hypertable: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPg("ensure schema: commit", err)
	}
	logging.FromContext(ctx).Debug("schema ensured", "engine", EnginePostgres, "timescaledb", timescale)
	return nil
}

// UpsertBulk copies both row sets into transaction-scoped staging tables and
// moves them with ON CONFLICT DO NOTHING, packages first so every event's
// package exists by the time events move.
func (p *Postgres) UpsertBulk(ctx context.Context, rows core.RowSet) (core.LoadResult, error) {
	if rows.Empty() {
		return core.LoadResult{}, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: begin", err)
	}
	defer tx.Rollback(ctx)

	staging := []string{
		`CREATE TEMP TABLE stage_packages (
			package_id BIGINT, origin TEXT, destination TEXT
		) ON COMMIT DROP`,
		`CREATE TEMP TABLE stage_events (
			package_id BIGINT, status TEXT, event_timestamp TIMESTAMPTZ
		) ON COMMIT DROP`,
	}
	for _, stmt := range staging {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return core.LoadResult{}, classifyPg("bulk upsert: create staging", err)
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"stage_packages"},
		[]string{"package_id", "origin", "destination"},
		pgx.CopyFromSlice(len(rows.Packages), func(i int) ([]any, error) {
			r := rows.Packages[i]
			return []any{r.PackageID, r.Origin, r.Destination}, nil
		}),
	)
	if err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: stage packages", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"stage_events"},
		[]string{"package_id", "status", "event_timestamp"},
		pgx.CopyFromSlice(len(rows.Events), func(i int) ([]any, error) {
			r := rows.Events[i]
			return []any{r.PackageID, r.Status, r.EventTime}, nil
		}),
	)
	if err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: stage events", err)
	}

	pkgTag, err := tx.Exec(ctx, `
		INSERT INTO packages (package_id, origin, destination)
		SELECT package_id, origin, destination FROM stage_packages
		ON CONFLICT (package_id) DO NOTHING`)
	if err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: move packages", err)
	}

	evTag, err := tx.Exec(ctx, `
		INSERT INTO events (package_id, status, event_timestamp)
		SELECT package_id, status, event_timestamp FROM stage_events
		ON CONFLICT (package_id, event_timestamp) DO NOTHING`)
	if err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: move events", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.LoadResult{}, classifyPg("bulk upsert: commit", err)
	}

	return loadResult(rows, pkgTag.RowsAffected(), evTag.RowsAffected()), nil
}

// UpsertOne writes one package row and one event row in one transaction.
func (p *Postgres) UpsertOne(ctx context.Context, rows core.RowSet) (core.LoadResult, error) {
	if err := checkSingle(rows); err != nil {
		return core.LoadResult{}, err
	}
	pkg, ev := rows.Packages[0], rows.Events[0]

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.LoadResult{}, classifyPg("upsert: begin", err)
	}
	defer tx.Rollback(ctx)

	pkgTag, err := tx.Exec(ctx, `
		INSERT INTO packages (package_id, origin, destination)
		VALUES ($1, $2, $3)
		ON CONFLICT (package_id) DO NOTHING`,
		pkg.PackageID, pkg.Origin, pkg.Destination)
	if err != nil {
		return core.LoadResult{}, classifyPg("upsert: package", err)
	}

	evTag, err := tx.Exec(ctx, `
		INSERT INTO events (package_id, status, event_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (package_id, event_timestamp) DO NOTHING`,
		ev.PackageID, ev.Status, ev.EventTime)
	if err != nil {
		return core.LoadResult{}, classifyPg("upsert: event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.LoadResult{}, classifyPg("upsert: commit", err)
	}

	return loadResult(rows, pkgTag.RowsAffected(), evTag.RowsAffected()), nil
}

func (p *Postgres) StatusDistribution(ctx context.Context) ([]StatusCount, error) {
	rows, err := p.pool.Query(ctx, statusDistributionSQL)
	if err != nil {
		return nil, classifyPg("status distribution", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var c StatusCount
		err := row.Scan(&c.Status, &c.Packages)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("status distribution: scan: %w", err)
	}
	return counts, nil
}

func (p *Postgres) MeanDeliveryDuration(ctx context.Context) (time.Duration, bool, error) {
	var seconds *float64
	err := p.pool.QueryRow(ctx, `
		WITH per_package AS (
			SELECT package_id,
			       MIN(event_timestamp) AS first_at,
			       MAX(CASE WHEN status = $1 THEN event_timestamp END) AS delivered_at
			FROM events
			GROUP BY package_id
		)
		SELECT EXTRACT(EPOCH FROM AVG(delivered_at - first_at))::float8
		FROM per_package
		WHERE delivered_at IS NOT NULL`, core.StatusDelivered).Scan(&seconds)
	if err != nil {
		return 0, false, classifyPg("mean delivery duration", err)
	}
	if seconds == nil {
		return 0, false, nil
	}
	return secondsToDuration(*seconds), true, nil
}

func (p *Postgres) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := p.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM packages), (SELECT COUNT(*) FROM events)`).
		Scan(&t.Packages, &t.Events)
	if err != nil {
		return Totals{}, classifyPg("totals", err)
	}
	return t, nil
}

func (p *Postgres) PackageHistory(ctx context.Context, id int64) (History, error) {
	var h History
	err := p.pool.QueryRow(ctx,
		`SELECT package_id, origin, destination FROM packages WHERE package_id = $1`, id).
		Scan(&h.Package.PackageID, &h.Package.Origin, &h.Package.Destination)
	if errors.Is(err, pgx.ErrNoRows) {
		return History{}, fmt.Errorf("%w: %d", ErrPackageNotFound, id)
	}
	if err != nil {
		return History{}, classifyPg("package history", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT package_id, status, event_timestamp
		FROM events WHERE package_id = $1
		ORDER BY event_timestamp`, id)
	if err != nil {
		return History{}, classifyPg("package history: events", err)
	}
	h.Events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.EventRow, error) {
		var e core.EventRow
		err := row.Scan(&e.PackageID, &e.Status, &e.EventTime)
		return e, err
	})
	if err != nil {
		return History{}, fmt.Errorf("package history: scan: %w", err)
	}
	return h, nil
}

// classifyPg wraps err with the load-level sentinel that fits it: server
// errors abort the transaction, anything that never reached the server
// means the store is unavailable.
func classifyPg(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s: %s (SQLSTATE %s): %w",
			core.ErrTransactionFailed, op, pgErr.Message, pgErr.Code, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %s: %w", core.ErrStorageUnavailable, op, err)
	}

	return fmt.Errorf("%w: %s: %w", core.ErrTransactionFailed, op, err)
}
