package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/tracker/internal/core"
)

// sqliteTimeLayout stores instants as fixed-width UTC text so that text
// order is time order and equal instants compare equal.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the embedded engine. It holds a single connection, so writes are
// serialized by the pool.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database named by a sqlite:// or file: URL.
// "sqlite:///var/lib/tracker.db" is an absolute path, "sqlite://tracker.db"
// a relative one, and "sqlite://:memory:" an in-memory database.
func OpenSQLite(rawURL string) (*SQLite, error) {
	dsn := sqliteDSN(rawURL)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %q: %w", core.ErrStorageUnavailable, rawURL, err)
	}
	db.SetMaxOpenConns(1)

	return &SQLite{db: db, path: rawURL}, nil
}

func sqliteDSN(rawURL string) string {
	dsn := rawURL
	if strings.HasPrefix(dsn, "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	} else if strings.HasPrefix(dsn, "sqlite:") {
		dsn = strings.TrimPrefix(dsn, "sqlite:")
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *SQLite) Engine() string { return EngineSQLite }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { _ = s.db.Close() }

// EnsureSchema creates both tables if absent.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("ensure schema: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS packages (
			package_id  INTEGER PRIMARY KEY,
			origin      TEXT NOT NULL,
			destination TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			package_id      INTEGER NOT NULL REFERENCES packages (package_id),
			status          TEXT NOT NULL,
			event_timestamp TEXT NOT NULL,
			UNIQUE (package_id, event_timestamp)
		)`,
	}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLite("ensure schema: commit", err)
	}
	return nil
}

// UpsertBulk stages rows in temporary tables and moves them into the
// permanent tables inside one transaction. The staging tables are created
// and dropped inside that transaction.
func (s *SQLite) UpsertBulk(ctx context.Context, rows core.RowSet) (core.LoadResult, error) {
	if rows.Empty() {
		return core.LoadResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`CREATE TEMP TABLE stage_packages (package_id INTEGER, origin TEXT, destination TEXT)`,
		`CREATE TEMP TABLE stage_events (package_id INTEGER, status TEXT, event_timestamp TEXT)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return core.LoadResult{}, classifySQLite("bulk upsert: create staging", err)
		}
	}

	if err := stageRows(ctx, tx,
		`INSERT INTO stage_packages (package_id, origin, destination) VALUES (?, ?, ?)`,
		len(rows.Packages), func(i int) []any {
			r := rows.Packages[i]
			return []any{r.PackageID, r.Origin, r.Destination}
		}); err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: stage packages", err)
	}

	if err := stageRows(ctx, tx,
		`INSERT INTO stage_events (package_id, status, event_timestamp) VALUES (?, ?, ?)`,
		len(rows.Events), func(i int) []any {
			r := rows.Events[i]
			return []any{r.PackageID, r.Status, formatTime(r.EventTime)}
		}); err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: stage events", err)
	}

	// "WHERE true" keeps SQLite from reading ON CONFLICT as a join clause.
	pkgRes, err := tx.ExecContext(ctx, `
		INSERT INTO packages (package_id, origin, destination)
		SELECT package_id, origin, destination FROM stage_packages WHERE true
		ON CONFLICT (package_id) DO NOTHING`)
	if err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: move packages", err)
	}

	evRes, err := tx.ExecContext(ctx, `
		INSERT INTO events (package_id, status, event_timestamp)
		SELECT package_id, status, event_timestamp FROM stage_events WHERE true
		ON CONFLICT (package_id, event_timestamp) DO NOTHING`)
	if err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: move events", err)
	}

	for _, stmt := range []string{`DROP TABLE temp.stage_packages`, `DROP TABLE temp.stage_events`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return core.LoadResult{}, classifySQLite("bulk upsert: drop staging", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.LoadResult{}, classifySQLite("bulk upsert: commit", err)
	}

	pkgN, _ := pkgRes.RowsAffected()
	evN, _ := evRes.RowsAffected()
	return loadResult(rows, pkgN, evN), nil
}

func stageRows(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return nil
}

// UpsertOne writes one package row and one event row in one transaction.
func (s *SQLite) UpsertOne(ctx context.Context, rows core.RowSet) (core.LoadResult, error) {
	if err := checkSingle(rows); err != nil {
		return core.LoadResult{}, err
	}
	pkg, ev := rows.Packages[0], rows.Events[0]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.LoadResult{}, classifySQLite("upsert: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	pkgRes, err := tx.ExecContext(ctx, `
		INSERT INTO packages (package_id, origin, destination) VALUES (?, ?, ?)
		ON CONFLICT (package_id) DO NOTHING`,
		pkg.PackageID, pkg.Origin, pkg.Destination)
	if err != nil {
		return core.LoadResult{}, classifySQLite("upsert: package", err)
	}

	evRes, err := tx.ExecContext(ctx, `
		INSERT INTO events (package_id, status, event_timestamp) VALUES (?, ?, ?)
		ON CONFLICT (package_id, event_timestamp) DO NOTHING`,
		ev.PackageID, ev.Status, formatTime(ev.EventTime))
	if err != nil {
		return core.LoadResult{}, classifySQLite("upsert: event", err)
	}

	if err := tx.Commit(); err != nil {
		return core.LoadResult{}, classifySQLite("upsert: commit", err)
	}

	pkgN, _ := pkgRes.RowsAffected()
	evN, _ := evRes.RowsAffected()
	return loadResult(rows, pkgN, evN), nil
}

func (s *SQLite) StatusDistribution(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, statusDistributionSQL)
	if err != nil {
		return nil, classifySQLite("status distribution", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Packages); err != nil {
			return nil, fmt.Errorf("status distribution: scan row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status distribution: row iteration: %w", err)
	}
	return counts, nil
}

func (s *SQLite) MeanDeliveryDuration(ctx context.Context) (time.Duration, bool, error) {
	var seconds sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		WITH per_package AS (
			SELECT package_id,
			       MIN(event_timestamp) AS first_at,
			       MAX(CASE WHEN status = ? THEN event_timestamp END) AS delivered_at
			FROM events
			GROUP BY package_id
		)
		SELECT AVG((julianday(delivered_at) - julianday(first_at)) * 86400.0)
		FROM per_package
		WHERE delivered_at IS NOT NULL`, core.StatusDelivered).Scan(&seconds)
	if err != nil {
		return 0, false, classifySQLite("mean delivery duration", err)
	}
	if !seconds.Valid {
		return 0, false, nil
	}
	return secondsToDuration(seconds.Float64), true, nil
}

func (s *SQLite) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM packages), (SELECT COUNT(*) FROM events)`).
		Scan(&t.Packages, &t.Events)
	if err != nil {
		return Totals{}, classifySQLite("totals", err)
	}
	return t, nil
}

func (s *SQLite) PackageHistory(ctx context.Context, id int64) (History, error) {
	var h History
	err := s.db.QueryRowContext(ctx,
		`SELECT package_id, origin, destination FROM packages WHERE package_id = ?`, id).
		Scan(&h.Package.PackageID, &h.Package.Origin, &h.Package.Destination)
	if errors.Is(err, sql.ErrNoRows) {
		return History{}, fmt.Errorf("%w: %d", ErrPackageNotFound, id)
	}
	if err != nil {
		return History{}, classifySQLite("package history", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT package_id, status, event_timestamp
		FROM events WHERE package_id = ?
		ORDER BY event_timestamp`, id)
	if err != nil {
		return History{}, classifySQLite("package history: events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e  core.EventRow
			ts string
		)
		if err := rows.Scan(&e.PackageID, &e.Status, &ts); err != nil {
			return History{}, fmt.Errorf("package history: scan row: %w", err)
		}
		if e.EventTime, err = time.Parse(sqliteTimeLayout, ts); err != nil {
			return History{}, fmt.Errorf("package history: parse timestamp %q: %w", ts, err)
		}
		h.Events = append(h.Events, e)
	}
	if err := rows.Err(); err != nil {
		return History{}, fmt.Errorf("package history: row iteration: %w", err)
	}
	return h, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func classifySQLite(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %s: %w", core.ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrTransactionFailed, op, err)
}
