// Package core provides the ingestion pipeline for package-tracking events.
//
// The package has no transport or storage dependencies. Sources (CSV files,
// Kafka messages) and stores (Postgres, SQLite) plug in through small
// interfaces, so the same validation and splitting rules apply to both
// entry points.
//
// # Pipeline
//
// One unit of work moves through fixed phases:
//
//	fetch -> validate -> split -> load
//
//   - Fetch: a [RecordSource] (batch) or [Subscriber] (stream) yields
//     [RawRecord] values whose fields are still untyped.
//   - Validate: [Validator] checks required fields, parses the package id and
//     the timestamp, and produces a [CanonicalRecord] or a [*RecordError].
//   - Split: [Split] derives one event row per record and one package row
//     per package id, naming the package after its latest event.
//   - Load: an [Upserter] writes the [RowSet] with insert-if-absent semantics
//     and reports inserted and skipped counts in a [LoadResult].
//
// # Drivers
//
// [BatchDriver] runs a whole extract as one unit and hands every accepted
// row to a single bulk load, so a run either commits entirely or not at all.
// Rejected records are reported and excluded, never fatal.
//
// [StreamDriver] handles one message at a time and acknowledges it only once
// its outcome is final. Malformed, rejected and failed messages are logged,
// optionally dead-lettered, and skipped.
//
//	driver := core.NewBatchDriver(store.Bulk(st), 10*time.Minute)
//	report, err := driver.Run(ctx, source.NewFileSource(path, maxBytes))
//
// Both drivers return a [RunReport] describing what happened.
//
// # Errors
//
// Failures unwrap to the sentinel errors in errors.go so callers can use
// errors.Is. [MapError] turns any of them into a user-facing message with a
// stable code for the HTTP API and CLI.
package core
