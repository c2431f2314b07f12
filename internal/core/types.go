package core

import (
	"context"
	"time"
)

// Field names shared by the batch extract header and the stream message body.
const (
	FieldPackageID   = "id_pacote"
	FieldOrigin      = "origem"
	FieldDestination = "destino"
	FieldStatus      = "status_rastreamento"
	FieldTimestamp   = "data_atualizacao"
)

// RequiredFields lists the fields every raw record must carry, in validation order.
var RequiredFields = []string{
	FieldPackageID,
	FieldOrigin,
	FieldDestination,
	FieldStatus,
	FieldTimestamp,
}

// StatusDelivered is the status label that marks a package as delivered.
const StatusDelivered = "ENTREGUE"

// Mode identifies which entry point produced a unit of work.
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeStream Mode = "stream"
)

// RawRecord is one untyped record produced by a source adapter.
type RawRecord struct {
	Ref    string         // Row or message identifier used in logs: "extract.csv:12", "topic/0@42"
	Fields map[string]any // Field name to untyped value
}

// CanonicalRecord is a validated tracking event ready for splitting.
type CanonicalRecord struct {
	Ref         string
	PackageID   int64
	Origin      string
	Destination string
	Status      string
	EventTime   time.Time
}

// PackageRow is a proposed row for the package dimension.
type PackageRow struct {
	PackageID   int64  `json:"packageId"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}

// EventRow is a proposed row for the event log.
type EventRow struct {
	PackageID int64     `json:"packageId"`
	Status    string    `json:"status"`
	EventTime time.Time `json:"eventTime"`
}

// RowSet holds the rows derived from one unit of work.
type RowSet struct {
	Packages []PackageRow
	Events   []EventRow
}

// Empty reports whether the set has nothing to write.
func (r RowSet) Empty() bool {
	return len(r.Packages) == 0 && len(r.Events) == 0
}

// LoadResult counts rows actually inserted versus skipped as duplicates.
// The counts are informational only.
type LoadResult struct {
	PackagesInserted int64 `json:"packagesInserted"`
	PackagesSkipped  int64 `json:"packagesSkipped"`
	EventsInserted   int64 `json:"eventsInserted"`
	EventsSkipped    int64 `json:"eventsSkipped"`
}

// Add accumulates another result into r.
func (r *LoadResult) Add(o LoadResult) {
	r.PackagesInserted += o.PackagesInserted
	r.PackagesSkipped += o.PackagesSkipped
	r.EventsInserted += o.EventsInserted
	r.EventsSkipped += o.EventsSkipped
}

// Upserter writes a row set under the insert-if-absent contract.
// Re-submitting identical rows must have no additional effect.
type Upserter interface {
	Upsert(ctx context.Context, rows RowSet) (LoadResult, error)
}

// UpsertFunc adapts a function to the Upserter interface.
type UpsertFunc func(ctx context.Context, rows RowSet) (LoadResult, error)

// Upsert implements Upserter.
func (f UpsertFunc) Upsert(ctx context.Context, rows RowSet) (LoadResult, error) {
	return f(ctx, rows)
}

// RecordSource produces the full ordered set of raw records for one batch run.
// Implementations return ErrEmptySource for a well-formed source with no rows.
type RecordSource interface {
	Name() string
	Records(ctx context.Context) ([]RawRecord, error)
}

// Delivery is one message handed out by a Subscriber.
// Err is non-nil when the payload could not be decoded into a record;
// such deliveries must still be acknowledged.
type Delivery struct {
	Ref     string
	Key     []byte
	Payload []byte
	Record  RawRecord
	Err     error

	// Handle is the transport's own message value, used by Ack.
	Handle any
}

// Subscriber is a long-lived at-least-once subscription.
type Subscriber interface {
	// Next blocks until a message is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)
	// Ack marks the delivery as processed so it is not redelivered.
	Ack(ctx context.Context, d Delivery) error
	Close() error
}

// DeadLetterer receives deliveries the stream driver could not load.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, d Delivery, cause error) error
}

// Phase is the state of a unit of work.
type Phase string

const (
	PhaseFetched   Phase = "fetched"
	PhaseValidated Phase = "validated"
	PhaseSplit     Phase = "split"
	PhaseLoaded    Phase = "loaded"
	PhaseSkipped   Phase = "skipped"  // nothing left to load
	PhaseRejected  Phase = "rejected" // single message failed validation
	PhaseFailed    Phase = "failed"
)

// RunReport summarises one unit of work.
type RunReport struct {
	RunID      string         `json:"runId"`
	Mode       Mode           `json:"mode"`
	Source     string         `json:"source"`
	Phase      Phase          `json:"phase"`
	Fetched    int            `json:"fetched"`
	Accepted   int            `json:"accepted"`
	Rejections []*RecordError `json:"rejections,omitempty"`
	Packages   int            `json:"packages"`
	Events     int            `json:"events"`
	Load       LoadResult     `json:"load"`
	Duration   time.Duration  `json:"duration"`
	Error      string         `json:"error,omitempty"`
}
