package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Source-level errors. Both halt a batch run.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrEmptySource      = errors.New("empty source")
)

// Record-level errors. A record failing with one of these is dropped and
// processing continues.
var (
	ErrMissingField     = errors.New("missing field")
	ErrInvalidPackageID = errors.New("invalid package id")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Load-level errors.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTransactionFailed  = errors.New("transaction failed")
	ErrRowSetShape        = errors.New("row set shape")
)

// ErrTooManyRuns is returned when no batch slot frees up in time.
var ErrTooManyRuns = errors.New("too many concurrent batch runs")

// RecordError describes why a single raw record was rejected.
type RecordError struct {
	Ref   string
	Kind  error
	Field string
	Value any
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Ref, e.Kind)
	}
	if e.Value == nil {
		return fmt.Sprintf("%s: %v %q", e.Ref, e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %v %q: %v", e.Ref, e.Kind, e.Field, e.Value)
}

func (e *RecordError) Unwrap() error {
	return e.Kind
}

// Reason returns a short label for the rejection kind, used as a metric label.
func (e *RecordError) Reason() string {
	switch {
	case errors.Is(e.Kind, ErrMissingField):
		return "missing_field"
	case errors.Is(e.Kind, ErrInvalidPackageID):
		return "invalid_package_id"
	case errors.Is(e.Kind, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(e.Kind, ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "other"
	}
}

// MarshalJSON renders the rejection for run reports.
func (e *RecordError) MarshalJSON() ([]byte, error) {
	out := struct {
		Ref    string `json:"ref"`
		Reason string `json:"reason"`
		Field  string `json:"field,omitempty"`
		Value  string `json:"value,omitempty"`
	}{
		Ref:    e.Ref,
		Reason: e.Reason(),
		Field:  e.Field,
	}
	if e.Value != nil {
		out.Value = fmt.Sprint(e.Value)
	}
	return json.Marshal(out)
}

func reject(ref string, kind error, field string, value any) *RecordError {
	return &RecordError{Ref: ref, Kind: kind, Field: field, Value: value}
}
