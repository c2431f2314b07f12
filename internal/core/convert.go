package core

// convert.go turns untyped field values into the canonical Go types.
//
// Batch sources hand every value over as a string; stream sources decode JSON
// with UseNumber, so numbers arrive as json.Number. Both shapes are accepted
// here so the validator stays source-agnostic.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone designator are
// read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

var (
	errNotInteger  = errors.New("not an integer")
	errNotPositive = errors.New("must be positive")
)

// CleanCell removes common CSV artifacts from a cell value:
//   - Trims whitespace
//   - Removes Excel formula prefix (="...")
//   - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// toText renders an untyped value as trimmed text. ok is false for nil.
func toText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return strings.TrimSpace(t.String()), true
	case fmt.Stringer:
		return strings.TrimSpace(t.String()), true
	default:
		return strings.TrimSpace(fmt.Sprint(t)), true
	}
}

// maxExactFloat is the largest magnitude at which every integer has an exact
// float64 representation.
const maxExactFloat = 1 << 53

// ParsePackageID converts an untyped value into a positive package id.
// Integral floats ("7.0" from spreadsheets, 7.0 from loose JSON) are accepted.
// Strings are parsed exactly; float64 values beyond 2^53 are rejected because
// they no longer name a single integer.
func ParsePackageID(v any) (int64, error) {
	var id int64

	switch t := v.(type) {
	case int:
		id = int64(t)
	case int32:
		id = int64(t)
	case int64:
		id = t
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) || t != math.Trunc(t) || math.Abs(t) > maxExactFloat {
			return 0, errNotInteger
		}
		id = int64(t)
	default:
		s, ok := toText(v)
		if !ok || s == "" {
			return 0, errNotInteger
		}
		n, err := parseIntegral(CleanCell(s))
		if err != nil {
			return 0, err
		}
		id = n
	}

	if id <= 0 {
		return 0, errNotPositive
	}
	return id, nil
}

// parseIntegral accepts an optionally signed run of digits, optionally
// followed by a decimal point and one or more zeros.
func parseIntegral(s string) (int64, error) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if frac == "" || strings.Trim(frac, "0") != "" {
			return 0, errNotInteger
		}
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errNotInteger
	}
	return n, nil
}

// ParseTimestamp converts an untyped value into an instant. ISO-8601 with a
// trailing "Z" or a numeric offset is the expected form; the original offset
// is preserved on the returned time.
func ParseTimestamp(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("zero time")
		}
		return t, nil
	}

	s, ok := toText(v)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	s = CleanCell(s)

	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
