package core

import "time"

// EventPrecision is the timestamp resolution events are identified at, the
// resolution of Postgres timestamptz.
const EventPrecision = time.Microsecond

// Split derives the package and event rows for one unit of work.
//
// Every canonical record becomes one event row; duplicates are left for the
// storage layer to absorb. Package rows are one per package id, taking
// origin and destination from the record with the latest event timestamp.
// Ties go to the record that came first in the input. Package rows keep the
// order in which each id was first seen. Event times are truncated to
// EventPrecision before any comparison.
func Split(records []CanonicalRecord) RowSet {
	rows := RowSet{
		Events: make([]EventRow, 0, len(records)),
	}

	chosen := make(map[int64]int, len(records)) // package id -> index into records
	order := make([]int64, 0, len(records))

	for i, rec := range records {
		at := rec.EventTime.Truncate(EventPrecision)
		rows.Events = append(rows.Events, EventRow{
			PackageID: rec.PackageID,
			Status:    rec.Status,
			EventTime: at,
		})

		cur, seen := chosen[rec.PackageID]
		if !seen {
			chosen[rec.PackageID] = i
			order = append(order, rec.PackageID)
			continue
		}
		// strictly later only; equal timestamps keep the earlier row
		if at.After(records[cur].EventTime.Truncate(EventPrecision)) {
			chosen[rec.PackageID] = i
		}
	}

	rows.Packages = make([]PackageRow, 0, len(order))
	for _, id := range order {
		rec := records[chosen[id]]
		rows.Packages = append(rows.Packages, PackageRow{
			PackageID:   rec.PackageID,
			Origin:      rec.Origin,
			Destination: rec.Destination,
		})
	}

	return rows
}
