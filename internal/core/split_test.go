package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(6 * time.Hour)
)

func canon(id int64, origin, dest, status string, at time.Time) CanonicalRecord {
	return CanonicalRecord{PackageID: id, Origin: origin, Destination: dest, Status: status, EventTime: at}
}

func TestSplit_LatestTimestampNamesPackage(t *testing.T) {
	tests := []struct {
		name    string
		records []CanonicalRecord
		want    PackageRow
	}{
		{
			"later record last",
			[]CanonicalRecord{canon(7, "SP", "RJ", "POSTADO", t1), canon(7, "SP", "BH", "ENTREGUE", t2)},
			PackageRow{PackageID: 7, Origin: "SP", Destination: "BH"},
		},
		{
			"later record first",
			[]CanonicalRecord{canon(7, "SP", "BH", "ENTREGUE", t2), canon(7, "SP", "RJ", "POSTADO", t1)},
			PackageRow{PackageID: 7, Origin: "SP", Destination: "BH"},
		},
		{
			"tie keeps earlier row",
			[]CanonicalRecord{canon(7, "SP", "RJ", "POSTADO", t1), canon(7, "MG", "BA", "POSTADO", t1)},
			PackageRow{PackageID: 7, Origin: "SP", Destination: "RJ"},
		},
		{
			"same instant in another zone is a tie",
			[]CanonicalRecord{
				canon(7, "SP", "RJ", "POSTADO", t1),
				canon(7, "MG", "BA", "POSTADO", t1.In(time.FixedZone("BRT", -3*3600))),
			},
			PackageRow{PackageID: 7, Origin: "SP", Destination: "RJ"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := Split(tt.records)
			require.Len(t, rows.Packages, 1)
			assert.Equal(t, tt.want, rows.Packages[0])
			assert.Len(t, rows.Events, len(tt.records))
		})
	}
}

func TestSplit_EventsAreNotDeduplicated(t *testing.T) {
	rows := Split([]CanonicalRecord{
		canon(1, "SP", "RJ", "POSTADO", t1),
		canon(1, "SP", "RJ", "POSTADO", t1),
		canon(2, "MG", "BA", "POSTADO", t1),
	})

	assert.Len(t, rows.Events, 3)
	assert.Equal(t, []PackageRow{
		{PackageID: 1, Origin: "SP", Destination: "RJ"},
		{PackageID: 2, Origin: "MG", Destination: "BA"},
	}, rows.Packages)
	assert.Equal(t, EventRow{PackageID: 2, Status: "POSTADO", EventTime: t1}, rows.Events[2])
}

func TestSplit_Empty(t *testing.T) {
	rows := Split(nil)
	assert.True(t, rows.Empty())
}

func TestSplit_TruncatesToEventPrecision(t *testing.T) {
	rows := Split([]CanonicalRecord{
		canon(7, "SP", "RJ", "POSTADO", t1.Add(100*time.Nanosecond)),
		canon(7, "MG", "BA", "POSTADO", t1.Add(900*time.Nanosecond)),
	})

	require.Len(t, rows.Events, 2)
	assert.True(t, rows.Events[0].EventTime.Equal(t1))
	assert.True(t, rows.Events[1].EventTime.Equal(t1))
	assert.Equal(t, PackageRow{PackageID: 7, Origin: "SP", Destination: "RJ"}, rows.Packages[0],
		"sub-microsecond difference is a tie")
}
