package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsFetchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "records_fetched_total",
		Help:      "Raw records read from a source",
	}, []string{"mode"})

	recordsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "records_rejected_total",
		Help:      "Raw records dropped by validation",
	}, []string{"mode", "reason"})

	rowsInsertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "rows_inserted_total",
		Help:      "Rows newly inserted into the store",
	}, []string{"mode", "table"})

	rowsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "rows_skipped_total",
		Help:      "Rows skipped because the key already existed",
	}, []string{"mode", "table"})

	unitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "units_total",
		Help:      "Units of work (batch runs or messages) by final phase",
	}, []string{"mode", "outcome"})

	loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracker",
		Name:      "load_duration_seconds",
		Help:      "Time spent in the upsert engine per unit of work",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"mode"})

	deadLettersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Name:      "dead_letters_total",
		Help:      "Stream messages republished to the dead-letter topic",
	})
)

func init() {
	prometheus.MustRegister(
		recordsFetchedTotal,
		recordsRejectedTotal,
		rowsInsertedTotal,
		rowsSkippedTotal,
		unitsTotal,
		loadDuration,
		deadLettersTotal,
	)
}

func observeRejections(mode Mode, rejected []*RecordError) {
	for _, r := range rejected {
		recordsRejectedTotal.WithLabelValues(string(mode), r.Reason()).Inc()
	}
}

func observeLoad(mode Mode, res LoadResult) {
	m := string(mode)
	rowsInsertedTotal.WithLabelValues(m, "packages").Add(float64(res.PackagesInserted))
	rowsInsertedTotal.WithLabelValues(m, "events").Add(float64(res.EventsInserted))
	rowsSkippedTotal.WithLabelValues(m, "packages").Add(float64(res.PackagesSkipped))
	rowsSkippedTotal.WithLabelValues(m, "events").Add(float64(res.EventsSkipped))
}
