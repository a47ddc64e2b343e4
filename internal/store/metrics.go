package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets mirrors the teacher's shared histogram bucket scheme,
// adjusted for the coarser latencies of this domain (catalog scans and
// scheduler round trips run in seconds, not milliseconds).
var latencyBuckets = []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30, 60}

var (
	notifyReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrwsi_store_notifications_received_total",
		Help: "the number of LISTEN/NOTIFY payloads received, by channel",
	}, []string{"channel"})

	batchInsertDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hrwsi_store_batch_insert_duration_seconds",
		Help:    "the length of time a batch insert took to complete",
		Buckets: latencyBuckets,
	}, []string{"table"})

	batchInsertSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hrwsi_store_batch_insert_conflicts_total",
		Help: "the number of rows skipped due to a unique-constraint conflict",
	}, []string{"table"})
)
