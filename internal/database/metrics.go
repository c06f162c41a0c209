package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactorstate_snapshot_writes_total",
		Help: "Snapshot writes by outcome (written, unchanged, failed)",
	}, []string{"outcome"})

	snapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reactorstate_snapshot_loads_total",
		Help: "Snapshot loads by outcome (full, partial, missing, failed)",
	}, []string{"outcome"})

	snapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reactorstate_snapshot_duration_seconds",
		Help:    "Time to write or load a snapshot",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
	}, []string{"op"})

	snapshotEncodedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactorstate_snapshot_encoded_bytes",
		Help:    "Stored size of written snapshots",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	})

	snapshotCompressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reactorstate_snapshot_compression_ratio",
		Help:    "Raw over stored size of written snapshots",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})
)
