package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriprice_sync_runs_total",
		Help: "Sync runs by final status.",
	}, []string{"status"})
	syncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriprice_sync_records_total",
		Help: "Records processed by sync runs, by outcome.",
	}, []string{"outcome"})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agriprice_sync_duration_seconds",
		Help:    "Wall time of completed sync runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
