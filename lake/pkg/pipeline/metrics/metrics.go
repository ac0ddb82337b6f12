package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matchlake_build_info",
			Help: "Build information of matchlake",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchlake_runs_total",
			Help: "Total number of pipeline runs by status",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matchlake_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		},
		[]string{"stage"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchlake_rows_written_total",
			Help: "Total number of rows written to bucketed tables",
		},
		[]string{"table"},
	)

	RowsJoined = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchlake_rows_joined",
			Help: "Number of rows in the joined relation of the last run",
		},
	)
)
