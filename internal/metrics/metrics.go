package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leroy"

var (
	// LinesProcessed counts input lines by pipeline outcome.
	LinesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_processed_total",
		Help:      "Input lines handled, by pipeline outcome.",
	}, []string{"outcome"})

	// InputErrors counts lines that never reached the pipeline.
	InputErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "input_errors_total",
		Help:      "Input lines dropped before parsing.",
	}, []string{"reason"})

	// BansEmitted counts ban requests handed to the sink.
	BansEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bans_emitted_total",
		Help:      "Ban requests handed to the ban sink.",
	}, []string{"family"})

	// BanDuration records the duration of emitted bans.
	BanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ban_duration_seconds",
		Help:      "Duration of emitted bans in seconds.",
		Buckets:   []float64{30, 60, 300, 900, 3600, 4 * 3600, 24 * 3600, 7 * 24 * 3600},
	}, []string{"family"})

	// Recidivism records the recidivism count of emitted bans.
	Recidivism = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ban_recidivism",
		Help:      "Recidivism count of emitted bans.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	// SinkCalls counts ban sink invocations.
	SinkCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_calls_total",
		Help:      "Ban sink invocations by backend and status.",
	}, []string{"backend", "status"})

	// SinkDuration records ban sink latency.
	SinkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sink_duration_seconds",
		Help:      "Ban sink call latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"backend"})

	// LimiterKeys tracks the size of each rate limiter table.
	LimiterKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "limiter_keys",
		Help:      "Keys held by the rate limiter table.",
	}, []string{"family"})

	// LimiterGCRuns counts rate limiter garbage collection passes.
	LimiterGCRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limiter_gc_runs_total",
		Help:      "Rate limiter garbage collection passes.",
	}, []string{"family"})

	// LimiterEvicted counts inert keys removed by garbage collection.
	LimiterEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limiter_evicted_keys_total",
		Help:      "Inert keys removed from the rate limiter table.",
	}, []string{"family"})

	// DedupEntries tracks the size of each dedup cache.
	DedupEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dedup_entries",
		Help:      "Entries held by the dedup cache, including expired ones not yet swept.",
	}, []string{"family"})

	// RecidivismEntries tracks the size of each recidivism cache.
	RecidivismEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recidivism_entries",
		Help:      "Keys held by the recidivism cache, including expired ones not yet purged.",
	}, []string{"family"})

	// JournalSizeBytes tracks the ban journal file size.
	JournalSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "journal_size_bytes",
		Help:      "Ban journal on-disk file size in bytes.",
	})

	// JournalPruned counts expired journal entries removed by the janitor.
	JournalPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_pruned_total",
		Help:      "Expired ban journal entries removed.",
	})
)
