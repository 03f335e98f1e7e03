package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnbin_paste_reads_total",
			Help: "no. of paste reads by outcome",
		},
		[]string{"outcome"},
	)
	PasteBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_paste_burned_total",
		Help: "no. of single-read pastes consumed",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_paste_deleted_total",
		Help: "no. of pastes deleted by their owner",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_render_cache_hits_total",
		Help: "no. of render cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_render_cache_misses_total",
		Help: "no. of render cache misses",
	})
	HighlightDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "burnbin_highlight_duration_seconds",
		Help:    "time spent highlighting a paste",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burnbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burnbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	PrunedPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burnbin_pruned_pastes_total",
		Help: "no. of expired pastes removed by the cleanup worker",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "burnbin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
