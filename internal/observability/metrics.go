package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaguard",
		Name:      "decisions_total",
		Help:      "Moderation decisions by content type, decision and duplicate status",
	}, []string{"content_type", "decision", "duplicate"})

	ClassifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaguard",
		Name:      "classifier_calls_total",
		Help:      "Frame classifier calls by outcome",
	}, []string{"outcome"})

	ClassifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mediaguard",
		Name:      "classifier_duration_seconds",
		Help:      "Latency of a single frame classification",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	FramesClassified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaguard",
		Name:      "frames_classified_total",
		Help:      "Dense video frames whose classification was committed",
	})

	EarlyTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaguard",
		Name:      "early_terminations_total",
		Help:      "Video analyses stopped at the first flagged frame",
	})

	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaguard",
		Name:      "store_query_duration_seconds",
		Help:      "Fingerprint store query latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	PrefilterCandidates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaguard",
		Name:      "prefilter_candidates",
		Help:      "Rows admitted by the band pre-filter before exact distance",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"content_type"})

	BloomPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaguard",
		Name:      "bloom_pruned_total",
		Help:      "Band values dropped by the Bloom filter, or skipped lookups when it is not ready",
	}, []string{"result"})

	ActiveVideos = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaguard",
		Name:      "active_videos",
		Help:      "Videos currently being analysed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaguard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "code"})
)
