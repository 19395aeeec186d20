package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfaces",
		Name:      "images_ingested_total",
		Help:      "Total number of images submitted for ingestion",
	}, []string{"outcome"})

	FacesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventfaces",
		Name:      "faces_indexed_total",
		Help:      "Total number of face embeddings committed to the index",
	})

	ExtractionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventfaces",
		Name:      "extraction_failures_total",
		Help:      "Total number of face extraction errors",
	})

	CorruptEmbeddings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventfaces",
		Name:      "corrupt_embeddings_total",
		Help:      "Total number of stored embeddings skipped because they failed to decode",
	})

	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfaces",
		Name:      "searches_total",
		Help:      "Total number of probe searches",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventfaces",
		Name:      "stage_duration_seconds",
		Help:      "Duration of ingestion and search stages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"stage"})

	IndexedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventfaces",
		Name:      "indexed_events",
		Help:      "Number of events held by the registry",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventfaces",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	IndexStreamMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventfaces",
		Name:      "index_stream_messages",
		Help:      "Index change notifications retained in the NATS stream",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventfaces",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
