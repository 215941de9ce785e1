package observe

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the operational collectors for the ingestion pipeline.
type Metrics struct {
	ReportsIngested      prometheus.Counter
	ReportsRejected      prometheus.Counter
	NotificationsFired   prometheus.Counter
	NotificationsDropped prometheus.Counter
	ClientsEvicted       prometheus.Counter
	QueueDepth           prometheus.Gauge
	MergeLatency         prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_reports_ingested_total",
			Help: "Reports parsed and merged into the store.",
		}),
		ReportsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_reports_rejected_total",
			Help: "Reports rejected as invalid payloads.",
		}),
		NotificationsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_notifications_fired_total",
			Help: "Notification events enqueued for dispatch.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_notifications_dropped_total",
			Help: "Notification events dropped by backpressure or after retry exhaustion.",
		}),
		ClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetryd_clients_evicted_total",
			Help: "Client records removed by TTL eviction.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetryd_notify_queue_depth",
			Help: "Current number of events buffered in the dispatch queue.",
		}),
		MergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetryd_merge_latency_seconds",
			Help:    "Latency of a single report merge into the store.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.ReportsIngested,
		m.ReportsRejected,
		m.NotificationsFired,
		m.NotificationsDropped,
		m.ClientsEvicted,
		m.QueueDepth,
		m.MergeLatency,
	)

	return m
}
