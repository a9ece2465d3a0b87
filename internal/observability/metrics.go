package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	messagesSentTotal    *prometheus.CounterVec
	moderationFlagsTotal *prometheus.CounterVec
	fanoutFailuresTotal  *prometheus.CounterVec
	eventsPublishedTotal *prometheus.CounterVec
	scheduledDelivered   prometheus.Counter
	websocketConnsActive prometheus.Gauge
	attachmentUploads    *prometheus.CounterVec
	attachmentRejected   *prometheus.CounterVec
	attachmentLatency    prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors for the messaging API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_requests_total",
			Help: "Total number of messaging API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "messaging_latency_seconds",
			Help:    "Latency distribution for messaging API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_errors_total",
			Help: "Total number of error responses returned by messaging endpoints.",
		}, []string{"method", "route", "status"})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Total number of messages persisted, by content type.",
		}, []string{"type"})

		moderationFlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_moderation_flags_total",
			Help: "Total number of moderation flags attached to messages.",
		}, []string{"flag_type", "source"})

		fanoutFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_fanout_failures_total",
			Help: "Best-effort fan-out deliveries that failed after commit.",
		}, []string{"channel"})

		eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_events_published_total",
			Help: "Domain events published to live channels.",
		}, []string{"type"})

		scheduledDelivered = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messaging_scheduled_deliveries_total",
			Help: "Scheduled messages delivered by the sweep loop.",
		})

		websocketConnsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "messaging_websocket_connections_active",
			Help: "Currently connected websocket clients.",
		})

		attachmentUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_attachment_uploads_total",
			Help: "Attachments accepted and stored, by detected type.",
		}, []string{"type"})

		attachmentRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_attachment_rejections_total",
			Help: "Attachment uploads rejected during validation.",
		}, []string{"reason"})

		attachmentLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "messaging_attachment_upload_seconds",
			Help:    "Latency distribution for attachment uploads.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			messagesSentTotal,
			moderationFlagsTotal,
			fanoutFailuresTotal,
			eventsPublishedTotal,
			scheduledDelivered,
			websocketConnsActive,
			attachmentUploads,
			attachmentRejected,
			attachmentLatency,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// MessagesSent exposes the sent-message counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// ModerationFlags exposes the moderation flag counter.
func ModerationFlags() *prometheus.CounterVec {
	RegisterMetrics()
	return moderationFlagsTotal
}

// FanoutFailures exposes the fan-out failure counter.
func FanoutFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return fanoutFailuresTotal
}

// EventsPublished exposes the domain event counter.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPublishedTotal
}

// ScheduledDeliveries exposes the scheduled delivery counter.
func ScheduledDeliveries() prometheus.Counter {
	RegisterMetrics()
	return scheduledDelivered
}

// WebsocketConnections exposes the live connection gauge.
func WebsocketConnections() prometheus.Gauge {
	RegisterMetrics()
	return websocketConnsActive
}

// AttachmentUploads exposes the accepted upload counter.
func AttachmentUploads() *prometheus.CounterVec {
	RegisterMetrics()
	return attachmentUploads
}

// AttachmentRejected exposes the rejected upload counter.
func AttachmentRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return attachmentRejected
}

// AttachmentLatency exposes the upload latency histogram.
func AttachmentLatency() prometheus.Histogram {
	RegisterMetrics()
	return attachmentLatency
}
