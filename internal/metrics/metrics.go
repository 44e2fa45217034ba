// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts persisted messages by category ("none" when uncategorized).
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_sent_total",
		Help: "Total number of messages accepted for delivery",
	}, []string{"category"})

	// MessagesBlocked counts sends refused by the permission evaluator.
	MessagesBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_blocked_total",
		Help: "Total number of messages blocked by permissions",
	}, []string{"direction"}) // direction: "outbound" or "inbound"

	// MessagesDelivered counts sent→delivered transitions by path.
	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_delivered_total",
		Help: "Total number of messages marked delivered",
	}, []string{"via"}) // via: "inbox" or "stream"

	// MessagesRead counts acknowledged messages.
	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_read_total",
		Help: "Total number of messages acknowledged by their recipient",
	})

	// AnnouncementsDelivered counts (announcement, agent) deliveries.
	AnnouncementsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_announcements_delivered_total",
		Help: "Total number of announcements delivered to agents",
	})

	// StreamWait observes how long stream requests were held open.
	StreamWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_stream_wait_seconds",
		Help:    "Time a stream request waited before returning",
		Buckets: []float64{0.05, 0.5, 1, 5, 10, 20, 30, 45, 60},
	}, []string{"outcome"}) // outcome: "messages", "timeout", "cancelled"

	// StreamActive tracks open stream requests.
	StreamActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_stream_active",
		Help: "Number of stream requests currently held open",
	})

	// PollErrors counts store errors swallowed inside the stream loop.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_stream_poll_errors_total",
		Help: "Total number of transient store errors during stream polling",
	})

	// WebhookDeliveries counts webhook attempts by result.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_deliveries_total",
		Help: "Total number of webhook notifications by result",
	}, []string{"result"}) // result: "ok", "error", "status", "throttled"

	// InvitesPruned counts invites removed by the janitor.
	InvitesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_invites_pruned_total",
		Help: "Total number of dead invites deleted",
	})
)
