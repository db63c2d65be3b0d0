// Package metrics provides Prometheus instrumentation for the Converse chat
// service. It exposes gauges for connection counts, counters for message and
// seen-notification throughput, and a histogram for delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "converse_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with a registered presence entry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "converse_online_users",
		Help: "Current number of users with a live connection",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "sent", "failed", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// SeenNotificationsTotal counts messagesSeen events emitted.
	SeenNotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "converse_seen_notifications_total",
		Help: "Total number of messagesSeen notifications emitted",
	})

	// DeliveryLatency records end-to-end send-message handling latency.
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "converse_delivery_latency_seconds",
		Help:    "Send-message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// OTPMailsTotal counts OTP emails processed by the mailer, labeled by
	// outcome: "sent" or "failed".
	OTPMailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_otp_mails_total",
		Help: "Total number of OTP emails processed by the mailer",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		SeenNotificationsTotal,
		DeliveryLatency,
		OTPMailsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
