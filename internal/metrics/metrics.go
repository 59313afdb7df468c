// Package metrics holds the Prometheus instrumentation shared by the SMTP
// and POP3 servers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatmail_connections_total",
			Help: "Total number of connections accepted",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flatmail_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"protocol"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatmail_authentication_attempts_total",
			Help: "Total number of POP3 authentication attempts",
		},
		[]string{"result"},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatmail_messages_delivered_total",
			Help: "Total number of per-recipient mailbox deliveries",
		},
	)

	DeliveryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatmail_delivery_errors_total",
			Help: "Total number of failed per-recipient mailbox deliveries",
		},
	)

	MessagesExpunged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatmail_messages_expunged_total",
			Help: "Total number of messages removed by POP3 commits",
		},
	)
)
