package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "active_connections",
		Help:      "Number of currently open device sessions.",
	})

	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "connects_total",
		Help:      "Total WebSocket connections accepted.",
	})

	metricDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "disconnects_total",
		Help:      "Total sessions closed.",
	})

	metricMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "messages_received_total",
		Help:      "Inbound messages by kind.",
	}, []string{"kind"})

	metricMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "messages_sent_total",
		Help:      "Outbound messages by kind.",
	}, []string{"kind"})

	metricSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "send_errors_total",
		Help:      "Outbound sends that failed.",
	})

	metricBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "bytes_received_total",
		Help:      "Total inbound payload bytes.",
	})

	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "bytes_sent_total",
		Help:      "Total outbound payload bytes.",
	})

	metricVersionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marquee",
		Subsystem: "server",
		Name:      "version_checks_total",
		Help:      "Version negotiation outcomes.",
	}, []string{"result"})
)
