package magpie

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smtpserver_connections_total",
		Help: "Incoming SMTP connections.",
	})
	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smtpserver_messages_accepted_total",
		Help: "Messages accepted and handed to the store.",
	})
	metricDeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smtpserver_delivery_failures_total",
		Help: "Messages the store refused, by failure kind.",
	}, []string{"kind"})
	metricAuth = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smtpserver_authentications_total",
		Help: "AUTH attempts, by mechanism and result.",
	}, []string{"mechanism", "result"})
)

func metricConnectionsInc() {
	metricConnections.Inc()
}

func metricMessagesInc() {
	metricMessages.Inc()
}

func metricDeliveryFailureInc(kind string) {
	metricDeliveryFailures.WithLabelValues(kind).Inc()
}

func metricAuthInc(mechanism, result string) {
	metricAuth.WithLabelValues(mechanism, result).Inc()
}
