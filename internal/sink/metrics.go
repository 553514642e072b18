package sink

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	connections        prometheus.Counter
	messagesReceived   prometheus.Counter
	authFailures       prometheus.Counter
	rejectedRecipients prometheus.Counter
}

// NewMetrics creates the sink counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_smtp_connections_total",
			Help: "Number of accepted SMTP connections.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_smtp_messages_received_total",
			Help: "Number of messages stored after DATA.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_smtp_auth_failures_total",
			Help: "Number of rejected AUTH attempts.",
		}),
		rejectedRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sink_smtp_rejected_recipients_total",
			Help: "Number of RCPT TO commands rejected for unknown local recipients.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.connections, m.messagesReceived, m.authFailures, m.rejectedRecipients)
	}

	return m
}
