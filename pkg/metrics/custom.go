package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "custody"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "route", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "target", "state"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "target", "state"}, // state: closed/open/half-open
	)

	// OpsTotal 账户操作，result 为 ok 或错误码
	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Account operations by op and result.",
		},
		[]string{"op", "result"},
	)

	JournalAppendSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "journal_append_seconds",
		Help:      "Journal append+flush latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
	})

	OutboxLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_lag_bytes",
			Help:      "Journal bytes not yet delivered to a sink.",
		},
		[]string{"sink"},
	)

	OutboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_delivered_total",
			Help:      "Events delivered to sinks.",
		},
		[]string{"sink", "result"},
	)

	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open event stream connections.",
	})

	Accounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "accounts",
		Help:      "Accounts held in memory.",
	})
)

func MustRegister() {
	prometheus.MustRegister(
		RateLimitBlockTotal, CBRejectTotal, CBState,
		OpsTotal, JournalAppendSeconds, OutboxLag, OutboxDelivered,
		WsConnections, Accounts,
	)
}
