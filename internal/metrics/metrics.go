package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceRoot = "faucet_relayer"

// Ingestion paths
const (
	PathSubscription = "subscription"
	PathPoll         = "poll"
)

// Outcomes
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the relay instruments
type Metrics struct {
	ClaimsReceived      *prometheus.CounterVec
	ClaimsDuplicate     prometheus.Counter
	ClaimsSkipped       prometheus.Counter
	DecodeErrors        prometheus.Counter
	Submissions         *prometheus.CounterVec
	Acknowledgements    *prometheus.CounterVec
	SubscriptionRefresh prometheus.Counter
	SubscriptionErrors  prometheus.Counter
	QueueDropped        prometheus.Counter
	Watermark           prometheus.Gauge
	FaucetBalance       prometheus.Gauge
	SubscriptionUp      prometheus.Gauge
}

// NewMetrics registers every instrument with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClaimsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "claims_received_total",
			Help:      "number of claim events decoded, by ingestion path",
		}, []string{"path"}),
		ClaimsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "claims_duplicate_total",
			Help:      "number of claims rejected by the deduplicator",
		}),
		ClaimsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "claims_skipped_total",
			Help:      "number of claims without a requester public key",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "decode_errors_total",
			Help:      "number of messages dropped because they could not be decoded",
		}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "submissions_total",
			Help:      "number of funding bundles submitted, by result",
		}, []string{"result"}),
		Acknowledgements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "acknowledgements_total",
			Help:      "number of ClaimSuccess calls sent back to the source contract, by result",
		}, []string{"result"}),
		SubscriptionRefresh: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "subscription_refreshes_total",
			Help:      "number of scheduled subscription refreshes",
		}),
		SubscriptionErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "subscription_errors_total",
			Help:      "number of errors reported by the live feed",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceRoot,
			Name:      "queue_dropped_total",
			Help:      "number of messages dropped because the queue was full",
		}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceRoot,
			Name:      "watermark",
			Help:      "highest admitted claim id",
		}),
		FaucetBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceRoot,
			Name:      "faucet_balance_mutez",
			Help:      "faucet balance reported after the last successful submission",
		}),
		SubscriptionUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceRoot,
			Name:      "subscription_up",
			Help:      "1 while the live feed is subscribed",
		}),
	}
}

// NewNopMetrics returns instruments registered nowhere
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
