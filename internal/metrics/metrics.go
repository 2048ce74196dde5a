// Package metrics registers the pipeline's Prometheus series, mirroring
// minis/50-mini-service-all-features's internal/metrics +
// middleware/metrics.go pattern, adapted from HTTP request metrics to the
// producer/consumer domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every series the producer and consumer update.
type Metrics struct {
	BlocksWalked          *prometheus.CounterVec
	TransactionsEnqueued  *prometheus.CounterVec
	TransactionsConsumed  *prometheus.CounterVec
	TransactionsProcessed *prometheus.CounterVec
	TransactionsSaved     *prometheus.CounterVec
	PartitionBacklog      *prometheus.GaugeVec
	RPCRetries            prometheus.Counter
	IdleTerminations      *prometheus.CounterVec
}

// New registers the pipeline's metrics against reg and returns them. Pass
// nil to register against prometheus.DefaultRegisterer (the production
// path, once per process); tests that construct more than one Metrics in
// the same binary should pass a fresh prometheus.NewRegistry() each time
// to avoid the duplicate-registration panic promauto otherwise raises.
func New(reg ...prometheus.Registerer) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if len(reg) > 0 && reg[0] != nil {
		registerer = reg[0]
	}
	factory := promauto.With(registerer)

	return &Metrics{
		BlocksWalked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_blocks_walked_total",
			Help: "Blocks fetched and persisted by the producer, by topic.",
		}, []string{"topic"}),
		TransactionsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_transactions_enqueued_total",
			Help: "Transaction hashes sent to the bus by the producer, by topic and mode.",
		}, []string{"topic", "mode"}),
		TransactionsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_transactions_consumed_total",
			Help: "Bus messages received by a consumer, by topic.",
		}, []string{"topic"}),
		TransactionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_transactions_processed_total",
			Help: "Transactions run through a Processor, by topic and mode.",
		}, []string{"topic", "mode"}),
		TransactionsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_transactions_saved_total",
			Help: "Transactions a Processor decided to persist, by topic and mode.",
		}, []string{"topic", "mode"}),
		PartitionBacklog: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chain_collector_partition_backlog",
			Help: "Last-observed counter-store backlog per partition.",
		}, []string{"topic", "partition"}),
		RPCRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "chain_collector_rpc_retries_total",
			Help: "Transient RPC errors that triggered a retry.",
		}),
		IdleTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_collector_idle_terminations_total",
			Help: "Consumer loops that exited cleanly on ErrPartitionsIdle, by topic.",
		}, []string{"topic"}),
	}
}
