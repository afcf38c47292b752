package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter and gauge the node exposes, registered once
// at startup. Grounded on the pack's own prometheus usage (e.g.
// lasthyphen-council-nodes/vms/metervm), adapted from its per-method
// averager pattern to plain counters/gauges since this node's operations
// are not individually timed in the spec.
type Metrics struct {
	MempoolSize        prometheus.Gauge
	MempoolBytes       prometheus.Gauge
	QuarantinedPeers   prometheus.Gauge
	ConnectedPeers     prometheus.Gauge
	SubscriberDrops    prometheus.Counter
	TransactionsVoted  prometheus.Counter
	TransactionsRejected prometheus.Counter
	BlocksProduced     prometheus.Counter
	BlockRoundsFailed  prometheus.Counter
	ByzantineReports   prometheus.Counter
}

// NewMetrics constructs and registers every metric against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the global
// DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timecore", Subsystem: "mempool", Name: "size",
			Help: "Number of transactions currently held in the mempool.",
		}),
		MempoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timecore", Subsystem: "mempool", Name: "bytes",
			Help: "Approximate byte size of the mempool, including per-entry overhead.",
		}),
		QuarantinedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timecore", Subsystem: "peers", Name: "quarantined",
			Help: "Number of peers currently quarantined.",
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timecore", Subsystem: "peers", Name: "connected",
			Help: "Number of currently connected peers.",
		}),
		SubscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "utxo", Name: "subscriber_drops_total",
			Help: "UTXO state notifications dropped because a subscriber's channel was full.",
		}),
		TransactionsVoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "finality", Name: "transactions_approved_total",
			Help: "Transactions that reached weighted vote quorum and were approved.",
		}),
		TransactionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "finality", Name: "transactions_rejected_total",
			Help: "Transactions rejected or timed out before reaching quorum.",
		}),
		BlocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "blocks", Name: "produced_total",
			Help: "Settlement blocks this node finalized locally.",
		}),
		BlockRoundsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "blocks", Name: "rounds_failed_total",
			Help: "Block production rounds that failed to reach masternode-count quorum.",
		}),
		ByzantineReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timecore", Subsystem: "finality", Name: "byzantine_reports_total",
			Help: "Conflicting or duplicate votes observed from a single masternode.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.MempoolSize, m.MempoolBytes, m.QuarantinedPeers, m.ConnectedPeers,
		m.SubscriberDrops, m.TransactionsVoted, m.TransactionsRejected,
		m.BlocksProduced, m.BlockRoundsFailed, m.ByzantineReports,
	} {
		reg.MustRegister(c)
	}
	return m
}
