// Package metrics exposes execution counters through Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the kernel metrics. All methods are safe on a nil Collector.
type Collector struct {
	transactions  *prometheus.CounterVec
	aborts        *prometheus.CounterVec
	invocations   prometheus.Counter
	lockConflicts prometheus.Counter
	nodesCreated  prometheus.Counter
	duration      prometheus.Histogram
}

// NewCollector creates the metrics and registers them with reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Name:      "transactions_total",
			Help:      "Executed transactions by outcome",
		}, []string{"outcome"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kernel",
			Name:      "aborts_total",
			Help:      "Aborted transactions by error class",
		}, []string{"class"}),
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernel",
			Name:      "invocations_total",
			Help:      "Pushed call frames",
		}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernel",
			Name:      "lock_conflicts_total",
			Help:      "Substate opens rejected because of a conflicting lock",
		}),
		nodesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kernel",
			Name:      "nodes_created_total",
			Help:      "Nodes created by blueprints",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kernel",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction execution time",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		for _, m := range []prometheus.Collector{c.transactions, c.aborts, c.invocations, c.lockConflicts, c.nodesCreated, c.duration} {
			if err := reg.Register(m); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// ObserveTransaction records a finished transaction
func (c *Collector) ObserveTransaction(outcome, class string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(outcome).Inc()
	if class != "" {
		c.aborts.WithLabelValues(class).Inc()
	}
	c.duration.Observe(elapsed.Seconds())
}

// IncInvocation counts a pushed call frame
func (c *Collector) IncInvocation() {
	if c == nil {
		return
	}
	c.invocations.Inc()
}

// IncLockConflict counts a rejected substate open
func (c *Collector) IncLockConflict() {
	if c == nil {
		return
	}
	c.lockConflicts.Inc()
}

// IncNodeCreated counts a created node
func (c *Collector) IncNodeCreated() {
	if c == nil {
		return
	}
	c.nodesCreated.Inc()
}
