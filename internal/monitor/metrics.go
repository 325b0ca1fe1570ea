package monitor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"seqmon/internal/rpc"
)

var (
	refreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "refresh_total",
		Help:      "Completed refresh passes.",
	})
	refreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "refresh_failures_total",
		Help:      "Refresh passes aborted by a failed position listing.",
	})
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "reconnects_total",
		Help:      "Sessions established, including the first connect.",
	})
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "connected",
		Help:      "1 while a session is live, 0 otherwise.",
	})
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of one refresh pass.",
		Buckets:   prometheus.DefBuckets,
	})
	rpcFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seqmon",
		Subsystem: "monitor",
		Name:      "rpc_failures_total",
		Help:      "Failed remote calls by operation and status code.",
	}, []string{"op", "code"})
)

// observeRPCFailure counts a failed remote call under its operation and
// code labels. Errors outside the rpc taxonomy fall into "unknown".
func observeRPCFailure(err error) {
	op, code := "unknown", "unknown"
	var rpcErr *rpc.RPCError
	var timeoutErr *rpc.TimeoutError
	var connErr *rpc.ConnectionError
	switch {
	case errors.As(err, &rpcErr):
		op, code = rpcErr.Op, rpcErr.Code.String()
	case errors.As(err, &timeoutErr):
		op, code = timeoutErr.Op, "timeout"
	case errors.As(err, &connErr):
		op, code = "connect", "connection"
	}
	rpcFailures.WithLabelValues(op, code).Inc()
}
