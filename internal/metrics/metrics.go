package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by the ingestion pipeline.
type Metrics struct {
	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	ChainErrors     *prometheus.CounterVec
	ChainsSkipped   *prometheus.CounterVec
	LogsFetched     *prometheus.CounterVec
	RecordsDropped  *prometheus.CounterVec
	RecordsAppended *prometheus.CounterVec
	MirrorFailures  prometheus.Counter
	Archives        prometheus.Counter
	ArchiveFailures prometheus.Counter
	TornRecords     prometheus.Counter
	RPCLatency      *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "honeysnare_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "honeysnare_poll_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle across all chains",
			Buckets: prometheus.DefBuckets,
		}),
		ChainErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "honeysnare_chain_errors_total",
			Help: "Per-chain failures by stage and kind",
		}, []string{"chain", "stage", "kind"}),
		ChainsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "honeysnare_chains_skipped_total",
			Help: "Cycles where a chain was skipped because no contract is deployed",
		}, []string{"chain"}),
		LogsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "honeysnare_logs_fetched_total",
			Help: "Raw log entries returned by eth_getLogs",
		}, []string{"chain"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "honeysnare_records_dropped_total",
			Help: "Raw log entries dropped by the decoder",
		}, []string{"chain"}),
		RecordsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "honeysnare_records_appended_total",
			Help: "Event records appended to the log store",
		}, []string{"chain"}),
		MirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "honeysnare_mirror_failures_total",
			Help: "Records the mirror sinks failed to accept",
		}),
		Archives: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "honeysnare_archives_total",
			Help: "Archives written by log rotation",
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "honeysnare_archive_failures_total",
			Help: "Failed log rotations",
		}),
		TornRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "honeysnare_torn_records_total",
			Help: "Partial trailing records cut from the current log on open",
		}),
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "honeysnare_rpc_latency_seconds",
			Help:    "JSON-RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain", "method", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Cycles,
			m.CycleDuration,
			m.ChainErrors,
			m.ChainsSkipped,
			m.LogsFetched,
			m.RecordsDropped,
			m.RecordsAppended,
			m.MirrorFailures,
			m.Archives,
			m.ArchiveFailures,
			m.TornRecords,
			m.RPCLatency,
		)
	}
	return m
}

// ObserveRPC records the latency of one JSON-RPC call.
func (m *Metrics) ObserveRPC(chain, method string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(chain, method, status).Observe(time.Since(start).Seconds())
}
