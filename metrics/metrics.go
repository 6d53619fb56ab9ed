package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WriteBatchSize tracks the number of commands drained by one flush
	WriteBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqbatch_write_batch_size",
			Help:    "Number of commands executed per flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"database"},
	)

	// WriteFlushLatency tracks how long a flush holds the queue, by trigger
	WriteFlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqbatch_write_flush_latency_seconds",
			Help:    "Flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database", "trigger"},
	)

	// WriteCommandsTotal counts settled commands by query_type and status
	WriteCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqbatch_write_commands_total",
			Help: "Total number of settled write commands",
		},
		[]string{"database", "query_type", "status"},
	)

	// WriteCommandDelay tracks time from enqueue to completion
	WriteCommandDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqbatch_write_command_delay_seconds",
			Help:    "Time between enqueue and completion of a command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"database"},
	)

	// WriteRetriesTotal counts transactions re-run after a statement failed
	WriteRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqbatch_write_retries_total",
			Help: "Total number of flush retries after a failed statement",
		},
		[]string{"database"},
	)

	// WriteQueueDepth is the number of commands waiting for a flush
	WriteQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tqbatch_write_queue_depth",
			Help: "Number of queued write commands",
		},
		[]string{"database"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(WriteBatchSize)
		prometheus.MustRegister(WriteFlushLatency)
		prometheus.MustRegister(WriteCommandsTotal)
		prometheus.MustRegister(WriteCommandDelay)
		prometheus.MustRegister(WriteRetriesTotal)
		prometheus.MustRegister(WriteQueueDepth)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
