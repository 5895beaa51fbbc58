// Package metrics holds the Prometheus collectors for the broker, sessions,
// and store, plus the /metrics and /health HTTP handlers. Naming follows
// the teacher's ws_* convention, renamed to the wb_* namespace.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_connections_total",
		Help: "Total client connections established, by transport",
	}, []string{"transport"})

	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wb_connections_active",
		Help: "Current active client connections, by transport",
	}, []string{"transport"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	ConnectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wb_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	}, []string{"reason"})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_requests_total",
		Help: "Total requests handled, by operation and outcome",
	}, []string{"operation", "outcome"})

	SubscriptionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wb_subscriptions_active",
		Help: "Current active subscriptions, by kind (subscribe, psubscribe, subscribe_ls)",
	}, []string{"kind"})

	StoreSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_store_size",
		Help: "Current number of stored key/value pairs",
	})

	BrokerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_broker_queue_depth",
		Help: "Current number of pending requests in the broker's inbound queue",
	})

	BrokerQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_broker_queue_capacity",
		Help: "Capacity of the broker's inbound queue",
	})

	AggregatorDroppedTasks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wb_aggregator_dropped_tasks_total",
		Help: "Total window-flush tasks dropped because the aggregator's worker pool queue was full",
	})

	PanicsRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_panics_recovered_total",
		Help: "Total panics recovered, by component",
	}, []string{"component"})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_process_memory_bytes",
		Help: "Current process memory usage in bytes",
	})

	MemoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_process_memory_limit_bytes",
		Help: "Container memory limit in bytes (from cgroup), 0 if undetected",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wb_process_cpu_percent",
		Help: "System-wide CPU usage percentage (smoothed)",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		DisconnectsTotal,
		ConnectionDuration,
		RequestsTotal,
		SubscriptionsActive,
		StoreSize,
		BrokerQueueDepth,
		BrokerQueueCapacity,
		AggregatorDroppedTasks,
		PanicsRecovered,
		MemoryUsageBytes,
		MemoryLimitBytes,
		CPUUsagePercent,
	)
}

// Server exposes /metrics and /health on addr.
type Server struct {
	addr string
}

// NewServer creates a metrics HTTP server bound to addr.
func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

// ListenAndServe blocks serving /metrics and /health. It returns when the
// listener fails; callers typically run it in its own goroutine. The
// underlying *http.Server is not exposed, so there is no way to shut it down
// short of process exit.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
