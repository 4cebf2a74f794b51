package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ionpump"

var (
	registerOnce sync.Once

	deviceExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "exchanges_total",
			Help:      "Device request/response exchanges by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	deviceExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "exchange_duration_seconds",
			Help:      "Device exchange duration in seconds, write to framed reply.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"command"},
	)
	deviceConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "connected",
			Help:      "1 while the device session holds an open transport.",
		},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Namespace calls by method and result kind.",
		},
		[]string{"method", "kind"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Namespace call duration in seconds, including guard wait.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	guardWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "waiting",
			Help:      "Callers blocked waiting for exclusive device access.",
		},
	)
	rpcClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "clients",
			Help:      "Connected RPC client streams.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			deviceExchanges,
			deviceExchangeDuration,
			deviceConnected,
			rpcCalls,
			rpcDuration,
			guardWaiting,
			rpcClients,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordExchange(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	deviceExchanges.WithLabelValues(command, outcome).Inc()
	deviceExchangeDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func SetDeviceConnected(connected bool) {
	RegisterMetrics()
	if connected {
		deviceConnected.Set(1)
		return
	}
	deviceConnected.Set(0)
}

func RecordCall(method, kind string, duration time.Duration) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(method, kind).Inc()
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func SetGuardWaiting(n int64) {
	RegisterMetrics()
	guardWaiting.Set(float64(n))
}

func AddRPCClients(delta int) {
	RegisterMetrics()
	rpcClients.Add(float64(delta))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
