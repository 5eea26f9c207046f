package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus 指标集合；nil 接收者的方法均为空操作
type Prometheus struct {
	registry *prometheus.Registry

	packetsReceived   prometheus.Counter
	readingsStored    prometheus.Counter
	readingsFailed    *prometheus.CounterVec
	readingsDropped   prometheus.Counter
	processingSeconds prometheus.Histogram
	linkState         prometheus.Gauge
	pollRuns          *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New 创建并注册到独立 registry
func New() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "envsensor_packets_received_total",
			Help: "Raw notification payloads received from the sensor node.",
		}),
		readingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "envsensor_readings_stored_total",
			Help: "Readings appended to the telemetry store.",
		}),
		readingsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envsensor_readings_failed_total",
			Help: "Readings that failed by pipeline stage.",
		}, []string{"stage"}),
		readingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "envsensor_readings_dropped_total",
			Help: "Drafts dropped because the enrichment queue was full.",
		}),
		processingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "envsensor_processing_duration_seconds",
			Help:    "Time from decode to store append.",
			Buckets: prometheus.DefBuckets,
		}),
		linkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "envsensor_link_state",
			Help: "Link state (0 idle, 1 scanning, 2 connecting, 3 connected, 4 subscribed).",
		}),
		pollRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envsensor_poll_runs_total",
			Help: "Remote snapshot polls by result.",
		}, []string{"result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envsensor_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "envsensor_http_request_duration_seconds",
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.packetsReceived,
		m.readingsStored,
		m.readingsFailed,
		m.readingsDropped,
		m.processingSeconds,
		m.linkState,
		m.pollRuns,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Handler /metrics
func (m *Prometheus) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 底层 registry（测试用）
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) PacketReceived() {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
}

func (m *Prometheus) ReadingStored(d time.Duration) {
	if m == nil {
		return
	}
	m.readingsStored.Inc()
	m.processingSeconds.Observe(d.Seconds())
}

func (m *Prometheus) ReadingFailed(stage string) {
	if m == nil {
		return
	}
	m.readingsFailed.WithLabelValues(stage).Inc()
}

func (m *Prometheus) ReadingDropped() {
	if m == nil {
		return
	}
	m.readingsDropped.Inc()
}

func (m *Prometheus) SetLinkState(state int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(state))
}

func (m *Prometheus) PollRun(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.pollRuns.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler 记录请求数与耗时
func (m *Prometheus) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
