package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for adpilot
type Metrics struct {
	CampaignsCreatedTotal prometheus.Counter
	StepFailuresTotal     *prometheus.CounterVec
	ActivationsTotal      *prometheus.CounterVec
	ScheduleFiresTotal    *prometheus.CounterVec
	SchedulesPending      prometheus.Gauge

	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	UptimeSeconds prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
}

// New creates a Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CampaignsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_campaigns_created_total",
			Help: "Total number of campaigns fully created",
		}),
		StepFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_campaign_step_failures_total",
			Help: "Creation pipeline failures by step",
		}, []string{"step"}),
		ActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_activations_total",
			Help: "Campaign activation attempts by result",
		}, []string{"result"}),
		ScheduleFiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_schedule_fires_total",
			Help: "Scheduled activation jobs fired by result",
		}, []string{"result"}),
		SchedulesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adpilot_schedules_pending",
			Help: "Number of pending activation jobs",
		}),
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "path", "status"}),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adpilot_api_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adpilot_uptime_seconds",
			Help: "Seconds since process start",
		}),
		registry:  reg,
		startTime: time.Now(),
	}

	reg.MustRegister(
		m.CampaignsCreatedTotal,
		m.StepFailuresTotal,
		m.ActivationsTotal,
		m.ScheduleFiresTotal,
		m.SchedulesPending,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.UptimeSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// CampaignCreated counts a fully created campaign
func (m *Metrics) CampaignCreated() {
	m.CampaignsCreatedTotal.Inc()
}

// StepFailed counts a pipeline step failure
func (m *Metrics) StepFailed(step string) {
	m.StepFailuresTotal.WithLabelValues(step).Inc()
}

// Activation counts an activation attempt by result (ok, mismatch, error)
func (m *Metrics) Activation(result string) {
	m.ActivationsTotal.WithLabelValues(result).Inc()
}

// ScheduleFired counts a fired job by result (completed, failed, skipped)
func (m *Metrics) ScheduleFired(result string) {
	m.ScheduleFiresTotal.WithLabelValues(result).Inc()
}

// SetPendingSchedules updates the pending jobs gauge
func (m *Metrics) SetPendingSchedules(n int) {
	m.SchedulesPending.Set(float64(n))
}

// APIRequest records one HTTP API request
func (m *Metrics) APIRequest(method, path string, status int, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the scrape handler, refreshing uptime on each scrape
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		inner.ServeHTTP(w, r)
	})
}
