package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はジョブ処理の Prometheus メトリクスです。nil でも呼び出せます。
type Metrics struct {
	submissions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	duration    prometheus.Histogram
	queueDepth  prometheus.Gauge
	running     prometheus.Gauge
	abandoned   prometheus.Counter
}

// NewMetrics はメトリクスを作成し、reg が nil でなければ登録します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcription",
			Name:      "submissions_total",
			Help:      "Submit calls by result (created or deduplicated).",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transcription",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by status and error kind.",
		}, []string{"status", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "transcription",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall-clock time spent in the transcription pipeline per job.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker across all guilds.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "jobs_running",
			Help:      "Jobs currently held by a worker.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcription",
			Name:      "pipeline_abandoned_total",
			Help:      "Pipeline calls abandoned after the job timeout.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.outcomes, m.duration, m.queueDepth, m.running, m.abandoned)
	}
	return m
}

func (m *Metrics) submitted(created bool) {
	if m == nil {
		return
	}
	result := "deduplicated"
	if created {
		result = "created"
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) finished(job Job) {
	if m == nil {
		return
	}
	kind := ""
	if job.Error != nil {
		kind = string(job.Error.Kind)
	}
	m.outcomes.WithLabelValues(string(job.Status), kind).Inc()
}

func (m *Metrics) observePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) workerBusy(delta float64) {
	if m == nil {
		return
	}
	m.running.Add(delta)
}

func (m *Metrics) pipelineAbandoned() {
	if m == nil {
		return
	}
	m.abandoned.Inc()
}
