package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "image_promoter"

// Recorder stores all the metrics of the controller loops.
type Recorder struct {
	registry *prometheus.Registry

	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	tags         *prometheus.GaugeVec
	resolved     *prometheus.GaugeVec
	runsTotal    *prometheus.CounterVec
	commitsTotal *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry. Process and Go runtime
// collectors are registered alongside.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Registry scans, grouped by repository and result reason.",
			}, []string{"repository", "result"}),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of registry scans.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"repository"}),
		tags: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "repository_tags",
				Help:      "Number of tags found by the last successful scan.",
			}, []string{"repository"}),
		resolved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "policy_resolved_info",
				Help:      "Currently resolved image reference of a policy, always 1.",
			}, []string{"policy", "image", "tag"}),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "update_runs_total",
				Help:      "Update automation runs, grouped by automation and outcome.",
			}, []string{"automation", "outcome"}),
		commitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Commits pushed by update automations.",
			}, []string{"automation"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.scansTotal,
		r.scanDuration,
		r.tags,
		r.resolved,
		r.runsTotal,
		r.commitsTotal,
	)
	return r
}

// Handler serves the metrics of the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the registry all metrics of the recorder are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordScan records a finished scan. tagCount is only recorded for successful scans.
func (r *Recorder) RecordScan(repository, result string, duration time.Duration, tagCount int, success bool) {
	r.scansTotal.WithLabelValues(repository, result).Inc()
	r.scanDuration.WithLabelValues(repository).Observe(duration.Seconds())
	if success {
		r.tags.WithLabelValues(repository).Set(float64(tagCount))
	}
}

// SetResolved replaces the resolved reference of a policy. An empty tag removes it.
func (r *Recorder) SetResolved(policy, image, tag string) {
	r.resolved.DeletePartialMatch(prometheus.Labels{"policy": policy})
	if tag != "" {
		r.resolved.WithLabelValues(policy, image, tag).Set(1)
	}
}

// RecordRun records a finished update run and counts its commit.
func (r *Recorder) RecordRun(automation, outcome string, committed bool) {
	r.runsTotal.WithLabelValues(automation, outcome).Inc()
	if committed {
		r.commitsTotal.WithLabelValues(automation).Inc()
	}
}

// ForgetRepository removes the gauges of a repository that is no longer configured.
func (r *Recorder) ForgetRepository(repository string) {
	r.tags.DeleteLabelValues(repository)
}

// ForgetPolicy removes the resolved reference of a policy that is no longer configured.
func (r *Recorder) ForgetPolicy(policy string) {
	r.resolved.DeletePartialMatch(prometheus.Labels{"policy": policy})
}
