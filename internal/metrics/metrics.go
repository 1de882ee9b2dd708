// Package metrics exposes Prometheus instruments for pipeline runs. Every
// Metrics value owns a private registry, so independent instances (tests,
// one-shot CLI runs) never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quill"

// Metrics holds the pipeline instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal              *prometheus.CounterVec
	StageDuration          *prometheus.HistogramVec
	ImageItems             *prometheus.CounterVec
	PlaceholdersLost       prometheus.Counter
	PlaceholdersReinserted prometheus.Counter
	TopicsMined            *prometheus.CounterVec
	Announcements          *prometheus.CounterVec
	ArticleViews           prometheus.Counter
}

// New builds the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome (published, no_work, aborted).",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		ImageItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_items_total",
			Help:      "Image placeholders by result (resolved, failed, capped).",
		}, []string{"result"}),
		PlaceholdersLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placeholders_lost_total",
			Help:      "Placeholders dropped by editor passes.",
		}),
		PlaceholdersReinserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placeholders_reinserted_total",
			Help:      "Lost placeholders put back after editing.",
		}),
		TopicsMined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_mined_total",
			Help:      "Mined topics stored, by initial status.",
		}, []string{"status"}),
		Announcements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Channel announcements by result (sent, failed, skipped).",
		}, []string{"result"}),
		ArticleViews: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "article_views_total",
			Help:      "Article views recorded through the API.",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun counts a finished run.
func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveImages records per-item image results.
func (m *Metrics) ObserveImages(resolved, failed, capped int) {
	if m == nil {
		return
	}
	m.ImageItems.WithLabelValues("resolved").Add(float64(resolved))
	m.ImageItems.WithLabelValues("failed").Add(float64(failed))
	m.ImageItems.WithLabelValues("capped").Add(float64(capped))
}

// ObservePlaceholders records placeholder loss during editing.
func (m *Metrics) ObservePlaceholders(lost, reinserted int) {
	if m == nil {
		return
	}
	m.PlaceholdersLost.Add(float64(lost))
	m.PlaceholdersReinserted.Add(float64(reinserted))
}

// ObserveMined counts stored topics by status.
func (m *Metrics) ObserveMined(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TopicsMined.WithLabelValues(status).Add(float64(n))
}

// ObserveAnnouncement counts an announcement attempt.
func (m *Metrics) ObserveAnnouncement(result string) {
	if m == nil {
		return
	}
	m.Announcements.WithLabelValues(result).Inc()
}

// ObserveView counts an article view.
func (m *Metrics) ObserveView() {
	if m == nil {
		return
	}
	m.ArticleViews.Inc()
}
