package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalogsync/internal/batch"
)

// Metrics collects catalog sync counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	gatherer      prometheus.Gatherer
	batchItems    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	autoSyncRuns  *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_batch_items_total",
			Help: "Items handled by batch jobs by outcome and error kind.",
		}, []string{"job", "outcome", "kind"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalogsync_batch_duration_seconds",
			Help:    "Wall time of batch jobs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		autoSyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_autosync_ticks_total",
			Help: "Auto-sync ticks by result.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogsync_shopify_webhooks_total",
			Help: "Inbound Shopify product webhooks by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.batchItems, m.batchDuration, m.autoSyncRuns, m.webhooks)
	return m
}

var _ batch.Observer = (*Metrics)(nil)

func (m *Metrics) ObserveItem(job string, outcome batch.Outcome, kind string) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(job, string(outcome), kind).Inc()
}

func (m *Metrics) ObserveBatch(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) AutoSyncTick(result string) {
	if m == nil {
		return
	}
	m.autoSyncRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
