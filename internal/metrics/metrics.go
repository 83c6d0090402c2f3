package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the panel's Prometheus collectors. A nil *Registry is valid
// and records nothing.
type Registry struct {
	registry           *prometheus.Registry
	submissionsTotal   *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	readsTotal         *prometheus.CounterVec
	refreshesTotal     prometheus.Counter
	replaysTotal       *prometheus.CounterVec
	confirming         prometheus.Gauge
}

func New() *Registry {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changecalc_submissions_total",
		Help: "Write actions by outcome of the submission step",
	}, []string{"action", "status"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changecalc_confirmations_total",
		Help: "Tracked transactions by final result",
	}, []string{"result"})

	reads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changecalc_snapshot_reads_total",
		Help: "Contract field reads issued by snapshot refreshes",
	}, []string{"field", "result"})

	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "changecalc_snapshot_refreshes_total",
		Help: "Snapshot refreshes issued",
	})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "changecalc_idempotent_replays_total",
		Help: "Submissions answered from the idempotency store",
	}, []string{"action"})

	confirming := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "changecalc_confirming",
		Help: "1 while a submitted transaction awaits confirmation",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, confirmations, reads, refreshes, replays, confirming)

	return &Registry{
		registry:           r,
		submissionsTotal:   submissions,
		confirmationsTotal: confirmations,
		readsTotal:         reads,
		refreshesTotal:     refreshes,
		replaysTotal:       replays,
		confirming:         confirming,
	}
}

func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncSubmission(action, status string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(action, status).Inc()
}

func (m *Registry) IncConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(result).Inc()
}

func (m *Registry) IncRead(field, result string) {
	if m == nil {
		return
	}
	m.readsTotal.WithLabelValues(field, result).Inc()
}

func (m *Registry) IncRefresh() {
	if m == nil {
		return
	}
	m.refreshesTotal.Inc()
}

func (m *Registry) IncReplay(action string) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(action).Inc()
}

func (m *Registry) SetConfirming(on bool) {
	if m == nil {
		return
	}
	if on {
		m.confirming.Set(1)
		return
	}
	m.confirming.Set(0)
}
