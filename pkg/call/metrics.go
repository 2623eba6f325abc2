package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics prometheus метрики сессий вызова.
//
// Все методы безопасны для nil получателя: без метрик сессия работает так же.
type Metrics struct {
	snapshots      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	actions        *prometheus.CounterVec
	tones          *prometheus.CounterVec
	entitlements   *prometheus.CounterVec
	resyncs        *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	const subsystem = "call"
	f := promauto.With(reg)
	return &Metrics{
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshots_total",
			Help:      "Session snapshots processed, by reconciliation verdict",
		}, []string{"verdict"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Call state machine transitions",
		}, []string{"from", "to"}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Local call actions, by result",
		}, []string{"action", "result"}),
		tones: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tones_total",
			Help:      "Tone send requests, by result",
		}, []string{"result"}),
		entitlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entitlement_checks_total",
			Help:      "Video entitlement checks, by result",
		}, []string{"result"}),
		resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resync_total",
			Help:      "Corrective snapshot fetches after desynchronization",
		}, []string{"result"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Sessions currently tracked by the registry",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := CodeOf(err); code != 0 {
		return code.String()
	}
	return "error"
}

func (m *Metrics) snapshot(v Verdict) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(v.String()).Inc()
}

func (m *Metrics) transition(from, to CallState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) action(name string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(name, resultLabel(err)).Inc()
}

func (m *Metrics) tone(err error) {
	if m == nil {
		return
	}
	m.tones.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) entitlementCheck(result string) {
	if m == nil {
		return
	}
	m.entitlements.WithLabelValues(result).Inc()
}

func (m *Metrics) resync(err error) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) sessionAdded() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}
