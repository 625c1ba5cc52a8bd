package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records import pipeline activity.
type Metrics interface {
	ObserveImport(outcome string, durationSeconds float64)
	IncAdvisories(severity string, count int)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveImport(string, float64) {}
func (Noop) IncAdvisories(string, int)     {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	imports        *prometheus.CounterVec
	importDuration *prometheus.HistogramVec
	advisories     *prometheus.CounterVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Course imports by outcome",
		}, []string{"outcome"}),
		importDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Course import duration by outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_advisories_total",
			Help:      "Advisories reported to uploaders by severity",
		}, []string{"severity"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.imports, p.importDuration, p.advisories)
	})
}

func (p *Prom) ObserveImport(outcome string, durationSeconds float64) {
	p.imports.WithLabelValues(outcome).Inc()
	p.importDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

func (p *Prom) IncAdvisories(severity string, count int) {
	if count <= 0 {
		return
	}
	p.advisories.WithLabelValues(severity).Add(float64(count))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
