package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stockMoved        *prometheus.CounterVec
	cashMoved         *prometheus.CounterVec
	sessionDifference prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estanco",
			Name:      "operations_total",
			Help:      "Core operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "estanco",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		stockMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estanco",
			Name:      "stock_units_moved_total",
			Help:      "Base units debited or credited.",
		}, []string{"direction"}),
		cashMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "estanco",
			Name:      "cash_movements_total",
			Help:      "Cash movements appended, by type.",
		}, []string{"type"}),
		sessionDifference: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "estanco",
			Name:      "cash_session_difference",
			Help:      "Closing amount minus expected amount at session close.",
			Buckets:   []float64{-100000, -10000, -1000, -1, 0, 1, 1000, 10000, 100000},
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records one call of a core operation. outcome is "ok" or
// the error kind that ended it.
func (m *Metrics) ObserveOperation(operation string, outcome string, startedAt time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) AddStock(direction string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.stockMoved.WithLabelValues(direction).Add(float64(units))
}

func (m *Metrics) IncCashMovement(movementType string) {
	if m == nil {
		return
	}
	m.cashMoved.WithLabelValues(movementType).Inc()
}

func (m *Metrics) ObserveSessionDifference(difference float64) {
	if m == nil {
		return
	}
	m.sessionDifference.Observe(difference)
}
