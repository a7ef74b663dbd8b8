package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

var _ port.Metrics = (*Prometheus)(nil)

// Prometheus records core operations on its own registry so tests can build
// as many instances as they like.
type Prometheus struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	stock      *prometheus.GaugeVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_operations_total",
			Help: "Core operations by name and outcome.",
		}, []string{"op", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockroom_operation_duration_seconds",
			Help:    "Duration of core operations including the transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		stock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockroom_item_quantity",
			Help: "Last committed quantity per item.",
		}, []string{"item_id"}),
	}
	p.registry.MustRegister(
		p.operations,
		p.durations,
		p.stock,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// outcome is "ok" or the error kind.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

func (p *Prometheus) ObserveOperation(op string, took time.Duration, err error) {
	p.operations.WithLabelValues(op, outcome(err)).Inc()
	p.durations.WithLabelValues(op).Observe(took.Seconds())
}

func (p *Prometheus) SetStock(itemID int64, quantity int) {
	p.stock.WithLabelValues(strconv.FormatInt(itemID, 10)).Set(float64(quantity))
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
