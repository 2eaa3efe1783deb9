package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func NewPrometheusRecorder() Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assetgate",
			Name:      "events_total",
			Help:      "payment and job event counters",
		},
		[]string{"event", "code", "kind"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assetgate",
			Name:      "latency_seconds",
			Help:      "operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	prometheus.MustRegister(counters, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(event string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"event": event,
		"code":  labels["code"],
		"kind":  labels["kind"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(operation string, d time.Duration, _ map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": operation,
	}).Observe(d.Seconds())
}
