package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	fundingChecks  *prometheus.CounterVec
	deliveryChecks *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	chainCalls     *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	halted         prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "escrowd"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Escrow status transitions applied.",
		}, []string{"from", "to"}),
		fundingChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "funding_checks_total",
			Help:      "Funding checks by outcome.",
		}, []string{"outcome"}),
		deliveryChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_checks_total",
			Help:      "Carrier delivery checks by outcome.",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Transaction broadcasts by outcome.",
		}, []string{"outcome"}),
		chainCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_call_duration_seconds",
			Help:      "Latency of chain data provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried operations after a transient network error.",
		}, []string{"op"}),
		halted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrows_halted_total",
			Help:      "Escrows halted after a fatal error.",
		}),
	}
	registry.MustRegister(m.transitions, m.fundingChecks, m.deliveryChecks, m.broadcasts, m.chainCalls, m.retries, m.halted)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) FundingCheck(outcome string) {
	if m == nil {
		return
	}
	m.fundingChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeliveryCheck(outcome string) {
	if m == nil {
		return
	}
	m.deliveryChecks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Broadcast(outcome string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChainCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.chainCalls.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) Halted() {
	if m == nil {
		return
	}
	m.halted.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
