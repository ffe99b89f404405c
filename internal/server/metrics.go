package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	intentsTotal    *prometheus.CounterVec
	intentDuration  *prometheus.HistogramVec
	replaysTotal    *prometheus.CounterVec
	unauthenticated prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexuspay_intents_total",
		Help: "Shop intents handled, by intent and result kind",
	}, []string{"intent", "result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nexuspay_intent_duration_seconds",
		Help:    "Wall time of shop intents including ledger confirmation",
		Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"intent"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexuspay_idempotent_replays_total",
		Help: "Responses served from the idempotency store",
	}, []string{"route"})

	unauth := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexuspay_unauthenticated_intents_total",
		Help: "Intents rejected by signature verification",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(intents, duration, replays, unauth)

	return &metricsRegistry{
		registry:        r,
		intentsTotal:    intents,
		intentDuration:  duration,
		replaysTotal:    replays,
		unauthenticated: unauth,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observeIntent(intent, result string, took time.Duration) {
	if result == "" {
		result = "ok"
	}
	m.intentsTotal.WithLabelValues(intent, result).Inc()
	m.intentDuration.WithLabelValues(intent).Observe(took.Seconds())
}

func (m *metricsRegistry) incReplay(route string) {
	m.replaysTotal.WithLabelValues(route).Inc()
}
