// Package metrics exposes Prometheus collectors for the scheduling core.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/teamsched/services/scheduling-service/internal/providers"
)

const namespace = "teamsched"

type Metrics struct {
	fetchTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	finderDuration  prometheus.Histogram
	finderEmpty     *prometheus.CounterVec
	cacheRequests   *prometheus.CounterVec
	slotsGenerated  prometheus.Histogram
	messagesHandled *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetch_total",
			Help:      "Busy-time fetches per source and outcome.",
		}, []string{"source", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "Latency of busy-time fetches per source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		finderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finder_duration_seconds",
			Help:      "End-to-end latency of multi-attendee slot searches.",
			Buckets:   prometheus.DefBuckets,
		}),
		finderEmpty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finder_empty_buckets_total",
			Help:      "Slot searches that found nothing for a duration.",
		}, []string{"duration_minutes"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_cache_requests_total",
			Help:      "Busy cache lookups per source and result.",
		}, []string{"source", "result"}),
		slotsGenerated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slots_generated",
			Help:      "Number of free slots returned per availability request.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Kafka messages handled per topic and outcome.",
		}, []string{"topic", "status"}),
	}
	reg.MustRegister(
		m.fetchTotal,
		m.fetchDuration,
		m.finderDuration,
		m.finderEmpty,
		m.cacheRequests,
		m.slotsGenerated,
		m.messagesHandled,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(source model.BusySource, elapsed time.Duration, err error) {
	result := status(err)
	if errors.Is(err, providers.ErrRateLimited) {
		result = "rate_limited"
	}
	m.fetchTotal.WithLabelValues(string(source), result).Inc()
	m.fetchDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFinderRun(_ int, elapsed time.Duration, found map[int]int) {
	m.finderDuration.Observe(elapsed.Seconds())
	for minutes, n := range found {
		if n == 0 {
			m.finderEmpty.WithLabelValues(strconv.Itoa(minutes)).Inc()
		}
	}
}

// ObserveCache records a lookup result: hit, miss or error.
func (m *Metrics) ObserveCache(source model.BusySource, result string) {
	m.cacheRequests.WithLabelValues(string(source), result).Inc()
}

func (m *Metrics) ObserveSlots(n int) {
	m.slotsGenerated.Observe(float64(n))
}

func (m *Metrics) ObserveMessage(topic string, err error) {
	m.messagesHandled.WithLabelValues(topic, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
