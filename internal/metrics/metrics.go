// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/fieldbus-poller/internal/poller"
	"github.com/tamzrod/fieldbus-poller/internal/schedule"
)

const namespace = "fieldbus_poller"

var (
	// 1 ms to 10 s.
	latencyBuckets = []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2.5, 10}

	// Scheduler overdue is floored at one tick.
	overdueBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.05, 0.25, 1}
)

// Metrics owns its registry so several instances (tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	retries    *prometheus.CounterVec
	blockReads *prometheus.CounterVec
	blockTime  *prometheus.HistogramVec
	writes     *prometheus.HistogramVec
	demoted    *prometheus.GaugeVec
	connected  *prometheus.GaugeVec
	overdue    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "retries_total",
			Help:      "Codec calls retried after a transient failure.",
		}, []string{"channel", "op"}),
		blockReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "block_reads_total",
			Help:      "Wire block reads by outcome.",
		}, []string{"channel", "device", "outcome"}),
		blockTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "block_read_duration_seconds",
			Help:      "Latency of one wire block read, retries included.",
			Buckets:   latencyBuckets,
		}, []string{"channel", "device"}),
		writes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "write_duration_seconds",
			Help:      "Latency of tag writes by outcome.",
			Buckets:   latencyBuckets,
		}, []string{"channel", "device", "outcome"}),
		demoted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "demotion",
			Name:      "demoted",
			Help:      "1 while a device is demoted.",
		}, []string{"channel", "device"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 while the channel link is up.",
		}, []string{"channel"}),
		overdue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "overdue_seconds",
			Help:      "How late batch items were dispatched relative to their due time.",
			Buckets:   overdueBuckets,
		}, []string{"channel"}),
	}
	m.registry.MustRegister(m.retries, m.blockReads, m.blockTime, m.writes, m.demoted, m.connected, m.overdue)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Channel returns the collectors bound to one channel.
func (m *Metrics) Channel(id string) *Channel {
	return &Channel{m: m, id: id}
}

// Channel implements the observer hooks of one channel's components.
type Channel struct {
	m  *Metrics
	id string
}

// Retry matches transport.OnRetry.
func (c *Channel) Retry(op string, _ int, _ error) {
	c.m.retries.WithLabelValues(c.id, op).Inc()
}

// Connection matches transport.OnConnection.
func (c *Channel) Connection(up bool) {
	c.m.connected.WithLabelValues(c.id).Set(gauge(up))
}

func (c *Channel) BlockRead(device string, err error, took time.Duration) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.m.blockReads.WithLabelValues(c.id, device, poller.CodeOf(err).String()).Inc()
	c.m.blockTime.WithLabelValues(c.id, device).Observe(took.Seconds())
}

func (c *Channel) WriteDone(device string, took time.Duration, err error) {
	c.m.writes.WithLabelValues(c.id, device, poller.CodeOf(err).String()).Observe(took.Seconds())
}

func (c *Channel) DemotionChanged(device string, demoted bool, _ time.Time) {
	c.m.demoted.WithLabelValues(c.id, device).Set(gauge(demoted))
}

// Dispatched records the overdue time of every item of a batch sent at now.
func (c *Channel) Dispatched(b schedule.Batch, now time.Time) {
	h := c.m.overdue.WithLabelValues(c.id)
	for _, it := range b.Items {
		h.Observe(schedule.Overdue(now, it.Due).Seconds())
	}
}

func gauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
