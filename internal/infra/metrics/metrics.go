// Package metrics exports dispatcher and HTTP counters to Prometheus.
package metrics

import (
	"time"

	"horoscope_dispatcher/internal/app"
	"horoscope_dispatcher/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "horoscope"

// Collectors implements app.Recorder.
type Collectors struct {
	Deliveries   *prometheus.CounterVec
	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram
	TickDue      prometheus.Gauge
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New() *Collectors {
	return &Collectors{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery outcomes by channel and tier",
		}, []string{"channel", "tier", "outcome"}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed dispatch ticks, by whether they hit the deadline",
		}, []string{"timed_out"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of dispatch ticks",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3000},
		}),
		TickDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tick_due_subscribers",
			Help:      "Subscriber tiers found due in the last tick",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Register registers all collectors with reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Deliveries, c.Ticks, c.TickDuration, c.TickDue, c.HTTPRequests, c.HTTPDuration} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collectors) DeliveryRecorded(channel notification.Channel, tier notification.Tier, outcome notification.Outcome) {
	c.Deliveries.WithLabelValues(string(channel), string(tier), string(outcome)).Inc()
}

func (c *Collectors) TickCompleted(report app.TickReport, elapsed time.Duration) {
	timedOut := "false"
	if report.TimedOut {
		timedOut = "true"
	}
	c.Ticks.WithLabelValues(timedOut).Inc()
	c.TickDuration.Observe(elapsed.Seconds())
	c.TickDue.Set(float64(report.Due))
}

func (c *Collectors) ObserveHTTP(route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
