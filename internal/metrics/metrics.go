// Package metrics 导航引擎的 Prometheus 指标
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/langchou/motonav/internal/api/directions"
	"github.com/langchou/motonav/internal/models"
)

const namespace = "motonav"

// Metrics 指标集合，使用独立的 Registry
type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	reroutes      *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchErrors   *prometheus.CounterVec
	positions     prometheus.Counter
	outboxPending prometheus.Gauge
	notifications *prometheus.CounterVec
	trips         *prometheus.CounterVec
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Navigation session state transitions.",
		}, []string{"from", "to"}),
		reroutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reroutes_total",
			Help:      "Reroute outcomes.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_fetch_duration_seconds",
			Help:      "Latency of route provider requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_fetch_errors_total",
			Help:      "Failed route provider requests by reason.",
		}, []string{"reason"}),
		positions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_total",
			Help:      "Position samples delivered to the active session.",
		}),
		outboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Backend writes waiting in the outbox.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted by kind.",
		}, []string{"kind"}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_total",
			Help:      "Finished trips by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.reroutes,
		m.fetchDuration,
		m.fetchErrors,
		m.positions,
		m.outboxPending,
		m.notifications,
		m.trips,
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition 记录状态变化
func (m *Metrics) ObserveTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObservePosition 记录一次定位
func (m *Metrics) ObservePosition() {
	m.positions.Inc()
}

// SetOutboxPending 更新待重试数量
func (m *Metrics) SetOutboxPending(n int) {
	m.outboxPending.Set(float64(n))
}

// ObserveTrip 记录行程结束
func (m *Metrics) ObserveTrip(trip models.TripSummary) {
	outcome := "cancelled"
	if trip.Arrived {
		outcome = "arrived"
	}
	m.trips.WithLabelValues(outcome).Inc()
}

// Notify 实现 notify.Notifier，同时统计重新规划结果
func (m *Metrics) Notify(n models.Notification) {
	m.notifications.WithLabelValues(n.Kind).Inc()
	switch n.Kind {
	case models.NotifyRerouted:
		m.reroutes.WithLabelValues("success").Inc()
	case models.NotifyUnableToReroute:
		m.reroutes.WithLabelValues("gave_up").Inc()
	}
}

// InstrumentProvider 为路线服务增加耗时与错误统计
func (m *Metrics) InstrumentProvider(p directions.Provider) directions.Provider {
	return &instrumentedProvider{next: p, m: m}
}

type instrumentedProvider struct {
	next directions.Provider
	m    *Metrics
}

func (p *instrumentedProvider) FetchRoutes(ctx context.Context, origin, destination models.Coordinate, motor models.MotorProfile) (*models.RouteSet, error) {
	start := time.Now()
	set, err := p.next.FetchRoutes(ctx, origin, destination, motor)
	p.m.fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.m.fetchErrors.WithLabelValues(reason(err)).Inc()
	}
	return set, err
}

func reason(err error) string {
	switch {
	case errors.Is(err, directions.ErrNoConnectivity):
		return "no_connectivity"
	case errors.Is(err, directions.ErrNoRoutesFound):
		return "no_routes"
	case errors.Is(err, directions.ErrProviderError):
		return "provider_error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "other"
	}
}
