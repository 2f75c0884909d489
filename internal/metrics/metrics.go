package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"wisefido-vitals/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "wisefido_vitals"

// Stats counters for the periodic metrics report log
type Stats struct {
	EventsPublished   int64
	EventsDropped     int64
	ReadingsProcessed int64
	StorageErrors     int64
	AlertsTriggered   int64
	AlertsResolved    int64
	Broadcasts        int64
	LastReadingTime   time.Time
	StartTime         time.Time
}

// Metrics Prometheus collectors plus report counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	readingsProcessed *prometheus.CounterVec
	storageErrors     *prometheus.CounterVec
	alertsTriggered   *prometheus.CounterVec
	alertsResolved    *prometheus.CounterVec
	adapterConnected  *prometheus.GaugeVec
	mqttPublished     *prometheus.CounterVec
	wsClients         prometheus.Gauge
	wsBroadcasts      prometheus.Counter

	mu    sync.RWMutex
	stats Stats
}

// New registers every collector on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "events_published_total",
			Help: "Events accepted by the event bus.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "events_dropped_total",
			Help: "Events dropped because a subscriber queue was full.",
		}, []string{"queue", "kind"}),
		readingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "readings_processed_total",
			Help: "Sensor readings evaluated by the alert monitor.",
		}, []string{"source"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "errors_total",
			Help: "Failed storage operations.",
		}, []string{"op"}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "triggered_total",
			Help: "Alert episodes opened.",
		}, []string{"group", "severity"}),
		alertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts", Name: "resolved_total",
			Help: "Alert episodes closed.",
		}, []string{"group", "resolution"}),
		adapterConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "adapter", Name: "connected",
			Help: "1 while the ingestion adapter is connected.",
		}, []string{"adapter"}),
		mqttPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "published_total",
			Help: "Messages published to the broker.",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "clients",
			Help: "Connected WebSocket clients.",
		}),
		wsBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "websocket", Name: "snapshots_sent_total",
			Help: "Snapshot broadcasts performed.",
		}),
		stats: Stats{StartTime: time.Now()},
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsPublished,
		m.eventsDropped,
		m.readingsProcessed,
		m.storageErrors,
		m.alertsTriggered,
		m.alertsResolved,
		m.adapterConnected,
		m.mqttPublished,
		m.wsClients,
		m.wsBroadcasts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Published implements eventbus.Observer
func (m *Metrics) Published(kind events.Kind) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(string(kind)).Inc()
	m.mu.Lock()
	m.stats.EventsPublished++
	m.mu.Unlock()
}

// Dropped implements eventbus.Observer
func (m *Metrics) Dropped(queue string, kind events.Kind) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(queue, string(kind)).Inc()
	m.mu.Lock()
	m.stats.EventsDropped++
	m.mu.Unlock()
}

func (m *Metrics) ReadingProcessed(source events.Source) {
	if m == nil {
		return
	}
	m.readingsProcessed.WithLabelValues(string(source)).Inc()
	m.mu.Lock()
	m.stats.ReadingsProcessed++
	m.stats.LastReadingTime = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
	m.mu.Lock()
	m.stats.StorageErrors++
	m.mu.Unlock()
}

func (m *Metrics) AlertTriggered(group, severity string) {
	if m == nil {
		return
	}
	m.alertsTriggered.WithLabelValues(group, severity).Inc()
	m.mu.Lock()
	m.stats.AlertsTriggered++
	m.mu.Unlock()
}

func (m *Metrics) AlertResolved(group, resolution string) {
	if m == nil {
		return
	}
	m.alertsResolved.WithLabelValues(group, resolution).Inc()
	m.mu.Lock()
	m.stats.AlertsResolved++
	m.mu.Unlock()
}

func (m *Metrics) AdapterConnection(adapter string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.adapterConnected.WithLabelValues(adapter).Set(v)
}

func (m *Metrics) MQTTPublished(kind string) {
	if m == nil {
		return
	}
	m.mqttPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClientsConnected(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func (m *Metrics) SnapshotBroadcast() {
	if m == nil {
		return
	}
	m.wsBroadcasts.Inc()
	m.mu.Lock()
	m.stats.Broadcasts++
	m.mu.Unlock()
}

// GetSnapshot copy of the report counters
func (m *Metrics) GetSnapshot() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Report logs the counters every interval until ctx is done
func (m *Metrics) Report(ctx context.Context, logger *zap.Logger, interval time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.GetSnapshot()

			dropRate := float64(0)
			if s.EventsPublished > 0 {
				dropRate = float64(s.EventsDropped) / float64(s.EventsPublished) * 100
			}

			logger.Info("Metrics report",
				zap.Int64("events_published", s.EventsPublished),
				zap.Int64("events_dropped", s.EventsDropped),
				zap.Float64("drop_rate", dropRate),
				zap.Int64("readings_processed", s.ReadingsProcessed),
				zap.Int64("storage_errors", s.StorageErrors),
				zap.Int64("alerts_triggered", s.AlertsTriggered),
				zap.Int64("alerts_resolved", s.AlertsResolved),
				zap.Int64("snapshots_sent", s.Broadcasts),
				zap.Time("last_reading", s.LastReadingTime),
				zap.Duration("uptime", time.Since(s.StartTime)),
			)
		}
	}
}
