package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"wisefido-vitals/internal/events"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndStats(t *testing.T) {
	m := New()

	m.Published(events.KindSensorUpdate)
	m.Published(events.KindSensorUpdate)
	m.Dropped("global", events.KindSensorUpdate)
	m.AlertTriggered("pulse_ox", "high")
	m.AlertResolved("pulse_ox", "automatic")
	m.ReadingProcessed(events.SourceSerial)
	m.StorageError("save_reading")
	m.ClientsConnected(3)
	m.AdapterConnection("serial", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("sensor_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("global", "sensor_update")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.wsClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adapterConnected.WithLabelValues("serial")))

	s := m.GetSnapshot()
	assert.Equal(t, int64(2), s.EventsPublished)
	assert.Equal(t, int64(1), s.EventsDropped)
	assert.Equal(t, int64(1), s.AlertsTriggered)
	assert.Equal(t, int64(1), s.StorageErrors)
	assert.False(t, s.LastReadingTime.IsZero())
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Published(events.KindAlertTriggered)
	m.AlertTriggered("g", "critical")
	m.SnapshotBroadcast()
	assert.Equal(t, Stats{}, m.GetSnapshot())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AlertTriggered("temperature", "medium")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wisefido_vitals_alerts_triggered_total{group="temperature",severity="medium"} 1`)
}
