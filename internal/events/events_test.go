package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"wisefido-vitals/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSensorUpdate_CopiesValues(t *testing.T) {
	values := map[string]float64{"spo2": 97}
	evt := events.NewSensorUpdate(events.SourceSerial, time.Time{}, "ox1", "pulse_ox", values, "")

	values["spo2"] = 10

	v, ok := evt.Value("spo2")
	require.True(t, ok)
	assert.Equal(t, 97.0, v)
	assert.False(t, evt.Time().IsZero())
	assert.Equal(t, events.SourceSerial, evt.Origin())
	assert.Equal(t, events.KindSensorUpdate, evt.Kind())
}

func TestKinds_CoversEveryConcreteType(t *testing.T) {
	at := time.Now()
	all := []events.Event{
		events.NewSensorUpdate(events.SourceMQTT, at, "d", "pulse_ox", nil, ""),
		events.NewAlarmPanelState(at, true, false),
		events.NewVitalSignRecorded(events.SourceAPI, at, 0, "temperature", nil, true),
		events.NewAlertTriggered(at, "a", "pulse_ox", "threshold", "high", nil, nil),
		events.NewAlertResolved(at, "a", "pulse_ox", "automatic"),
		events.NewConnectionStatus(events.SourceSerial, at, "serial", true, ""),
		events.NewClientLifecycle(at, "c", true),
		events.NewStateSyncRequest(at, ""),
	}

	seen := map[events.Kind]bool{}
	for _, e := range all {
		seen[e.Kind()] = true
	}
	for _, k := range events.Kinds() {
		assert.True(t, seen[k], "no concrete event for kind %s", k)
	}
	assert.Len(t, seen, len(events.Kinds()))
}

func TestMarshal_FlatRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := events.NewAlertResolved(at, "alert-1", "pulse_ox", "automatic")

	raw, err := events.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "alert_resolved", decoded["kind"])
	assert.Equal(t, "SYSTEM", decoded["source"])
	assert.Equal(t, "2024-03-01T12:00:00Z", decoded["timestamp"])
	assert.Equal(t, "alert-1", decoded["alert_id"])
	assert.Equal(t, "automatic", decoded["resolution"])
	_, nested := decoded["Header"]
	assert.False(t, nested)
}
