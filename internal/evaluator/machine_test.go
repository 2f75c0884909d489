package evaluator

import (
	"fmt"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPulseOx(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(DefaultGroups()[0], 30*time.Second)
	n := 0
	m.SetIDGenerator(func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	})
	return m
}

func ox(spo2, bpm float64) map[string]float64 {
	return map[string]float64{models.SignalSpO2: spo2, models.SignalBPM: bpm}
}

func actionTypes(actions []Action) []ActionType {
	out := make([]ActionType, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Type)
	}
	return out
}

func TestMachine_LowSpO2OpensThenRecoversAutomatically(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	acts := m.Apply(ox(80, 70), th, t0)
	require.Len(t, acts, 1)
	assert.Equal(t, ActionOpen, acts[0].Type)
	assert.Equal(t, models.AlertTypeThreshold, acts[0].Alert.Type)
	assert.Equal(t, []string{models.SignalSpO2}, acts[0].Signals)
	assert.Equal(t, models.Bounds{Min: 80, Max: 80}, acts[0].Alert.Bounds[models.SignalSpO2])
	assert.True(t, acts[0].Alert.Triggered[models.SignalSpO2])
	assert.False(t, acts[0].Alert.Triggered[models.SignalBPM])
	assert.Equal(t, StateAlertOpen, m.State())

	acts = m.Apply(map[string]float64{models.SignalSpO2: 96}, th, t0.Add(time.Second))
	assert.Equal(t, []ActionType{ActionUpdate}, actionTypes(acts))
	assert.Equal(t, StateRecoveryPending, m.State())
	open, ok := m.OpenAlert()
	require.True(t, ok)
	assert.Equal(t, models.Bounds{Min: 80, Max: 96}, open.Bounds[models.SignalSpO2])

	assert.Empty(t, m.Tick(t0.Add(30*time.Second)))

	acts = m.Tick(t0.Add(31 * time.Second))
	require.Len(t, acts, 1)
	assert.Equal(t, ActionClose, acts[0].Type)
	assert.Equal(t, models.ResolutionAutomatic, acts[0].Alert.Resolution)
	require.NotNil(t, acts[0].Alert.EndedAt)
	assert.Equal(t, StateNormal, m.State())
	_, ok = m.OpenAlert()
	assert.False(t, ok)
}

func TestMachine_ReviolationDuringRecoveryKeepsAlertOpen(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(85, 70), th, t0)
	m.Apply(ox(95, 70), th, t0.Add(1*time.Second))
	m.Apply(ox(96, 70), th, t0.Add(10*time.Second))
	m.Apply(ox(97, 70), th, t0.Add(20*time.Second))
	assert.Equal(t, t0.Add(1*time.Second), m.RecoveryStart(), "further good readings must not reset the basis")

	acts := m.Apply(ox(88, 70), th, t0.Add(25*time.Second))
	assert.NotContains(t, actionTypes(acts), ActionClose)
	assert.NotContains(t, actionTypes(acts), ActionOpen)
	assert.Equal(t, StateAlertOpen, m.State())
	assert.True(t, m.RecoveryStart().IsZero())

	// the old basis would have elapsed at t0+31s
	assert.Empty(t, m.Tick(t0.Add(31*time.Second)))

	m.Apply(ox(96, 70), th, t0.Add(40*time.Second))
	assert.Equal(t, t0.Add(40*time.Second), m.RecoveryStart())
	assert.Empty(t, m.Tick(t0.Add(69*time.Second)))

	acts = m.Tick(t0.Add(70 * time.Second))
	require.Len(t, acts, 1)
	assert.Equal(t, "alert-1", acts[0].Alert.ID)
	assert.Equal(t, models.Bounds{Min: 85, Max: 97}, acts[0].Alert.Bounds[models.SignalSpO2])
}

func TestMachine_AtMostOneOpenAlert(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	seq := []map[string]float64{ox(80, 70), ox(75, 150), ox(82, 130), ox(70, 30), ox(89, 60)}
	opens := 0
	for i, v := range seq {
		for _, a := range m.Apply(v, th, t0.Add(time.Duration(i)*time.Second)) {
			if a.Type == ActionOpen {
				opens++
			}
		}
	}
	assert.Equal(t, 1, opens)

	open, ok := m.OpenAlert()
	require.True(t, ok)
	assert.Equal(t, models.Bounds{Min: 70, Max: 89}, open.Bounds[models.SignalSpO2])
	assert.Equal(t, models.Bounds{Min: 30, Max: 150}, open.Bounds[models.SignalBPM])
	assert.True(t, open.Triggered[models.SignalBPM])
	assert.Equal(t, models.SeverityCritical, open.Severity)
}

func TestMachine_DisconnectClearsImmediatelyOnReconnect(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	acts := m.Apply(ox(-1, -1), th, t0)
	require.Len(t, acts, 1)
	assert.Equal(t, models.AlertTypeDisconnect, acts[0].Alert.Type)
	assert.Equal(t, models.SeverityCritical, acts[0].Alert.Severity)
	assert.True(t, acts[0].Alert.Triggered[models.TriggeredExternal])
	assert.Empty(t, acts[0].Alert.Bounds)

	assert.Empty(t, m.Apply(ox(-1, -1), th, t0.Add(10*time.Second)), "repeated sentinel changes nothing")

	// reconnect with a violating reading: close, then a distinct threshold alert
	acts = m.Apply(ox(82, 70), th, t0.Add(11*time.Second))
	require.Equal(t, []ActionType{ActionClose, ActionOpen}, actionTypes(acts))
	assert.Equal(t, "alert-1", acts[0].Alert.ID)
	assert.Equal(t, models.ResolutionReconnected, acts[0].Alert.Resolution)
	assert.Equal(t, "alert-2", acts[1].Alert.ID)
	assert.Equal(t, models.AlertTypeThreshold, acts[1].Alert.Type)
	assert.Equal(t, StateAlertOpen, m.State())
}

func TestMachine_DisconnectClearsOnValidReading(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(-1, -1), th, t0)
	acts := m.Apply(ox(97, 72), th, t0.Add(time.Second))
	require.Equal(t, []ActionType{ActionClose}, actionTypes(acts))
	assert.Equal(t, StateNormal, m.State())
}

func TestMachine_SentinelDuringThresholdAlertFlagsExternal(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(88, 70), th, t0)
	m.Apply(ox(95, 70), th, t0.Add(time.Second))
	require.Equal(t, StateRecoveryPending, m.State())

	acts := m.Apply(ox(-1, -1), th, t0.Add(2*time.Second))
	require.Equal(t, []ActionType{ActionUpdate}, actionTypes(acts))
	assert.True(t, acts[0].Alert.Triggered[models.TriggeredExternal])
	assert.Equal(t, models.Bounds{Min: 88, Max: 95}, acts[0].Alert.Bounds[models.SignalSpO2], "sentinel must not touch bounds")
	assert.Equal(t, StateAlertOpen, m.State())
	assert.Empty(t, m.Tick(t0.Add(time.Hour)))
}

func TestMachine_RecoveryElapsedOnReading(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(88, 70), th, t0)
	m.Apply(ox(95, 70), th, t0.Add(time.Second))
	acts := m.Apply(ox(95, 70), th, t0.Add(40*time.Second))
	require.Equal(t, []ActionType{ActionClose}, actionTypes(acts))
	assert.Equal(t, models.ResolutionAutomatic, acts[0].Alert.Resolution)
}

func TestMachine_ReadingWithoutTriggeredSignalDoesNotRecover(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(map[string]float64{models.SignalSpO2: 80}, th, t0)
	require.Equal(t, StateAlertOpen, m.State())

	m.Apply(map[string]float64{models.SignalBPM: 70}, th, t0.Add(time.Second))
	assert.Equal(t, StateAlertOpen, m.State())
	assert.Empty(t, m.Tick(t0.Add(32*time.Second)))
	_, ok := m.OpenAlert()
	assert.True(t, ok)

	m.Apply(map[string]float64{models.SignalSpO2: 96}, th, t0.Add(33*time.Second))
	require.Equal(t, StateRecoveryPending, m.State())
	assert.Equal(t, t0.Add(33*time.Second), m.RecoveryStart())

	// bpm-only readings neither reset nor cut short the window
	m.Apply(map[string]float64{models.SignalBPM: 72}, th, t0.Add(40*time.Second))
	assert.Equal(t, StateRecoveryPending, m.State())
	assert.Empty(t, m.Tick(t0.Add(62*time.Second)))

	acts := m.Tick(t0.Add(63 * time.Second))
	require.Equal(t, []ActionType{ActionClose}, actionTypes(acts))
	assert.Equal(t, models.ResolutionAutomatic, acts[0].Alert.Resolution)
}

func TestMachine_DisconnectForgetsLastValues(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(85, 70), th, t0)
	m.Apply(ox(-1, -1), th, t0.Add(time.Second))
	m.Apply(map[string]float64{models.SignalBPM: 70}, th, t0.Add(2*time.Second))
	assert.Equal(t, StateAlertOpen, m.State())

	m.Apply(ox(97, 70), th, t0.Add(3*time.Second))
	assert.Equal(t, StateRecoveryPending, m.State())
}

func TestMachine_RestoredAlertWaitsForTriggeredSignal(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Restore(models.Alert{
		ID:        "old",
		Group:     models.KindPulseOx,
		Type:      models.AlertTypeThreshold,
		Triggered: map[string]bool{models.SignalSpO2: true},
		Bounds:    map[string]models.Bounds{models.SignalSpO2: {Min: 82, Max: 82}},
	})

	m.Apply(map[string]float64{models.SignalBPM: 70}, th, t0)
	assert.Equal(t, StateAlertOpen, m.State())

	m.Apply(map[string]float64{models.SignalSpO2: 95}, th, t0.Add(time.Second))
	assert.Equal(t, StateRecoveryPending, m.State())
}

func TestMachine_Acknowledge(t *testing.T) {
	th := models.DefaultThresholds()
	m := newPulseOx(t)
	t0 := time.Now()

	m.Apply(ox(88, 70), th, t0)

	_, ok := m.Acknowledge("other", t0)
	assert.False(t, ok)

	act, ok := m.Acknowledge("alert-1", t0.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, ActionClose, act.Type)
	assert.True(t, act.Alert.Acknowledged)
	assert.Equal(t, models.ResolutionAcknowledged, act.Alert.Resolution)
	assert.Equal(t, StateNormal, m.State())
}

func TestMachine_IgnoresForeignSignals(t *testing.T) {
	m := newPulseOx(t)
	assert.Nil(t, m.Apply(map[string]float64{models.SignalTemperature: 40}, models.DefaultThresholds(), time.Now()))
}

func TestMachine_Restore(t *testing.T) {
	m := newPulseOx(t)
	m.Restore(models.Alert{ID: "old", Group: models.KindPulseOx, Type: models.AlertTypeDisconnect})
	assert.Equal(t, StateAlertOpen, m.State())

	acts := m.Apply(ox(97, 70), models.DefaultThresholds(), time.Now())
	require.Len(t, acts, 1)
	assert.Equal(t, "old", acts[0].Alert.ID)
	assert.Equal(t, models.ResolutionReconnected, acts[0].Alert.Resolution)
}

func TestSeverity(t *testing.T) {
	g := DefaultGroups()[0]
	th := models.DefaultThresholds()

	assert.Equal(t, models.SeverityCritical, Severity(g, true, nil, nil, th))
	assert.Equal(t, models.SeverityCritical, Severity(g, false, []string{"spo2", "bpm"}, ox(88, 130), th))
	assert.Equal(t, models.SeverityCritical, Severity(g, false, []string{"spo2"}, ox(80, 70), th))
	assert.Equal(t, models.SeverityHigh, Severity(g, false, []string{"spo2"}, ox(88, 70), th))
	assert.Equal(t, models.SeverityMedium, Severity(g, false, []string{"bpm"}, ox(95, 125), th))
}
