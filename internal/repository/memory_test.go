package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AlertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	_, err := store.OpenAlert(ctx, models.Alert{ID: "a1", Group: "pulse_ox", StartedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 1, store.OpenAlertCount("pulse_ox"))

	require.NoError(t, store.UpdateAlertBounds(ctx, models.Alert{
		ID:     "a1",
		Bounds: map[string]models.Bounds{"spo2": {Min: 80, Max: 96}},
	}))
	require.NoError(t, store.CloseAlert(ctx, "a1", "automatic", now.Add(time.Minute)))
	assert.Equal(t, 0, store.OpenAlertCount("pulse_ox"))
	assert.ErrorIs(t, store.CloseAlert(ctx, "a1", "automatic", now), ErrAlertNotFound)

	a, ok := store.Alert("a1")
	require.True(t, ok)
	assert.Equal(t, 96.0, a.Bounds["spo2"].Max)
	assert.Equal(t, "automatic", a.Resolution)

	n, err := store.GetUnacknowledgedAlertCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.AcknowledgeAlert(ctx, "a1", models.Acknowledgement{Note: "checked"}, now))
	n, err = store.GetUnacknowledgedAlertCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, store.AcknowledgeAlert(ctx, "zz", models.Acknowledgement{}, now), ErrAlertNotFound)
}

func TestMemoryStore_RecentReadingsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		_, err := store.SaveReading(ctx, models.Reading{
			Kind:      "pulse_ox",
			Values:    map[string]float64{"spo2": float64(90 + i)},
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	_, err := store.SaveReading(ctx, models.Reading{Kind: "temperature", Values: map[string]float64{"temperature": 37}})
	require.NoError(t, err)

	got, err := store.GetRecentReadings(ctx, "pulse_ox", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 94.0, got[0].Values["spo2"])
	assert.Equal(t, 92.0, got[2].Values["spo2"])
}
