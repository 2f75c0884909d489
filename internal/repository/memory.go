package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"wisefido-vitals/internal/models"
)

// MemoryStore in-process Storage used when the database is disabled
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	readings   []models.Reading
	alerts     map[string]*models.Alert
	order      []string
	acks       map[string]models.Acknowledgement
	thresholds map[string]models.Threshold
	due        models.DueCounts
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:     make(map[string]*models.Alert),
		acks:       make(map[string]models.Acknowledgement),
		thresholds: make(map[string]models.Threshold),
	}
}

// SetThreshold stores a threshold row
func (m *MemoryStore) SetThreshold(t models.Threshold) {
	m.mu.Lock()
	m.thresholds[t.Signal] = t
	m.mu.Unlock()
}

// SetDueCounts fixes the value GetDueCounts returns
func (m *MemoryStore) SetDueCounts(d models.DueCounts) {
	m.mu.Lock()
	m.due = d
	m.mu.Unlock()
}

func (m *MemoryStore) SaveReading(_ context.Context, r models.Reading) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = m.nextID
	r.Values = copyFloats(r.Values)
	m.readings = append(m.readings, r)
	return r.ID, nil
}

func (m *MemoryStore) OpenAlert(_ context.Context, a models.Alert) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneAlert(a)
	m.alerts[a.ID] = &stored
	m.order = append(m.order, a.ID)
	return a.ID, nil
}

func (m *MemoryStore) UpdateAlertBounds(_ context.Context, a models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.alerts[a.ID]
	if !ok || stored.EndedAt != nil {
		return ErrAlertNotFound
	}
	upd := cloneAlert(a)
	stored.Bounds = upd.Bounds
	stored.Triggered = upd.Triggered
	stored.Severity = upd.Severity
	return nil
}

func (m *MemoryStore) CloseAlert(_ context.Context, alertID, resolution string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.alerts[alertID]
	if !ok || stored.EndedAt != nil {
		return ErrAlertNotFound
	}
	ended := endedAt
	stored.EndedAt = &ended
	stored.Resolution = resolution
	return nil
}

func (m *MemoryStore) AcknowledgeAlert(_ context.Context, alertID string, ack models.Acknowledgement, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	stored.Acknowledged = true
	if stored.EndedAt == nil {
		ended := at
		stored.EndedAt = &ended
		stored.Resolution = models.ResolutionAcknowledged
	}
	m.acks[alertID] = ack
	return nil
}

func (m *MemoryStore) ListOpenAlerts(_ context.Context) ([]models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Alert
	for _, id := range m.order {
		if a := m.alerts[id]; a.EndedAt == nil {
			out = append(out, cloneAlert(*a))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRecentReadings(_ context.Context, kind string, limit int) ([]models.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Reading{}
	for i := len(m.readings) - 1; i >= 0 && len(out) < limit; i-- {
		if m.readings[i].Kind == kind {
			r := m.readings[i]
			r.Values = copyFloats(r.Values)
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) GetUnacknowledgedAlertCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetThreshold(_ context.Context, signal string) (models.Threshold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.thresholds[signal]
	if !ok {
		return models.Threshold{}, ErrThresholdNotFound
	}
	return t, nil
}

func (m *MemoryStore) GetDueCounts(_ context.Context, _ time.Duration) (models.DueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.due, nil
}

// Alert returns a stored alert by id
func (m *MemoryStore) Alert(id string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return cloneAlert(*a), true
}

// Acknowledgement returns the supplemental data recorded for an alert
func (m *MemoryStore) Acknowledgement(id string) (models.Acknowledgement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ack, ok := m.acks[id]
	return ack, ok
}

// OpenAlertCount open alerts for a group
func (m *MemoryStore) OpenAlertCount(group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.alerts {
		if a.Group == group && a.EndedAt == nil {
			n++
		}
	}
	return n
}

// ReadingCount number of stored readings
func (m *MemoryStore) ReadingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

func cloneAlert(a models.Alert) models.Alert {
	out := a
	out.Triggered = make(map[string]bool, len(a.Triggered))
	for k, v := range a.Triggered {
		out.Triggered[k] = v
	}
	out.Bounds = make(map[string]models.Bounds, len(a.Bounds))
	for k, v := range a.Bounds {
		out.Bounds[k] = v
	}
	if a.EndedAt != nil {
		ended := *a.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
