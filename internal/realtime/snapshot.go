package realtime

import (
	"context"
	"time"

	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// mirror event-derived dashboard state, mutated only by the hub loop
type mirror struct {
	sensors     map[string]float64
	status      map[string]string
	connections map[string]models.ConnectionState
	panel       map[string]bool
	openAlerts  map[string]string
	updatedAt   time.Time
}

func newMirror() *mirror {
	return &mirror{
		sensors:     make(map[string]float64),
		status:      make(map[string]string),
		connections: make(map[string]models.ConnectionState),
		panel:       map[string]bool{"alarm1": false, "alarm2": false},
		openAlerts:  make(map[string]string),
	}
}

// apply folds one event into the mirror; reports whether the dashboard changed
func (m *mirror) apply(evt events.Event) bool {
	switch e := evt.(type) {
	case events.SensorUpdate:
		for k, v := range e.Values {
			m.sensors[k] = v
		}
		key := e.Vital
		if key == "" {
			key = e.Device
		}
		if key != "" {
			status := e.Status
			if status == "" {
				status = "ok"
			}
			m.status[key] = status
		}
	case events.AlarmPanelState:
		m.panel["alarm1"] = e.Alarm1
		m.panel["alarm2"] = e.Alarm2
	case events.ConnectionStatus:
		m.connections[e.Adapter] = models.ConnectionState{
			Connected: e.Connected,
			Detail:    e.Detail,
			Since:     e.Time(),
		}
	case events.AlertTriggered:
		m.openAlerts[e.Group] = e.AlertID
	case events.AlertResolved:
		if m.openAlerts[e.Group] == e.AlertID {
			delete(m.openAlerts, e.Group)
		}
	default:
		return false
	}
	if at := evt.Time(); at.After(m.updatedAt) {
		m.updatedAt = at
	}
	return true
}

// copyInto fills the event-derived parts of a snapshot with copies of the mirror
func (m *mirror) copyInto(s *models.Snapshot) {
	for k, v := range m.sensors {
		s.Sensors[k] = v
	}
	for k, v := range m.status {
		s.Status[k] = v
	}
	for k, v := range m.connections {
		s.Connections[k] = v
	}
	for k, v := range m.panel {
		s.PanelAlarms[k] = v
	}
	for k, v := range m.openAlerts {
		s.OpenAlerts[k] = v
	}
	s.UpdatedAt = m.updatedAt
}

func emptySnapshot() models.Snapshot {
	return models.Snapshot{
		Type:        models.SnapshotType,
		Sensors:     make(map[string]float64),
		Status:      make(map[string]string),
		Connections: make(map[string]models.ConnectionState),
		PanelAlarms: make(map[string]bool),
		Alarms:      make(map[string]bool),
		OpenAlerts:  make(map[string]string),
		History:     make(map[string][]models.Reading),
	}
}

// Snapshot assembles the full dashboard state: mirror copy, storage aggregates, derived alarms.
// Storage failures leave their section empty.
func (h *Hub) Snapshot(ctx context.Context) models.Snapshot {
	snap := emptySnapshot()

	h.stateMu.RLock()
	h.state.copyInto(&snap)
	h.stateMu.RUnlock()

	if h.thresholds != nil {
		for signal, v := range snap.Sensors {
			th, ok := h.thresholds.Get(ctx, signal)
			if !ok {
				continue
			}
			snap.Alarms[signal] = v != models.DisconnectSentinel && th.Violates(v)
		}
	}

	if h.store == nil {
		return snap
	}

	sctx, cancel := context.WithTimeout(ctx, h.config.StorageTimeout)
	defer cancel()

	for _, kind := range h.config.HistoryKinds {
		readings, err := h.store.GetRecentReadings(sctx, kind, h.config.HistoryLimit)
		if err != nil {
			h.logger.Warn("Failed to load reading history", zap.String("kind", kind), zap.Error(err))
			continue
		}
		snap.History[kind] = readings
	}

	if n, err := h.store.GetUnacknowledgedAlertCount(sctx); err != nil {
		h.logger.Warn("Failed to count unacknowledged alerts", zap.Error(err))
	} else {
		snap.UnacknowledgedAlerts = n
	}

	if due, err := h.store.GetDueCounts(sctx, h.config.DueWindow); err != nil {
		h.logger.Warn("Failed to load due counts", zap.Error(err))
	} else {
		snap.Due = due
	}

	return snap
}
