package models

import "time"

// ConnectionState last reported state of one ingestion adapter
type ConnectionState struct {
	Connected bool      `json:"connected"`
	Detail    string    `json:"detail,omitempty"`
	Since     time.Time `json:"since"`
}

// Snapshot full dashboard state pushed to WebSocket clients
type Snapshot struct {
	Type                 string                     `json:"type"`
	Sensors              map[string]float64         `json:"sensors"`
	Status               map[string]string          `json:"status"`
	Connections          map[string]ConnectionState `json:"connections"`
	PanelAlarms          map[string]bool            `json:"panel_alarms"`
	Alarms               map[string]bool            `json:"alarms"`
	OpenAlerts           map[string]string          `json:"open_alerts"`
	History              map[string][]Reading       `json:"history"`
	UnacknowledgedAlerts int                        `json:"unacknowledged_alerts"`
	Due                  DueCounts                  `json:"due"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// SnapshotType value of Snapshot.Type on the wire
const SnapshotType = "state"
