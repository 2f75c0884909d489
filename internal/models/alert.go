package models

import "time"

// Alert types
const (
	AlertTypeThreshold  = "threshold"
	AlertTypeDisconnect = "disconnect"
)

// Severities, lowest first
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Resolutions recorded when an alert episode closes
const (
	ResolutionAutomatic    = "automatic"
	ResolutionReconnected  = "reconnected"
	ResolutionAcknowledged = "acknowledged"
)

// Bounds observed min/max for one signal during an episode
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Alert one open-to-closed episode for a signal group
type Alert struct {
	ID           string            `json:"id"`
	Group        string            `json:"group"`
	Type         string            `json:"type"`
	Severity     string            `json:"severity"`
	Triggered    map[string]bool   `json:"triggered"` // per signal, plus "external" for disconnect
	Bounds       map[string]Bounds `json:"bounds"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Resolution   string            `json:"resolution,omitempty"`
	Acknowledged bool              `json:"acknowledged"`
}

// IsOpen reports whether the episode has not ended
func (a *Alert) IsOpen() bool {
	return a.EndedAt == nil
}

// Acknowledgement supplemental data recorded with a manual acknowledgement
type Acknowledgement struct {
	By          string   `json:"by,omitempty"`
	Note        string   `json:"note,omitempty"`
	OxygenUsage *float64 `json:"oxygen_usage,omitempty"`
	OxygenUnit  string   `json:"oxygen_unit,omitempty"`
}

// TriggeredExternal key in Alert.Triggered for the disconnect condition
const TriggeredExternal = "external"
