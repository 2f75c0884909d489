// Package events defines the closed set of facts carried on the event bus.
package events

import (
	"time"
)

// Kind discriminates concrete event types
type Kind string

const (
	KindSensorUpdate      Kind = "sensor_update"
	KindAlarmPanelState   Kind = "alarm_panel_state"
	KindVitalSignRecorded Kind = "vital_sign_recorded"
	KindAlertTriggered    Kind = "alert_triggered"
	KindAlertResolved     Kind = "alert_resolved"
	KindConnectionStatus  Kind = "connection_status"
	KindClientLifecycle   Kind = "client_lifecycle"
	KindStateSyncRequest  Kind = "state_sync_request"
)

// Kinds lists every event kind
func Kinds() []Kind {
	return []Kind{
		KindSensorUpdate,
		KindAlarmPanelState,
		KindVitalSignRecorded,
		KindAlertTriggered,
		KindAlertResolved,
		KindConnectionStatus,
		KindClientLifecycle,
		KindStateSyncRequest,
	}
}

// Source tags where an event came from; used to stop feedback loops
type Source string

const (
	SourceSerial Source = "SERIAL"
	SourceMQTT   Source = "MQTT"
	SourceGPIO   Source = "GPIO"
	SourceAPI    Source = "API"
	SourceSystem Source = "SYSTEM"
)

// Event immutable fact. The unexported method closes the set to this package.
type Event interface {
	Kind() Kind
	Time() time.Time
	Origin() Source
	event()
}

// Header fields shared by every event
type Header struct {
	At     time.Time `json:"timestamp"`
	Source Source    `json:"source"`
}

func (h Header) Time() time.Time { return h.At }
func (h Header) Origin() Source  { return h.Source }
func (Header) event()            {}

// SensorUpdate latest values from one device
type SensorUpdate struct {
	Header
	Device string             `json:"device"`
	Vital  string             `json:"vital"`
	Values map[string]float64 `json:"values"`
	Status string             `json:"status,omitempty"`
}

func (SensorUpdate) Kind() Kind { return KindSensorUpdate }

// Value returns the named value and whether it is present
func (e SensorUpdate) Value(name string) (float64, bool) {
	v, ok := e.Values[name]
	return v, ok
}

// AlarmPanelState level of the two hard-wired alarm inputs
type AlarmPanelState struct {
	Header
	Alarm1 bool `json:"alarm1"`
	Alarm2 bool `json:"alarm2"`
}

func (AlarmPanelState) Kind() Kind { return KindAlarmPanelState }

// VitalSignRecorded a vital entered manually or announced after persistence.
// ID is zero until the reading has been stored.
type VitalSignRecorded struct {
	Header
	ID     int64              `json:"id,omitempty"`
	Vital  string             `json:"vital"`
	Values map[string]float64 `json:"values"`
	Manual bool               `json:"manual"`
}

func (VitalSignRecorded) Kind() Kind { return KindVitalSignRecorded }

// AlertTriggered an alert episode opened
type AlertTriggered struct {
	Header
	AlertID   string             `json:"alert_id"`
	Group     string             `json:"group"`
	AlertType string             `json:"alert_type"`
	Severity  string             `json:"severity"`
	Signals   []string           `json:"signals"`
	Values    map[string]float64 `json:"values"`
}

func (AlertTriggered) Kind() Kind { return KindAlertTriggered }

// AlertResolved an alert episode closed
type AlertResolved struct {
	Header
	AlertID    string `json:"alert_id"`
	Group      string `json:"group"`
	Resolution string `json:"resolution"`
}

func (AlertResolved) Kind() Kind { return KindAlertResolved }

// ConnectionStatus adapter connectivity transition
type ConnectionStatus struct {
	Header
	Adapter   string `json:"adapter"`
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

func (ConnectionStatus) Kind() Kind { return KindConnectionStatus }

// ClientLifecycle WebSocket client connect/disconnect
type ClientLifecycle struct {
	Header
	ClientID  string `json:"client_id"`
	Connected bool   `json:"connected"`
}

func (ClientLifecycle) Kind() Kind { return KindClientLifecycle }

// StateSyncRequest asks the fan-out module to push a snapshot; empty ClientID means everyone
type StateSyncRequest struct {
	Header
	ClientID string `json:"client_id,omitempty"`
}

func (StateSyncRequest) Kind() Kind { return KindStateSyncRequest }
