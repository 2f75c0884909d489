package models

import "time"

// Vital kinds. A kind names one signal group and the storage bucket for its readings.
const (
	KindPulseOx       = "pulse_ox"
	KindBloodPressure = "blood_pressure"
	KindTemperature   = "temperature"
)

// Signal names carried in reading value maps
const (
	SignalSpO2        = "spo2"
	SignalBPM         = "bpm"
	SignalPerfusion   = "perfusion"
	SignalSystolic    = "systolic"
	SignalDiastolic   = "diastolic"
	SignalTemperature = "temperature"
)

// DisconnectSentinel out-of-domain value meaning "device silent"
const DisconnectSentinel = -1.0

// Reading one persisted sample of a vital kind
type Reading struct {
	ID        int64              `json:"id,omitempty"`
	Kind      string             `json:"kind"`
	Values    map[string]float64 `json:"values"`
	Status    string             `json:"status,omitempty"`
	Source    string             `json:"source"`
	Manual    bool               `json:"manual"`
	Timestamp time.Time          `json:"timestamp"`
}

// IsSentinel reports whether any value carries the disconnect sentinel
func (r Reading) IsSentinel() bool {
	for _, v := range r.Values {
		if v == DisconnectSentinel {
			return true
		}
	}
	return false
}

// DueCounts equipment/medication items coming due, shown on the dashboard
type DueCounts struct {
	Equipment  int `json:"equipment"`
	Medication int `json:"medication"`
}
