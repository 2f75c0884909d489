package models

// Threshold acceptable band for a signal. A value violates iff value < Low or value > High.
// SevereLow/SevereHigh are optional outer bounds used for severity; zero means unset.
type Threshold struct {
	Signal     string  `json:"signal" yaml:"signal"`
	Low        float64 `json:"low" yaml:"low"`
	High       float64 `json:"high" yaml:"high"`
	SevereLow  float64 `json:"severe_low,omitempty" yaml:"severe_low"`
	SevereHigh float64 `json:"severe_high,omitempty" yaml:"severe_high"`
}

// Violates reports whether v falls outside [Low, High]
func (t Threshold) Violates(v float64) bool {
	return v < t.Low || v > t.High
}

// Severe reports whether v falls beyond a configured severe bound
func (t Threshold) Severe(v float64) bool {
	if t.SevereLow != 0 && v < t.SevereLow {
		return true
	}
	if t.SevereHigh != 0 && v > t.SevereHigh {
		return true
	}
	return false
}

// DefaultThresholds built-in bands, overridable by environment or thresholds file
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		SignalSpO2:        {Signal: SignalSpO2, Low: 90, High: 100, SevereLow: 85},
		SignalBPM:         {Signal: SignalBPM, Low: 50, High: 120, SevereLow: 40, SevereHigh: 140},
		SignalSystolic:    {Signal: SignalSystolic, Low: 90, High: 140, SevereLow: 80, SevereHigh: 180},
		SignalDiastolic:   {Signal: SignalDiastolic, Low: 60, High: 90, SevereLow: 50, SevereHigh: 110},
		SignalTemperature: {Signal: SignalTemperature, Low: 36.0, High: 37.8, SevereLow: 35.0, SevereHigh: 39.5},
	}
}
