package evaluator

import "wisefido-vitals/internal/models"

// Group signals evaluated together; at most one alert is open per group.
// Signals[0] is the primary signal for severity.
type Group struct {
	Name            string
	Signals         []string
	DisconnectAware bool // the group's device reports the disconnect sentinel
}

// DefaultGroups pulse-ox, blood pressure and temperature
func DefaultGroups() []Group {
	return []Group{
		{Name: models.KindPulseOx, Signals: []string{models.SignalSpO2, models.SignalBPM}, DisconnectAware: true},
		{Name: models.KindBloodPressure, Signals: []string{models.SignalSystolic, models.SignalDiastolic}},
		{Name: models.KindTemperature, Signals: []string{models.SignalTemperature}},
	}
}

// present returns the group's signals found in values, in group order
func (g Group) present(values map[string]float64) []string {
	var out []string
	for _, s := range g.Signals {
		if _, ok := values[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// sentinel reports whether values carry the disconnect sentinel for a group signal
func (g Group) sentinel(values map[string]float64) bool {
	if !g.DisconnectAware {
		return false
	}
	for _, s := range g.Signals {
		if v, ok := values[s]; ok && v == models.DisconnectSentinel {
			return true
		}
	}
	return false
}

// Matches reports whether values contain any signal of the group
func (g Group) Matches(values map[string]float64) bool {
	return len(g.present(values)) > 0
}
