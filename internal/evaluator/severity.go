package evaluator

import "wisefido-vitals/internal/models"

// Severity policy:
//
//	critical  disconnect, two or more signals violated, or any value beyond its severe bound
//	high      the group's primary signal violated on its own
//	medium    any other single secondary signal
func Severity(g Group, disconnect bool, violated []string, values map[string]float64, th map[string]models.Threshold) string {
	if disconnect || len(violated) >= 2 {
		return models.SeverityCritical
	}
	for _, s := range violated {
		if t, ok := th[s]; ok && t.Severe(values[s]) {
			return models.SeverityCritical
		}
	}
	if len(violated) == 1 && len(g.Signals) > 0 && violated[0] == g.Signals[0] {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

func severityRank(s string) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	case models.SeverityMedium:
		return 1
	}
	return 0
}
