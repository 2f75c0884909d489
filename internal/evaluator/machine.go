package evaluator

import (
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

// State alert lifecycle state of a group
type State int

const (
	StateNormal State = iota
	StateAlertOpen
	StateRecoveryPending
)

func (s State) String() string {
	switch s {
	case StateAlertOpen:
		return "alert_open"
	case StateRecoveryPending:
		return "recovery_pending"
	default:
		return "normal"
	}
}

// ActionType side effect the caller must carry out
type ActionType int

const (
	ActionOpen ActionType = iota + 1
	ActionUpdate
	ActionClose
)

// Action one persistence/publication step. Alert is a copy taken when the action was produced.
type Action struct {
	Type    ActionType
	Alert   models.Alert
	Signals []string           // violated signals, set on open
	Values  map[string]float64 // reading that produced the action
}

// Machine alert state machine for one group. Not safe for concurrent use;
// the monitor drives it from a single goroutine.
type Machine struct {
	group    Group
	recovery time.Duration
	newID    func() string

	state         State
	alert         *models.Alert
	recoveryStart time.Time
	latest        map[string]float64 // last valid value per signal since the last disconnect
}

// NewMachine builds a machine in the Normal state
func NewMachine(group Group, recovery time.Duration) *Machine {
	return &Machine{
		group:    group,
		recovery: recovery,
		newID:    uuid.NewString,
		latest:   make(map[string]float64),
	}
}

// SetIDGenerator replaces the alert id source
func (m *Machine) SetIDGenerator(fn func() string) {
	m.newID = fn
}

func (m *Machine) Group() Group { return m.group }
func (m *Machine) State() State { return m.state }

// RecoveryStart time the current recovery attempt began; zero unless RecoveryPending
func (m *Machine) RecoveryStart() time.Time { return m.recoveryStart }

// OpenAlert copy of the open alert, if any
func (m *Machine) OpenAlert() (models.Alert, bool) {
	if m.alert == nil {
		return models.Alert{}, false
	}
	return copyAlert(m.alert), true
}

// Restore re-adopts an alert left open in storage by a previous run
func (m *Machine) Restore(a models.Alert) {
	restored := copyAlert(&a)
	m.alert = &restored
	m.state = StateAlertOpen
	m.recoveryStart = time.Time{}
}

// Apply feeds one reading through the state machine
func (m *Machine) Apply(values map[string]float64, th map[string]models.Threshold, now time.Time) []Action {
	if !m.group.Matches(values) {
		return nil
	}
	if m.group.sentinel(values) {
		return m.applyDisconnect(values, now)
	}

	var actions []Action
	if m.alert != nil && m.alert.Type == models.AlertTypeDisconnect {
		actions = append(actions, m.close(models.ResolutionReconnected, now, values))
	}

	for _, sig := range m.group.present(values) {
		m.latest[sig] = values[sig]
	}
	violated := m.violations(values, th)

	switch m.state {
	case StateNormal:
		if len(violated) > 0 {
			actions = append(actions, m.open(models.AlertTypeThreshold, violated, values, th, now))
		}

	case StateAlertOpen:
		changed := m.refresh(violated, values, th)
		if len(violated) == 0 && m.triggeredInRange(th) {
			m.state = StateRecoveryPending
			m.recoveryStart = now
		}
		if changed {
			actions = append(actions, m.update(values))
		}

	case StateRecoveryPending:
		changed := m.refresh(violated, values, th)
		if len(violated) > 0 {
			m.state = StateAlertOpen
			m.recoveryStart = time.Time{}
		}
		if changed {
			actions = append(actions, m.update(values))
		}
		if m.state == StateRecoveryPending && now.Sub(m.recoveryStart) >= m.recovery {
			actions = append(actions, m.close(models.ResolutionAutomatic, now, values))
		}
	}

	return actions
}

// Tick closes an alert whose recovery window has elapsed
func (m *Machine) Tick(now time.Time) []Action {
	if m.state != StateRecoveryPending || now.Sub(m.recoveryStart) < m.recovery {
		return nil
	}
	return []Action{m.close(models.ResolutionAutomatic, now, nil)}
}

// Acknowledge closes the open alert if its id matches
func (m *Machine) Acknowledge(alertID string, now time.Time) (Action, bool) {
	if m.alert == nil || m.alert.ID != alertID {
		return Action{}, false
	}
	m.alert.Acknowledged = true
	return m.close(models.ResolutionAcknowledged, now, nil), true
}

func (m *Machine) applyDisconnect(values map[string]float64, now time.Time) []Action {
	clear(m.latest)
	switch {
	case m.alert == nil:
		return []Action{m.open(models.AlertTypeDisconnect, nil, values, nil, now)}

	case m.alert.Type == models.AlertTypeDisconnect:
		return nil

	default:
		// threshold episode still open: flag external, hold it open, leave bounds alone
		changed := !m.alert.Triggered[models.TriggeredExternal]
		m.alert.Triggered[models.TriggeredExternal] = true
		m.state = StateAlertOpen
		m.recoveryStart = time.Time{}
		if m.alert.Severity != models.SeverityCritical {
			m.alert.Severity = models.SeverityCritical
			changed = true
		}
		if !changed {
			return nil
		}
		return []Action{m.update(values)}
	}
}

func (m *Machine) violations(values map[string]float64, th map[string]models.Threshold) []string {
	var out []string
	for _, s := range m.group.present(values) {
		t, ok := th[s]
		if ok && t.Violates(values[s]) {
			out = append(out, s)
		}
	}
	return out
}

// triggeredInRange reports whether every signal that triggered the open alert
// has been seen since and is back inside its threshold
func (m *Machine) triggeredInRange(th map[string]models.Threshold) bool {
	for s, on := range m.alert.Triggered {
		if !on || s == models.TriggeredExternal {
			continue
		}
		v, ok := m.latest[s]
		if !ok {
			return false
		}
		if t, ok := th[s]; ok && t.Violates(v) {
			return false
		}
	}
	return true
}

func (m *Machine) open(alertType string, violated []string, values map[string]float64, th map[string]models.Threshold, now time.Time) Action {
	a := &models.Alert{
		ID:        m.newID(),
		Group:     m.group.Name,
		Type:      alertType,
		Triggered: make(map[string]bool),
		Bounds:    make(map[string]models.Bounds),
		StartedAt: now,
	}

	disconnect := alertType == models.AlertTypeDisconnect
	if disconnect {
		a.Triggered[models.TriggeredExternal] = true
	} else {
		for _, s := range m.group.present(values) {
			a.Bounds[s] = models.Bounds{Min: values[s], Max: values[s]}
		}
		for _, s := range violated {
			a.Triggered[s] = true
		}
	}
	a.Severity = Severity(m.group, disconnect, violated, values, th)

	m.alert = a
	m.state = StateAlertOpen
	m.recoveryStart = time.Time{}

	return Action{
		Type:    ActionOpen,
		Alert:   copyAlert(a),
		Signals: append([]string(nil), violated...),
		Values:  copyValues(values),
	}
}

// refresh widens bounds, marks newly violated signals and escalates severity; reports any change
func (m *Machine) refresh(violated []string, values map[string]float64, th map[string]models.Threshold) bool {
	changed := false
	for _, s := range m.group.present(values) {
		v := values[s]
		b, ok := m.alert.Bounds[s]
		switch {
		case !ok:
			b = models.Bounds{Min: v, Max: v}
		case v < b.Min:
			b.Min = v
		case v > b.Max:
			b.Max = v
		default:
			continue
		}
		m.alert.Bounds[s] = b
		changed = true
	}
	for _, s := range violated {
		if !m.alert.Triggered[s] {
			m.alert.Triggered[s] = true
			changed = true
		}
	}
	if len(violated) > 0 {
		sev := Severity(m.group, false, violated, values, th)
		if severityRank(sev) > severityRank(m.alert.Severity) {
			m.alert.Severity = sev
			changed = true
		}
	}
	return changed
}

func (m *Machine) update(values map[string]float64) Action {
	return Action{Type: ActionUpdate, Alert: copyAlert(m.alert), Values: copyValues(values)}
}

func (m *Machine) close(resolution string, now time.Time, values map[string]float64) Action {
	ended := now
	m.alert.EndedAt = &ended
	m.alert.Resolution = resolution
	act := Action{Type: ActionClose, Alert: copyAlert(m.alert), Values: copyValues(values)}

	m.alert = nil
	m.state = StateNormal
	m.recoveryStart = time.Time{}
	return act
}

func copyAlert(a *models.Alert) models.Alert {
	out := *a
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

func copyValues(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
