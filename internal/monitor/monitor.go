package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/eventbus"
	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// TopicVitalSaved topic on which persisted vitals are announced
const TopicVitalSaved = "vitals.saved"

// ErrNotRunning returned by Acknowledge when the run-loop is not active
var ErrNotRunning = errors.New("monitor not running")

// Config monitor tuning
type Config struct {
	RecoveryWindow time.Duration
	Tick           time.Duration
	StorageTimeout time.Duration
}

// State point-in-time copy of the monitor's cache and alert states
type State struct {
	Sensors    map[string]float64 `json:"sensors"`
	Status     map[string]string  `json:"status"`
	States     map[string]string  `json:"states"`
	OpenAlerts map[string]string  `json:"open_alerts"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type ackCommand struct {
	alertID string
	ack     models.Acknowledgement
	reply   chan error
}

// Monitor owns the sensor cache and the per-group alert machines.
// All mutation happens on the run-loop goroutine, in arrival order.
type Monitor struct {
	config     Config
	bus        *eventbus.Bus
	store      repository.Storage
	thresholds *evaluator.ThresholdProvider
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	machines []*evaluator.Machine
	acks     chan ackCommand
	done     chan struct{}

	mu        sync.RWMutex
	sensors   map[string]float64
	status    map[string]string
	states    map[string]groupState
	updatedAt time.Time
}

type groupState struct {
	state   string
	alertID string
}

// NewMonitor builds a monitor for the given groups
func NewMonitor(
	cfg Config,
	bus *eventbus.Bus,
	store repository.Storage,
	thresholds *evaluator.ThresholdProvider,
	groups []evaluator.Group,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Monitor {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}

	mon := &Monitor{
		config:     cfg,
		bus:        bus,
		store:      store,
		thresholds: thresholds,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		acks:       make(chan ackCommand),
		sensors:    make(map[string]float64),
		status:     make(map[string]string),
		states:     make(map[string]groupState),
	}
	for _, g := range groups {
		mon.machines = append(mon.machines, evaluator.NewMachine(g, cfg.RecoveryWindow))
	}
	return mon
}

// SetClock replaces the time source; call before Start
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Machine returns the machine for a group, for inspection
func (m *Monitor) Machine(group string) *evaluator.Machine {
	for _, mc := range m.machines {
		if mc.Group().Name == group {
			return mc
		}
	}
	return nil
}

// Start subscribes, re-adopts alerts left open in storage and launches the run-loop
func (m *Monitor) Start(ctx context.Context) error {
	sub, err := m.bus.SubscribeKind(ctx, events.KindSensorUpdate, events.KindVitalSignRecorded)
	if err != nil {
		return fmt.Errorf("failed to subscribe monitor: %w", err)
	}

	m.restoreOpenAlerts(ctx)
	m.publishStates()

	m.done = make(chan struct{})
	go m.run(ctx, sub)

	m.logger.Info("Alert monitor started",
		zap.Int("groups", len(m.machines)),
		zap.Duration("recovery_window", m.config.RecoveryWindow),
	)
	return nil
}

// Done is closed when the run-loop exits
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) run(ctx context.Context, sub *eventbus.Subscription) {
	defer close(m.done)
	defer sub.Close()

	ticker := time.NewTicker(m.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.C():
			if !ok {
				m.logger.Info("Monitor subscription closed")
				return
			}
			m.handle(ctx, evt)

		case <-ticker.C:
			m.tick(ctx)

		case cmd := <-m.acks:
			cmd.reply <- m.acknowledge(ctx, cmd.alertID, cmd.ack)
		}
		m.publishStates()
	}
}

func (m *Monitor) handle(ctx context.Context, evt events.Event) {
	switch e := evt.(type) {
	case events.SensorUpdate:
		m.handleSensorUpdate(ctx, e)
	case events.VitalSignRecorded:
		m.handleVitalRecorded(ctx, e)
	default:
		m.logger.Debug("Ignoring event", zap.String("kind", string(evt.Kind())))
	}
}

func (m *Monitor) handleSensorUpdate(ctx context.Context, e events.SensorUpdate) {
	m.metrics.ReadingProcessed(e.Origin())

	m.mu.Lock()
	for k, v := range e.Values {
		m.sensors[k] = v
	}
	status := e.Status
	if status == "" {
		status = "ok"
	}
	m.status[e.Device] = status
	m.updatedAt = e.Time()
	m.mu.Unlock()

	kind := m.kindFor(e.Vital, e.Values)
	if kind != "" && len(e.Values) > 0 {
		sctx, cancel := context.WithTimeout(ctx, m.config.StorageTimeout)
		_, err := m.store.SaveReading(sctx, models.Reading{
			Kind:      kind,
			Values:    e.Values,
			Status:    e.Status,
			Source:    string(e.Origin()),
			Timestamp: e.Time(),
		})
		cancel()
		if err != nil {
			m.metrics.StorageError("save_reading")
			m.logger.Error("Failed to persist reading",
				zap.String("device", e.Device),
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
	}

	m.evaluate(ctx, e.Values)
}

// handleVitalRecorded persists an unsaved vital, then announces it. Events that
// already carry a storage id are announcements and are skipped.
func (m *Monitor) handleVitalRecorded(ctx context.Context, e events.VitalSignRecorded) {
	if e.ID != 0 {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, m.config.StorageTimeout)
	id, err := m.store.SaveReading(sctx, models.Reading{
		Kind:      e.Vital,
		Values:    e.Values,
		Source:    string(e.Origin()),
		Manual:    e.Manual,
		Timestamp: e.Time(),
	})
	cancel()
	if err != nil {
		m.metrics.StorageError("save_reading")
		m.logger.Error("Failed to persist recorded vital, not announcing",
			zap.String("vital", e.Vital),
			zap.Error(err),
		)
		return
	}

	m.bus.Publish(events.NewVitalSignRecorded(e.Origin(), e.Time(), id, e.Vital, e.Values, e.Manual), TopicVitalSaved)
	m.evaluate(ctx, e.Values)
}

func (m *Monitor) evaluate(ctx context.Context, values map[string]float64) {
	now := m.now()
	for _, mc := range m.machines {
		g := mc.Group()
		if !g.Matches(values) {
			continue
		}
		th := m.thresholds.ForSignals(ctx, g.Signals)
		for _, act := range mc.Apply(values, th, now) {
			m.carryOut(ctx, act)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := m.now()
	for _, mc := range m.machines {
		for _, act := range mc.Tick(now) {
			m.carryOut(ctx, act)
		}
	}
}

// carryOut persists one machine action and publishes the resulting fact.
// Storage failures are logged; the in-memory machine stays authoritative.
func (m *Monitor) carryOut(ctx context.Context, act evaluator.Action) {
	sctx, cancel := context.WithTimeout(ctx, m.config.StorageTimeout)
	defer cancel()

	a := act.Alert
	switch act.Type {
	case evaluator.ActionOpen:
		if _, err := m.store.OpenAlert(sctx, a); err != nil {
			m.metrics.StorageError("open_alert")
			m.logger.Error("Failed to persist alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
		m.metrics.AlertTriggered(a.Group, a.Severity)
		m.logger.Warn("Alert triggered",
			zap.String("alert_id", a.ID),
			zap.String("group", a.Group),
			zap.String("type", a.Type),
			zap.String("severity", a.Severity),
			zap.Strings("signals", act.Signals),
		)
		m.bus.Publish(events.NewAlertTriggered(a.StartedAt, a.ID, a.Group, a.Type, a.Severity, act.Signals, act.Values), "")

	case evaluator.ActionUpdate:
		if err := m.store.UpdateAlertBounds(sctx, a); err != nil {
			m.metrics.StorageError("update_alert")
			m.logger.Error("Failed to update alert bounds", zap.String("alert_id", a.ID), zap.Error(err))
		}

	case evaluator.ActionClose:
		if err := m.store.CloseAlert(sctx, a.ID, a.Resolution, *a.EndedAt); err != nil {
			m.metrics.StorageError("close_alert")
			m.logger.Error("Failed to close alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
		m.metrics.AlertResolved(a.Group, a.Resolution)
		m.logger.Info("Alert resolved",
			zap.String("alert_id", a.ID),
			zap.String("group", a.Group),
			zap.String("resolution", a.Resolution),
		)
		m.bus.Publish(events.NewAlertResolved(*a.EndedAt, a.ID, a.Group, a.Resolution), "")
	}
}

// Acknowledge closes (if open) and acknowledges an alert. Returns repository.ErrAlertNotFound
// for unknown ids.
func (m *Monitor) Acknowledge(ctx context.Context, alertID string, ack models.Acknowledgement) error {
	if m.done == nil {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case m.acks <- ackCommand{alertID: alertID, ack: ack, reply: reply}:
	case <-m.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) acknowledge(ctx context.Context, alertID string, ack models.Acknowledgement) error {
	now := m.now()
	sctx, cancel := context.WithTimeout(ctx, m.config.StorageTimeout)
	defer cancel()

	for _, mc := range m.machines {
		open, ok := mc.OpenAlert()
		if !ok || open.ID != alertID {
			continue
		}
		// persist first; on failure the episode stays open so the ack can be retried
		if err := m.store.AcknowledgeAlert(sctx, alertID, ack, now); err != nil && !errors.Is(err, repository.ErrAlertNotFound) {
			m.metrics.StorageError("acknowledge_alert")
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		act, _ := mc.Acknowledge(alertID, now)
		m.metrics.AlertResolved(act.Alert.Group, act.Alert.Resolution)
		m.logger.Info("Alert acknowledged",
			zap.String("alert_id", alertID),
			zap.String("group", act.Alert.Group),
		)
		m.bus.Publish(events.NewAlertResolved(now, alertID, act.Alert.Group, models.ResolutionAcknowledged), "")
		return nil
	}

	// not open in memory: historical episode, storage decides whether it exists
	if err := m.store.AcknowledgeAlert(sctx, alertID, ack, now); err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			return err
		}
		m.metrics.StorageError("acknowledge_alert")
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return nil
}

// Snapshot point-in-time copy of the cache and machine states
func (m *Monitor) Snapshot() State {
	m.mu.RLock()
	s := State{
		Sensors:    make(map[string]float64, len(m.sensors)),
		Status:     make(map[string]string, len(m.status)),
		States:     make(map[string]string, len(m.machines)),
		OpenAlerts: make(map[string]string),
		UpdatedAt:  m.updatedAt,
	}
	for k, v := range m.sensors {
		s.Sensors[k] = v
	}
	for k, v := range m.status {
		s.Status[k] = v
	}
	for name, st := range m.states {
		s.States[name] = st.state
		if st.alertID != "" {
			s.OpenAlerts[name] = st.alertID
		}
	}
	m.mu.RUnlock()
	return s
}

// publishStates mirrors machine states for Snapshot readers; run-loop only
func (m *Monitor) publishStates() {
	states := make(map[string]groupState, len(m.machines))
	for _, mc := range m.machines {
		st := groupState{state: mc.State().String()}
		if a, ok := mc.OpenAlert(); ok {
			st.alertID = a.ID
		}
		states[mc.Group().Name] = st
	}

	m.mu.Lock()
	m.states = states
	m.mu.Unlock()
}

func (m *Monitor) restoreOpenAlerts(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, m.config.StorageTimeout)
	defer cancel()

	open, err := m.store.ListOpenAlerts(sctx)
	if err != nil {
		m.metrics.StorageError("list_open_alerts")
		m.logger.Warn("Failed to load open alerts, starting clean", zap.Error(err))
		return
	}

	for _, a := range open {
		mc := m.Machine(a.Group)
		if mc == nil {
			continue
		}
		if _, already := mc.OpenAlert(); already {
			// storage held more than one open row for this group; keep the oldest, close the rest
			if err := m.store.CloseAlert(sctx, a.ID, models.ResolutionAutomatic, m.now()); err != nil {
				m.logger.Warn("Failed to close duplicate open alert", zap.String("alert_id", a.ID), zap.Error(err))
			}
			continue
		}
		mc.Restore(a)
		m.logger.Info("Restored open alert", zap.String("alert_id", a.ID), zap.String("group", a.Group))
	}
}

// kindFor resolves the storage kind of an update, inferring it from signal names when unset
func (m *Monitor) kindFor(vital string, values map[string]float64) string {
	if vital != "" {
		return vital
	}
	for _, mc := range m.machines {
		if mc.Group().Matches(values) {
			return mc.Group().Name
		}
	}
	return ""
}
