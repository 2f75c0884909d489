package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-vitals/internal/eventbus"
	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/monitor"

	"go.uber.org/zap"
)

// MQTTClient outbound side of the shared broker connection; satisfied by *common/mqtt.Client
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	ClientID() string
}

// Config outbound topics are built under Prefix
type Config struct {
	Prefix string
	QoS    byte
}

// Publisher mirrors saved vitals, local sensor state and alert facts onto MQTT.
// Updates that arrived over MQTT are never published back.
type Publisher struct {
	config  Config
	bus     *eventbus.Bus
	client  MQTTClient
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublisher(cfg Config, bus *eventbus.Bus, client MQTTClient, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	return &Publisher{
		config:  cfg,
		bus:     bus,
		client:  client,
		metrics: m,
		logger:  logger,
	}
}

type vitalPayload struct {
	ID        int64              `json:"id"`
	Kind      string             `json:"kind"`
	Values    map[string]float64 `json:"values"`
	Manual    bool               `json:"manual"`
	Timestamp time.Time          `json:"timestamp"`
	Origin    string             `json:"origin"`
}

type statePayload struct {
	Device    string             `json:"device"`
	Vital     string             `json:"vital,omitempty"`
	Values    map[string]float64 `json:"values"`
	Status    string             `json:"status,omitempty"`
	Source    events.Source      `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
	Origin    string             `json:"origin"`
}

type alertPayload struct {
	Event      events.Kind        `json:"event"`
	AlertID    string             `json:"alert_id"`
	Group      string             `json:"group"`
	AlertType  string             `json:"alert_type,omitempty"`
	Severity   string             `json:"severity,omitempty"`
	Signals    []string           `json:"signals,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`
	Resolution string             `json:"resolution,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Origin     string             `json:"origin"`
}

// Start subscribes to saved vitals, sensor updates and alert facts
func (p *Publisher) Start(ctx context.Context) error {
	saved, err := p.bus.SubscribeTopic(ctx, monitor.TopicVitalSaved)
	if err != nil {
		return fmt.Errorf("failed to subscribe to saved vitals: %w", err)
	}
	facts, err := p.bus.SubscribeKind(ctx, events.KindSensorUpdate, events.KindAlertTriggered, events.KindAlertResolved)
	if err != nil {
		saved.Close()
		return fmt.Errorf("failed to subscribe to sensor and alert events: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, saved, facts)

	p.logger.Info("MQTT publisher started", zap.String("prefix", p.config.Prefix))
	return nil
}

// Stop ends the loop
func (p *Publisher) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) run(ctx context.Context, saved, facts *eventbus.Subscription) {
	defer close(p.done)
	defer saved.Close()
	defer facts.Close()

	savedC, factsC := saved.C(), facts.C()
	for savedC != nil || factsC != nil {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-savedC:
			if !ok {
				savedC = nil
				continue
			}
			if e, isVital := evt.(events.VitalSignRecorded); isVital {
				p.publishVital(e)
			}
		case evt, ok := <-factsC:
			if !ok {
				factsC = nil
				continue
			}
			p.handleFact(evt)
		}
	}
}

func (p *Publisher) handleFact(evt events.Event) {
	switch e := evt.(type) {
	case events.SensorUpdate:
		if e.Origin() == events.SourceMQTT {
			return
		}
		p.publishState(e)
	case events.AlertTriggered:
		p.publish("alert", p.topic("alerts"), false, alertPayload{
			Event:     e.Kind(),
			AlertID:   e.AlertID,
			Group:     e.Group,
			AlertType: e.AlertType,
			Severity:  e.Severity,
			Signals:   e.Signals,
			Values:    e.Values,
			Timestamp: e.Time(),
			Origin:    p.client.ClientID(),
		})
	case events.AlertResolved:
		p.publish("alert", p.topic("alerts"), false, alertPayload{
			Event:      e.Kind(),
			AlertID:    e.AlertID,
			Group:      e.Group,
			Resolution: e.Resolution,
			Timestamp:  e.Time(),
			Origin:     p.client.ClientID(),
		})
	}
}

func (p *Publisher) publishVital(e events.VitalSignRecorded) {
	p.publish("vital", p.topic("vitals", e.Vital), true, vitalPayload{
		ID:        e.ID,
		Kind:      e.Vital,
		Values:    e.Values,
		Manual:    e.Manual,
		Timestamp: e.Time(),
		Origin:    p.client.ClientID(),
	})
}

func (p *Publisher) publishState(e events.SensorUpdate) {
	device := e.Device
	if device == "" {
		device = string(e.Origin())
	}
	p.publish("state", p.topic("state", device), false, statePayload{
		Device:    e.Device,
		Vital:     e.Vital,
		Values:    e.Values,
		Status:    e.Status,
		Source:    e.Origin(),
		Timestamp: e.Time(),
		Origin:    p.client.ClientID(),
	})
}

// publish failures are logged; the loop carries on with the next event
func (p *Publisher) publish(kind, topic string, retained bool, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal MQTT payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := p.client.Publish(topic, p.config.QoS, retained, data); err != nil {
		p.logger.Warn("Failed to publish to MQTT", zap.String("topic", topic), zap.Error(err))
		return
	}
	p.metrics.MQTTPublished(kind)
	p.logger.Debug("Published to MQTT", zap.String("topic", topic), zap.Int("bytes", len(data)))
}

func (p *Publisher) topic(parts ...string) string {
	t := p.config.Prefix
	for _, part := range parts {
		if t == "" {
			t = part
			continue
		}
		t += "/" + part
	}
	return t
}
