package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cmqtt "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/events"
	"wisefido-vitals/internal/metrics"

	"go.uber.org/zap"
)

// MQTTConfig inbound sensor subscription
type MQTTConfig struct {
	Topic       string
	QoS         byte
	Backoff     time.Duration
	SendTimeout time.Duration
}

// MQTTConsumer turns `vitals/<device>/<kind>` JSON payloads into SensorUpdate events
type MQTTConsumer struct {
	config MQTTConfig
	client *cmqtt.Client
	pub    Publisher
	conn   *connTracker
	logger *zap.Logger

	hooksOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMQTTConsumer(cfg MQTTConfig, client *cmqtt.Client, pub Publisher, m *metrics.Metrics, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		config: cfg,
		client: client,
		pub:    pub,
		logger: logger,
		conn: &connTracker{
			adapter:     "mqtt",
			source:      events.SourceMQTT,
			pub:         pub,
			sendTimeout: cfg.SendTimeout,
			metrics:     m,
			logger:      logger,
		},
	}
}

func (c *MQTTConsumer) Name() string { return "mqtt" }

// Start subscribes and dials the broker in the background; paho reconnects after the first success
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.hooksOnce.Do(func() {
		c.client.OnConnect(func() { c.conn.set(true, "", time.Now()) })
		c.client.OnConnectionLost(func(err error) {
			detail := ""
			if err != nil {
				detail = err.Error()
			}
			c.conn.set(false, detail, time.Now())
		})
	})

	if err := c.client.Subscribe(c.config.Topic, c.config.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to sensor topic: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		if err := c.client.Connect(loopCtx, c.config.Backoff); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("MQTT consumer gave up connecting", zap.Error(err))
		}
	}()

	c.logger.Info("MQTT consumer started", zap.String("topic", c.config.Topic))
	return nil
}

// Stop drops the sensor subscription; the shared client is disconnected by its owner
func (c *MQTTConsumer) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	if err := c.client.Unsubscribe(c.config.Topic); err != nil {
		c.logger.Warn("Failed to unsubscribe sensor topic", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// handleMessage runs on paho's callback goroutine
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	device, vital, err := parseSensorTopic(topic)
	if err != nil {
		return err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("failed to decode payload on %s: %w", topic, err)
	}

	if origin, ok := fields["origin"].(string); ok && origin == c.client.ClientID() {
		return nil
	}

	at := time.Now()
	status := ""
	values := make(map[string]float64, len(fields))
	for k, v := range fields {
		switch k {
		case "status":
			if s, ok := v.(string); ok {
				status = s
			}
			continue
		case "timestamp":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					at = t
				}
			}
			continue
		case "values":
			// saved-vital shape published by another hub
			if nested, ok := v.(map[string]interface{}); ok {
				for name, nv := range nested {
					if f, ok := nv.(float64); ok {
						values[name] = f
					}
				}
			}
			continue
		}
		if metadataFields[k] {
			continue
		}
		if f, ok := v.(float64); ok {
			values[k] = f
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("no numeric fields in payload on %s", topic)
	}

	evt := events.NewSensorUpdate(events.SourceMQTT, at, device, vital, values, status)
	if !c.pub.TrySend(evt, "", c.config.SendTimeout) {
		c.logger.Warn("Dropped MQTT sensor update", zap.String("topic", topic))
	}
	return nil
}

// metadataFields top-level payload keys that are never sensor values
var metadataFields = map[string]bool{
	"origin": true,
	"id":     true,
	"kind":   true,
	"manual": true,
	"device": true,
	"vital":  true,
	"source": true,
}

// parseSensorTopic takes device and kind from the last two levels of the topic
func parseSensorTopic(topic string) (device, vital string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("unexpected sensor topic %q", topic)
	}
	device, vital = parts[len(parts)-2], parts[len(parts)-1]
	if device == "" || vital == "" {
		return "", "", fmt.Errorf("unexpected sensor topic %q", topic)
	}
	return device, vital, nil
}
