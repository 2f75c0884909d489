package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler handles one inbound message; returned errors are logged, never propagated
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps a paho client with fixed-backoff connect and resubscribe-on-reconnect
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]subscription
	onUp   []func()
	onDown []func(error)
}

// NewClient builds the client without connecting
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		config: cfg,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(mqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.handleConnectionLost(err) })

	c.client = mqtt.NewClient(opts)
	return c
}

// OnConnect registers a hook fired on every (re)connect. Register before Connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onUp = append(c.onUp, fn)
	c.mu.Unlock()
}

// OnConnectionLost registers a hook fired whenever the broker connection drops
func (c *Client) OnConnectionLost(fn func(error)) {
	c.mu.Lock()
	c.onDown = append(c.onDown, fn)
	c.mu.Unlock()
}

// Connect dials the broker, retrying with a fixed backoff until success or ctx cancellation.
// Once connected, paho's auto-reconnect takes over.
func (c *Client) Connect(ctx context.Context, backoff time.Duration) error {
	for {
		token := c.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}

		c.logger.Warn("MQTT connect failed, retrying",
			zap.String("broker", c.config.Broker),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		c.notifyDown(err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to MQTT broker: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// Subscribe registers handler for topic; the subscription survives reconnects
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, qos, handler)
}

func (c *Client) subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Debug("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish sends payload and waits up to the connect timeout for the broker ack
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)

	timeout := c.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe drops the subscriptions and their resubscribe entries
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection, waiting 250ms for in-flight work
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the current connection state
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// ClientID identifies this process in published payloads (echo suppression)
func (c *Client) ClientID() string {
	return c.config.ClientID
}

func (c *Client) handleConnect() {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	hooks := append([]func(){}, c.onUp...)
	c.mu.RUnlock()

	c.logger.Info("MQTT connected", zap.String("broker", c.config.Broker))

	for topic, s := range subs {
		if err := c.subscribe(topic, s.qos, s.handler); err != nil {
			c.logger.Error("Failed to resubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.logger.Warn("MQTT connection lost", zap.String("broker", c.config.Broker), zap.Error(err))
	c.notifyDown(err)
}

func (c *Client) notifyDown(err error) {
	c.mu.RLock()
	hooks := append([]func(error){}, c.onDown...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(err)
	}
}
