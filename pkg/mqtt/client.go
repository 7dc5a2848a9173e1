// Package mqtt connects a lifecycle to an MQTT broker and publishes its
// state and health.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-lifecycle/pkg/lifecycle"
)

// ErrNotConnected is returned by operations that need a live broker
// connection.
var ErrNotConnected = errors.New("mqtt client not connected")

// ErrTimeout is returned when the broker does not acknowledge a publish or
// subscribe within the operation timeout.
var ErrTimeout = errors.New("mqtt operation timed out")

// defaultOperationTimeout bounds publish and subscribe when
// Config.OperationTimeout is not set.
const defaultOperationTimeout = 5 * time.Second

// Client wraps a paho client. It is a lifecycle component: start connects
// to the broker and shutdown disconnects.
type Client struct {
	client mqtt.Client
	logger *zap.Logger
	config *Config
}

var _ lifecycle.Component = (*Client)(nil)

// Config holds MQTT client configuration.
type Config struct {
	// BrokerURL is the broker address, e.g. "tcp://localhost:1883".
	BrokerURL string
	// ClientID must be unique per broker.
	ClientID string
	Username string
	Password string
	// KeepAlive is the keepalive interval.
	KeepAlive time.Duration
	// ConnectTimeout bounds Connect.
	ConnectTimeout time.Duration
	// AutoReconnect reconnects after a lost connection.
	AutoReconnect bool
	// MaxReconnectInterval caps the backoff between reconnect attempts.
	MaxReconnectInterval time.Duration
	// DisconnectQuiesce is how long Disconnect waits for in-flight work.
	DisconnectQuiesce time.Duration
	// OperationTimeout bounds the wait for a publish or subscribe
	// acknowledgement. Zero means 5s.
	OperationTimeout time.Duration
	// Will, when set, is published by the broker if the connection drops
	// without a clean disconnect.
	Will *Will
}

// Will describes a last-will message.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MessageHandler handles a received message.
type MessageHandler func(topic string, payload []byte) error

// NewClient creates a client. It does not connect.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("broker URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("broker", config.BrokerURL))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetAutoReconnect(config.AutoReconnect)
	opts.SetMaxReconnectInterval(config.MaxReconnectInterval)
	if w := config.Will; w != nil {
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connected")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting")
	})

	return &Client{
		client: mqtt.NewClient(opts),
		logger: logger,
		config: config,
	}, nil
}

// Connect establishes the broker connection.
func (c *Client) Connect() error {
	c.logger.Info("Connecting to MQTT broker")

	token := c.client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", c.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	quiesce := c.config.DisconnectQuiesce
	if quiesce <= 0 {
		quiesce = 250 * time.Millisecond
	}
	c.logger.Info("Disconnecting from MQTT broker")
	c.client.Disconnect(uint(quiesce / time.Millisecond))
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Name identifies the client as a lifecycle component.
func (c *Client) Name() string {
	return "mqtt"
}

// Start connects to the broker.
func (c *Client) Start(done func(error)) {
	done(c.Connect())
}

// Shutdown disconnects from the broker. It is a no-op if Start failed.
func (c *Client) Shutdown(done func(error)) {
	if c.IsConnected() {
		c.Disconnect()
	}
	done(nil)
}

func (c *Client) operationTimeout() time.Duration {
	if c.config.OperationTimeout > 0 {
		return c.config.OperationTimeout
	}
	return defaultOperationTimeout
}

// Publish sends payload to topic. It waits at most the operation timeout
// for the broker, which covers a connection that is reconnecting.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.operationTimeout()) {
		c.logger.Warn("Publish not acknowledged in time",
			zap.String("topic", topic),
			zap.Duration("timeout", c.operationTimeout()))
		return fmt.Errorf("publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("Failed to publish message",
			zap.String("topic", topic),
			zap.Error(err))
		return fmt.Errorf("publish failed: %w", err)
	}

	c.logger.Debug("Message published",
		zap.String("topic", topic),
		zap.Int("size", len(payload)))
	return nil
}

// PublishJSON marshals payload and publishes it.
func (c *Client) PublishJSON(topic string, qos byte, retained bool, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(topic, qos, retained, data)
}

// Subscribe registers handler for topic.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	callback := func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error("Handler error",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}

	token := c.client.Subscribe(topic, qos, callback)
	if !token.WaitTimeout(c.operationTimeout()) {
		return fmt.Errorf("subscribe to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	c.logger.Info("Subscribed to topic", zap.String("topic", topic))
	return nil
}
