package transport

import (
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/heliowatt/solar-telemetry-worker/internal/config"
)

// ErrTransportUnavailable is returned by publish paths while the broker
// connection is down. Outbound messages fail fast rather than queuing.
var ErrTransportUnavailable = errors.New("transport unavailable")

// MessageHandler receives every inbound message. It must not block the
// delivery loop for long; the router hands work to the pipeline pool.
type MessageHandler func(topic string, payload []byte)

// Client owns the single MQTT connection for the process. It is
// constructed once and injected wherever the connection is needed; there
// is no package-level connection state.
type Client struct {
	client  mqtt.Client
	cfg     config.MQTTConfig
	logger  *zap.Logger
	handler MessageHandler
}

// NewClient creates the MQTT client. Connect must be called before use.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger, handler MessageHandler) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	// Fixed backoff: retry and max intervals pinned to the same value.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.ReconnectInterval)
	opts.SetMaxReconnectInterval(cfg.ReconnectInterval)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection. Subscription happens in the
// OnConnect handler so it is re-established after every reconnect.
func (c *Client) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection, allowing in-flight work to
// finish for a short grace period.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("mqtt client disconnected")
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish sends a directed message, used by the command dispatcher. Fails
// with ErrTransportUnavailable while disconnected.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrTransportUnavailable
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

// subscriptionTopic covers the full device topic namespace.
func (c *Client) subscriptionTopic() string {
	return c.cfg.TopicNamespace + "/#"
}

func (c *Client) onConnect(client mqtt.Client) {
	topic := c.subscriptionTopic()
	c.logger.Info("mqtt connected, subscribing",
		zap.String("broker", c.cfg.BrokerURL),
		zap.String("topic", topic),
	)

	token := client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("failed to subscribe to device topics",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("mqtt connection lost, reconnecting",
		zap.Duration("retry_interval", c.cfg.ReconnectInterval),
		zap.Error(err),
	)
}
